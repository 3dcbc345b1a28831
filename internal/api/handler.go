package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/eugenenazirov/binary-mirror/internal/mirror"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// Mirrors is the read-only view of a loaded mirror config served by Handler.
type Mirrors interface {
	Lookup(name string) (*mirror.Descriptor, bool)
	Names() []string
	Envs() map[string]string
}

// Handler serves lookups against a mirror config loaded once at startup.
type Handler struct {
	mirrors Mirrors
	region  string

	clock    func() time.Time
	loadedAt time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithRegion records the mirror set the config was loaded for.
func WithRegion(region string) HandlerOption {
	return func(h *Handler) {
		h.region = region
	}
}

// NewHandler constructs a Handler for the given mirrors. A nil Mirrors serves
// an empty config.
func NewHandler(mirrors Mirrors, opts ...HandlerOption) *Handler {
	if mirrors == nil {
		mirrors = mirror.Empty()
	}
	h := &Handler{
		mirrors: mirrors,
		region:  mirror.DefaultRegion,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.loadedAt = h.clock()
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
		Packages:  len(h.mirrors.Names()),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListMirrors(w http.ResponseWriter, r *http.Request) {
	_ = r
	names := h.mirrors.Names()
	if names == nil {
		names = []string{}
	}
	resp := mirrorsResponse{
		Region:   h.region,
		Packages: names,
		LoadedAt: h.loadedAt,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetMirror(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "Invalid request", "package name is required")
		return
	}

	d, ok := h.mirrors.Lookup(name)
	if !ok {
		writeError(w, http.StatusNotFound, "Not found", "no binary mirror for "+name)
		return
	}

	resp := mirrorResponse{
		Name:   name,
		Mirror: d,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetEnvs(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := envsResponse{
		Region: h.region,
		Envs:   h.mirrors.Envs(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Packages  int       `json:"packages"`
}

type mirrorsResponse struct {
	Region   string    `json:"region"`
	Packages []string  `json:"packages"`
	LoadedAt time.Time `json:"loadedAt"`
}

type mirrorResponse struct {
	Name   string             `json:"name"`
	Mirror *mirror.Descriptor `json:"mirror"`
}

type envsResponse struct {
	Region string            `json:"region"`
	Envs   map[string]string `json:"envs"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, errorResponse{
		Error:   message,
		Details: details,
	})
}
