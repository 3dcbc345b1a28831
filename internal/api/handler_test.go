package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/binary-mirror/internal/mirror"
)

const testDocument = `{
  "mirrors": {
    "china": {
      "ENVS": {
        "NODEJS_ORG_MIRROR": "https://cdn.npmmirror.com/binaries/node",
        "SASS_BINARY_SITE": "https://cdn.npmmirror.com/binaries/node-sass"
      },
      "sqlite3": {"host": "https://cdn.npmmirror.com/binaries", "remote_path": "sqlite3/v{version}/"},
      "@swc/core": {"host": "https://cdn.npmmirror.com/binaries/swc"},
      "flow-bin": {
        "replaceHost": "https://github.com/facebook/flow/releases/download/v",
        "host": "https://cdn.npmmirror.com/binaries/flow/v"
      }
    }
  }
}`

var fixedNow = time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)

func setupTestRouter(t *testing.T) http.Handler {
	t.Helper()

	mirrors, err := mirror.Parse([]byte(testDocument), mirror.DefaultRegion)
	if err != nil {
		t.Fatalf("parse mirrors: %v", err)
	}

	handler := NewHandler(mirrors, WithClock(func() time.Time { return fixedNow }))
	return NewRouter(handler, zaptest.NewLogger(t), WithLogging(false))
}

func serve(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON response, got %q", ct)
	}
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestRequestIDHelpers(t *testing.T) {
	ctx := contextWithRequestID(context.Background(), "abc")
	if got := requestIDFromContext(ctx); got != "abc" {
		t.Fatalf("expected abc, got %s", got)
	}
	if got := requestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty request id, got %s", got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := setupTestRouter(t)

	rec := serve(t, router, "/api/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp healthResponse
	decodeBody(t, rec, &resp)
	if resp.Status != "ok" {
		t.Fatalf("expected ok status, got %s", resp.Status)
	}
	if !resp.Timestamp.Equal(fixedNow) {
		t.Fatalf("expected timestamp %s, got %s", fixedNow, resp.Timestamp)
	}
	if resp.Packages != 3 {
		t.Fatalf("expected 3 packages, got %d", resp.Packages)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestListMirrors(t *testing.T) {
	router := setupTestRouter(t)

	rec := serve(t, router, "/api/mirrors")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp mirrorsResponse
	decodeBody(t, rec, &resp)
	want := []string{"@swc/core", "flow-bin", "sqlite3"}
	if len(resp.Packages) != len(want) {
		t.Fatalf("expected %v, got %v", want, resp.Packages)
	}
	for i := range want {
		if resp.Packages[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, resp.Packages)
		}
	}
	if resp.Region != "china" {
		t.Fatalf("expected region china, got %s", resp.Region)
	}
	if !resp.LoadedAt.Equal(fixedNow) {
		t.Fatalf("unexpected loadedAt %s", resp.LoadedAt)
	}
}

func TestListMirrorsEmptyConfig(t *testing.T) {
	router := NewRouter(NewHandler(nil), zaptest.NewLogger(t), WithLogging(false))

	rec := serve(t, router, "/api/mirrors")
	var resp struct {
		Packages []string `json:"packages"`
	}
	decodeBody(t, rec, &resp)
	if resp.Packages == nil || len(resp.Packages) != 0 {
		t.Fatalf("expected empty list, got %v", resp.Packages)
	}
}

func TestGetMirror(t *testing.T) {
	router := setupTestRouter(t)

	tests := []struct {
		name     string
		path     string
		wantHost string
	}{
		{name: "plain package", path: "/api/mirrors/sqlite3", wantHost: "https://cdn.npmmirror.com/binaries"},
		{name: "scoped package", path: "/api/mirrors/@swc/core", wantHost: "https://cdn.npmmirror.com/binaries/swc"},
		{name: "file rewrite package", path: "/api/mirrors/flow-bin", wantHost: "https://cdn.npmmirror.com/binaries/flow/v"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, router, tc.path)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rec.Code)
			}

			var resp struct {
				Name   string         `json:"name"`
				Mirror map[string]any `json:"mirror"`
			}
			decodeBody(t, rec, &resp)
			if resp.Mirror["host"] != tc.wantHost {
				t.Fatalf("expected host %s, got %v", tc.wantHost, resp.Mirror["host"])
			}
		})
	}
}

func TestGetMirrorKeepsDescriptorFields(t *testing.T) {
	router := setupTestRouter(t)

	rec := serve(t, router, "/api/mirrors/sqlite3")
	var resp struct {
		Mirror map[string]any `json:"mirror"`
	}
	decodeBody(t, rec, &resp)
	if resp.Mirror["remote_path"] != "sqlite3/v{version}/" {
		t.Fatalf("expected remote_path to be served verbatim, got %v", resp.Mirror["remote_path"])
	}
}

func TestGetMirrorNotFound(t *testing.T) {
	router := setupTestRouter(t)

	rec := serve(t, router, "/api/mirrors/left-pad")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	var resp errorResponse
	decodeBody(t, rec, &resp)
	if resp.Error != "Not found" {
		t.Fatalf("unexpected error body %+v", resp)
	}
}

func TestGetEnvs(t *testing.T) {
	router := setupTestRouter(t)

	rec := serve(t, router, "/api/envs")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp envsResponse
	decodeBody(t, rec, &resp)
	if len(resp.Envs) != 2 {
		t.Fatalf("expected 2 envs, got %v", resp.Envs)
	}
	if resp.Envs["SASS_BINARY_SITE"] != "https://cdn.npmmirror.com/binaries/node-sass" {
		t.Fatalf("unexpected SASS_BINARY_SITE %s", resp.Envs["SASS_BINARY_SITE"])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	router := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/mirrors", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	router := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/mirrors", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS header")
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	router := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected req-42, got %s", got)
	}
}
