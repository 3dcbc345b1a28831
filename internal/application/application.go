package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/eugenenazirov/binary-mirror/internal/api"
	"github.com/eugenenazirov/binary-mirror/internal/config"
	"github.com/eugenenazirov/binary-mirror/internal/mirror"
	"github.com/eugenenazirov/binary-mirror/internal/patch"
)

// App encapsulates the mirror config source, the loader and, for serve, the
// HTTP server.
type App struct {
	cfg    config.Config
	source mirror.Source
	loader *mirror.Loader
	logger *zap.Logger
	server *http.Server
}

// Option configures App construction.
type Option func(*options)

type options struct {
	source mirror.Source
}

// WithSource replaces the source selected by the configuration.
func WithSource(source mirror.Source) Option {
	return func(o *options) {
		o.source = source
	}
}

// New initializes the application with all dependencies from the provided configuration.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	source := o.source
	if source == nil {
		var err error
		source, err = NewSource(context.Background(), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create mirror config source: %w", err)
		}
	}

	loader := mirror.NewLoader(source, logger,
		mirror.WithRegion(cfg.Region),
		mirror.WithRetry(cfg.RetryCount, cfg.RetryDelay),
		mirror.WithSchemaValidation(cfg.ValidateSchema),
	)

	return &App{
		cfg:    cfg,
		source: source,
		loader: loader,
		logger: logger,
	}, nil
}

// NewSource selects the mirror config source named by cfg.Source.
func NewSource(ctx context.Context, cfg config.Config) (mirror.Source, error) {
	switch cfg.Source {
	case config.SourceHTTP, "":
		source, err := mirror.NewHTTPSource(mirror.NewHTTPClient(cfg.RequestTimeout), cfg.Registry)
		if err != nil {
			return nil, err
		}
		return source, nil
	case config.SourceFile:
		return mirror.NewFileSource(cfg.File), nil
	case config.SourceS3:
		source, err := mirror.NewS3Source(ctx, cfg.S3.Bucket, cfg.S3.Key, cfg.S3.Endpoint)
		if err != nil {
			return nil, err
		}
		return source, nil
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}

// Source returns the configured mirror config source.
func (a *App) Source() mirror.Source {
	return a.source
}

// LoadMirrors fetches the mirror config. It never fails; an unreachable or
// invalid document yields an empty config.
func (a *App) LoadMirrors(ctx context.Context) *mirror.Config {
	return a.loader.Load(ctx)
}

// Patcher returns a Patcher for mirrors with the configured platform and extra
// rules applied.
func (a *App) Patcher(mirrors *mirror.Config) *patch.Patcher {
	opts := []patch.Option{patch.WithPlatform(a.cfg.Platform)}

	names := make([]string, 0, len(a.cfg.Rules))
	for name := range a.cfg.Rules {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		opts = append(opts, patch.WithPackageEdits(name, a.cfg.Rules[name]...))
	}

	return patch.New(mirrors, a.logger, opts...)
}

// NewServer builds the lookup service for mirrors. Start runs it.
func (a *App) NewServer(mirrors *mirror.Config) *http.Server {
	handler := api.NewHandler(mirrors, api.WithRegion(a.cfg.Region))
	router := api.NewRouter(handler, a.logger,
		api.WithLogging(a.cfg.EnableRequestLogging),
		api.WithRateLimit(a.cfg.RateLimitRPS, a.cfg.RateLimitBurst),
	)

	a.server = newHTTPServer(a.cfg, router)
	return a.server
}

// Start starts the HTTP server in a goroutine and logs the listening address.
func (a *App) Start() error {
	if a.server == nil {
		return errors.New("server not initialized")
	}
	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

func newHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}
