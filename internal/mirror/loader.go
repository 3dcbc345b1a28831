package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultRetryCount = 5
	DefaultRetryDelay = 5 * time.Second
)

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithRetry sets the number of fetch attempts and the pause between them.
// Non-positive counts fall back to DefaultRetryCount.
func WithRetry(count int, delay time.Duration) LoaderOption {
	return func(l *Loader) {
		if count > 0 {
			l.retryCount = count
		}
		if delay >= 0 {
			l.retryDelay = delay
		}
	}
}

// WithRegion selects the mirror set inside the document.
func WithRegion(region string) LoaderOption {
	return func(l *Loader) {
		if region != "" {
			l.region = region
		}
	}
}

// WithSchemaValidation toggles validation against the embedded schema.
func WithSchemaValidation(enabled bool) LoaderOption {
	return func(l *Loader) {
		l.validate = enabled
	}
}

// Loader fetches the mirror document once and turns it into a Config.
type Loader struct {
	source     Source
	logger     *zap.Logger
	region     string
	retryCount int
	retryDelay time.Duration
	validate   bool
}

// NewLoader creates a Loader reading from source.
func NewLoader(source Source, logger *zap.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loader{
		source:     source,
		logger:     logger,
		region:     DefaultRegion,
		retryCount: DefaultRetryCount,
		retryDelay: DefaultRetryDelay,
		validate:   true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load blocks until the document is fetched or the retry budget is spent.
// It never fails: any problem is logged and an empty Config is returned, so
// installs proceed without mirror redirection.
func (l *Loader) Load(ctx context.Context) *Config {
	source := zap.Stringer("source", l.source)

	for attempt := 1; attempt <= l.retryCount; attempt++ {
		data, err := l.source.Fetch(ctx)
		if err == nil {
			cfg, decodeErr := l.decode(data)
			if decodeErr != nil {
				l.logger.Warn("binary mirror config rejected", source, zap.Error(decodeErr))
				return Empty()
			}
			l.logger.Info("binary mirror config loaded",
				source,
				zap.String("region", l.region),
				zap.Int("packages", cfg.Len()),
				zap.Int("envs", len(cfg.envs)),
				zap.Int("attempt", attempt),
			)
			return cfg
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			l.logger.Warn("binary mirror config fetch cancelled", source, zap.Error(ctxErr))
			return Empty()
		}
		if errors.Is(err, ErrPermanent) {
			l.logger.Warn("binary mirror config unavailable", source, zap.Error(err))
			return Empty()
		}

		l.logger.Warn("binary mirror config fetch failed",
			source,
			zap.Int("attempt", attempt),
			zap.Int("remaining", l.retryCount-attempt),
			zap.Error(err),
		)
		if attempt == l.retryCount {
			break
		}

		if !l.wait(ctx) {
			l.logger.Warn("binary mirror config fetch cancelled", source, zap.Error(ctx.Err()))
			return Empty()
		}
	}

	l.logger.Warn("binary mirror init timeout", source, zap.Int("attempts", l.retryCount))
	return Empty()
}

func (l *Loader) wait(ctx context.Context) bool {
	if l.retryDelay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(l.retryDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *Loader) decode(data []byte) (*Config, error) {
	if l.validate {
		if err := Validate(data); err != nil {
			return nil, err
		}
	}
	cfg, err := Parse(data, l.region)
	if err != nil {
		return nil, fmt.Errorf("decode mirror document: %w", err)
	}
	return cfg, nil
}
