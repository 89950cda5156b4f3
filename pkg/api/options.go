package api

import (
	"log/slog"
	"net/http"
)

// Option configures the API handler.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

type config struct {
	middleware func(http.Handler) http.Handler
	metrics    http.Handler
	logger     *slog.Logger
	queue      string
}

// WithMiddleware wraps the handler with middleware (auth, logging, etc.).
func WithMiddleware(mw func(http.Handler) http.Handler) Option {
	return optionFunc(func(c *config) {
		c.middleware = mw
	})
}

// WithMetrics serves h at /metrics.
func WithMetrics(h http.Handler) Option {
	return optionFunc(func(c *config) {
		c.metrics = h
	})
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *config) {
		if l != nil {
			c.logger = l
		}
	})
}

// WithDefaultQueue sets the queue used when a create request names none.
func WithDefaultQueue(name string) Option {
	return optionFunc(func(c *config) {
		c.queue = name
	})
}
