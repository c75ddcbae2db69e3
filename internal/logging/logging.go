// Package logging builds the process logger from configuration.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	otellog "go.opentelemetry.io/otel/log"

	"librarydesk/internal/config"
)

const instrumentationName = "librarydesk"

type options struct {
	loggerProvider otellog.LoggerProvider
}

// Option configures New.
type Option func(*options)

// WithLoggerProvider sends otel-format records to lp instead of the global
// logger provider.
func WithLoggerProvider(lp otellog.LoggerProvider) Option {
	return func(o *options) { o.loggerProvider = lp }
}

// New returns a logger writing to w in cfg.Format at cfg.Level. The otel
// format hands records to an OpenTelemetry logger provider and ignores w.
func New(cfg config.LogConfig, w io.Writer, opts ...Option) (*slog.Logger, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "otel":
		var bridgeOpts []otelslog.Option
		if o.loggerProvider != nil {
			bridgeOpts = append(bridgeOpts, otelslog.WithLoggerProvider(o.loggerProvider))
		}
		return slog.New(&levelHandler{
			level: level,
			next:  otelslog.NewHandler(instrumentationName, bridgeOpts...),
		}), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}

// levelHandler drops records below level before they reach next.
type levelHandler struct {
	level slog.Leveler
	next  slog.Handler
}

func (h *levelHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.level.Level() && h.next.Enabled(ctx, l)
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.next.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, next: h.next.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, next: h.next.WithGroup(name)}
}

// ParseLevel accepts debug, info, warn and error in any case. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("parse log level: %w", err)
	}
	return level, nil
}
