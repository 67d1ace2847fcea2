// Package observability provides statement observers: structured logging,
// in-memory recording, Prometheus metrics, OpenTelemetry spans and a
// per-transaction journal archived to blob storage.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"entitygraph/pkg/storage"
)

// NewLogger builds a slog logger writing to w. format is "json" or "text";
// level is one of debug, info, warn, error.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(level)))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

// LogObserver logs each event. Successful statements go out at debug level,
// failures at warn.
type LogObserver struct {
	logger *slog.Logger
}

var _ storage.Observer = (*LogObserver)(nil)

// NewLogObserver returns an observer logging through logger, or through
// slog.Default when nil.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

// Observe implements storage.Observer.
func (o *LogObserver) Observe(ctx context.Context, ev storage.Event) {
	attrs := []slog.Attr{
		slog.String("kind", string(ev.Kind)),
		slog.String("label", ev.Label),
		slog.Duration("duration", ev.Duration),
	}
	if ev.Table != "" {
		attrs = append(attrs,
			slog.String("table", ev.Table),
			slog.String("query", ev.Query),
			slog.Int64("rows", ev.RowsAffected),
		)
	}
	if ev.Err != nil {
		attrs = append(attrs, slog.String("error", ev.Err.Error()))
		o.logger.LogAttrs(ctx, slog.LevelWarn, "statement failed", attrs...)
		return
	}
	o.logger.LogAttrs(ctx, slog.LevelDebug, "statement", attrs...)
}
