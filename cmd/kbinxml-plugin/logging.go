package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redpanda-data/benthos/v4/public/service"
)

// serviceHandler routes slog records from the converter to the Benthos
// logger, so level filtering and output follow the pipeline's logger config.
type serviceHandler struct {
	logger *service.Logger
	attrs  []slog.Attr
	group  string
}

func newServiceHandler(logger *service.Logger) *serviceHandler {
	return &serviceHandler{logger: logger}
}

// Enabled defers level filtering to the Benthos logger.
func (h *serviceHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *serviceHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := h.attrs
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, h.qualify(a))
		return true
	})
	msg := formatRecord(r.Message, attrs)

	switch {
	case r.Level >= slog.LevelError:
		h.logger.Errorf("%s", msg)
	case r.Level >= slog.LevelWarn:
		h.logger.Warnf("%s", msg)
	case r.Level >= slog.LevelInfo:
		h.logger.Infof("%s", msg)
	default:
		h.logger.Debugf("%s", msg)
	}
	return nil
}

func (h *serviceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, h.qualify(a))
	}
	return &next
}

func (h *serviceHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.group = h.qualifyKey(name)
	return &next
}

func (h *serviceHandler) qualify(a slog.Attr) slog.Attr {
	return slog.Attr{Key: h.qualifyKey(a.Key), Value: a.Value}
}

func (h *serviceHandler) qualifyKey(key string) string {
	if h.group == "" {
		return key
	}
	return h.group + "." + key
}

// formatRecord renders a message followed by key=value pairs.
func formatRecord(msg string, attrs []slog.Attr) string {
	if len(attrs) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for _, a := range attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Resolve())
	}
	return b.String()
}
