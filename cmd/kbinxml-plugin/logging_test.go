package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/redpanda-data/benthos/v4/public/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatRecord(t *testing.T) {
	assert.Equal(t, "plain", formatRecord("plain", nil))
	assert.Equal(t, "Stage failed stage=InvalidXML input_len=42",
		formatRecord("Stage failed", []slog.Attr{slog.String("stage", "InvalidXML"), slog.Int("input_len", 42)}))
}

func TestServiceHandler_AttrsAndGroups(t *testing.T) {
	h := newServiceHandler(service.MockResources().Logger())

	grouped, ok := h.WithGroup("kbin").WithAttrs([]slog.Attr{slog.String("op", "decode")}).(*serviceHandler)
	require.True(t, ok)
	require.Len(t, grouped.attrs, 1)
	assert.True(t, grouped.attrs[0].Equal(slog.String("kbin.op", "decode")), grouped.attrs[0].String())
	assert.Empty(t, h.attrs, "parent handler is not modified")

	assert.Same(t, h, h.WithGroup(""))
	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))
}

func TestServiceHandler_HandlesEveryLevel(t *testing.T) {
	logger := slog.New(newServiceHandler(service.MockResources().Logger())).With("component", "test")
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		assert.NotPanics(t, func() {
			logger.Log(context.Background(), level, "message", "n", 1)
		})
	}

	h := newServiceHandler(service.MockResources().Logger())
	r := slog.NewRecord(time.Now(), slog.LevelInfo, "direct", 0)
	assert.NoError(t, h.Handle(context.Background(), r))
}

func TestKBinXMLProcessor_ConverterUsesServiceLogger(t *testing.T) {
	p := newTestProcessor(t, "operation: decode")
	assert.NotPanics(t, func() {
		out := processOne(t, p, service.NewMessage([]byte("not kbin")))
		assert.Error(t, out.GetError())
	})
}
