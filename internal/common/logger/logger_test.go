package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"info":    zapcore.InfoLevel,
		"unknown": zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestZapAdapter_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := ForComponent(NewZapAdapter(zap.New(core)), "delivery-manager")

	log.WithError(errors.New("smtp down")).Warn("Channel failed", map[string]interface{}{
		"channel": "email",
		"cause":   errors.New("timeout"),
	})

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "delivery-manager", fields["component"])
	assert.Equal(t, "email", fields["channel"])
	assert.Equal(t, "timeout", fields["cause"])
	assert.Equal(t, "smtp down", fields["error"])
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

func TestForComponent_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		ForComponent(nil, "x").Info("ignored", nil)
	})
}

func TestNewWithOptions(t *testing.T) {
	l := NewWithOptions(Options{Level: "debug", Format: "json", Output: "stderr"})
	require.NotNil(t, l)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
}
