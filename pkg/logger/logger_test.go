package logger

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/wonny/settle/pkg/config"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLogLevel(tt.input); got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	cfg := &config.Config{
		Env:       "development",
		LogLevel:  "debug",
		LogFormat: "json",
	}

	log := New(cfg)
	if log == nil {
		t.Fatal("New() returned nil")
	}

	// Chained loggers must not mutate the parent
	child := log.WithField("component", "gateway")
	if child == log {
		t.Error("WithField() should return a new logger")
	}

	withErr := log.WithError(nil)
	if withErr == nil {
		t.Error("WithError() returned nil")
	}
}

func TestNewNop(t *testing.T) {
	log := NewNop()

	// Must not panic; output is discarded
	log.Debug("discarded")
	log.WithFields(map[string]interface{}{"a": 1, "b": "two"}).Info("discarded")
	log.Warnf("discarded %d", 42)
}
