package logging

import (
	"log/slog"
	"testing"
)

func TestNewLevels(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for input, want := range cases {
		logger := New(input)
		if logger == nil || logger.Logger == nil {
			t.Fatalf("New(%q) returned nil logger", input)
		}
		if !logger.Enabled(nil, want) {
			t.Errorf("New(%q): expected level %v to be enabled", input, want)
		}
	}
}

func TestWithNilReceiver(t *testing.T) {
	var l *Logger
	if child := l.With("component", "test"); child == nil {
		t.Fatal("With on nil logger should fall back to default")
	}
}
