package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.WebhookMaxAttempts != 3 {
		t.Errorf("expected 3 webhook attempts, got %d", cfg.WebhookMaxAttempts)
	}
	if cfg.WebhookTimeout != 10*time.Second {
		t.Errorf("expected 10s webhook timeout, got %s", cfg.WebhookTimeout)
	}
	want := []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}
	if len(cfg.WebhookBackoff) != len(want) {
		t.Fatalf("expected %d backoff steps, got %d", len(want), len(cfg.WebhookBackoff))
	}
	for i := range want {
		if cfg.WebhookBackoff[i] != want[i] {
			t.Errorf("backoff[%d]: expected %s, got %s", i, want[i], cfg.WebhookBackoff[i])
		}
	}
}

func TestBackoffOverride(t *testing.T) {
	t.Setenv("WEBHOOK_BACKOFF", "2s,4s")
	cfg := Load()
	if len(cfg.WebhookBackoff) != 2 || cfg.WebhookBackoff[0] != 2*time.Second || cfg.WebhookBackoff[1] != 4*time.Second {
		t.Errorf("unexpected backoff schedule: %v", cfg.WebhookBackoff)
	}
}

func TestBackoffMalformedFallsBack(t *testing.T) {
	t.Setenv("WEBHOOK_BACKOFF", "not-a-duration")
	cfg := Load()
	if len(cfg.WebhookBackoff) != 3 {
		t.Errorf("malformed backoff should keep defaults, got %v", cfg.WebhookBackoff)
	}
}
