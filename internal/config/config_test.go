package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Errorf("Env = %q, want development", cfg.Env)
	}
	if cfg.WorkerCount != 2 {
		t.Errorf("WorkerCount = %d, want 2", cfg.WorkerCount)
	}
	if cfg.LLMProvider != "auto" {
		t.Errorf("LLMProvider = %q, want auto", cfg.LLMProvider)
	}
	if cfg.ClassifyCacheTTL != time.Hour {
		t.Errorf("ClassifyCacheTTL = %v, want 1h", cfg.ClassifyCacheTTL)
	}
	if cfg.SchedulingTimezone != "Europe/Bucharest" {
		t.Errorf("SchedulingTimezone = %q", cfg.SchedulingTimezone)
	}
	if cfg.GoogleCalendarID != "primary" {
		t.Errorf("GoogleCalendarID = %q, want primary", cfg.GoogleCalendarID)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("USE_MEMORY_QUEUE", "true")
	t.Setenv("TICKETING_TIMEOUT", "3s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("RATE_LIMIT_PER_SECOND", "2.5")

	cfg := Load()

	if cfg.Port != "9999" {
		t.Errorf("Port = %q, want 9999", cfg.Port)
	}
	if cfg.WorkerCount != 8 {
		t.Errorf("WorkerCount = %d, want 8", cfg.WorkerCount)
	}
	if !cfg.UseMemoryQueue {
		t.Error("UseMemoryQueue should be true")
	}
	if cfg.TicketingTimeout != 3*time.Second {
		t.Errorf("TicketingTimeout = %v, want 3s", cfg.TicketingTimeout)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if cfg.RateLimitPerSecond != 2.5 {
		t.Errorf("RateLimitPerSecond = %v, want 2.5", cfg.RateLimitPerSecond)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("WORKER_COUNT", "not-a-number")
	t.Setenv("USE_MEMORY_QUEUE", "perhaps")
	t.Setenv("CLASSIFY_CACHE_TTL", "soon")

	cfg := Load()

	if cfg.WorkerCount != 2 {
		t.Errorf("WorkerCount = %d, want default 2", cfg.WorkerCount)
	}
	if cfg.UseMemoryQueue {
		t.Error("UseMemoryQueue should fall back to false")
	}
	if cfg.ClassifyCacheTTL != time.Hour {
		t.Errorf("ClassifyCacheTTL = %v, want default 1h", cfg.ClassifyCacheTTL)
	}
}
