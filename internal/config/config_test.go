package config

import (
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":8080" {
			t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.QuestionDir != "./questions" {
			t.Errorf("QuestionDir = %q, want ./questions", cfg.QuestionDir)
		}
		if cfg.SampleRate != 16000 {
			t.Errorf("SampleRate = %d, want 16000", cfg.SampleRate)
		}
		if cfg.FrameDuration != 20*time.Millisecond {
			t.Errorf("FrameDuration = %v, want 20ms", cfg.FrameDuration)
		}
		if cfg.SessionStartTimeout != 5*time.Second {
			t.Errorf("SessionStartTimeout = %v, want 5s", cfg.SessionStartTimeout)
		}
		if cfg.FinalizeTimeout != 4*time.Second {
			t.Errorf("FinalizeTimeout = %v, want 4s", cfg.FinalizeTimeout)
		}
		if cfg.TokenRefreshBuffer != 30*time.Second {
			t.Errorf("TokenRefreshBuffer = %v, want 30s", cfg.TokenRefreshBuffer)
		}
		if cfg.PoolMaxAttempts != 4 {
			t.Errorf("PoolMaxAttempts = %d, want 4", cfg.PoolMaxAttempts)
		}
	})

	t.Run("env_vars_read", func(t *testing.T) {
		t.Setenv("HTTP_ADDR", ":7070")
		t.Setenv("ELEVENLABS_TOKEN_URL", "https://tokens.example/elevenlabs")

		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":7070" {
			t.Errorf("HTTPAddr = %q, want :7070", cfg.HTTPAddr)
		}
		if cfg.ElevenLabsTokenURL != "https://tokens.example/elevenlabs" {
			t.Errorf("ElevenLabsTokenURL = %q, want token endpoint", cfg.ElevenLabsTokenURL)
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		t.Setenv("HTTP_ADDR", ":7070")
		t.Setenv("LOG_LEVEL", "warn")

		cfg, err := Load(Overrides{
			EnvFile:     "nonexistent.env",
			HTTPAddr:    ":9090",
			LogLevel:    "debug",
			QuestionDir: "/tmp/questions",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":9090" {
			t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.QuestionDir != "/tmp/questions" {
			t.Errorf("QuestionDir = %q, want /tmp/questions", cfg.QuestionDir)
		}
	})

	t.Run("empty_overrides_use_env", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "trace")

		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.LogLevel != "trace" {
			t.Errorf("LogLevel = %q, want trace", cfg.LogLevel)
		}
	})
}
