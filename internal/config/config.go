package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	QuestionDir string `env:"QUESTION_DIR" envDefault:"./questions"`

	// Token issuance endpoints, one per provider. Empty disables the provider.
	ElevenLabsTokenURL string        `env:"ELEVENLABS_TOKEN_URL"`
	DeepgramTokenURL   string        `env:"DEEPGRAM_TOKEN_URL"`
	TokenHTTPTimeout   time.Duration `env:"TOKEN_HTTP_TIMEOUT" envDefault:"5s"`
	TokenRefreshBuffer time.Duration `env:"TOKEN_REFRESH_BUFFER" envDefault:"30s"`

	// Connection pool retry policy.
	PoolMaxAttempts int           `env:"POOL_MAX_ATTEMPTS" envDefault:"4"`
	PoolBackoffBase time.Duration `env:"POOL_BACKOFF_BASE" envDefault:"500ms"`

	// Per-session suspension point timeouts. AttemptTimeout bounds how long
	// an unfinished attempt may hold the recording slot.
	SessionStartTimeout time.Duration `env:"SESSION_START_TIMEOUT" envDefault:"5s"`
	FinalizeTimeout     time.Duration `env:"FINALIZE_TIMEOUT" envDefault:"4s"`
	AttemptTimeout      time.Duration `env:"ATTEMPT_TIMEOUT" envDefault:"2m"`

	// Audio framing. 20ms of 16kHz mono 16-bit PCM per frame.
	SampleRate    int           `env:"SAMPLE_RATE" envDefault:"16000"`
	FrameDuration time.Duration `env:"FRAME_DURATION" envDefault:"20ms"`

	// External open-ended grader. Empty disables AI scoring.
	AIScoreURL     string        `env:"AI_SCORE_URL"`
	AIScoreTimeout time.Duration `env:"AI_SCORE_TIMEOUT" envDefault:"15s"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	QuestionDir string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.QuestionDir != "" {
		cfg.QuestionDir = overrides.QuestionDir
	}

	return cfg, nil
}
