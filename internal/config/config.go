package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// StoreDriver is one of memory, sqlite or postgres.
	StoreDriver string `env:"STORE_DRIVER" envDefault:"memory"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"data/famemely.db"`
	PostgresURL string `env:"DATABASE_URL"`

	ExportEnabled bool   `env:"EXPORT_ENABLED" envDefault:"false"`
	ExportFile    string `env:"EXPORT_FILE" envDefault:"exports/results.txt"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	// WebDir holds a built web client to serve at /; empty serves the API only.
	WebDir string `env:"WEB_DIR"`

	// PromptProvider is static, openai or ollama.
	PromptProvider string `env:"PROMPT_PROVIDER" envDefault:"static"`
	PromptModel    string `env:"PROMPT_MODEL"`
	OpenAIKey      string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `env:"OPENAI_BASE_URL"`
	OllamaHost     string `env:"OLLAMA_HOST" envDefault:"http://localhost:11434"`

	// Seed fixes judge selection and prompt order; 0 picks a random seed.
	Seed             uint64 `env:"GAME_SEED" envDefault:"0"`
	DefaultPhotos    bool   `env:"DEFAULT_PHOTOS" envDefault:"true"`
	ActionsPerSecond int    `env:"ACTIONS_PER_SECOND" envDefault:"5"`
}

var drivers = []string{"memory", "sqlite", "postgres"}

func FromEnv() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	if !slices.Contains(drivers, c.StoreDriver) {
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.StoreDriver == "postgres" && c.PostgresURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required for the postgres store")
	}
	if c.ActionsPerSecond <= 0 {
		c.ActionsPerSecond = 5
	}
	return c, nil
}

// ExportPath returns the export file, or "" when export is disabled.
func (c Config) ExportPath() string {
	if !c.ExportEnabled {
		return ""
	}
	return c.ExportFile
}
