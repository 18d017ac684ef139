package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvTelegramToken = "RANKBOT_TELEGRAM_TOKEN"
	EnvOriginAPIKey  = "HENRIK_API_KEY"
	EnvStatusToken   = "RANKBOT_STATUS_TOKEN"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadDotEnv(paths ...string) error {
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv fills secrets from the environment. Environment values win over
// the file so deployments can keep tokens out of the config.
func ApplyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvOriginAPIKey)); v != "" {
		cfg.Origin.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvStatusToken)); v != "" {
		cfg.Status.Token = v
	}
}
