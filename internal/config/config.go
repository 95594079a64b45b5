package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port            int
	NatsURL         string
	NatsToken       string
	DatabaseURL     string
	LogLevel        string
	OpenAIAPIKey    string
	GradingModel    string
	VapiAPIKey      string
	VapiURL         string
	APIToken        string
	DefaultRubricID int64
}

func Load() Config {
	return Config{
		Port:            envInt("DEBRIEF_PORT", 8780),
		NatsURL:         envStr("NATS_URL", "nats://localhost:4222"),
		NatsToken:       envStr("NATS_TOKEN", ""),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		OpenAIAPIKey:    envStr("OPENAI_API_KEY", ""),
		GradingModel:    envStr("DEBRIEF_MODEL", "gpt-4o"),
		VapiAPIKey:      envStr("VAPI_API_KEY", ""),
		VapiURL:         envStr("VAPI_URL", "https://api.vapi.ai"),
		APIToken:        envStr("DEBRIEF_API_TOKEN", ""),
		DefaultRubricID: int64(envInt("DEFAULT_RUBRIC_ID", 0)),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
