package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/agentdock/memengine/internal/graph"
)

// Load reads the .env file specified by MEMENGINE_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("MEMENGINE_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

func MigrationsPath() string {
	p := os.Getenv("MIGRATIONS_PATH")
	if p == "" {
		return "migrations"
	}
	return p
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}

// floatEnv parses name as a float64, falling back to def and logging a
// warning when the variable is set but not parseable. An unset variable
// falls back silently.
func floatEnv(logger *zap.Logger, name string, def float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		if logger != nil {
			logger.Warn("config: invalid float env var, using default",
				zap.String("var", name), zap.String("value", raw), zap.Float64("default", def))
		}
		return def
	}
	return v
}

// ConnectionAutoSimilar overrides graph.Thresholds.AutoSimilar.
// Defaults to 0.8.
func ConnectionAutoSimilar(logger *zap.Logger) float64 {
	return floatEnv(logger, "CONNECTION_AUTO_SIMILAR", 0.8)
}

// ConnectionAutoRelated overrides graph.Thresholds.AutoRelated. Defaults
// to 0.6.
func ConnectionAutoRelated(logger *zap.Logger) float64 {
	return floatEnv(logger, "CONNECTION_AUTO_RELATED", 0.6)
}

// ConnectionLLMRequired overrides graph.Thresholds.LLMRequired. Defaults
// to 0.3.
func ConnectionLLMRequired(logger *zap.Logger) float64 {
	return floatEnv(logger, "CONNECTION_LLM_REQUIRED", 0.3)
}

// GraphThresholds assembles graph.Thresholds from the three connection
// env overrides, giving callers a single entry point instead of wiring
// each getter into graph.Config by hand.
func GraphThresholds(logger *zap.Logger) graph.Thresholds {
	return graph.Thresholds{
		AutoSimilar: ConnectionAutoSimilar(logger),
		AutoRelated: ConnectionAutoRelated(logger),
		LLMRequired: ConnectionLLMRequired(logger),
	}
}
