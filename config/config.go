// Package config loads runtime settings for the watermark engine host,
// following the teacher's godotenv-based configuration convention.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Settings holds all environment-driven configuration for the HTTP host.
type Settings struct {
	Port                 string
	GinMode              string
	CORSOrigins          []string
	MaxFileSize          int64
	RedundantWatermarks  int
	WatermarkStrength    float64
}

// Load reads a .env file if present (if absent, a warning is logged and
// loading continues) and returns Settings populated from the
// environment, falling back to the documented defaults.
func Load() Settings {
	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] config: no .env file found, using environment/defaults")
	}

	return Settings{
		Port:                getEnv("PORT", "8080"),
		GinMode:             getEnv("GIN_MODE", "debug"),
		CORSOrigins:         strings.Split(getEnv("CORS_ORIGINS", "*"), ","),
		MaxFileSize:         getEnvInt64("MAX_FILE_SIZE", 50*1024*1024),
		RedundantWatermarks: int(getEnvInt64("REDUNDANT_WATERMARKS", 3)),
		WatermarkStrength:   getEnvFloat("WATERMARK_STRENGTH", 0.05),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("[WARN] config: invalid %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[WARN] config: invalid %s=%q, using default %f", key, v, fallback)
		return fallback
	}
	return f
}
