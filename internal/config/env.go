package config

import (
	"os"

	"github.com/spf13/cast"
)

const (
	DefaultKafkaBatchSize      = 100
	DefaultKafkaBatchTimeoutMs = 100
)

// GetInt returns the integer value of the env var key, or def when it is
// unset or not a number.
func GetInt(key string, def int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := cast.ToIntE(raw)
	if err != nil {
		return def
	}
	return v
}

func GetFloat(key string, def float64) float64 {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := cast.ToFloat64E(raw)
	if err != nil {
		return def
	}
	return v
}

func GetString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
