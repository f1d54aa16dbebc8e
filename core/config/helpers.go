package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetAllSettings summarizes the loaded configuration for debug logs.
func GetAllSettings() map[string]any {
	if Global == nil {
		return map[string]any{}
	}
	return map[string]any{
		"app_version":           Global.App.Version,
		"app_debug":             Global.App.Debug,
		"cache_backend":         Global.Cache.Backend,
		"cache_version":         Global.Cache.Version,
		"cache_default_ttl":     Global.Cache.DefaultTTL.String(),
		"manifest_size":         len(Global.Cache.Manifest),
		"upstreams":             len(Global.Upstreams),
		"deferred_max_attempts": Global.Deferred.MaxAttempts,
		"refresh_interval":      Global.Refresh.Interval.String(),
		"refresh_resources":     len(Global.Refresh.Resources),
	}
}

// Helpers
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		vLower := strings.ToLower(v)
		return vLower == "1" || vLower == "true" || vLower == "yes" || vLower == "on"
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
