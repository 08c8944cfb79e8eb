package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the proctoring service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	// BearerToken guards the anti-cheat API. Empty means dev mode: allow all.
	BearerToken    string
	AllowAnyOrigin bool

	SessionIdleTimeout time.Duration
	ReaperInterval     time.Duration

	// Violation thresholds.
	LookAwayThresholdDegrees float64
	LookAwayDuration         time.Duration
	FaceAbsenceThreshold     time.Duration
	AlertCooldown            time.Duration
	StartupGracePeriod       time.Duration

	// VADAggressiveness selects the local voice activity detector profile (0-3).
	VADAggressiveness int

	FaceDetectorURL  string
	VoiceDetectorURL string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "invigilo"),
		BearerToken:              stringsTrimSpace("INVIGILO_BEARER_TOKEN"),
		AllowAnyOrigin:           true,
		FaceDetectorURL:          stringsTrimSpace("FACE_DETECTOR_URL"),
		VoiceDetectorURL:         stringsTrimSpace("VOICE_DETECTOR_URL"),
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
		SessionIdleTimeout:       4 * time.Hour,
		ReaperInterval:           30 * time.Second,
		LookAwayThresholdDegrees: 20,
		LookAwayDuration:         5 * time.Second,
		FaceAbsenceThreshold:     3 * time.Second,
		AlertCooldown:            10 * time.Second,
		StartupGracePeriod:       5 * time.Second,
		VADAggressiveness:        2,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTimeout, err = durationFromEnv("SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ReaperInterval, err = durationFromEnv("SESSION_REAPER_INTERVAL", cfg.ReaperInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.LookAwayDuration, err = durationFromEnv("LOOK_AWAY_DURATION", cfg.LookAwayDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.FaceAbsenceThreshold, err = durationFromEnv("FACE_ABSENCE_THRESHOLD", cfg.FaceAbsenceThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.AlertCooldown, err = durationFromEnv("ALERT_COOLDOWN", cfg.AlertCooldown)
	if err != nil {
		return Config{}, err
	}
	cfg.StartupGracePeriod, err = durationFromEnv("STARTUP_GRACE_PERIOD", cfg.StartupGracePeriod)
	if err != nil {
		return Config{}, err
	}
	cfg.LookAwayThresholdDegrees, err = floatFromEnv("LOOK_AWAY_THRESHOLD_DEGREES", cfg.LookAwayThresholdDegrees)
	if err != nil {
		return Config{}, err
	}
	cfg.VADAggressiveness, err = intFromEnv("VAD_AGGRESSIVENESS", cfg.VADAggressiveness)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionIdleTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("SESSION_IDLE_TIMEOUT must be at least 5s")
	}
	if cfg.LookAwayThresholdDegrees <= 0 {
		return Config{}, fmt.Errorf("LOOK_AWAY_THRESHOLD_DEGREES must be positive")
	}
	if cfg.LookAwayDuration <= 0 {
		return Config{}, fmt.Errorf("LOOK_AWAY_DURATION must be positive")
	}
	if cfg.FaceAbsenceThreshold <= 0 {
		return Config{}, fmt.Errorf("FACE_ABSENCE_THRESHOLD must be positive")
	}
	if cfg.AlertCooldown < 0 {
		return Config{}, fmt.Errorf("ALERT_COOLDOWN must be >= 0")
	}
	if cfg.StartupGracePeriod < 0 {
		return Config{}, fmt.Errorf("STARTUP_GRACE_PERIOD must be >= 0")
	}
	if cfg.VADAggressiveness < 0 || cfg.VADAggressiveness > 3 {
		return Config{}, fmt.Errorf("VAD_AGGRESSIVENESS must be in 0..3")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
