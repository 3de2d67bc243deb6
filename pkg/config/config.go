package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the full control-plane configuration, resolved from the
// environment at startup. Malformed values are rejected before anything
// starts serving.
type Config struct {
	RedisHost     string
	RedisPort     int
	RedisPassword string

	SessionTTL time.Duration

	UserPodImage string
	UserPodPort  int32

	APIKey string

	ListenAddr string
	Namespace  string
	BaseDomain string

	ProfileName string
	ProfileFile string
	Profile     Profile

	BackupImage string
	BackupClaim string

	LogLevel string
	LogJSON  bool
}

// Load resolves configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		RedisHost:     envOr("REDIS_HOST", "redis"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		UserPodImage:  envOr("USER_POD_IMAGE", "us-central1-docker.pkg.dev/hyperbola-476507/docker-repo/emergent-agent:latest"),
		APIKey:        os.Getenv("API_KEY"),
		ListenAddr:    envOr("LISTEN_ADDR", ":5000"),
		Namespace:     envOr("NAMESPACE", "default"),
		BaseDomain:    envOr("BASE_DOMAIN", "preview.hyperbola.in"),
		ProfileName:   envOr("SESSION_PROFILE", "client"),
		ProfileFile:   os.Getenv("PROFILE_FILE"),
		BackupImage:   envOr("BACKUP_IMAGE", "alpine:3.20"),
		BackupClaim:   envOr("BACKUP_CLAIM", "backup-storage"),
		LogLevel:      envOr("LOG_LEVEL", "info"),
		LogJSON:       os.Getenv("LOG_JSON") == "true",
	}

	port, err := ParseRedisPort(envOr("REDIS_PORT", "6379"))
	if err != nil {
		return nil, err
	}
	cfg.RedisPort = port

	ttl, err := envInt("SESSION_TTL", 86400)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be positive, got %d", ttl)
	}
	cfg.SessionTTL = time.Duration(ttl) * time.Second

	podPort, err := envInt("USER_POD_PORT", 8080)
	if err != nil {
		return nil, err
	}
	if podPort <= 0 || podPort > 65535 {
		return nil, fmt.Errorf("USER_POD_PORT out of range: %d", podPort)
	}
	cfg.UserPodPort = int32(podPort)

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API_KEY is required")
	}

	profiles := BuiltinProfiles()
	if cfg.ProfileFile != "" {
		profiles, err = LoadProfiles(cfg.ProfileFile)
		if err != nil {
			return nil, fmt.Errorf("loading profiles from %s: %w", cfg.ProfileFile, err)
		}
	}

	profile, err := SelectProfile(profiles, cfg.ProfileName)
	if err != nil {
		return nil, err
	}
	cfg.Profile = *profile

	return cfg, nil
}

// ParseRedisPort accepts a bare integer or a URL of the form
// tcp://host:port, the shape Kubernetes service links inject.
func ParseRedisPort(value string) (int, error) {
	if strings.Contains(value, "tcp://") {
		parts := strings.Split(value, ":")
		value = parts[len(parts)-1]
	}
	port, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid REDIS_PORT %q: %w", value, err)
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("REDIS_PORT out of range: %d", port)
	}
	return port, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}
