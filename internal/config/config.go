package config

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultStaticPath = "../frontend/dist"

// Store backends.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

type Config struct {
	Addr         string
	Store        string
	RedisAddr    string
	RedisPrefix  string
	StaticPath   string
	PublicWSURL  string
	CanvasWidth  int
	CanvasHeight int
	MDNSEnabled  bool
	MDNSInstance string
	LogLevel     slog.Level
	LogFormat    string
}

// Load reads .env files (without overriding the real environment) and then
// builds a Config from the environment.
func Load() (Config, error) {
	loadEnv()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:         getenv("ADDR", ":8080"),
		Store:        strings.ToLower(getenv("STORE", StoreRedis)),
		RedisAddr:    getenv("REDIS_ADDR", "localhost:6379"),
		RedisPrefix:  getenv("REDIS_PREFIX", "sketchboard"),
		StaticPath:   getenv("STATIC_DIR", defaultStaticPath),
		PublicWSURL:  strings.TrimSpace(os.Getenv("PUBLIC_WS_URL")),
		MDNSInstance: strings.TrimSpace(os.Getenv("MDNS_INSTANCE")),
		LogFormat:    strings.ToLower(getenv("LOG_FORMAT", "text")),
	}

	var err error
	if cfg.CanvasWidth, err = getInt("CANVAS_WIDTH", 800); err != nil {
		return Config{}, err
	}
	if cfg.CanvasHeight, err = getInt("CANVAS_HEIGHT", 600); err != nil {
		return Config{}, err
	}
	if cfg.CanvasWidth <= 0 || cfg.CanvasHeight <= 0 {
		return Config{}, fmt.Errorf("canvas size must be positive, got %dx%d", cfg.CanvasWidth, cfg.CanvasHeight)
	}
	if cfg.MDNSEnabled, err = getBool("MDNS_ENABLED", false); err != nil {
		return Config{}, err
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(getenv("LOG_LEVEL", "info"))); err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	switch cfg.Store {
	case StoreRedis, StoreMemory:
	default:
		return Config{}, fmt.Errorf("STORE must be %q or %q, got %q", StoreRedis, StoreMemory, cfg.Store)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}
	return cfg, nil
}

// Port extracts the numeric port from Addr.
func (c Config) Port() (int, error) {
	_, port, err := net.SplitHostPort(c.Addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(port)
}

// LogValue keeps the config loggable as one structured attribute.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("addr", c.Addr),
		slog.String("store", c.Store),
		slog.String("redis_addr", c.RedisAddr),
		slog.String("static_dir", c.StaticPath),
		slog.Int("canvas_width", c.CanvasWidth),
		slog.Int("canvas_height", c.CanvasHeight),
		slog.Bool("mdns", c.MDNSEnabled),
	)
}

// Logger builds the process logger described by the config.
func (c Config) Logger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func getenv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func loadEnv() {
	paths := []string{
		".env",
		filepath.Join("backend", ".env"),
		"../.env",
	}
	for _, p := range paths {
		if err := LoadEnvFile(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("env load warning", "path", p, "err", err)
		}
	}
}

// LoadEnvFile sets KEY=VALUE pairs from path that are not already set.
func LoadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, val)
		}
	}
	return scanner.Err()
}
