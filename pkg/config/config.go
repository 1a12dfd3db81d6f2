// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	envConfigFile             = "NEXI_CONFIG_FILE"
	envListenAddr             = "NEXI_LISTEN_ADDR"
	envUpstreamURL            = "NEXI_UPSTREAM_URL"
	envGuidancePath           = "NEXI_GUIDANCE_UPSTREAM_PATH"
	envRequestTimeout         = "NEXI_REQUEST_TIMEOUT"
	envUpstreamIdleTimeout    = "NEXI_UPSTREAM_IDLE_TIMEOUT"
	envKeepAliveInterval      = "NEXI_KEEPALIVE_INTERVAL"
	envChunkSize              = "NEXI_CHUNK_SIZE"
	envMaxBodyBytes           = "NEXI_MAX_BODY_BYTES"
	envRequireAuth            = "NEXI_REQUIRE_AUTH"
	envInsecureSkipVerify     = "NEXI_UPSTREAM_INSECURE"
	envLogLevel               = "NEXI_LOG_LEVEL"
	envServerReadTimeout      = "NEXI_SERVER_READ_TIMEOUT"
	envServerWriteTimeout     = "NEXI_SERVER_WRITE_TIMEOUT"
	envServerIdleTimeout      = "NEXI_SERVER_IDLE_TIMEOUT"
	envGracefulShutdown       = "NEXI_GRACEFUL_SHUTDOWN"
	defaultListenAddr         = "127.0.0.1:3001"
	defaultGuidancePath       = "/api/chat"
	defaultRequestTimeout     = 30 * time.Second
	defaultUpstreamIdle       = 2 * time.Minute
	defaultChunkSize          = 4096
	defaultMaxBodyBytes       = 1 << 20
	defaultLogLevel           = "info"
	defaultServerReadTimeout  = 30 * time.Second
	defaultServerIdleTimeout  = 120 * time.Second
	defaultGracefulShutdown   = 10 * time.Second
	defaultServerWriteTimeout = 0 // streams outlive any fixed write deadline
)

// Route maps an inbound relay endpoint onto a path of the AI backend.
type Route struct {
	Name         string `toml:"name"`
	Path         string `toml:"path"`
	UpstreamPath string `toml:"upstream_path"`
}

// DefaultRoutes are the relay endpoints served when the config file does not
// declare its own.
func DefaultRoutes() []Route {
	return []Route{
		{Name: "chat", Path: "/api/chat", UpstreamPath: "/api/chat"},
		{Name: "report", Path: "/api/reports/generate", UpstreamPath: "/api/reports/generate"},
	}
}

// Config captures runtime settings for the relay.
type Config struct {
	ListenAddr           string
	Upstream             *url.URL
	Routes               []Route
	GuidanceUpstreamPath string
	// RequestTimeout bounds the wait for upstream response headers.
	RequestTimeout time.Duration
	// UpstreamIdleTimeout aborts a stream when the upstream sends nothing for
	// this long. Zero disables it.
	UpstreamIdleTimeout time.Duration
	// KeepAliveInterval enables SSE comment heartbeats downstream when > 0.
	KeepAliveInterval       time.Duration
	ChunkSize               int
	MaxBodyBytes            int64
	RequireAuth             bool
	InsecureSkipVerify      bool
	LogLevel                string
	ServerReadTimeout       time.Duration
	ServerWriteTimeout      time.Duration
	ServerIdleTimeout       time.Duration
	GracefulShutdownTimeout time.Duration
}

// fileConfig mirrors Config as it appears in the optional TOML file.
// Durations are written as Go duration strings ("30s", "2m").
type fileConfig struct {
	ListenAddr           string  `toml:"listen_addr"`
	UpstreamURL          string  `toml:"upstream_url"`
	GuidanceUpstreamPath string  `toml:"guidance_upstream_path"`
	RequestTimeout       string  `toml:"request_timeout"`
	UpstreamIdleTimeout  string  `toml:"upstream_idle_timeout"`
	KeepAliveInterval    string  `toml:"keepalive_interval"`
	ChunkSize            int     `toml:"chunk_size"`
	MaxBodyBytes         int64   `toml:"max_body_bytes"`
	RequireAuth          *bool   `toml:"require_auth"`
	InsecureSkipVerify   bool    `toml:"upstream_insecure"`
	LogLevel             string  `toml:"log_level"`
	ServerReadTimeout    string  `toml:"server_read_timeout"`
	ServerWriteTimeout   string  `toml:"server_write_timeout"`
	ServerIdleTimeout    string  `toml:"server_idle_timeout"`
	GracefulShutdown     string  `toml:"graceful_shutdown"`
	Routes               []Route `toml:"routes"`
}

// Load reads configuration from an optional TOML file and environment
// variables, environment taking precedence, and validates required values.
// An empty path falls back to NEXI_CONFIG_FILE; no file at all is fine.
func Load(path string) (Config, error) {
	if path == "" {
		path = strings.TrimSpace(os.Getenv(envConfigFile))
	}

	var file fileConfig
	if path != "" {
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	upstreamRaw := getString(envUpstreamURL, file.UpstreamURL)
	if upstreamRaw == "" {
		return Config{}, errors.New("NEXI_UPSTREAM_URL is required")
	}

	upstream, err := url.Parse(upstreamRaw)
	if err != nil {
		return Config{}, fmt.Errorf("invalid NEXI_UPSTREAM_URL: %w", err)
	}
	if !upstream.IsAbs() {
		return Config{}, errors.New("NEXI_UPSTREAM_URL must be absolute (scheme://host)")
	}

	durations, err := file.durations()
	if err != nil {
		return Config{}, err
	}

	routes := DefaultRoutes()
	if len(file.Routes) > 0 {
		routes = file.Routes
	}
	if err := validateRoutes(routes); err != nil {
		return Config{}, err
	}

	requireAuth := true
	if file.RequireAuth != nil {
		requireAuth = *file.RequireAuth
	}

	cfg := Config{
		ListenAddr:              getString(envListenAddr, orString(file.ListenAddr, defaultListenAddr)),
		Upstream:                upstream,
		Routes:                  routes,
		GuidanceUpstreamPath:    getString(envGuidancePath, orString(file.GuidanceUpstreamPath, defaultGuidancePath)),
		RequestTimeout:          getDuration(envRequestTimeout, durations[envRequestTimeout]),
		UpstreamIdleTimeout:     getDuration(envUpstreamIdleTimeout, durations[envUpstreamIdleTimeout]),
		KeepAliveInterval:       getDuration(envKeepAliveInterval, durations[envKeepAliveInterval]),
		ChunkSize:               getInt(envChunkSize, orInt(file.ChunkSize, defaultChunkSize)),
		MaxBodyBytes:            int64(getInt(envMaxBodyBytes, int(orInt64(file.MaxBodyBytes, defaultMaxBodyBytes)))),
		RequireAuth:             getBool(envRequireAuth, requireAuth),
		InsecureSkipVerify:      getBool(envInsecureSkipVerify, file.InsecureSkipVerify),
		LogLevel:                strings.ToLower(getString(envLogLevel, orString(file.LogLevel, defaultLogLevel))),
		ServerReadTimeout:       getDuration(envServerReadTimeout, durations[envServerReadTimeout]),
		ServerWriteTimeout:      getDuration(envServerWriteTimeout, durations[envServerWriteTimeout]),
		ServerIdleTimeout:       getDuration(envServerIdleTimeout, durations[envServerIdleTimeout]),
		GracefulShutdownTimeout: getDuration(envGracefulShutdown, durations[envGracefulShutdown]),
	}

	if cfg.ChunkSize <= 0 {
		return Config{}, fmt.Errorf("NEXI_CHUNK_SIZE must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("NEXI_MAX_BODY_BYTES must be positive, got %d", cfg.MaxBodyBytes)
	}
	if !strings.HasPrefix(cfg.GuidanceUpstreamPath, "/") {
		return Config{}, fmt.Errorf("guidance upstream path %q must start with /", cfg.GuidanceUpstreamPath)
	}

	return cfg, nil
}

// durations resolves file-provided durations against the built-in defaults,
// keyed by the environment variable that can override each of them.
func (f fileConfig) durations() (map[string]time.Duration, error) {
	fields := []struct {
		env      string
		raw      string
		fallback time.Duration
	}{
		{envRequestTimeout, f.RequestTimeout, defaultRequestTimeout},
		{envUpstreamIdleTimeout, f.UpstreamIdleTimeout, defaultUpstreamIdle},
		{envKeepAliveInterval, f.KeepAliveInterval, 0},
		{envServerReadTimeout, f.ServerReadTimeout, defaultServerReadTimeout},
		{envServerWriteTimeout, f.ServerWriteTimeout, defaultServerWriteTimeout},
		{envServerIdleTimeout, f.ServerIdleTimeout, defaultServerIdleTimeout},
		{envGracefulShutdown, f.GracefulShutdown, defaultGracefulShutdown},
	}

	out := make(map[string]time.Duration, len(fields))
	for _, field := range fields {
		raw := strings.TrimSpace(field.raw)
		if raw == "" {
			out[field.env] = field.fallback
			continue
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q in config file: %w", raw, err)
		}
		out[field.env] = parsed
	}
	return out, nil
}

func validateRoutes(routes []Route) error {
	names := make(map[string]struct{}, len(routes))
	paths := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		if r.Name == "" {
			return errors.New("route name is required")
		}
		if _, dup := names[r.Name]; dup {
			return fmt.Errorf("duplicate route name %q", r.Name)
		}
		names[r.Name] = struct{}{}

		if !strings.HasPrefix(r.Path, "/") || !strings.HasPrefix(r.UpstreamPath, "/") {
			return fmt.Errorf("route %q: path and upstream_path must start with /", r.Name)
		}
		if _, dup := paths[r.Path]; dup {
			return fmt.Errorf("duplicate route path %q", r.Path)
		}
		paths[r.Path] = struct{}{}
	}
	return nil
}

func getString(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getInt(key string, fallback int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func orString(v, fallback string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func orInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func orInt64(v, fallback int64) int64 {
	if v != 0 {
		return v
	}
	return fallback
}
