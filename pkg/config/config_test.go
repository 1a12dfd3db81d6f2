// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadRequiresUpstream(t *testing.T) {
	t.Setenv(envUpstreamURL, "")
	t.Setenv(envConfigFile, "")

	_, err := Load("")
	require.ErrorContains(t, err, "NEXI_UPSTREAM_URL is required")
}

func TestLoadRejectsRelativeUpstream(t *testing.T) {
	t.Setenv(envUpstreamURL, "backend.local/api")

	_, err := Load("")
	require.ErrorContains(t, err, "must be absolute")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(envConfigFile, "")
	t.Setenv(envUpstreamURL, "http://backend.local:8000")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, defaultListenAddr, cfg.ListenAddr)
	require.Equal(t, "backend.local:8000", cfg.Upstream.Host)
	require.Equal(t, DefaultRoutes(), cfg.Routes)
	require.Equal(t, defaultGuidancePath, cfg.GuidanceUpstreamPath)
	require.Equal(t, defaultRequestTimeout, cfg.RequestTimeout)
	require.Equal(t, defaultUpstreamIdle, cfg.UpstreamIdleTimeout)
	require.Zero(t, cfg.KeepAliveInterval)
	require.Equal(t, defaultChunkSize, cfg.ChunkSize)
	require.EqualValues(t, defaultMaxBodyBytes, cfg.MaxBodyBytes)
	require.True(t, cfg.RequireAuth)
	require.False(t, cfg.InsecureSkipVerify)
	require.Equal(t, "info", cfg.LogLevel)
	require.Zero(t, cfg.ServerWriteTimeout)
	require.Equal(t, defaultGracefulShutdown, cfg.GracefulShutdownTimeout)
}

func TestLoadFileWithEnvOverrides(t *testing.T) {
	path := writeFile(t, `
upstream_url = "https://ai.example.com"
listen_addr = "0.0.0.0:9000"
upstream_idle_timeout = "45s"
keepalive_interval = "15s"
chunk_size = 512
require_auth = false
log_level = "debug"

[[routes]]
name = "chat"
path = "/api/chat"
upstream_path = "/v2/chat"
`)
	t.Setenv(envUpstreamURL, "")
	t.Setenv(envLogLevel, "WARN")
	t.Setenv(envChunkSize, "1024")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "ai.example.com", cfg.Upstream.Host)
	require.Equal(t, "0.0.0.0:9000", cfg.ListenAddr)
	require.Equal(t, 45*time.Second, cfg.UpstreamIdleTimeout)
	require.Equal(t, 15*time.Second, cfg.KeepAliveInterval)
	require.Equal(t, 1024, cfg.ChunkSize)
	require.False(t, cfg.RequireAuth)
	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, []Route{{Name: "chat", Path: "/api/chat", UpstreamPath: "/v2/chat"}}, cfg.Routes)
}

func TestLoadFileFromEnvPath(t *testing.T) {
	path := writeFile(t, `upstream_url = "http://backend:8000"`)
	t.Setenv(envUpstreamURL, "")
	t.Setenv(envConfigFile, path)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "backend:8000", cfg.Upstream.Host)
}

func TestLoadRejectsBadFileDuration(t *testing.T) {
	path := writeFile(t, `
upstream_url = "http://backend:8000"
request_timeout = "soon"
`)

	_, err := Load(path)
	require.ErrorContains(t, err, "invalid duration")
}

func TestLoadRejectsDuplicateRoutes(t *testing.T) {
	path := writeFile(t, `
upstream_url = "http://backend:8000"

[[routes]]
name = "chat"
path = "/api/chat"
upstream_path = "/chat"

[[routes]]
name = "chat"
path = "/api/other"
upstream_path = "/other"
`)

	_, err := Load(path)
	require.ErrorContains(t, err, "duplicate route name")
}

func TestLoadRejectsNonPositiveChunkSize(t *testing.T) {
	t.Setenv(envUpstreamURL, "http://backend:8000")
	t.Setenv(envChunkSize, "0")

	_, err := Load("")
	require.ErrorContains(t, err, "NEXI_CHUNK_SIZE must be positive")
}

func TestInvalidEnvValuesFallBack(t *testing.T) {
	t.Setenv(envUpstreamURL, "http://backend:8000")
	t.Setenv(envRequestTimeout, "not-a-duration")
	t.Setenv(envRequireAuth, "maybe")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, defaultRequestTimeout, cfg.RequestTimeout)
	require.True(t, cfg.RequireAuth)
}
