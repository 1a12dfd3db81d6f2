// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package backend is the capability interface to the separate AI backend
// that produces streamed answers. Only the HTTP transport lives here; the
// backend's own behaviour is opaque to the relay.
package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wevo7526/nexi-relay/pkg/auth"
	"github.com/wevo7526/nexi-relay/pkg/config"
)

// HeaderRequestID correlates a relay session with the backend's logs.
const HeaderRequestID = "X-Request-ID"

// Query is one streamed question for the backend.
type Query struct {
	// UpstreamPath is joined onto the configured backend base URL.
	UpstreamPath string
	// Body is the JSON payload, sent verbatim.
	Body       []byte
	Credential auth.Credential
	RequestID  string
	// Origin, when set, is the inbound request whose client metadata is
	// reported through X-Forwarded-* headers.
	Origin *http.Request
}

// Backend opens a streamed answer. The caller owns the returned body and must
// close it; a non-2xx status is returned as a response, not an error.
type Backend interface {
	StreamAnswer(ctx context.Context, q Query) (*http.Response, error)
}

// HTTP talks to the backend over HTTP.
type HTTP struct {
	client  *http.Client
	baseURL *url.URL
	logger  zerolog.Logger
}

// New constructs an HTTP backend with connection pooling tuned for long-lived
// streams. Only the wait for response headers is bounded; body idleness is
// handled by the relay.
func New(cfg config.Config) *HTTP {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify, // nolint:gosec -- opt-in for development scenarios
		},
	}

	return &HTTP{
		client:  &http.Client{Transport: transport},
		baseURL: cloneURL(cfg.Upstream),
		logger:  log.With().Str("component", "backend").Logger(),
	}
}

// StreamAnswer posts the query and returns as soon as response headers arrive.
func (b *HTTP) StreamAnswer(ctx context.Context, q Query) (*http.Response, error) {
	target := b.resolve(q.UpstreamPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(q.Body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if q.RequestID != "" {
		req.Header.Set(HeaderRequestID, q.RequestID)
	}
	if q.Origin != nil {
		augmentForwardHeaders(req.Header, q.Origin)
	}
	q.Credential.Apply(req)

	b.logger.Debug().
		Str("target", target.String()).
		Str("request_id", q.RequestID).
		Str("auth_scheme", q.Credential.Scheme()).
		Int("body_bytes", len(q.Body)).
		Msg("opening upstream stream")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform upstream request: %w", err)
	}
	return resp, nil
}

// resolve appends path to the base URL, keeping any base path prefix.
func (b *HTTP) resolve(path string) *url.URL {
	target := cloneURL(b.baseURL)
	target.Path = strings.TrimSuffix(target.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	target.RawPath = ""
	return target
}

// cloneURL makes a shallow copy of the provided URL pointer.
func cloneURL(u *url.URL) *url.URL {
	if u == nil {
		return &url.URL{}
	}
	clone := *u
	return &clone
}

// augmentForwardHeaders ensures X-Forwarded-* headers capture client metadata.
func augmentForwardHeaders(h http.Header, r *http.Request) {
	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		prior := r.Header.Get("X-Forwarded-For")
		if prior != "" {
			clientIP = prior + ", " + clientIP
		}
		h.Set("X-Forwarded-For", clientIP)
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		h.Set("X-Forwarded-Proto", scheme)
	} else {
		h.Set("X-Forwarded-Proto", "http")
	}
	h.Set("X-Forwarded-Host", r.Host)
}
