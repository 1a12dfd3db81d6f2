// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wevo7526/nexi-relay/pkg/auth"
	"github.com/wevo7526/nexi-relay/pkg/backend"
	"github.com/wevo7526/nexi-relay/pkg/config"
)

const (
	msgInternal        = "Internal server error"
	msgUnauthorized    = "Unauthorized"
	msgInvalidBody     = "Invalid request body"
	msgBodyTooLarge    = "Request body too large"
	msgUpstreamDefault = "Failed to process request"

	// maxErrorBody limits how much of an upstream error body is read.
	maxErrorBody = 64 * 1024
)

// ErrNoUpstreamBody is returned when a successful upstream response carries
// nothing to stream.
var ErrNoUpstreamBody = errors.New("upstream response has no body")

// BuildFunc turns a validated inbound JSON body into the upstream payload.
// Its error message is returned to the caller with status 400.
type BuildFunc func(body []byte) ([]byte, error)

// Relay serves relay routes against a single backend.
type Relay struct {
	// backend opens one upstream stream per inbound request.
	backend backend.Backend
	// chunkSize is the fixed read size on the upstream body.
	chunkSize int
	// idleTimeout aborts a quiet upstream; zero disables it.
	idleTimeout time.Duration
	// keepAlive enables downstream comment heartbeats when > 0.
	keepAlive   time.Duration
	maxBody     int64
	requireAuth bool
	logger      zerolog.Logger

	newID func() string
	// abort tears down the downstream connection mid-stream.
	abort func()
	// finished, when set, observes every session after it settles, including
	// aborted ones.
	finished func(*Session)
}

// New constructs a Relay from runtime configuration.
func New(b backend.Backend, cfg config.Config) *Relay {
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	return &Relay{
		backend:     b,
		chunkSize:   chunkSize,
		idleTimeout: cfg.UpstreamIdleTimeout,
		keepAlive:   cfg.KeepAliveInterval,
		maxBody:     maxBody,
		requireAuth: cfg.RequireAuth,
		logger:      log.With().Str("component", "relay").Logger(),
		newID:       uuid.NewString,
		abort:       func() { panic(http.ErrAbortHandler) },
	}
}

// Handler returns the endpoint for route. A nil build forwards the inbound
// body verbatim.
func (rl *Relay) Handler(route config.Route, build BuildFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rl.serve(w, r, route, build)
	})
}

func (rl *Relay) serve(w http.ResponseWriter, r *http.Request, route config.Route, build BuildFunc) {
	start := time.Now()
	session := newSession(rl.newID(), route.Name, rl.logger.With().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("remote_addr", r.RemoteAddr).
		Logger())
	logger := session.logger

	defer func() {
		if rl.finished != nil {
			rl.finished(session)
		}
	}()

	query, err := rl.prepare(w, r, route, build, session.ID)
	if err != nil {
		rl.settle(session, StateErrored)
		rl.fail(w, err, logger, start)
		return
	}

	ctx, cancel := context.WithCancelCause(r.Context())
	defer cancel(nil)

	resp, err := rl.backend.StreamAnswer(ctx, query)
	if err != nil {
		rl.settle(session, StateErrored)
		rl.fail(w, err, logger, start)
		return
	}
	if resp.Body != nil {
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				logger.Debug().Err(closeErr).Msg("close upstream response body failed")
			}
		}()
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg := upstreamErrorMessage(resp.Body)
		rl.settle(session, StateErrored)
		rl.fail(w, &httpError{Status: resp.StatusCode, Message: msg, Err: fmt.Errorf("upstream rejected request: %s", msg)}, logger, start)
		return
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		rl.settle(session, StateErrored)
		rl.fail(w, ErrNoUpstreamBody, logger, start)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		rl.settle(session, StateErrored)
		rl.fail(w, errors.New("response writer does not support flushing"), logger, start)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	rl.settle(session, StateStreaming)
	logger.Info().Msg("stream opened")

	if err := rl.pump(ctx, cancel, resp.Body, w, flusher, session); err != nil {
		rl.settle(session, StateAborted)
		entry := logger.Error()
		if r.Context().Err() != nil {
			entry = logger.Info()
			err = fmt.Errorf("client disconnected: %w", err)
		}
		entry.
			Err(err).
			Int("events", session.Events()).
			Int("malformed", session.Malformed()).
			Dur("duration", time.Since(start)).
			Msg("stream aborted")
		rl.abort()
		return
	}

	rl.settle(session, StateClosed)
	logger.Info().
		Int("events", session.Events()).
		Int("malformed", session.Malformed()).
		Dur("duration", time.Since(start)).
		Msg("stream closed")
}

// prepare validates the inbound request and assembles the upstream query.
func (rl *Relay) prepare(w http.ResponseWriter, r *http.Request, route config.Route, build BuildFunc, requestID string) (backend.Query, error) {
	cred, err := auth.FromRequest(r)
	if err != nil && rl.requireAuth {
		return backend.Query{}, &httpError{Status: http.StatusUnauthorized, Message: msgUnauthorized, Err: err}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, rl.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return backend.Query{}, &httpError{Status: http.StatusRequestEntityTooLarge, Message: msgBodyTooLarge, Err: err}
		}
		return backend.Query{}, &httpError{Status: http.StatusBadRequest, Message: msgInvalidBody, Err: fmt.Errorf("read request body: %w", err)}
	}
	if !json.Valid(body) {
		return backend.Query{}, &httpError{Status: http.StatusBadRequest, Message: msgInvalidBody, Err: errors.New("request body is not valid JSON")}
	}

	if build != nil {
		body, err = build(body)
		if err != nil {
			return backend.Query{}, &httpError{Status: http.StatusBadRequest, Message: err.Error(), Err: err}
		}
	}

	return backend.Query{
		UpstreamPath: route.UpstreamPath,
		Body:         body,
		Credential:   cred,
		RequestID:    requestID,
		Origin:       r,
	}, nil
}

func (rl *Relay) settle(s *Session, to State) {
	if err := s.transition(to); err != nil {
		s.logger.Error().Err(err).Msg("unexpected session transition")
	}
}

// fail answers with a single JSON error. httpError carries its own status and
// message; anything else is an internal error.
func (rl *Relay) fail(w http.ResponseWriter, err error, logger zerolog.Logger, start time.Time) {
	status := http.StatusInternalServerError
	msg := msgInternal
	var httpErr *httpError
	if errors.As(err, &httpErr) {
		status = httpErr.Status
		msg = httpErr.Message
	}

	entry := logger.Warn()
	if status >= http.StatusInternalServerError {
		entry = logger.Error()
	}
	entry.
		Err(err).
		Int("status", status).
		Dur("duration", time.Since(start)).
		Msg("request failed")

	WriteError(w, status, msg)
}

// upstreamErrorMessage extracts a message from an upstream error body,
// tolerating a missing or unparseable body.
func upstreamErrorMessage(body io.Reader) string {
	if body == nil {
		return msgUpstreamDefault
	}
	payload, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(payload) == 0 {
		return msgUpstreamDefault
	}

	var parsed struct {
		Message json.RawMessage `json:"message"`
		Error   json.RawMessage `json:"error"`
		Detail  json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return msgUpstreamDefault
	}
	for _, raw := range []json.RawMessage{parsed.Message, parsed.Error, parsed.Detail} {
		var s string
		if len(raw) > 0 && json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
	}
	return msgUpstreamDefault
}

// ErrorResponse is the JSON body of every non-streamed failure.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// WriteError writes {"success":false,"error":msg} with the given status.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Success: false, Error: msg})
}

// WriteJSON encodes v as the response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode JSON response failed")
	}
}

// httpError wraps a status code and client-facing message with the
// underlying cause.
type httpError struct {
	Status  int    // Status preserves the HTTP status to emit downstream.
	Message string // Message is safe to show the caller.
	Err     error  // Err retains the original cause for logging.
}

// Error implements the error interface for httpError.
func (e *httpError) Error() string {
	return fmt.Sprintf("status %d: %v", e.Status, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As checks.
func (e *httpError) Unwrap() error {
	return e.Err
}
