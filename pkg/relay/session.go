// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the lifecycle position of a relay session.
type State string

const (
	StateConnecting State = "connecting"
	StateStreaming  State = "streaming"
	StateClosed     State = "closed"
	StateAborted    State = "aborted"
	StateErrored    State = "errored"
)

var transitions = map[State][]State{
	StateConnecting: {StateStreaming, StateErrored},
	StateStreaming:  {StateClosed, StateAborted},
}

// Session associates one inbound request with its upstream request. It is
// owned by the handler invocation that created it.
type Session struct {
	ID      string
	Route   string
	Started time.Time

	mu        sync.Mutex
	state     State
	events    int
	malformed int

	logger zerolog.Logger
}

func newSession(id, route string, logger zerolog.Logger) *Session {
	return &Session{
		ID:      id,
		Route:   route,
		Started: time.Now(),
		state:   StateConnecting,
		logger:  logger.With().Str("session_id", id).Str("route", route).Logger(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events returns how many event lines were written downstream.
func (s *Session) Events() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// Malformed returns how many upstream lines were replaced by error events.
func (s *Session) Malformed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.malformed
}

func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, allowed := range transitions[s.state] {
		if allowed == to {
			s.logger.Debug().
				Str("from", string(s.state)).
				Str("to", string(to)).
				Msg("session state changed")
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("invalid session transition %s -> %s", s.state, to)
}

func (s *Session) recordEvent(malformed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events++
	if malformed {
		s.malformed++
	}
}
