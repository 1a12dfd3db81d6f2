// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package server assembles the relay routes, the guidance endpoint and the
// health probe into a single http.Handler.
package server

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wevo7526/nexi-relay/pkg/config"
	"github.com/wevo7526/nexi-relay/pkg/guidance"
	"github.com/wevo7526/nexi-relay/pkg/relay"
)

// GuidancePath is the inbound path of the wealth-profile guidance endpoint.
const GuidancePath = "/api/wealth-profile/guidance"

// HealthPath answers liveness probes.
const HealthPath = "/healthz"

// Server routes inbound requests to relay sessions.
type Server struct {
	mux    *http.ServeMux
	logger zerolog.Logger
}

// New registers every configured route on rl plus the guidance endpoint.
func New(cfg config.Config, rl *relay.Relay) (*Server, error) {
	s := &Server{
		mux:    http.NewServeMux(),
		logger: log.With().Str("component", "server").Logger(),
	}

	seen := map[string]string{GuidancePath: "guidance", HealthPath: "health"}
	for _, route := range cfg.Routes {
		if owner, dup := seen[route.Path]; dup {
			return nil, fmt.Errorf("route %q conflicts with %s on %s", route.Name, owner, route.Path)
		}
		seen[route.Path] = route.Name

		s.mux.Handle("POST "+route.Path, rl.Handler(route, nil))
		s.logger.Debug().
			Str("route", route.Name).
			Str("path", route.Path).
			Str("upstream_path", route.UpstreamPath).
			Msg("relay route registered")
	}

	guidanceRoute := config.Route{Name: "guidance", Path: GuidancePath, UpstreamPath: cfg.GuidanceUpstreamPath}
	s.mux.Handle("POST "+GuidancePath, rl.Handler(guidanceRoute, guidance.BuildBody))
	s.mux.HandleFunc("GET "+HealthPath, s.handleHealth)

	return s, nil
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	relay.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
