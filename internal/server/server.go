// Package server exposes registry, relay and user nodes over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/op/go-logging.v1"

	"github.com/zeropr/onion/internal/metrics"
)

const (
	statusLive     = "live"
	replySuccess   = "success"
	maxRequestBody = 1 << 20

	readHeaderTimeout = 10 * time.Second
)

var errServerRunning = errors.New("server: already listening")

// Server is the HTTP surface shared by every node kind.
type Server struct {
	router *mux.Router
	log    *logging.Logger

	mu         sync.Mutex
	httpServer *http.Server
}

func newServer(log *logging.Logger, withMetrics bool) *Server {
	s := &Server{
		router: mux.NewRouter(),
		log:    log,
	}

	s.router.HandleFunc("/status", s.handleGetStatus).Methods("GET")
	if withMetrics {
		metrics.Register()
		s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}
	// Middleware only runs on matched routes, so preflights need one.
	s.router.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	s.router.Use(corsMiddleware)
	return s
}

// Handler returns the node's routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves the node on addr until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return errServerRunning
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.log.Noticef("Listening on %s", addr)
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, statusLive)
}

// resultResponse is the body of every getLast* route.
type resultResponse struct {
	Result any `json:"result"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeResult(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, resultResponse{Result: v})
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, msg)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	return json.NewDecoder(r.Body).Decode(v)
}

// Middleware

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
