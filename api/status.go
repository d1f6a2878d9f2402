// Package api exposes a node's thin status surface over HTTP: a liveness
// probe, a JSON snapshot of the consensus state, and Prometheus metrics.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/usernamenenad/benor-quic/impl/benor"
)

// Node is the read-only view the status surface needs from a consensus node.
type Node interface {
	Status() benor.Health
	Snapshot() benor.Snapshot
}

// StatusServer serves /health, /status and /metrics for one node.
type StatusServer struct {
	server *http.Server
}

// NewStatusServer creates a status server on the given address. A nil
// gatherer falls back to the default Prometheus registry.
func NewStatusServer(addr string, node Node, gatherer prometheus.Gatherer) *StatusServer {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.Handle("/health", healthHandler(node))
	mux.Handle("/status", statusHandler(node))
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &StatusServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start starts the status server (blocking).
func (s *StatusServer) Start() error {
	return s.server.ListenAndServe()
}

// StartAsync starts the status server in a goroutine.
func (s *StatusServer) StartAsync() {
	go func() {
		_ = s.server.ListenAndServe()
	}()
}

// Stop stops the status server.
func (s *StatusServer) Stop() error {
	return s.server.Close()
}

func healthHandler(node Node) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if node.Status() == benor.HealthFaulty {
			http.Error(w, "FAULTY", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func statusHandler(node Node) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(node.Snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
