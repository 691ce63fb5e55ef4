package api

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lucid-vigil/praetor/pkg/metrics"
	"github.com/lucid-vigil/praetor/pkg/perf"
)

// Server exposes the agent's health, metrics and pipeline statistics over
// HTTP.
type Server struct {
	optimizer *perf.Optimizer
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewServer creates the HTTP surface over the running pipeline.
func NewServer(optimizer *perf.Optimizer, m *metrics.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		optimizer: optimizer,
		metrics:   m,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Handler builds the route mux: /healthz, /metrics (Prometheus exposition)
// and /stats (pipeline statistics as JSON).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthzHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/stats", s.statsHandler)
	return mux
}

// Start runs the server in a goroutine. It serves until the process exits.
func (s *Server) Start(port string) {
	s.logger.Info().Msgf("API server starting on :%s", port)
	go func() {
		if err := http.ListenAndServe(":"+port, s.Handler()); err != nil {
			s.logger.Fatal().Err(err).Msg("API server failed")
		}
	}()
}

func (s *Server) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) statsHandler(w http.ResponseWriter, _ *http.Request) {
	stats := map[string]interface{}{
		"cache": s.optimizer.CacheStats(),
	}
	if rateStats, ok := s.optimizer.RateStats(); ok {
		stats["rate_limiter"] = rateStats
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to encode stats response")
	}
}
