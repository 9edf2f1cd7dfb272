// Package server runs the optional metrics HTTP endpoint for long-lived
// commands. It is off by default; the CLI enables it when a metrics address
// is configured.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tsegert/convoy/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// Start launches the metrics server on addr and shuts it down gracefully
// when ctx is canceled. An empty addr starts nothing.
func Start(ctx context.Context, logger zerolog.Logger, addr string, collector *metrics.Metrics) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server shutdown failed")
		}
	}()
}
