// Package health serves the /health endpoint every opmas binary exposes for
// container orchestration.
package health

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Response is the /health payload.
type Response struct {
	Status        string `json:"status"`
	Service       string `json:"service"`
	Degraded      bool   `json:"degraded,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Timestamp     int64  `json:"timestamp"`
}

// Checker reports whether the service is in a degraded state, typically the
// bus connection.
type Checker func() bool

// Serve starts the health server in a background goroutine. degraded may be
// nil.
func Serve(port, service string, degraded Checker, logger *zap.Logger) {
	start := time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		resp := Response{
			Status:        "healthy",
			Service:       service,
			UptimeSeconds: int64(time.Since(start).Seconds()),
			Timestamp:     time.Now().Unix(),
		}
		if degraded != nil && degraded() {
			resp.Status = "degraded"
			resp.Degraded = true
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	})

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info("health server listening", zap.String("port", port))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", zap.Error(err))
		}
	}()
}
