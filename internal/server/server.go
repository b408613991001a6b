package server

import (
	"log/slog"
	"net/http"
	"time"
)

// Routes mounts the webhook and health handlers behind request logging.
func Routes(webhookPath string, webhook, health http.Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(webhookPath, webhook)
	if health != nil {
		mux.Handle("/healthz", health)
	}
	return WithRequestLogging(mux, logger)
}

// New returns an http.Server with bounded header and body read times.
func New(addr string, handler http.Handler, readTimeout time.Duration) *http.Server {
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 3 * time.Second,
		ReadTimeout:       readTimeout,
		IdleTimeout:       60 * time.Second,
	}
}
