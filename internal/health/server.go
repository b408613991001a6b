package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Checker holds the dependency probes reported by /healthz.
type Checker struct {
	DBPing     func(ctx context.Context) error
	DomainPing func(ctx context.Context) error
	Timeout    time.Duration
}

// Handler serves the health report. Any failing probe yields 503.
func Handler(checker Checker) http.Handler {
	timeout := checker.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		status := map[string]string{"status": "ok"}
		code := http.StatusOK

		probe := func(name string, ping func(context.Context) error) {
			if ping == nil {
				return
			}
			if err := ping(ctx); err != nil {
				status[name] = "fail"
				code = http.StatusServiceUnavailable
				return
			}
			status[name] = "ok"
		}
		probe("db", checker.DBPing)
		probe("domain", checker.DomainPing)
		if code != http.StatusOK {
			status["status"] = "fail"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}
