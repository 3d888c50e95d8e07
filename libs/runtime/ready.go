package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// ReadyCheck is a named dependency check for /readyz.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

type readyReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewBaseMuxWithReady serves /healthz unconditionally and /readyz by running every check
// concurrently under a shared deadline. Any failing check makes /readyz answer 503.
func NewBaseMuxWithReady(checks ...ReadyCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		results := make([]error, len(checks))
		var g errgroup.Group
		for i, check := range checks {
			if check.Check == nil {
				continue
			}
			g.Go(func() error {
				results[i] = check.Check(ctx)
				return nil
			})
		}
		_ = g.Wait()

		report := readyReport{Status: "ok", Checks: map[string]string{}}
		code := http.StatusOK
		for i, check := range checks {
			name := check.Name
			if name == "" {
				name = "dependency"
			}
			if results[i] != nil {
				report.Checks[name] = results[i].Error()
				report.Status = "unavailable"
				code = http.StatusServiceUnavailable
				continue
			}
			report.Checks[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(report)
	})
	return mux
}
