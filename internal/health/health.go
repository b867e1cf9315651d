// Package health serves the liveness and readiness endpoints.
//
// Liveness (/healthz) reports 200 whenever the process can serve HTTP.
// Readiness (/readyz) runs every registered check and reports 503 with a
// per-check breakdown when one fails. Bodies are JSON: a top-level "status"
// of "ok" or "fail" plus a "checks" map naming each result.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when the dependency can
// serve traffic and must respect context cancellation.
type Checker struct {
	// Name is a short label for this check (e.g. "bus"). It appears as a
	// key in the JSON response.
	Name string

	Check func(ctx context.Context) error
}

// BoolChecker adapts a component exposing a Healthy() bool, like the bus
// client, into a [Checker].
func BoolChecker(name string, healthy func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if !healthy() {
				return errors.New("not healthy")
			}
			return nil
		},
	}
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction; the handler itself is stateless and safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New returns a [Handler] evaluating the given checkers, in order, on each
// readiness request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register mounts the probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz reports liveness. A process that reaches this handler is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// Readyz reports readiness: 200 when every check passes, 503 otherwise.
// Each check runs with its own [checkTimeout] deadline under the request
// context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	resp := response{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK

	for _, c := range h.checkers {
		if err := runCheck(r.Context(), c); err != nil {
			resp.Checks[c.Name] = "fail: " + err.Error()
			resp.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			resp.Checks[c.Name] = "ok"
		}
	}

	writeJSON(w, status, resp)
}

// runCheck applies the per-check deadline.
func runCheck(ctx context.Context, c Checker) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return c.Check(ctx)
}

// response is the JSON body for both probes.
type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// writeJSON writes v with the given status. The status line is already out
// when encoding fails, so the error is not recoverable here.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
