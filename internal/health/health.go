// Package health serves the gateway's liveness and readiness endpoints.
//
// /healthz answers 200 whenever the process serves HTTP at all. /readyz
// answers 200 only while every registered dependency check passes, so the
// load balancer stops routing new calls to an instance whose cache or
// knowledge store is down without tearing down the calls already in flight.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// checkTimeout bounds each readiness check. A hung dependency must not hold
// the /readyz response past the load balancer's own request timeout.
const checkTimeout = 5 * time.Second

// Checker is a named dependency check. Check returns nil while the
// dependency can serve calls and an error describing the failure otherwise.
type Checker struct {
	// Name keys the check's entry in the JSON response ("cache",
	// "knowledge").
	Name string

	// Check pings the dependency. It must respect ctx cancellation.
	Check func(ctx context.Context) error
}

// checkResult is one dependency's entry in the readiness response.
type checkResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// response is the JSON body for both endpoints.
type response struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Handler serves the health endpoints. The checker list is fixed at
// construction; Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New builds a [Handler] that evaluates the given checkers on each /readyz
// request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always answers 200. A process that can serve the request is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// Readyz runs every checker concurrently, each under its own
// [checkTimeout], and answers 503 when any of them fails. The checks ping
// independent backends, so the slowest one bounds the response rather than
// the sum.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := make([]checkResult, len(h.checkers))

	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()

			start := time.Now()
			err := c.Check(ctx)
			res := checkResult{Status: "ok", Latency: time.Since(start).Round(time.Millisecond).String()}
			if err != nil {
				res.Status = "fail"
				res.Error = err.Error()
			}
			results[i] = res
		}()
	}
	wg.Wait()

	resp := response{Status: "ok", Checks: make(map[string]checkResult, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		resp.Checks[c.Name] = results[i]
		if results[i].Status != "ok" {
			resp.Status = "fail"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, resp)
}

// Register mounts both endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
}

// writeJSON encodes v with the given status code, degrading to a plain 500
// if encoding itself fails.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
