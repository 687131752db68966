// Package gateway is the HTTP surface of the platform: the telephony webhook
// that answers with TwiML, the media-stream WebSocket endpoint that hands an
// accepted socket to a per-call orchestrator, and the health/metrics routes.
package gateway

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trunkline-ai/trunkline/internal/agentconfig"
	"github.com/trunkline-ai/trunkline/internal/call"
	"github.com/trunkline-ai/trunkline/internal/health"
	"github.com/trunkline-ai/trunkline/internal/observe"
	"github.com/trunkline-ai/trunkline/pkg/telephony"
)

// Runner runs one call on an accepted transport. *call.Orchestrator
// satisfies it.
type Runner interface {
	Run(ctx context.Context, p call.Params) error
}

// RunnerFactory builds the per-call Runner around an accepted media-stream
// transport.
type RunnerFactory func(t call.Transport) (Runner, error)

// Config assembles the gateway's dependencies.
type Config struct {
	// PublicHost is the externally reachable host (and optional port) the
	// telephony provider connects back to for the media stream.
	PublicHost string

	// NewCall builds a Runner for each accepted media-stream socket.
	NewCall RunnerFactory

	// Health serves /healthz and /readyz. Optional; nil mounts a handler
	// with no readiness checks.
	Health *health.Handler

	// Metrics feeds the HTTP middleware. Optional; nil uses
	// observe.DefaultMetrics.
	Metrics *observe.Metrics

	// Log is optional; nil uses slog.Default.
	Log *slog.Logger
}

// Gateway mounts all HTTP routes onto a chi router.
type Gateway struct {
	publicHost string
	newCall    RunnerFactory
	log        *slog.Logger
	router     *chi.Mux
}

// New validates cfg and builds the routed Gateway.
func New(cfg Config) (*Gateway, error) {
	var errs []error
	if cfg.PublicHost == "" {
		errs = append(errs, errors.New("gateway: missing public host"))
	}
	if cfg.NewCall == nil {
		errs = append(errs, errors.New("gateway: missing call factory"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	healthH := cfg.Health
	if healthH == nil {
		healthH = health.New()
	}

	g := &Gateway{
		publicHost: cfg.PublicHost,
		newCall:    cfg.NewCall,
		log:        log.With("component", "gateway"),
	}

	r := chi.NewRouter()

	// The stream route is mounted outside the middleware group: the
	// observability wrapper hides http.Hijacker from the WebSocket
	// handshake.
	r.Get("/api/v1/voice/stream", g.handleStream)

	r.Group(func(r chi.Router) {
		r.Use(observe.Middleware(metrics))
		r.Post("/api/v1/voice/incoming", g.handleIncoming)
		healthH.Register(r)
		r.Handle("/metrics", promhttp.Handler())
	})

	g.router = r
	return g, nil
}

// Router returns the mounted handler for the HTTP server.
func (g *Gateway) Router() http.Handler { return g.router }

// twimlResponse is the instruction document returned to the telephony
// provider: connect the call's audio to our media-stream endpoint.
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Connect struct {
		Stream struct {
			URL string `xml:"url,attr"`
		} `xml:"Stream"`
	} `xml:"Connect"`
}

// handleIncoming is the voice webhook. It picks the agent's number from the
// call leg (To for inbound, From for outbound) and answers with TwiML
// pointing the provider at the media-stream endpoint, carrying the call
// context in the stream URL query.
func (g *Gateway) handleIncoming(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}

	direction := r.URL.Query().Get("direction")
	if direction == "" {
		direction = agentconfig.DirectionInbound
	}
	phone := r.PostFormValue("To")
	if direction == agentconfig.DirectionOutbound {
		phone = r.PostFormValue("From")
	}
	if phone == "" {
		http.Error(w, "missing phone number", http.StatusBadRequest)
		return
	}

	q := url.Values{}
	q.Set("direction", direction)
	q.Set("answered_by", r.PostFormValue("AnsweredBy"))
	q.Set("customer_name", r.URL.Query().Get("customer_name"))
	q.Set("phone_number", phone)

	var doc twimlResponse
	doc.Connect.Stream.URL = fmt.Sprintf("wss://%s/api/v1/voice/stream?%s", g.publicHost, q.Encode())

	body, err := xml.Marshal(doc)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}

	g.log.Info("webhook accepted call",
		"direction", direction, "phone_number", phone)

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}

// handleStream upgrades the media-stream connection and runs the call to
// completion. The orchestrator owns all failure handling past this point.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	callCtx, err := agentconfig.NewCallContext(
		query.Get("direction"),
		query.Get("answered_by"),
		query.Get("customer_name"),
	)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	phone := query.Get("phone_number")
	if phone == "" {
		http.Error(w, "missing phone_number", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.log.Warn("media-stream handshake failed", "error", err)
		return
	}

	transport := telephony.NewTransport(conn, g.log)
	runner, err := g.newCall(transport)
	if err != nil {
		g.log.Error("failed to assemble call", "error", err)
		_ = transport.Close(websocket.StatusInternalError, "call setup failed")
		return
	}

	if err := runner.Run(r.Context(), call.Params{PhoneNumber: phone, Call: callCtx}); err != nil {
		g.log.Error("call runner returned error", "error", err)
	}
	_ = transport.Close(websocket.StatusNormalClosure, "")
}
