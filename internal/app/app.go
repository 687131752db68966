// Package app wires all Trunkline subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithCacheClient,
// WithKnowledgeStore, etc.). When an option is not provided, New creates the
// real implementation from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trunkline-ai/trunkline/internal/agentconfig"
	"github.com/trunkline-ai/trunkline/internal/call"
	"github.com/trunkline-ai/trunkline/internal/config"
	"github.com/trunkline-ai/trunkline/internal/gateway"
	"github.com/trunkline-ai/trunkline/internal/health"
	"github.com/trunkline-ai/trunkline/internal/observe"
	"github.com/trunkline-ai/trunkline/internal/rag"
	"github.com/trunkline-ai/trunkline/internal/redact"
	"github.com/trunkline-ai/trunkline/internal/telemetry"
	"github.com/trunkline-ai/trunkline/internal/tools"
	"github.com/trunkline-ai/trunkline/pkg/knowledge"
	knowledgepg "github.com/trunkline-ai/trunkline/pkg/knowledge/postgres"
	"github.com/trunkline-ai/trunkline/pkg/provider/embeddings"
	"github.com/trunkline-ai/trunkline/pkg/provider/llm"
	"github.com/trunkline-ai/trunkline/pkg/provider/stt"
	"github.com/trunkline-ai/trunkline/pkg/provider/tts"
)

// bootPingTimeout bounds the Redis reachability check at startup.
const bootPingTimeout = 5 * time.Second

// Providers holds one interface value per pipeline stage. Populated by
// main.go via the config registry; the LLM slot may already be wrapped in a
// failover group.
type Providers struct {
	STT        stt.Provider
	LLM        llm.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider
}

// CacheClient is the slice of the Redis client the application shares across
// subsystems: the agent-config cache, the embedding cache, and the telemetry
// stream all ride the same connection pool. *redis.Client satisfies it.
type CacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetEx(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

var _ CacheClient = (*redis.Client)(nil)

// App owns all subsystem lifetimes and serves the telephony HTTP surface.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger

	// Subsystems — initialised in New, torn down in Shutdown.
	cache    CacheClient
	store    knowledge.Store
	registry *tools.Registry
	metrics  *observe.Metrics
	gateway  *gateway.Gateway
	httpSrv  *http.Server

	// pgStore is set only when New opened the PostgreSQL pool itself; it
	// feeds the readiness checker.
	pgStore *knowledgepg.Store

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCacheClient injects a cache client instead of dialling Redis.
func WithCacheClient(c CacheClient) Option {
	return func(a *App) { a.cache = c }
}

// WithKnowledgeStore injects a knowledge store instead of connecting to PostgreSQL.
func WithKnowledgeStore(s knowledge.Store) Option {
	return func(a *App) { a.store = s }
}

// WithToolRegistry injects a tool registry instead of building one from config.
func WithToolRegistry(r *tools.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics injects a metrics instance instead of using the global one.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: Redis connect + ping,
// knowledge store connect, tool registration (builtins + MCP), and gateway
// assembly. A Redis that cannot be reached at boot is a fatal error.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Cache (Redis) ─────────────────────────────────────────────────
	if err := a.initCache(ctx); err != nil {
		return nil, fmt.Errorf("app: init cache: %w", err)
	}

	// ── 2. Knowledge store (PostgreSQL + pgvector) ───────────────────────
	if err := a.initKnowledge(ctx); err != nil {
		return nil, fmt.Errorf("app: init knowledge: %w", err)
	}

	// ── 3. Tool registry (builtins + MCP servers) ────────────────────────
	if err := a.initTools(ctx); err != nil {
		return nil, fmt.Errorf("app: init tools: %w", err)
	}

	// ── 4. Gateway + HTTP server ─────────────────────────────────────────
	if err := a.initGateway(); err != nil {
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCache connects the shared Redis client and verifies reachability.
func (a *App) initCache(ctx context.Context) error {
	if a.cache == nil {
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Cache.Addr,
			Password: a.cfg.Cache.Password,
			DB:       a.cfg.Cache.DB,
		})
		a.cache = client
		a.closers = append(a.closers, client.Close)
	}

	pingCtx, cancel := context.WithTimeout(ctx, bootPingTimeout)
	defer cancel()
	if err := a.cache.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis %q unreachable: %w", a.cfg.Cache.Addr, err)
	}
	slog.Info("cache connected", "addr", a.cfg.Cache.Addr)
	return nil
}

// initKnowledge connects the pgvector store or uses an injected one.
func (a *App) initKnowledge(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	store, err := knowledgepg.NewStore(ctx, a.cfg.Knowledge.DSN, a.cfg.Knowledge.Table, a.cfg.Knowledge.Dimensions)
	if err != nil {
		return err
	}
	a.store = store
	a.pgStore = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("knowledge store connected",
		"table", a.cfg.Knowledge.Table, "dimensions", a.cfg.Knowledge.Dimensions)
	return nil
}

// initTools builds the tool registry and connects the configured MCP servers.
// An MCP server that fails to connect at boot is logged and skipped; the call
// path never depends on a remote tool server being up.
func (a *App) initTools(ctx context.Context) error {
	if a.registry == nil {
		a.registry = tools.NewRegistry(a.log, tools.WithObserver(a.metrics))
		a.closers = append(a.closers, a.registry.Close)
	}

	if err := tools.RegisterBuiltins(a.registry); err != nil {
		return fmt.Errorf("register builtin tools: %w", err)
	}

	for _, srv := range a.cfg.Tools.MCPServers {
		if err := a.registry.RegisterMCPServer(ctx, srv); err != nil {
			slog.Warn("skipping MCP server", "name", srv.Name, "error", err)
			continue
		}
		slog.Info("registered MCP server", "name", srv.Name)
	}
	return nil
}

// initGateway assembles the per-call factory and mounts the HTTP routes.
func (a *App) initGateway() error {
	resolver := agentconfig.NewResolver(
		a.cache, nil, a.cfg.Management.BaseURL, a.cfg.Management.InternalKey, a.log)
	retriever := rag.NewRetriever(
		a.cache, a.providers.Embeddings, a.store, a.log, rag.WithCacheObserver(a.metrics))
	emitter := telemetry.NewEmitter(a.cache, a.cfg.Telemetry.Stream, a.log)
	redactor := redact.New()

	newCall := func(t call.Transport) (gateway.Runner, error) {
		return call.New(call.Config{
			Transport: t,
			Resolver:  resolver,
			STT:       a.providers.STT,
			LLM:       a.providers.LLM,
			TTS:       a.providers.TTS,
			Tools:     a.registry,
			Telemetry: emitter,
			RAG:       retriever,
			Redactor:  redactor,
			Observer:  a.metrics,
			Log:       a.log,
		})
	}

	checkers := []health.Checker{health.Redis(a.cache)}
	if a.pgStore != nil {
		checkers = append(checkers, health.Postgres(a.pgStore.Pool()))
	}

	gw, err := gateway.New(gateway.Config{
		PublicHost: a.cfg.Server.PublicHost,
		NewCall:    newCall,
		Health:     health.New(checkers...),
		Metrics:    a.metrics,
		Log:        a.log,
	})
	if err != nil {
		return err
	}
	a.gateway = gw

	a.httpSrv = &http.Server{
		Addr:    net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.Port)),
		Handler: gw.Router(),
	}
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled, then shuts the server down
// gracefully within the configured timeout. In-flight calls get that window
// to finish their teardown before connections are cut.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", a.httpSrv.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.httpSrv.Serve(ln)
	}()

	slog.Info("app running", "addr", ln.Addr().String(), "public_host", a.cfg.Server.PublicHost)

	select {
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: http shutdown: %w", err)
	}
	return ctx.Err()
}

// Handler returns the mounted HTTP routes. Useful for serving the app from a
// test server without binding a real port.
func (a *App) Handler() http.Handler { return a.gateway.Router() }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
