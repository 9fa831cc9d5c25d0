package gateway

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/tlsgate/internal/config"
	tlsserver "github.com/vyrodovalexey/tlsgate/internal/gateway/server/tls"
	"github.com/vyrodovalexey/tlsgate/internal/observability"
	"github.com/vyrodovalexey/tlsgate/internal/resolver"
	tlspkg "github.com/vyrodovalexey/tlsgate/internal/tls"
)

// State represents the gateway state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is running.
	StateRunning
	// StateStopping indicates the gateway is stopping.
	StateStopping
	// StateDegraded indicates a reload failed and the previous listeners
	// could not be restored. Reload or Stop leave it.
	StateDegraded
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Gateway runs one TLS server per configured listener.
type Gateway struct {
	config    *config.GatewayConfig
	logger    observability.Logger
	registry  *tlspkg.Registry
	recorder  tlsserver.Recorder
	tracer    trace.Tracer
	servers   []*tlsserver.Server
	contexts  []*tlspkg.Context
	state     atomic.Int32
	startTime time.Time
	mu        sync.RWMutex

	shutdownTimeout time.Duration
	idleTimeout     time.Duration
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithShutdownTimeout sets how long stopping servers wait for open
// connections.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		g.shutdownTimeout = timeout
	}
}

// WithIdleTimeout sets the forwarding idle timeout. Zero disables it.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		g.idleTimeout = timeout
	}
}

// WithRegistry sets the context registry. The default registry resolves
// file locations only.
func WithRegistry(registry *tlspkg.Registry) Option {
	return func(g *Gateway) {
		g.registry = registry
	}
}

// WithMetrics sets the connection metrics recorder.
func WithMetrics(recorder tlsserver.Recorder) Option {
	return func(g *Gateway) {
		g.recorder = recorder
	}
}

// WithTracer sets the tracer for connection and upstream spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(g *Gateway) {
		g.tracer = tracer
	}
}

// New creates a new Gateway instance. The configuration is validated but
// no context is built until Start.
func New(cfg *config.GatewayConfig, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	g := &Gateway{
		config:          cfg,
		logger:          observability.NopLogger(),
		shutdownTimeout: tlsserver.DefaultShutdownTimeout,
		idleTimeout:     tlsserver.DefaultIdleTimeout,
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.registry == nil {
		g.registry = tlspkg.NewRegistry(resolver.NewMap(), tlspkg.WithLogger(g.logger))
	}

	g.state.Store(int32(StateStopped))

	return g, nil
}

// Start builds every context and starts the listeners. ctx bounds the
// lifetime of the listeners.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrGatewayNotStopped
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("starting gateway",
		observability.String("name", g.config.Metadata.Name),
	)

	servers, contexts, err := g.build(g.config)
	if err != nil {
		g.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to build listeners: %w", err)
	}

	if err := g.startServers(ctx, servers); err != nil {
		g.state.Store(int32(StateStopped))
		return err
	}

	g.servers = servers
	g.contexts = contexts
	g.registry.Retain(contexts)
	g.startTime = time.Now()
	g.state.Store(int32(StateRunning))

	g.logger.Info("gateway started",
		observability.String("name", g.config.Metadata.Name),
		observability.Int("listeners", len(servers)),
		observability.Int("contexts", g.registry.Len()),
	)

	return nil
}

// Stop stops the gateway gracefully. A degraded gateway can be stopped too.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) &&
		!g.state.CompareAndSwap(int32(StateDegraded), int32(StateStopping)) {
		return ErrGatewayNotRunning
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("stopping gateway",
		observability.String("name", g.config.Metadata.Name),
	)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.shutdownTimeout)
		defer cancel()
	}

	g.stopServers(ctx, g.servers)
	g.servers = nil
	g.contexts = nil

	g.state.Store(int32(StateStopped))

	g.logger.Info("gateway stopped",
		observability.String("name", g.config.Metadata.Name),
	)

	return nil
}

// Reload replaces the running listeners with those of cfg. Every context is
// rebuilt from its resources, so rotated key material at unchanged locations
// takes effect; listeners and targets with equal descriptors still share one
// context. Contexts of the previous configuration are released from the
// registry. ctx bounds the lifetime of the new listeners.
//
// When cfg cannot be built the running listeners are left untouched. When
// the new listeners cannot be started the previous ones are restarted; if
// that fails too the gateway is left degraded with no listeners.
func (g *Gateway) Reload(ctx context.Context, cfg *config.GatewayConfig) error {
	if cfg == nil {
		return ErrNilConfig
	}
	if state := g.State(); state != StateRunning && state != StateDegraded {
		return ErrGatewayNotRunning
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("reloading gateway configuration",
		observability.String("name", cfg.Metadata.Name),
	)

	g.registry.Renew()
	servers, contexts, err := g.build(cfg)
	if err != nil {
		g.registry.Retain(g.contexts)
		return fmt.Errorf("failed to build listeners: %w", err)
	}

	g.stopServers(ctx, g.servers)

	if err := g.startServers(ctx, servers); err != nil {
		g.servers, g.contexts = g.restore(ctx)
		g.registry.Retain(g.contexts)
		if g.servers == nil {
			g.state.CompareAndSwap(int32(StateRunning), int32(StateDegraded))
		}
		return err
	}

	g.servers = servers
	g.contexts = contexts
	g.config = cfg
	dropped := g.registry.Retain(contexts)
	g.state.CompareAndSwap(int32(StateDegraded), int32(StateRunning))

	g.logger.Info("gateway configuration reloaded",
		observability.String("name", cfg.Metadata.Name),
		observability.Int("listeners", len(servers)),
		observability.Int("contexts_released", dropped),
	)

	return nil
}

// restore restarts the listeners of the current configuration after a
// failed reload. It returns nil servers when that fails as well.
func (g *Gateway) restore(ctx context.Context) ([]*tlsserver.Server, []*tlspkg.Context) {
	servers, contexts, err := g.build(g.config)
	if err == nil {
		err = g.startServers(ctx, servers)
	}
	if err != nil {
		g.logger.Error("failed to restore previous listeners, gateway degraded", observability.Error(err))
		return nil, nil
	}
	return servers, contexts
}

// State returns the current gateway state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// IsRunning returns true if the gateway is running.
func (g *Gateway) IsRunning() bool {
	return g.State() == StateRunning
}

// Uptime returns the gateway uptime.
func (g *Gateway) Uptime() time.Duration {
	if g.startTime.IsZero() {
		return 0
	}
	return time.Since(g.startTime)
}

// Config returns the current configuration.
func (g *Gateway) Config() *config.GatewayConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.config
}

// Servers returns the running servers in listener order.
func (g *Gateway) Servers() []*tlsserver.Server {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*tlsserver.Server, len(g.servers))
	copy(out, g.servers)
	return out
}

// Server returns the running server for the named listener.
func (g *Gateway) Server(name string) (*tlsserver.Server, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, s := range g.servers {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// build creates the servers for cfg without starting them. It returns every
// context the servers and their targets use.
func (g *Gateway) build(cfg *config.GatewayConfig) ([]*tlsserver.Server, []*tlspkg.Context, error) {
	base := cfg.Location
	var contexts []*tlspkg.Context

	targets := make(map[string]tlsserver.Target, len(cfg.Spec.Targets))
	targetOpts := make(map[string][]tlsserver.ForwarderOption, len(cfg.Spec.Targets))
	for i := range cfg.Spec.Targets {
		t := &cfg.Spec.Targets[i]
		target := tlsserver.Target{
			Name:           t.Name,
			Host:           t.Host,
			Port:           t.Port,
			LocalAddress:   net.ParseIP(t.LocalAddress),
			LocalPort:      t.LocalPort,
			ConnectTimeout: t.GetConnectTimeout(),
		}
		if t.SSL != nil {
			c, err := g.registry.Get(t.SSL, base)
			if err != nil {
				return nil, nil, fmt.Errorf("target %s: %w", t.Name, err)
			}
			target.TLS = c
			contexts = append(contexts, c)
		}
		targets[t.Name] = target

		opts := []tlsserver.ForwarderOption{tlsserver.WithUpstreamHandshakeTimeout(t.GetHandshakeTimeout())}
		if cb := t.CircuitBreaker; cb != nil && cb.Enabled {
			// One breaker per target, shared by every listener forwarding to it.
			breaker := tlsserver.NewBreaker(t.Name, tlsserver.BreakerConfig{
				Failures: cb.GetFailures(),
				Timeout:  cb.GetTimeout(),
			}, g.logger)
			opts = append(opts, tlsserver.WithCircuitBreaker(breaker))
		}
		targetOpts[t.Name] = opts
	}

	servers := make([]*tlsserver.Server, 0, len(cfg.Spec.Listeners))
	for i := range cfg.Spec.Listeners {
		l := &cfg.Spec.Listeners[i]

		listenerContexts := make([]*tlspkg.Context, 0, len(l.SSL))
		for j := range l.SSL {
			c, err := g.registry.Get(&l.SSL[j], base)
			if err != nil {
				return nil, nil, fmt.Errorf("listener %s ssl[%d]: %w", l.Name, j, err)
			}
			listenerContexts = append(listenerContexts, c)
		}
		contexts = append(contexts, listenerContexts...)

		collection, err := tlsserver.NewCollection(listenerContexts...)
		if err != nil {
			return nil, nil, fmt.Errorf("listener %s: %w", l.Name, err)
		}

		target, ok := targets[l.Target]
		if !ok {
			return nil, nil, fmt.Errorf("listener %s: unknown target %q", l.Name, l.Target)
		}

		fwdOpts := []tlsserver.ForwarderOption{
			tlsserver.WithForwarderLogger(g.logger),
			tlsserver.WithIdleTimeout(g.idleTimeout),
		}
		fwdOpts = append(fwdOpts, targetOpts[l.Target]...)
		srvOpts := []tlsserver.ServerOption{tlsserver.WithServerLogger(g.logger)}
		if g.tracer != nil {
			fwdOpts = append(fwdOpts, tlsserver.WithForwarderTracer(g.tracer))
			srvOpts = append(srvOpts, tlsserver.WithServerTracer(g.tracer))
		}
		if g.recorder != nil {
			fwdOpts = append(fwdOpts, tlsserver.WithForwarderMetrics(g.recorder, l.Name))
			srvOpts = append(srvOpts, tlsserver.WithServerMetrics(g.recorder))
		}

		srv, err := tlsserver.NewServer(tlsserver.Config{
			Name:            l.Name,
			BindAddress:     net.ParseIP(l.Bind),
			Port:            l.Port,
			Backlog:         l.GetBacklog(),
			Mode:            tlsserver.Mode(l.GetMode()),
			ShutdownTimeout: g.shutdownTimeout,
		}, collection, tlsserver.NewForwarder(target, fwdOpts...), srvOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("listener %s: %w", l.Name, err)
		}
		servers = append(servers, srv)
	}

	return servers, contexts, nil
}

// startServers starts servers in order. On failure the ones already started
// are stopped again.
func (g *Gateway) startServers(ctx context.Context, servers []*tlsserver.Server) error {
	for i, srv := range servers {
		if err := srv.Start(ctx); err != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), g.shutdownTimeout)
			g.stopServers(stopCtx, servers[:i])
			cancel()
			return fmt.Errorf("failed to start listener %s: %w", srv.Name(), err)
		}
	}
	return nil
}

// stopServers stops all servers concurrently.
func (g *Gateway) stopServers(ctx context.Context, servers []*tlsserver.Server) {
	var wg sync.WaitGroup

	for _, srv := range servers {
		wg.Add(1)
		go func(s *tlsserver.Server) {
			defer wg.Done()
			if err := s.Stop(ctx); err != nil {
				g.logger.Error("failed to stop listener",
					observability.String("name", s.Name()),
					observability.Error(err),
				)
			}
		}(srv)
	}

	wg.Wait()
}
