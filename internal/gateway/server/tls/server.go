package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/tlsgate/internal/observability"
	tlspkg "github.com/vyrodovalexey/tlsgate/internal/tls"
)

// Mode selects how a server terminates TLS.
type Mode string

// Server modes.
const (
	// ModeTLS accepts TLS directly with the collection's default context.
	ModeTLS Mode = "tls"

	// ModeSNI accepts plain TCP, reads the ClientHello, selects a context by
	// server name and upgrades the connection in place.
	ModeSNI Mode = "sni"
)

// Server defaults.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultShutdownTimeout  = 30 * time.Second
	DefaultForceCloseWait   = 5 * time.Second
	maxAcceptBackoff        = time.Second
)

// Config configures a Server. ForceCloseWait bounds how long Stop waits for
// handlers after it closed the remaining connections.
type Config struct {
	Name               string
	BindAddress        net.IP
	Port               int
	Backlog            int
	Mode               Mode
	HandshakeTimeout   time.Duration
	ClientHelloTimeout time.Duration
	ShutdownTimeout    time.Duration
	ForceCloseWait     time.Duration
}

type serverState int

const (
	stateIdle serverState = iota
	stateRunning
	stateStopped
)

// Server accepts connections on one port, completes the TLS handshake and
// passes each connection to its handler.
type Server struct {
	cfg      Config
	contexts *Collection
	handler  Handler
	logger   observability.Logger
	recorder Recorder
	tracer   trace.Tracer

	mu         sync.Mutex
	state      serverState
	listener   net.Listener
	cancel     context.CancelFunc
	conns      map[net.Conn]struct{}
	acceptDone chan struct{}
	wg         sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(logger observability.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithServerMetrics sets the metrics recorder.
func WithServerMetrics(recorder Recorder) ServerOption {
	return func(s *Server) {
		s.recorder = recorder
	}
}

// WithServerTracer sets the tracer for connection spans.
func WithServerTracer(tracer trace.Tracer) ServerOption {
	return func(s *Server) {
		s.tracer = tracer
	}
}

// NewServer creates a server. ModeTLS uses only the default context.
func NewServer(cfg Config, contexts *Collection, handler Handler, opts ...ServerOption) (*Server, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeTLS
	}
	if cfg.Mode != ModeTLS && cfg.Mode != ModeSNI {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}
	if contexts == nil {
		return nil, ErrNoContexts
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.ClientHelloTimeout <= 0 {
		cfg.ClientHelloTimeout = DefaultClientHelloTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.ForceCloseWait <= 0 {
		cfg.ForceCloseWait = DefaultForceCloseWait
	}

	s := &Server{
		cfg:      cfg,
		contexts: contexts,
		handler:  handler,
		logger:   observability.NopLogger(),
		recorder: nopRecorder{},
		tracer:   otel.Tracer(TracerName),
		conns:    make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(
		observability.String("listener", cfg.Name),
		observability.String("mode", string(cfg.Mode)),
	)
	return s, nil
}

// Name returns the configured listener name.
func (s *Server) Name() string {
	return s.cfg.Name
}

// Contexts returns the server's context collection.
func (s *Server) Contexts() *Collection {
	return s.contexts
}

// Start opens the listener and serves in the background until Stop is
// called or ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateRunning:
		return ErrServerRunning
	case stateStopped:
		return ErrServerStopped
	}

	ln, err := s.listen(ctx)
	if err != nil {
		return err
	}

	serveCtx, cancel := context.WithCancel(ctx)
	s.listener = ln
	s.cancel = cancel
	s.acceptDone = make(chan struct{})
	s.state = stateRunning

	context.AfterFunc(serveCtx, func() { _ = ln.Close() })

	s.logger.Info("listener started",
		observability.String("address", ln.Addr().String()),
		observability.Int("contexts", s.contexts.Len()),
	)

	go s.acceptLoop(serveCtx, ln)
	return nil
}

func (s *Server) listen(ctx context.Context) (net.Listener, error) {
	if s.cfg.Mode == ModeTLS {
		return s.contexts.Default().Listen(s.cfg.Port, s.cfg.Backlog, s.cfg.BindAddress)
	}

	host := ""
	if s.cfg.BindAddress != nil {
		host = s.cfg.BindAddress.String()
	}
	addr := net.JoinHostPort(host, strconv.Itoa(s.cfg.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveConnections returns the number of open connections.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer close(s.acceptDone)

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(2*backoff, maxAcceptBackoff)
			}
			s.logger.Warn("accept failed",
				observability.Error(err),
				observability.Duration("retry_in", backoff),
			)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		s.wg.Add(1)
		go s.serve(ctx, conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateRunning {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer func() { _ = conn.Close() }()

	ctx = observability.ContextWithConnectionID(ctx, uuid.NewString())
	ctx, span := s.tracer.Start(ctx, "tls.connection",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("tlsgate.listener", s.cfg.Name),
			attribute.String("tlsgate.mode", string(s.cfg.Mode)),
			attribute.String("client.address", conn.RemoteAddr().String()),
			attribute.String("tlsgate.connection_id", observability.ConnectionIDFromContext(ctx)),
		),
	)
	defer span.End()
	logger := s.logger.WithContext(ctx)

	s.recorder.ConnectionOpened(s.cfg.Name)
	result := ResultForwarded
	defer func() {
		s.recorder.ConnectionClosed(s.cfg.Name, result)
		span.SetAttributes(attribute.String("tlsgate.result", result))
	}()

	tlsConn, failure, err := s.establish(ctx, conn)
	if err != nil {
		result = failure
		span.RecordError(err)
		span.SetStatus(codes.Error, failure)
		logger.Debug("connection rejected",
			observability.String("remote", conn.RemoteAddr().String()),
			observability.String("result", failure),
			observability.Error(err),
		)
		return
	}

	state := tlsConn.ConnectionState()
	span.SetAttributes(
		attribute.String("tls.server_name", state.ServerName),
		attribute.String("tls.protocol.version", tls.VersionName(state.Version)),
		attribute.String("tls.cipher", tls.CipherSuiteName(state.CipherSuite)),
		attribute.Int("tls.client.certificates", len(state.PeerCertificates)),
	)
	logger.Debug("connection established",
		observability.String("remote", conn.RemoteAddr().String()),
		observability.String("server_name", state.ServerName),
		observability.String("version", tls.VersionName(state.Version)),
		observability.String("cipher", tls.CipherSuiteName(state.CipherSuite)),
		observability.Int("peer_certificates", len(state.PeerCertificates)),
	)

	if err := s.handler.ServeConn(ctx, tlsConn); err != nil {
		var upstreamErr *UpstreamError
		if errors.As(err, &upstreamErr) {
			result = ResultUpstreamError
			span.SetStatus(codes.Error, result)
		}
	}
}

// establish completes the handshake for conn and returns the TLS connection,
// or the result label and error when it could not.
func (s *Server) establish(ctx context.Context, conn net.Conn) (*tls.Conn, string, error) {
	if s.cfg.Mode == ModeTLS {
		tlsConn, ok := conn.(*tls.Conn)
		if !ok {
			return nil, ResultHandshakeError, errors.New("listener returned a non-TLS connection")
		}
		hsCtx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		defer cancel()
		if err := s.contexts.Default().Handshake(hsCtx, tlsConn, tlspkg.RoleServer); err != nil {
			return nil, ResultHandshakeError, err
		}
		return tlsConn, "", nil
	}

	serverName, consumed, err := ReadClientHello(conn, s.cfg.ClientHelloTimeout)
	if err != nil {
		return nil, ResultClientHello, err
	}

	selected, matched := s.contexts.lookup(serverName)
	s.recorder.SNISelected(s.cfg.Name, matched)
	trace.SpanFromContext(ctx).AddEvent("sni.selected", trace.WithAttributes(
		attribute.String("tls.client.server_name", serverName),
		attribute.Bool("tlsgate.sni_matched", matched),
	))
	s.logger.WithContext(ctx).Debug("context selected",
		observability.String("server_name", serverName),
		observability.Bool("matched", matched),
	)

	_, span := s.tracer.Start(ctx, "tls.upgrade")
	defer span.End()

	_ = conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	tlsConn, err := selected.WrapForUpgrade(conn, consumed)
	_ = conn.SetDeadline(time.Time{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upgrade handshake failed")
		return nil, ResultHandshakeError, err
	}
	return tlsConn, "", nil
}

// Stop closes the listener and waits for open connections to finish. When
// ctx ends first, or the shutdown timeout passes, remaining connections are
// closed and pending upstream dials cancelled. If handlers still have not
// returned after ForceCloseWait, Stop gives up on them and returns
// ErrShutdownIncomplete.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateRunning {
		s.state = stateStopped
		s.mu.Unlock()
		return nil
	}
	s.state = stateStopped
	ln := s.listener
	s.mu.Unlock()

	_ = ln.Close()
	<-s.acceptDone

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown timed out, closing remaining connections",
			observability.Int("connections", s.ActiveConnections()),
		)
		s.cancel()
		s.closeAll()

		timer := time.NewTimer(s.cfg.ForceCloseWait)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			active := s.ActiveConnections()
			s.logger.Error("connections still open after force close",
				observability.Int("connections", active),
			)
			return fmt.Errorf("%w: %d connection(s) still open", ErrShutdownIncomplete, active)
		}
	}

	s.cancel()
	s.logger.Info("listener stopped")
	return nil
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}
