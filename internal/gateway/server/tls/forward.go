package tls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/tlsgate/internal/observability"
	tlspkg "github.com/vyrodovalexey/tlsgate/internal/tls"
)

// Forwarder defaults.
const (
	DefaultBufferSize     = 32 * 1024
	DefaultIdleTimeout    = 5 * time.Minute
	DefaultConnectTimeout = 10 * time.Second
)

// Handler serves an accepted connection after its TLS handshake completed.
// The server closes conn after ServeConn returns. A returned *UpstreamError
// is counted as an upstream failure.
type Handler interface {
	ServeConn(ctx context.Context, conn net.Conn) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, conn net.Conn) error

// ServeConn calls f(ctx, conn).
func (f HandlerFunc) ServeConn(ctx context.Context, conn net.Conn) error {
	return f(ctx, conn)
}

// Target is the upstream a Forwarder connects to. A nil TLS dials plaintext.
type Target struct {
	Name           string
	Host           string
	Port           int
	LocalAddress   net.IP
	LocalPort      int
	ConnectTimeout time.Duration
	TLS            *tlspkg.Context
}

// Address returns host:port.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// TracerName names the tracer used by servers and forwarders.
const TracerName = "tlsgate/server"

// Forwarder relays each connection to its target.
type Forwarder struct {
	target           Target
	listener         string
	logger           observability.Logger
	recorder         Recorder
	tracer           trace.Tracer
	breaker          *gobreaker.CircuitBreaker
	idleTimeout      time.Duration
	handshakeTimeout time.Duration
	bufferPool       *sync.Pool
}

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*Forwarder)

// WithForwarderLogger sets the forwarder logger.
func WithForwarderLogger(logger observability.Logger) ForwarderOption {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// WithForwarderMetrics sets the recorder; listener labels the byte counts.
func WithForwarderMetrics(recorder Recorder, listener string) ForwarderOption {
	return func(f *Forwarder) {
		f.recorder = recorder
		f.listener = listener
	}
}

// WithIdleTimeout closes a relay when either direction reads nothing for d.
// Zero disables it.
func WithIdleTimeout(d time.Duration) ForwarderOption {
	return func(f *Forwarder) {
		f.idleTimeout = d
	}
}

// WithUpstreamHandshakeTimeout bounds connect plus handshake of a TLS
// target. Zero leaves only the connect timeout and the caller's context.
func WithUpstreamHandshakeTimeout(d time.Duration) ForwarderOption {
	return func(f *Forwarder) {
		f.handshakeTimeout = d
	}
}

// WithForwarderTracer sets the tracer for upstream spans.
func WithForwarderTracer(tracer trace.Tracer) ForwarderOption {
	return func(f *Forwarder) {
		f.tracer = tracer
	}
}

// WithCircuitBreaker guards dials with cb. Forwarders sharing a target may
// share a breaker.
func WithCircuitBreaker(cb *gobreaker.CircuitBreaker) ForwarderOption {
	return func(f *Forwarder) {
		f.breaker = cb
	}
}

// NewForwarder creates a forwarder for target.
func NewForwarder(target Target, opts ...ForwarderOption) *Forwarder {
	if target.ConnectTimeout <= 0 {
		target.ConnectTimeout = DefaultConnectTimeout
	}
	f := &Forwarder{
		target:           target,
		logger:           observability.NopLogger(),
		recorder:         nopRecorder{},
		tracer:           otel.Tracer(TracerName),
		idleTimeout:      DefaultIdleTimeout,
		handshakeTimeout: DefaultHandshakeTimeout,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, DefaultBufferSize)
				return &buf
			},
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Target returns the forwarder's target.
func (f *Forwarder) Target() Target {
	return f.target
}

// Dial opens a connection to the target, completing the client handshake
// when the target has a TLS context. ctx cancels a pending connect or
// handshake. With a circuit breaker an open circuit fails fast with
// gobreaker.ErrOpenState.
func (f *Forwarder) Dial(ctx context.Context) (net.Conn, error) {
	if f.breaker == nil {
		return f.dial(ctx)
	}
	conn, err := f.breaker.Execute(func() (interface{}, error) {
		return f.dial(ctx)
	})
	if err != nil {
		return nil, err
	}
	return conn.(net.Conn), nil
}

func (f *Forwarder) dial(ctx context.Context) (net.Conn, error) {
	t := f.target
	if t.TLS != nil {
		if f.handshakeTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, f.handshakeTimeout)
			defer cancel()
		}
		conn, err := t.TLS.DialContext(ctx, t.Host, t.Port, t.LocalAddress, t.LocalPort, t.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	dialer := net.Dialer{Timeout: t.ConnectTimeout}
	if t.LocalAddress != nil || t.LocalPort != 0 {
		dialer.LocalAddr = &net.TCPAddr{IP: t.LocalAddress, Port: t.LocalPort}
	}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", t.Address(), err)
	}
	return conn, nil
}

// ServeConn dials the target and relays bytes in both directions until
// both sides finish, one side fails, or ctx is cancelled. A failed dial is
// returned as *UpstreamError.
func (f *Forwarder) ServeConn(ctx context.Context, client net.Conn) error {
	ctx, span := f.tracer.Start(ctx, "tls.upstream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("tlsgate.target", f.target.Name),
			attribute.String("server.address", f.target.Host),
			attribute.Int("server.port", f.target.Port),
			attribute.Bool("tlsgate.upstream_tls", f.target.TLS != nil),
		),
	)
	defer span.End()
	logger := f.logger.WithContext(ctx)

	upstream, err := f.Dial(ctx)
	if err != nil {
		logger.Warn("upstream connection failed",
			observability.String("target", f.target.Name),
			observability.String("address", f.target.Address()),
			observability.Error(err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream dial failed")
		return &UpstreamError{Target: f.target.Name, Err: err}
	}
	defer func() { _ = upstream.Close() }()
	span.AddEvent("upstream.connected")

	start := time.Now()
	sent, received, err := f.relay(ctx, client, upstream)
	f.recorder.BytesTransferred(f.listener, DirectionUpstream, sent)
	f.recorder.BytesTransferred(f.listener, DirectionDownstream, received)

	span.SetAttributes(
		attribute.Int64("tlsgate.bytes_upstream", sent),
		attribute.Int64("tlsgate.bytes_downstream", received),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "relay failed")
	}

	logger.Debug("relay finished",
		observability.String("target", f.target.Name),
		observability.Int64("bytes_upstream", sent),
		observability.Int64("bytes_downstream", received),
		observability.Duration("duration", time.Since(start)),
		observability.Error(err),
	)
	return err
}

type copyResult struct {
	n   int64
	err error
}

func (f *Forwarder) relay(ctx context.Context, client, upstream net.Conn) (sent, received int64, err error) {
	up := make(chan copyResult, 1)
	down := make(chan copyResult, 1)

	go func() {
		n, err := f.copy(upstream, client)
		closeWrite(upstream)
		up <- copyResult{n, err}
	}()
	go func() {
		n, err := f.copy(client, upstream)
		closeWrite(client)
		down <- copyResult{n, err}
	}()

	closeBoth := func() {
		_ = client.Close()
		_ = upstream.Close()
	}
	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var upDone, downDone bool
	for !upDone || !downDone {
		select {
		case r := <-up:
			upDone, sent = true, r.n
			if r.err != nil && err == nil {
				err = r.err
				closeBoth()
			}
		case r := <-down:
			downDone, received = true, r.n
			if r.err != nil && err == nil {
				err = r.err
				closeBoth()
			}
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return sent, received, ctxErr
	}
	return sent, received, err
}

func (f *Forwarder) copy(dst, src net.Conn) (int64, error) {
	bufPtr := f.bufferPool.Get().(*[]byte)
	defer f.bufferPool.Put(bufPtr)
	buf := *bufPtr

	var total int64
	for {
		if f.idleTimeout > 0 {
			_ = src.SetReadDeadline(time.Now().Add(f.idleTimeout))
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			total += int64(w)
			if werr != nil {
				return total, ignoreClosed(werr)
			}
		}
		if rerr != nil {
			var netErr net.Error
			if errors.As(rerr, &netErr) && netErr.Timeout() {
				return total, ErrIdleTimeout
			}
			return total, ignoreClosed(rerr)
		}
	}
}

// closeWrite half-closes conn so the peer sees end of stream while the
// other direction keeps flowing.
func closeWrite(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
}

func ignoreClosed(err error) error {
	if err == nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}
