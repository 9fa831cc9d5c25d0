package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/vyrodovalexey/tlsgate/internal/observability"
)

// Listen opens a TCP listener on bindAddress:port whose accepted connections
// are server-side TLS connections using this context. A nil bindAddress
// listens on all interfaces. backlog is advisory: the accept queue length is
// taken from the operating system.
func (c *Context) Listen(port, backlog int, bindAddress net.IP) (net.Listener, error) {
	cfg, err := c.ServerConfig()
	if err != nil {
		return nil, err
	}

	host := ""
	if bindAddress != nil {
		host = bindAddress.String()
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	c.logger.Debug("TLS listener opened",
		observability.String("address", ln.Addr().String()),
		observability.Int("backlog", backlog))

	return &listener{Listener: ln, config: cfg, ctx: c}, nil
}

// listener wraps accepted connections with tls.Server.
type listener struct {
	net.Listener
	config *tls.Config
	ctx    *Context
}

// Accept returns the next connection as a *tls.Conn. The handshake runs on
// first read or write, or when the caller invokes Handshake.
func (l *listener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return tls.Server(conn, l.config), nil
}

// Dial connects to host:port and completes a client handshake before
// returning. connectTimeout bounds only the TCP connect; zero means no limit.
func (c *Context) Dial(host string, port int, connectTimeout time.Duration) (*tls.Conn, error) {
	return c.DialFrom(host, port, nil, 0, connectTimeout)
}

// DialFrom is like Dial but binds the local end to localAddress:localPort.
// A nil localAddress with a zero localPort leaves the choice to the system.
func (c *Context) DialFrom(host string, port int, localAddress net.IP, localPort int, connectTimeout time.Duration) (*tls.Conn, error) {
	return c.DialContext(context.Background(), host, port, localAddress, localPort, connectTimeout)
}

// DialContext is like DialFrom but ctx bounds both the connect and the
// handshake. Cancelling ctx aborts a handshake the peer never answers.
func (c *Context) DialContext(ctx context.Context, host string, port int, localAddress net.IP, localPort int, connectTimeout time.Duration) (*tls.Conn, error) {
	cfg, err := c.ClientConfig(host)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: connectTimeout}
	if localAddress != nil || localPort != 0 {
		dialer.LocalAddr = &net.TCPAddr{IP: localAddress, Port: localPort}
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	conn := tls.Client(raw, cfg)
	if err := c.Handshake(ctx, conn, RoleClient); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("TLS handshake with %s failed: %w", addr, err)
	}
	return conn, nil
}

// WrapForUpgrade turns an open plaintext connection into a server-side TLS
// connection. consumed holds bytes the caller already read from conn; the TLS
// engine sees them before any further bytes from conn. The handshake
// completes before WrapForUpgrade returns. On error the caller still owns conn.
func (c *Context) WrapForUpgrade(conn net.Conn, consumed []byte) (*tls.Conn, error) {
	cfg, err := c.ServerConfig()
	if err != nil {
		return nil, err
	}

	tlsConn := tls.Server(NewReplayConn(conn, consumed), cfg)
	if err := c.Handshake(context.Background(), tlsConn, RoleUpgrade); err != nil {
		return nil, fmt.Errorf("TLS upgrade handshake failed: %w", err)
	}
	return tlsConn, nil
}

// Handshake runs the handshake on conn and records its outcome under role.
// Connections accepted from Listen use it with RoleServer.
func (c *Context) Handshake(ctx context.Context, conn *tls.Conn, role string) error {
	start := time.Now()
	if err := conn.HandshakeContext(ctx); err != nil {
		c.metrics.RecordHandshakeError(role)
		c.logger.Debug("TLS handshake failed",
			observability.String("role", role),
			observability.String("remote", conn.RemoteAddr().String()),
			observability.Error(err))
		return err
	}
	state := conn.ConnectionState()
	c.metrics.RecordHandshake(role, state, time.Since(start))
	return nil
}
