package tls

import (
	"bytes"
	"net"
)

// replayConn is a net.Conn whose reads return a prefix of already-consumed
// bytes before reading from the live connection. Writes, deadlines and Close
// go straight to the underlying connection.
type replayConn struct {
	net.Conn
	pending *bytes.Reader
}

// NewReplayConn returns conn with consumed replayed ahead of its live bytes.
// consumed is copied; the caller may reuse it.
func NewReplayConn(conn net.Conn, consumed []byte) net.Conn {
	if len(consumed) == 0 {
		return conn
	}
	return &replayConn{
		Conn:    conn,
		pending: bytes.NewReader(bytes.Clone(consumed)),
	}
}

// Read drains the replayed prefix first. A read never mixes prefix and live
// bytes; the TLS record layer reassembles partial reads.
func (c *replayConn) Read(b []byte) (int, error) {
	if c.pending.Len() > 0 {
		return c.pending.Read(b)
	}
	return c.Conn.Read(b)
}
