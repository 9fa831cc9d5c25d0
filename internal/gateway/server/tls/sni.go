// Package tls provides the gateway's TLS listeners: a direct TLS accept loop,
// an SNI upgrade loop that reads the ClientHello before choosing a context,
// and the forwarder that relays decrypted traffic to a target.
package tls

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/cryptobyte"
)

// TLS wire constants used while sniffing the ClientHello.
const (
	recordHeaderLen          = 5
	recordTypeHandshake      = 22
	handshakeTypeClientHello = 1
	extensionServerName      = 0
	serverNameTypeHostName   = 0
	maxPlaintextRecord       = 16384
)

// DefaultClientHelloTimeout bounds the wait for the first record.
const DefaultClientHelloTimeout = 5 * time.Second

// Errors returned by ReadClientHello.
var (
	ErrNotHandshake         = errors.New("not a TLS handshake record")
	ErrNotClientHello       = errors.New("first handshake message is not a ClientHello")
	ErrRecordTooLarge       = errors.New("TLS record exceeds maximum length")
	ErrMalformedClientHello = errors.New("malformed ClientHello")
)

// ReadClientHello reads the first TLS record from conn and returns the
// requested server name together with every byte consumed. The server name
// is empty when the client sent no SNI extension. consumed is returned even
// on error so the caller can account for what was read.
func ReadClientHello(conn net.Conn, timeout time.Duration) (serverName string, consumed []byte, err error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return "", nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
		defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	}

	header := make([]byte, recordHeaderLen)
	if n, err := io.ReadFull(conn, header); err != nil {
		return "", header[:n], fmt.Errorf("failed to read TLS record header: %w", err)
	}
	if header[0] != recordTypeHandshake {
		return "", header, fmt.Errorf("%w: content type %d", ErrNotHandshake, header[0])
	}

	length := int(binary.BigEndian.Uint16(header[3:5]))
	if length > maxPlaintextRecord {
		return "", header, fmt.Errorf("%w: %d", ErrRecordTooLarge, length)
	}

	record := make([]byte, recordHeaderLen+length)
	copy(record, header)
	if n, err := io.ReadFull(conn, record[recordHeaderLen:]); err != nil {
		return "", record[:recordHeaderLen+n], fmt.Errorf("failed to read TLS record: %w", err)
	}

	serverName, err = parseServerName(record[recordHeaderLen:])
	return serverName, record, err
}

// parseServerName extracts the host_name entry of the server_name extension
// from a handshake record body holding a ClientHello.
func parseServerName(fragment []byte) (string, error) {
	s := cryptobyte.String(fragment)

	var msgType uint8
	if !s.ReadUint8(&msgType) {
		return "", ErrMalformedClientHello
	}
	if msgType != handshakeTypeClientHello {
		return "", fmt.Errorf("%w: type %d", ErrNotClientHello, msgType)
	}

	var body cryptobyte.String
	if !s.ReadUint24LengthPrefixed(&body) {
		// A ClientHello split over several records is not sniffed.
		return "", fmt.Errorf("%w: message spans multiple records", ErrMalformedClientHello)
	}

	var (
		version     uint16
		random      []byte
		sessionID   cryptobyte.String
		suites      cryptobyte.String
		compression cryptobyte.String
	)
	if !body.ReadUint16(&version) ||
		!body.ReadBytes(&random, 32) ||
		!body.ReadUint8LengthPrefixed(&sessionID) ||
		!body.ReadUint16LengthPrefixed(&suites) ||
		!body.ReadUint8LengthPrefixed(&compression) {
		return "", ErrMalformedClientHello
	}
	if body.Empty() {
		return "", nil
	}

	var extensions cryptobyte.String
	if !body.ReadUint16LengthPrefixed(&extensions) {
		return "", ErrMalformedClientHello
	}
	for !extensions.Empty() {
		var (
			extType uint16
			ext     cryptobyte.String
		)
		if !extensions.ReadUint16(&extType) || !extensions.ReadUint16LengthPrefixed(&ext) {
			return "", ErrMalformedClientHello
		}
		if extType != extensionServerName {
			continue
		}

		var names cryptobyte.String
		if !ext.ReadUint16LengthPrefixed(&names) {
			return "", ErrMalformedClientHello
		}
		for !names.Empty() {
			var (
				nameType uint8
				name     cryptobyte.String
			)
			if !names.ReadUint8(&nameType) || !names.ReadUint16LengthPrefixed(&name) {
				return "", ErrMalformedClientHello
			}
			if nameType == serverNameTypeHostName {
				return strings.TrimSuffix(string(name), "."), nil
			}
		}
	}
	return "", nil
}
