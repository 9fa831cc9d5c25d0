// Package tls turns declarative TLS descriptors into immutable contexts used
// to terminate, originate and upgrade TLS connections.
//
// A Descriptor names the local identity (a JKS or PKCS12 keystore, or an
// inline PEM chain and key), the trust anchors (a truststore or inline PEM
// certificates), and the negotiation policy: cipher suites, protocols, client
// authentication and endpoint identification.
//
// # Building a context
//
//	res := resolver.NewMap()
//	desc := &tls.Descriptor{
//	    KeyStore:   &tls.KeyStoreSpec{Location: "certs/gateway.jks", KeyPassword: "secret"},
//	    Trust:      &tls.TrustSpec{Certificates: []tls.Resource{{Location: "certs/ca.pem"}}},
//	    ClientAuth: "want",
//	}
//	ctx, err := tls.NewContext(desc, res, "/etc/tlsgate/gateway.yaml",
//	    tls.WithLogger(logger),
//	    tls.WithDiagnostics(diagnostics),
//	)
//
// Relative locations resolve against the directory of the base location.
// Construction validates everything that can be checked without a peer;
// protocol names are checked when the context is applied to a socket.
//
// # Cipher suites
//
// Without an explicit list, the engine defaults are used with RC4 suites
// removed and suites with an ephemeral key exchange moved to the front.
// crypto/tls picks the negotiated suite by its own preference, so a one-time
// warning notes that the order is advisory.
//
// # Upgrading a connection
//
// WrapForUpgrade accepts bytes the caller has already read from a plaintext
// connection (typically the start of a ClientHello used for SNI routing) and
// replays them to the TLS engine before the rest of the stream.
//
// # Diagnostics
//
// Non-fatal findings go to a Diagnostics sink. Some findings are reported once
// per sink; share one sink across rebuilds to keep them one-time.
package tls
