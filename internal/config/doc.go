// Package config provides the gateway configuration model, YAML loading with
// environment variable substitution, validation, and file watching.
//
// A gateway declares TLS listeners and the targets their connections are
// forwarded to. Every listener and target carries TLS descriptors in the
// format understood by the internal/tls package:
//
//	apiVersion: gateway.tlsgate.io/v1
//	kind: Gateway
//	metadata:
//	  name: edge
//	spec:
//	  listeners:
//	    - name: public
//	      port: 8443
//	      mode: sni
//	      target: backend
//	      ssl:
//	        - keyStore:
//	            location: certs/edge.jks
//	            keyPassword: ${KEYSTORE_PASSWORD}
//	  targets:
//	    - name: backend
//	      host: app.internal
//	      port: 9443
//	      ssl:
//	        endpointIdentificationAlgorithm: HTTPS
//
// Relative resource locations inside descriptors resolve against the
// directory of the configuration file.
//
// The Watcher reloads the file on change. A reload that fails to parse or
// validate is reported and the last good configuration stays in effect.
package config
