// Package gateway assembles TLS listeners and their upstream targets from a
// configuration document and manages their lifecycle.
//
// Each configured listener becomes a server from the server/tls package
// whose contexts are built through a shared tls.Registry, so listeners and
// targets with equal descriptors share key material. Accepted connections
// are forwarded to the listener's target.
//
// # Usage
//
//	gw, err := gateway.New(cfg, gateway.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := gw.Start(ctx); err != nil {
//	    return err
//	}
//	defer gw.Stop(context.Background())
//
// # Configuration Reload
//
// Reload builds every context for the new configuration before touching
// the running servers. When a context fails to build the old servers keep
// running and the error is returned:
//
//	if err := gw.Reload(ctx, newConfig); err != nil {
//	    logger.Error("reload failed", observability.Error(err))
//	}
package gateway
