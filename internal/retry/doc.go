// Package retry runs operations against external services with exponential
// backoff and jitter.
//
// The gateway uses it to authenticate with Vault at startup, when Vault may
// still be coming up:
//
//	err := retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context) error {
//	    return client.Authenticate(ctx)
//	}, nil)
//
// Errors wrapped with Permanent stop the loop at once.
package retry
