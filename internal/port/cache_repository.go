package port

import "context"

type Locker interface {
	// Lock takes exclusive run locks on every key, waiting at most until ctx is done.
	// The returned func releases all of them.
	Lock(ctx context.Context, keys []string) (func(), error)
}

type IdempotencyStore interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)
	// ReleaseIdempotency drops a key so a request that did not complete can be retried
	ReleaseIdempotency(ctx context.Context, key string) error
}
