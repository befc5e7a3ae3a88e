package ratelimit

import "context"

// StoreClient is the thin contract the Limiter needs from a remote
// key-value store that supports server-side scripting. It is a pure
// interface: connection construction, pooling, and authentication to
// the store are collaborators outside this package.
//
// EvalByHash must return an error satisfying errors.Is(err,
// ErrScriptNotCached) when the store no longer has the script body
// cached under sha; any other failure propagates unchanged and is not
// retried.
type StoreClient interface {
	// EvalByHash runs the script previously cached under sha.
	EvalByHash(ctx context.Context, sha string, keys []string, args ...any) (int64, error)

	// EvalByBody runs the script by sending its full source. The store
	// is expected to retain it under the same digest it would have
	// computed for EvalByHash, as a side effect.
	EvalByBody(ctx context.Context, body string, keys []string, args ...any) (int64, error)

	// HGet reads a single hash field. ok is false when the field or
	// the hash itself does not exist.
	HGet(ctx context.Context, key, field string) (value int64, ok bool, err error)

	// Keys lists store keys matching a glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// SAdd adds member to a set.
	SAdd(ctx context.Context, set, member string) error

	// SRem removes member from a set. Removing an absent member is not
	// an error.
	SRem(ctx context.Context, set, member string) error
}
