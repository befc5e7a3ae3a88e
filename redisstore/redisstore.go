// Package redisstore adapts a go-redis client to the ratelimit.StoreClient
// contract. It is a separate module so that importing the limiter core
// never pulls in go-redis: callers who bring their own store client
// never need this package at all.
package redisstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	ratelimit "github.com/ratekeeper/ratekeeper"
)

var _ ratelimit.StoreClient = (*Client)(nil)

// Client adapts redis.Cmdable, which both *redis.Client and
// *redis.ClusterClient satisfy, so this package works unmodified
// against a single node or a cluster.
type Client struct {
	cmd redis.Cmdable
}

// New wraps cmd for use as a ratelimit.StoreClient.
func New(cmd redis.Cmdable) *Client {
	return &Client{cmd: cmd}
}

// EvalByHash runs EVALSHA. A NOSCRIPT reply is translated to
// ratelimit.ErrScriptNotCached; go-redis has no typed error for it, so
// detection is by substring match on the server's reply, same as the
// wire protocol itself reports it.
func (c *Client) EvalByHash(ctx context.Context, sha string, keys []string, args ...any) (int64, error) {
	res, err := c.cmd.EvalSha(ctx, sha, keys, args...).Result()
	if err != nil {
		if isNoScript(err) {
			return 0, fmt.Errorf("%w: %v", ratelimit.ErrScriptNotCached, err)
		}
		return 0, err
	}
	return toInt64(res)
}

// EvalByBody runs EVAL with the full script body. go-redis's EVAL
// causes the server to cache the script under its SHA-1 as a side
// effect, matching the contract EvalByHash relies on.
func (c *Client) EvalByBody(ctx context.Context, body string, keys []string, args ...any) (int64, error) {
	res, err := c.cmd.Eval(ctx, body, keys, args...).Result()
	if err != nil {
		return 0, err
	}
	return toInt64(res)
}

// HGet reads a single hash field, translating the redis.Nil sentinel
// into ok=false.
func (c *Client) HGet(ctx context.Context, key, field string) (int64, bool, error) {
	res, err := c.cmd.HGet(ctx, key, field).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return res, true, nil
}

// Keys lists keys matching pattern via the KEYS command. It is O(n) on
// the keyspace and meant for diagnostics, not hot paths, matching the
// documented cost of KEYS on a Redis server.
func (c *Client) Keys(ctx context.Context, pattern string) ([]string, error) {
	return c.cmd.Keys(ctx, pattern).Result()
}

// SAdd adds member to set.
func (c *Client) SAdd(ctx context.Context, set, member string) error {
	return c.cmd.SAdd(ctx, set, member).Err()
}

// SRem removes member from set; a missing member is not an error, per
// SREM's own semantics.
func (c *Client) SRem(ctx context.Context, set, member string) error {
	return c.cmd.SRem(ctx, set, member).Err()
}

func toInt64(res any) (int64, error) {
	switch v := res.(type) {
	case int64:
		return v, nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("redisstore: unexpected script reply type %T", res)
	}
}
