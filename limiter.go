// Package ratelimit implements a sliding-window rate limiter backed by
// a remote key-value store that supports server-side scripting. It
// carries none of the distributed coordination itself: every
// check-and-increment decision runs as a single atomic script on the
// store, so concurrent Limiter instances sharing a prefix observe
// sequentially consistent behavior for any one identifier.
//
// # Quick Start
//
//	client := redisstore.New(redis.NewClient(&redis.Options{Addr: "localhost:6379"}))
//	limiter, err := ratelimit.New(client, []ratelimit.Rule{
//	    {Interval: time.Second, Limit: 5},
//	    {Interval: time.Hour, Limit: 1000, Precision: 100 * time.Second},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	limited, err := limiter.Incr(ctx, 1, "ip:203.0.113.10")
//
// # Whitelist and blacklist
//
// An identifier in the blacklist is always denied; one in the
// whitelist is always allowed. Whitelist takes precedence when an
// identifier appears in both.
//
//	limiter.Blacklist(ctx, "ip:198.51.100.23")
//	limiter.Whitelist(ctx, "ip:10.0.0.1")
//
// # Store adapters
//
// This package has no store dependency of its own; redisstore (a
// separate module) adapts a go-redis client to the StoreClient
// contract, and MemStore here is a single-process stand-in useful
// for tests and examples that don't need a real store.
package ratelimit

import (
	"context"
	"strings"
	"time"
)

// Option configures optional constructor fields. Unset options take
// the documented default.
type Option func(*limiterConfig)

type limiterConfig struct {
	prefix           string
	clientPrefixMode bool
}

// WithPrefix overrides the default prefix "ratelimit". Passing ""
// elides the delimiter entirely: identifier keys and set names are
// used as-is.
func WithPrefix(prefix string) Option {
	return func(c *limiterConfig) { c.prefix = prefix }
}

// WithClientPrefixMode marks the store client as one that transparently
// prepends the prefix on the wire. Identifier keys are then passed to
// the store unprefixed; the whitelist and blacklist set names are
// always fully qualified regardless.
func WithClientPrefixMode(v bool) Option {
	return func(c *limiterConfig) { c.clientPrefixMode = v }
}

// RuleViolation reports a rule an identifier currently exceeds.
type RuleViolation struct {
	Interval time.Duration
	Limit    int64
}

// Limiter is a stateless façade over a StoreClient; all shared state
// lives in the store. A Limiter is safe for concurrent use by multiple
// callers as long as its StoreClient is.
type Limiter struct {
	store        StoreClient
	cache        *ScriptCache
	rules        *ruleSet
	namer        keyNamer
	whitelistKey string
	blacklistKey string
}

// New constructs a Limiter against store using rules, which must be
// non-empty and individually valid; both violations surface as
// *ConfigError. Rules are immutable once the Limiter exists: changing
// a rule's precision for an identifier with existing counter state
// requires flushing that identifier's keys, since the stored bucket
// fields were written under the old precision.
func New(store StoreClient, rules []Rule, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, &ConfigError{Msg: "store client is required"}
	}
	rs, err := newRuleSet(rules)
	if err != nil {
		return nil, err
	}

	cfg := &limiterConfig{prefix: "ratelimit"}
	for _, opt := range opts {
		opt(cfg)
	}

	namer := keyNamer{prefix: cfg.prefix, clientPrefixMode: cfg.clientPrefixMode}

	return &Limiter{
		store:        store,
		cache:        NewScriptCache(store, scriptBodies()),
		rules:        rs,
		namer:        namer,
		whitelistKey: namer.key("whitelist", true),
		blacklistKey: namer.key("blacklist", true),
	}, nil
}

// prepareKeys trims and drops empty identifiers, then applies the
// prefix policy. It fails with ErrNoValidKeys if nothing remains.
func (l *Limiter) prepareKeys(keys []string) (raw []string, prefixed []string, err error) {
	raw = make([]string, 0, len(keys))
	prefixed = make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		raw = append(raw, k)
		prefixed = append(prefixed, l.namer.key(k, false))
	}
	if len(prefixed) == 0 {
		return nil, nil, ErrNoValidKeys
	}
	return raw, prefixed, nil
}

func (l *Limiter) scriptArgs(weight int64) []any {
	return []any{l.rules.payload, time.Now().Unix(), weight, l.whitelistKey, l.blacklistKey}
}

func decodeVerdict(res int64) (limited bool, err error) {
	switch res {
	case 0:
		return false, nil
	case 1, 2:
		return true, nil
	default:
		return false, &ScriptError{Got: res}
	}
}

// Check evaluates the ruleset against keys without mutating any
// counter. It returns true iff the identifier is currently rate
// limited or blacklisted.
func (l *Limiter) Check(ctx context.Context, keys ...string) (bool, error) {
	_, prefixed, err := l.prepareKeys(keys)
	if err != nil {
		return false, err
	}
	res, err := l.cache.Exec(ctx, scriptNameCheck, prefixed, l.scriptArgs(1)...)
	if err != nil {
		return false, err
	}
	return decodeVerdict(res)
}

// Incr evaluates the ruleset against keys and, if allowed, increments
// every applicable rule counter for every key by weight within the
// same atomic unit. weight is floored to 1. It returns true iff the
// identifier was denied, in which case no counter was mutated.
func (l *Limiter) Incr(ctx context.Context, weight int64, keys ...string) (bool, error) {
	if weight < 1 {
		weight = 1
	}
	_, prefixed, err := l.prepareKeys(keys)
	if err != nil {
		return false, err
	}
	res, err := l.cache.Exec(ctx, scriptNameIncr, prefixed, l.scriptArgs(weight)...)
	if err != nil {
		return false, err
	}
	return decodeVerdict(res)
}

// ViolatedRules reports, for each key in order and each rule in
// ruleset order, the rules whose current-bucket count is at or above
// its limit. It reads hash fields directly and never mutates state; a
// missing field is treated as "no violation", never reported.
func (l *Limiter) ViolatedRules(ctx context.Context, keys ...string) ([]RuleViolation, error) {
	_, prefixed, err := l.prepareKeys(keys)
	if err != nil {
		return nil, err
	}

	var out []RuleViolation
	for _, key := range prefixed {
		for _, rule := range l.rules.rules {
			val, ok, err := l.store.HGet(ctx, key, rule.countField())
			if err != nil {
				return nil, storeErr("hget", err)
			}
			if !ok {
				continue
			}
			if val >= rule.Limit {
				out = append(out, RuleViolation{Interval: rule.Interval, Limit: rule.Limit})
			}
		}
	}
	return out, nil
}

// LimitedKeys filters keys down to those that are currently limited,
// by invoking Check once per key. This is O(n) store round-trips,
// documented rather than optimized: nothing outside a single script
// invocation is guaranteed atomic.
func (l *Limiter) LimitedKeys(ctx context.Context, keys ...string) ([]string, error) {
	raw, _, err := l.prepareKeys(keys)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, key := range raw {
		limited, err := l.Check(ctx, key)
		if err != nil {
			return nil, err
		}
		if limited {
			out = append(out, key)
		}
	}
	return out, nil
}

// Keys returns every identifier known to the store under this
// Limiter's prefix, with the prefix stripped. The whitelist and
// blacklist set names are not filtered out; callers needing only
// identifier hashes must exclude them.
func (l *Limiter) Keys(ctx context.Context) ([]string, error) {
	pattern := l.namer.key("*", true)
	raw, err := l.store.Keys(ctx, pattern)
	if err != nil {
		return nil, storeErr("keys", err)
	}

	if l.namer.prefix == "" {
		return raw, nil
	}

	strip := l.namer.prefix + ":"
	out := make([]string, len(raw))
	for i, k := range raw {
		out[i] = strings.TrimPrefix(k, strip)
	}
	return out, nil
}

// Whitelist marks keys as always-allowed: for each key it removes the
// key from the blacklist set then adds it to the whitelist set. The
// two set mutations for one key are independent store calls, not one
// atomic unit, and the whole list is not grouped either: a failure
// partway through leaves earlier keys mutated.
func (l *Limiter) Whitelist(ctx context.Context, keys ...string) error {
	return l.moveKeys(ctx, keys, l.blacklistKey, l.whitelistKey)
}

// Unwhitelist removes keys from the whitelist set only.
func (l *Limiter) Unwhitelist(ctx context.Context, keys ...string) error {
	return l.removeKeys(ctx, keys, l.whitelistKey)
}

// Blacklist marks keys as always-denied: for each key it removes the
// key from the whitelist set then adds it to the blacklist set. Same
// non-atomic, non-grouped semantics as Whitelist.
func (l *Limiter) Blacklist(ctx context.Context, keys ...string) error {
	return l.moveKeys(ctx, keys, l.whitelistKey, l.blacklistKey)
}

// Unblacklist removes keys from the blacklist set only.
func (l *Limiter) Unblacklist(ctx context.Context, keys ...string) error {
	return l.removeKeys(ctx, keys, l.blacklistKey)
}

func (l *Limiter) moveKeys(ctx context.Context, keys []string, from, to string) error {
	_, prefixed, err := l.prepareKeys(keys)
	if err != nil {
		return err
	}
	for _, key := range prefixed {
		if err := l.store.SRem(ctx, from, key); err != nil {
			return storeErr("srem", err)
		}
		if err := l.store.SAdd(ctx, to, key); err != nil {
			return storeErr("sadd", err)
		}
	}
	return nil
}

func (l *Limiter) removeKeys(ctx context.Context, keys []string, from string) error {
	_, prefixed, err := l.prepareKeys(keys)
	if err != nil {
		return err
	}
	for _, key := range prefixed {
		if err := l.store.SRem(ctx, from, key); err != nil {
			return storeErr("srem", err)
		}
	}
	return nil
}
