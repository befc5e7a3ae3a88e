package ratelimit

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

// MemStore is an in-process StoreClient, useful for tests and for
// examples that want to exercise a Limiter without a real store. It
// recognizes exactly the two atomic scripts this package ships and
// reproduces their semantics natively in Go; it is not a general Lua
// sandbox and EvalByBody rejects any other script body.
type MemStore struct {
	mu      sync.Mutex
	hashes  map[string]map[string]int64
	sets    map[string]map[string]struct{}
	scripts map[string]string // sha -> recognized body
	forgot  map[string]bool   // sha -> simulate NOSCRIPT once
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		hashes:  make(map[string]map[string]int64),
		sets:    make(map[string]map[string]struct{}),
		scripts: make(map[string]string),
		forgot:  make(map[string]bool),
	}
}

// Forget simulates the store evicting a cached script, so the next
// EvalByHash for sha returns ErrScriptNotCached exactly once. It is a
// test hook for exercising ScriptCache's EVALSHA-then-EVAL fallback.
func (s *MemStore) Forget(sha string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgot[sha] = true
}

// EvalByBody evaluates body directly and caches it under its SHA-1
// digest, matching how a real store caches a script as a side effect
// of EVAL.
func (s *MemStore) EvalByBody(ctx context.Context, body string, keys []string, args ...any) (int64, error) {
	sum := sha1.Sum([]byte(body))
	sha := hex.EncodeToString(sum[:])

	s.mu.Lock()
	s.scripts[sha] = body
	delete(s.forgot, sha)
	s.mu.Unlock()

	return s.run(body, keys, args)
}

// EvalByHash evaluates the script previously cached under sha.
func (s *MemStore) EvalByHash(ctx context.Context, sha string, keys []string, args ...any) (int64, error) {
	s.mu.Lock()
	body, ok := s.scripts[sha]
	forgotten := s.forgot[sha]
	if forgotten {
		delete(s.forgot, sha)
	}
	s.mu.Unlock()

	if !ok || forgotten {
		return 0, ErrScriptNotCached
	}
	return s.run(body, keys, args)
}

func (s *MemStore) run(body string, keys []string, args []any) (int64, error) {
	switch body {
	case scriptCheckRateLimit:
		return s.evalCheck(keys, args)
	case scriptCheckLimitIncr:
		return s.evalIncr(keys, args)
	default:
		return 0, fmt.Errorf("ratekeeper: memstore does not recognize this script body")
	}
}

type memRule struct {
	interval  int64
	limit     int64
	precision int64
}

func parseRulesPayload(payload string) ([]memRule, error) {
	var raw [][]int64
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, err
	}
	rules := make([]memRule, len(raw))
	for i, r := range raw {
		if len(r) < 2 {
			return nil, fmt.Errorf("ratekeeper: malformed rule payload at index %d", i)
		}
		interval, limit := r[0], r[1]
		precision := interval
		if len(r) >= 3 && r[2] > 0 && r[2] <= interval {
			precision = r[2]
		}
		rules[i] = memRule{interval: interval, limit: limit, precision: precision}
	}
	return rules, nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func memCountField(r memRule) string {
	return fmt.Sprintf("%d:%d:", r.interval, r.precision)
}

func memBucketField(r memRule, bucket int64) string {
	return fmt.Sprintf("%d:%d:%d", r.interval, r.precision, bucket)
}

// expireStaleBuckets subtracts bucket fields older than
// windowStartBucket for the given rule from the count and returns it,
// mirroring the aging step both atomic scripts perform before comparing
// a count against its limit. With mutate set, the stale fields are also
// deleted and the stored count field is lowered to match.
func (s *MemStore) expireStaleBuckets(key string, r memRule, windowStartBucket int64, mutate bool) int64 {
	fields := s.hashes[key]
	count := fields[memCountField(r)]

	prefix := fmt.Sprintf("%d:%d:", r.interval, r.precision)
	var stale []string
	for field := range fields {
		if !strings.HasPrefix(field, prefix) {
			continue
		}
		suffix := field[len(prefix):]
		if suffix == "" {
			continue // the count field itself, not a bucket
		}
		var bucket int64
		if _, err := fmt.Sscanf(suffix, "%d", &bucket); err != nil {
			continue
		}
		if bucket < windowStartBucket {
			count -= fields[field]
			stale = append(stale, field)
		}
	}
	if count < 0 {
		count = 0
	}
	if mutate {
		sort.Strings(stale) // deterministic order; no observable effect on result
		for _, field := range stale {
			delete(fields, field)
		}
		if len(stale) > 0 {
			fields[memCountField(r)] = count
		}
	}
	return count
}

func (s *MemStore) isMember(set, member string) bool {
	members := s.sets[set]
	if members == nil {
		return false
	}
	_, ok := members[member]
	return ok
}

func (s *MemStore) evalCheck(keys []string, args []any) (int64, error) {
	rules, now, _, whitelistKey, blacklistKey, err := unpackScriptArgs(args)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		if s.isMember(whitelistKey, key) {
			return 0, nil
		}
	}
	for _, key := range keys {
		if s.isMember(blacklistKey, key) {
			return 2, nil
		}
	}

	for _, key := range keys {
		for _, r := range rules {
			windowStart := floorDiv(now-r.interval, r.precision)
			count := s.expireStaleBuckets(key, r, windowStart, false)
			if count >= r.limit {
				return 1, nil
			}
		}
	}
	return 0, nil
}

func (s *MemStore) evalIncr(keys []string, args []any) (int64, error) {
	rules, now, weight, whitelistKey, blacklistKey, err := unpackScriptArgs(args)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		if s.isMember(whitelistKey, key) {
			return 0, nil
		}
	}
	for _, key := range keys {
		if s.isMember(blacklistKey, key) {
			return 2, nil
		}
	}

	for _, key := range keys {
		for _, r := range rules {
			windowStart := floorDiv(now-r.interval, r.precision)
			count := s.expireStaleBuckets(key, r, windowStart, false)
			if count >= r.limit {
				return 1, nil
			}
		}
	}

	for _, key := range keys {
		if s.hashes[key] == nil {
			s.hashes[key] = make(map[string]int64)
		}
		for _, r := range rules {
			windowStart := floorDiv(now-r.interval, r.precision)
			count := s.expireStaleBuckets(key, r, windowStart, true)

			if count+weight > r.limit {
				return 1, nil
			}
		}
	}

	for _, key := range keys {
		fields := s.hashes[key]
		for _, r := range rules {
			nowBucket := floorDiv(now, r.precision)
			fields[memBucketField(r, nowBucket)] += weight
			fields[memCountField(r)] += weight
		}
	}
	return 0, nil
}

func unpackScriptArgs(args []any) (rules []memRule, now, weight int64, whitelistKey, blacklistKey string, err error) {
	if len(args) != 5 {
		return nil, 0, 0, "", "", fmt.Errorf("ratekeeper: memstore expected 5 script args, got %d", len(args))
	}
	payload, ok := args[0].(string)
	if !ok {
		return nil, 0, 0, "", "", fmt.Errorf("ratekeeper: memstore arg 0 must be a string")
	}
	rules, err = parseRulesPayload(payload)
	if err != nil {
		return nil, 0, 0, "", "", err
	}
	now, err = toInt64Arg(args[1])
	if err != nil {
		return nil, 0, 0, "", "", err
	}
	weight, err = toInt64Arg(args[2])
	if err != nil {
		return nil, 0, 0, "", "", err
	}
	whitelistKey, _ = args[3].(string)
	blacklistKey, _ = args[4].(string)
	return rules, now, weight, whitelistKey, blacklistKey, nil
}

func toInt64Arg(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("ratekeeper: memstore expected a numeric arg, got %T", v)
	}
}

// HGet reads a single hash field.
func (s *MemStore) HGet(ctx context.Context, key, field string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.hashes[key]
	if !ok {
		return 0, false, nil
	}
	v, ok := fields[field]
	return v, ok, nil
}

// Keys lists stored hash and set names matching a shell-style glob
// pattern. Pattern matching uses path.Match, which is close enough to
// a store's KEYS glob for a single-process test double; unlike a
// store's glob, its * and ? never match a '/'.
func (s *MemStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for k := range s.hashes {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	for k := range s.sets {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// SAdd adds member to set.
func (s *MemStore) SAdd(ctx context.Context, set, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sets[set] == nil {
		s.sets[set] = make(map[string]struct{})
	}
	s.sets[set][member] = struct{}{}
	return nil
}

// SRem removes member from set.
func (s *MemStore) SRem(ctx context.Context, set, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sets[set], member)
	return nil
}

var _ StoreClient = (*MemStore)(nil)
