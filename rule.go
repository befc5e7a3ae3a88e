package ratelimit

import (
	"encoding/json"
	"fmt"
	"time"
)

// Rule expresses "at most Limit units of weight per Interval seconds,
// measured in buckets of Precision seconds." Precision defaults to
// Interval when zero; the atomic scripts clamp it to
// min(Precision, Interval) so a rule set round-trips through JSON
// unchanged regardless of how it was constructed.
//
// Both durations are truncated to whole seconds when serialized; the
// protocol is second-granular by design, not millisecond-accurate.
type Rule struct {
	Interval  time.Duration
	Limit     int64
	Precision time.Duration // optional; 0 means "use Interval"
}

func (r Rule) validate() error {
	if r.Interval <= 0 {
		return &ConfigError{Msg: "rule interval must be positive"}
	}
	if r.Limit <= 0 {
		return &ConfigError{Msg: "rule limit must be positive"}
	}
	if r.Precision < 0 {
		return &ConfigError{Msg: "rule precision must not be negative"}
	}
	return nil
}

// clampedPrecision returns the precision the atomic scripts will
// actually use for this rule: Precision if set, otherwise Interval,
// clamped to never exceed Interval.
func (r Rule) clampedPrecision() time.Duration {
	if r.Precision <= 0 {
		return r.Interval
	}
	if r.Precision > r.Interval {
		return r.Interval
	}
	return r.Precision
}

func (r Rule) intervalSeconds() int64 {
	return int64(r.Interval / time.Second)
}

func (r Rule) precisionSeconds() int64 {
	return int64(r.clampedPrecision() / time.Second)
}

// countField is the hash field holding the cumulative weight in the
// currently-active bucket for this rule: "<interval>:<precision>:".
func (r Rule) countField() string {
	return fmt.Sprintf("%d:%d:", r.intervalSeconds(), r.precisionSeconds())
}

// ruleSet is the immutable, validated, ordered list of rules a
// Limiter was constructed with. It owns the JSON payload sent to the
// atomic scripts so the encoding happens exactly once.
type ruleSet struct {
	rules   []Rule
	payload string // cached JSON array-of-arrays, built once
}

func newRuleSet(rules []Rule) (*ruleSet, error) {
	if len(rules) == 0 {
		return nil, &ConfigError{Msg: "at least one rule is required"}
	}
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	for i, r := range cp {
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	payload, err := marshalRules(cp)
	if err != nil {
		return nil, &ConfigError{Msg: "rules could not be encoded: " + err.Error()}
	}
	return &ruleSet{rules: cp, payload: payload}, nil
}

// maxInterval returns the widest window among all rules. The increment
// script computes the same value on the store side and applies it as
// the TTL of an identifier's counter hash after every successful
// increment.
func (rs *ruleSet) maxInterval() time.Duration {
	max := rs.rules[0].Interval
	for _, r := range rs.rules[1:] {
		if r.Interval > max {
			max = r.Interval
		}
	}
	return max
}

// marshalRules serializes rules as a JSON array of numeric arrays:
// [interval, limit] or [interval, limit, precision] when an explicit
// precision was configured. Numbers are numeric, never quoted, matching
// the wire contract the atomic scripts decode with cjson.
func marshalRules(rules []Rule) (string, error) {
	out := make([][]int64, len(rules))
	for i, r := range rules {
		interval := int64(r.Interval / time.Second)
		if r.Precision > 0 {
			out[i] = []int64{interval, r.Limit, int64(r.Precision / time.Second)}
		} else {
			out[i] = []int64{interval, r.Limit}
		}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
