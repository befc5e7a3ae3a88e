package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestRule_ValidateRejectsNonPositiveInterval(t *testing.T) {
	r := Rule{Interval: 0, Limit: 1}
	var cfgErr *ConfigError
	if err := r.validate(); !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
}

func TestRule_ValidateRejectsNonPositiveLimit(t *testing.T) {
	r := Rule{Interval: time.Second, Limit: 0}
	if err := r.validate(); err == nil {
		t.Fatal("expected error for zero limit")
	}
}

func TestRule_ValidateRejectsNegativePrecision(t *testing.T) {
	r := Rule{Interval: time.Second, Limit: 1, Precision: -time.Second}
	if err := r.validate(); err == nil {
		t.Fatal("expected error for negative precision")
	}
}

func TestRule_ClampedPrecisionDefaultsToInterval(t *testing.T) {
	r := Rule{Interval: 10 * time.Second, Limit: 1}
	if got := r.clampedPrecision(); got != 10*time.Second {
		t.Fatalf("expected precision to default to interval, got %v", got)
	}
}

func TestRule_ClampedPrecisionNeverExceedsInterval(t *testing.T) {
	r := Rule{Interval: 10 * time.Second, Limit: 1, Precision: time.Minute}
	if got := r.clampedPrecision(); got != 10*time.Second {
		t.Fatalf("expected precision clamped to interval, got %v", got)
	}
}

func TestRule_ClampedPrecisionKeepsExplicitValue(t *testing.T) {
	r := Rule{Interval: time.Minute, Limit: 1, Precision: 10 * time.Second}
	if got := r.clampedPrecision(); got != 10*time.Second {
		t.Fatalf("expected explicit precision preserved, got %v", got)
	}
}

func TestRule_CountField(t *testing.T) {
	r := Rule{Interval: time.Minute, Limit: 1, Precision: 10 * time.Second}
	if got, want := r.countField(), "60:10:"; got != want {
		t.Fatalf("countField() = %q, want %q", got, want)
	}
}

func TestNewRuleSet_RejectsEmpty(t *testing.T) {
	if _, err := newRuleSet(nil); err == nil {
		t.Fatal("expected error for empty rule set")
	}
}

func TestNewRuleSet_RejectsInvalidRule(t *testing.T) {
	_, err := newRuleSet([]Rule{{Interval: time.Second, Limit: 1}, {Interval: 0, Limit: 1}})
	if err == nil {
		t.Fatal("expected error for invalid rule at index 1")
	}
}

func TestNewRuleSet_PayloadRoundTripsWithoutPrecision(t *testing.T) {
	rs, err := newRuleSet([]Rule{{Interval: time.Second, Limit: 5}})
	if err != nil {
		t.Fatalf("newRuleSet: %v", err)
	}
	if got, want := rs.payload, `[[1,5]]`; got != want {
		t.Fatalf("payload = %q, want %q", got, want)
	}
}

func TestNewRuleSet_PayloadIncludesExplicitPrecision(t *testing.T) {
	rs, err := newRuleSet([]Rule{{Interval: time.Minute, Limit: 5, Precision: 10 * time.Second}})
	if err != nil {
		t.Fatalf("newRuleSet: %v", err)
	}
	if got, want := rs.payload, `[[60,5,10]]`; got != want {
		t.Fatalf("payload = %q, want %q", got, want)
	}
}

func TestRuleSet_MaxInterval(t *testing.T) {
	rs, err := newRuleSet([]Rule{
		{Interval: time.Second, Limit: 1},
		{Interval: time.Hour, Limit: 1},
		{Interval: time.Minute, Limit: 1},
	})
	if err != nil {
		t.Fatalf("newRuleSet: %v", err)
	}
	if got := rs.maxInterval(); got != time.Hour {
		t.Fatalf("maxInterval() = %v, want %v", got, time.Hour)
	}
}
