package stterror

import (
	"errors"
	"fmt"
	"testing"
)

func TestSeverityMapping(t *testing.T) {
	cases := []struct {
		t    ErrorType
		want Severity
	}{
		{TypeInitialization, SeverityCritical},
		{TypeAuthentication, SeverityCritical},
		{TypeQuotaExceeded, SeverityHigh},
		{TypeInvalidRequest, SeverityHigh},
		{TypeProvider, SeverityHigh},
		{TypeConnection, SeverityMedium},
		{TypeNetwork, SeverityMedium},
		{TypeRateLimit, SeverityMedium},
		{TypeUnknown, SeverityMedium},
		{TypeTimeout, SeverityLow},
	}
	for _, c := range cases {
		e := New(c.t, "p", "op", "msg")
		if e.Severity != c.want {
			t.Errorf("%s: expected severity %s, got %s", c.t, c.want, e.Severity)
		}
	}
}

func TestRetryablePolicy(t *testing.T) {
	retryable := map[ErrorType]bool{
		TypeConnection: true,
		TypeNetwork:    true,
		TypeTimeout:    true,
		TypeRateLimit:  true,
	}
	all := []ErrorType{
		TypeInitialization, TypeConnection, TypeAuthentication, TypeRateLimit,
		TypeQuotaExceeded, TypeInvalidRequest, TypeProvider, TypeNetwork,
		TypeTimeout, TypeUnknown,
	}
	for _, typ := range all {
		e := New(typ, "p", "op", "msg")
		if e.Retryable != retryable[typ] {
			t.Errorf("%s: expected retryable=%v, got %v", typ, retryable[typ], e.Retryable)
		}
		if e.IsCritical() && e.Retryable {
			t.Errorf("%s: critical errors must never be retryable", typ)
		}
	}
}

func TestClassify_Patterns(t *testing.T) {
	cases := []struct {
		msg  string
		want ErrorType
	}{
		{"rpc error: code = Unauthenticated desc = bad credentials", TypeAuthentication},
		{"permission denied", TypeAuthentication},
		{"quota exceeded for project", TypeQuotaExceeded},
		{"too many requests", TypeRateLimit},
		{"context deadline exceeded", TypeTimeout},
		{"dial tcp: connection refused", TypeConnection},
		{"read: connection reset by peer", TypeConnection},
		{"write: broken pipe", TypeConnection},
		{"lookup api.example.com: no such host", TypeNetwork},
		{"transport is unavailable", TypeNetwork},
		{"invalid audio encoding", TypeInvalidRequest},
		{"something inexplicable", TypeUnknown},
	}
	for _, c := range cases {
		e := Classify(errors.New(c.msg), "p", "op")
		if e.Type != c.want {
			t.Errorf("%q: expected type %s, got %s", c.msg, c.want, e.Type)
		}
	}
}

func TestClassify_PassThrough(t *testing.T) {
	orig := New(TypeRateLimit, "p", "op", "slow down")
	got := Classify(fmt.Errorf("wrapped: %w", orig), "other", "elsewhere")
	if got != orig {
		t.Error("already classified errors must pass through unchanged")
	}
}

func TestWrap_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	e := Wrap(TypeNetwork, "p", "op", cause)
	if !errors.Is(e, cause) {
		t.Error("wrapped error must expose its cause")
	}
	if e.Message != "root cause" {
		t.Errorf("expected message from cause, got %q", e.Message)
	}
}
