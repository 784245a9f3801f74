package fault

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func Test_KindOf(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"invalid", Invalid("op", "bad doc_id"), KindInvalid},
		{"transient", Transient("op", errors.New("conn refused")), KindTransient},
		{"rate_limited", RateLimited("op", time.Second, errors.New("429")), KindRateLimited},
		{"exhausted", Exhausted("op", errors.New("gave up")), KindExhausted},
		{"wrapped", fmt.Errorf("outer: %w", Invalid("op", "bad")), KindInvalid},
		{"unclassified defaults to transient", errors.New("plain"), KindTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Errorf("KindOf = %v, want %v", got, tc.want)
			}
		})
	}
}

func Test_Retryable(t *testing.T) {
	t.Parallel()
	if Retryable(Invalid("op", "bad")) {
		t.Error("invalid must not be retryable")
	}
	if Retryable(Exhausted("op", errors.New("done"))) {
		t.Error("exhausted must not be retryable")
	}
	if !Retryable(Transient("op", errors.New("net"))) {
		t.Error("transient must be retryable")
	}
	if !Retryable(RateLimited("op", 0, errors.New("429"))) {
		t.Error("rate_limited must be retryable")
	}
}

func Test_RetryHint(t *testing.T) {
	t.Parallel()
	err := RateLimited("op", 3*time.Second, errors.New("429"))
	if got := RetryHint(fmt.Errorf("wrap: %w", err)); got != 3*time.Second {
		t.Errorf("RetryHint = %v, want 3s", got)
	}
	if got := RetryHint(errors.New("plain")); got != 0 {
		t.Errorf("RetryHint on plain error = %v, want 0", got)
	}
}

func Test_ErrorString(t *testing.T) {
	t.Parallel()
	err := Transient("vecstore.search", errors.New("dial tcp: refused"))
	want := "vecstore.search: transient: dial tcp: refused"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
