package resilience

import (
	"errors"
	"testing"
	"time"
)

// speaker stands in for a synthesis vendor client in the chain.
type speaker struct {
	name  string
	err   error
	calls int
}

func (s *speaker) speak() error {
	s.calls++
	return s.err
}

func TestFallbackGroup_PrimaryHealthy(t *testing.T) {
	primary := &speaker{name: "elevenlabs"}
	standby := &speaker{name: "openai"}

	fg := NewFallbackGroup(primary, "elevenlabs", FallbackConfig{})
	fg.AddFallback("openai", standby)

	if err := fg.Execute(func(s *speaker) error { return s.speak() }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.calls != 1 {
		t.Errorf("primary calls = %d, want 1", primary.calls)
	}
	if standby.calls != 0 {
		t.Errorf("standby calls = %d, want 0", standby.calls)
	}
}

func TestFallbackGroup_FailsOverToStandby(t *testing.T) {
	primary := &speaker{name: "elevenlabs", err: errVendorDown}
	standby := &speaker{name: "openai"}

	fg := NewFallbackGroup(primary, "elevenlabs", FallbackConfig{})
	fg.AddFallback("openai", standby)

	if err := fg.Execute(func(s *speaker) error { return s.speak() }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.calls != 1 {
		t.Errorf("primary calls = %d, want 1", primary.calls)
	}
	if standby.calls != 1 {
		t.Errorf("standby calls = %d, want 1", standby.calls)
	}
}

func TestFallbackGroup_AllVendorsFail(t *testing.T) {
	primary := &speaker{name: "elevenlabs", err: errVendorDown}
	standby := &speaker{name: "openai", err: errors.New("quota exceeded")}

	fg := NewFallbackGroup(primary, "elevenlabs", FallbackConfig{})
	fg.AddFallback("openai", standby)

	err := fg.Execute(func(s *speaker) error { return s.speak() })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	// The wrapped error carries the last vendor's failure.
	if got := err.Error(); got == ErrAllFailed.Error() {
		t.Errorf("error %q should include the underlying cause", got)
	}
}

func TestFallbackGroup_OpenCircuitSkipsToStandby(t *testing.T) {
	primary := &speaker{name: "elevenlabs", err: errVendorDown}
	standby := &speaker{name: "openai"}

	fg := NewFallbackGroup(primary, "elevenlabs", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: time.Hour,
		},
	})
	fg.AddFallback("openai", standby)

	// Trip the primary's breaker.
	for i := 0; i < 2; i++ {
		if err := fg.Execute(func(s *speaker) error { return s.speak() }); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	primaryCalls := primary.calls

	// Further calls must go straight to the standby.
	if err := fg.Execute(func(s *speaker) error { return s.speak() }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.calls != primaryCalls {
		t.Errorf("primary was called with an open circuit (%d -> %d)", primaryCalls, primary.calls)
	}
	if standby.calls != 3 {
		t.Errorf("standby calls = %d, want 3", standby.calls)
	}
}

func TestExecuteWithResult_ReturnsValue(t *testing.T) {
	fg := NewFallbackGroup(&speaker{name: "elevenlabs"}, "elevenlabs", FallbackConfig{})

	got, err := ExecuteWithResult(fg, func(s *speaker) (string, error) {
		return s.name, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "elevenlabs" {
		t.Errorf("result = %q, want %q", got, "elevenlabs")
	}
}

func TestExecuteWithResult_FailsOver(t *testing.T) {
	primary := &speaker{name: "elevenlabs", err: errVendorDown}
	standby := &speaker{name: "openai"}

	fg := NewFallbackGroup(primary, "elevenlabs", FallbackConfig{})
	fg.AddFallback("openai", standby)

	got, err := ExecuteWithResult(fg, func(s *speaker) (string, error) {
		if err := s.speak(); err != nil {
			return "", err
		}
		return s.name, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "openai" {
		t.Errorf("result = %q, want %q", got, "openai")
	}
}

func TestExecuteWithResult_AllFail(t *testing.T) {
	primary := &speaker{name: "elevenlabs", err: errVendorDown}

	fg := NewFallbackGroup(primary, "elevenlabs", FallbackConfig{})

	_, err := ExecuteWithResult(fg, func(s *speaker) (string, error) {
		return "", s.speak()
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
