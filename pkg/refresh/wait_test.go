package refresh

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultWaitPolicy(t *testing.T) {
	p := DefaultWaitPolicy()

	if p.MaxAttempts != 20 {
		t.Errorf("MaxAttempts = %d, want 20", p.MaxAttempts)
	}
	if p.Interval != 50*time.Millisecond {
		t.Errorf("Interval = %v, want 50ms", p.Interval)
	}
	if p.Multiplier != 1.0 {
		t.Errorf("Multiplier = %v, want 1.0", p.Multiplier)
	}
}

func TestWaitPolicy_Backoff(t *testing.T) {
	tests := []struct {
		name    string
		policy  WaitPolicy
		attempt int
		want    time.Duration
	}{
		{
			name:    "constant",
			policy:  DefaultWaitPolicy(),
			attempt: 7,
			want:    50 * time.Millisecond,
		},
		{
			name:    "exponential",
			policy:  WaitPolicy{Interval: 10 * time.Millisecond, Multiplier: 2},
			attempt: 3,
			want:    40 * time.Millisecond,
		},
		{
			name:    "capped",
			policy:  WaitPolicy{Interval: 10 * time.Millisecond, Multiplier: 2, MaxInterval: 25 * time.Millisecond},
			attempt: 5,
			want:    25 * time.Millisecond,
		},
		{
			name:    "attempt below one",
			policy:  WaitPolicy{Interval: 10 * time.Millisecond, Multiplier: 2},
			attempt: 0,
			want:    10 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Backoff(tt.attempt); got != tt.want {
				t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestWaitPolicy_Jitter(t *testing.T) {
	p := WaitPolicy{Interval: 100 * time.Millisecond, Multiplier: 1, Jitter: 0.2}

	for i := 0; i < 100; i++ {
		d := p.Backoff(1)
		if d < 80*time.Millisecond || d > 120*time.Millisecond {
			t.Fatalf("Backoff with ±20%% jitter = %v, want within [80ms, 120ms]", d)
		}
	}
}

func TestWaitPolicy_Normalize(t *testing.T) {
	p := WaitPolicy{MaxAttempts: -1, Multiplier: 0.5, Jitter: 3}.normalize()

	if p.MaxAttempts != 20 {
		t.Errorf("MaxAttempts = %d, want 20", p.MaxAttempts)
	}
	if p.Interval != 50*time.Millisecond {
		t.Errorf("Interval = %v, want 50ms", p.Interval)
	}
	if p.Multiplier != 1 {
		t.Errorf("Multiplier = %v, want 1", p.Multiplier)
	}
	if p.Jitter != 1 {
		t.Errorf("Jitter = %v, want 1", p.Jitter)
	}
}

func TestWaitPolicy_Wait(t *testing.T) {
	p := WaitPolicy{Interval: 10 * time.Millisecond, Multiplier: 1}

	start := time.Now()
	if err := p.Wait(context.Background(), 1); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("Wait returned early")
	}
}

func TestWaitPolicy_WaitCancelled(t *testing.T) {
	p := WaitPolicy{Interval: time.Minute, Multiplier: 1}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Wait(ctx, 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestState_String(t *testing.T) {
	states := map[State]string{
		StateIdle:     "idle",
		StateLockWait: "lock_wait",
		StateFetching: "fetching",
		StateUpdating: "updating",
		StateError:    "error",
	}
	for s, want := range states {
		if s.String() != want {
			t.Errorf("State %q String() = %q", want, s.String())
		}
	}
}
