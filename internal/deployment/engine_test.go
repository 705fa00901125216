package deployment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/risedotdev/rise/internal/db"
)

func TestTerminalStatusForReason(t *testing.T) {
	reason := func(s string) *string { return &s }

	tests := []struct {
		name   string
		reason *string
		want   string
	}{
		{"nil reason defaults to stopped", nil, db.StatusStopped},
		{"superseded", reason(db.ReasonSuperseded), db.StatusSuperseded},
		{"expired", reason(db.ReasonExpired), db.StatusExpired},
		{"failed", reason(db.ReasonFailed), db.StatusFailed},
		{"user stopped", reason(db.ReasonUserStopped), db.StatusStopped},
		{"unrecognized reason falls back to stopped", reason("something-new"), db.StatusStopped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := terminalStatusForReason(tt.reason); got != tt.want {
				t.Errorf("terminalStatusForReason(%v) = %q, want %q", tt.reason, got, tt.want)
			}
		})
	}
}

func TestEngineRetry_SucceedsWithoutRetrying(t *testing.T) {
	e := &Engine{maxAttempts: 3, backoffBase: time.Millisecond}

	calls := 0
	err := e.retry(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("retry() = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestEngineRetry_RetriesThenSucceeds(t *testing.T) {
	e := &Engine{maxAttempts: 3, backoffBase: time.Millisecond}

	calls := 0
	err := e.retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestEngineRetry_ExhaustsBudget(t *testing.T) {
	e := &Engine{maxAttempts: 3, backoffBase: time.Millisecond}

	calls := 0
	wantErr := errors.New("still failing")
	err := e.retry(context.Background(), func() error {
		calls++
		return wantErr
	})
	if err == nil {
		t.Fatal("retry() = nil, want error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("retry() error does not wrap %v: %v", wantErr, err)
	}
}

func TestEngineRetry_RespectsContextCancellation(t *testing.T) {
	e := &Engine{maxAttempts: 5, backoffBase: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := e.retry(ctx, func() error {
		calls++
		return errors.New("boom")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("retry() = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (cancelled during first backoff wait)", calls)
	}
}
