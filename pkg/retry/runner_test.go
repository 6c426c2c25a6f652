package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunnerSuccessFirstAttempt(t *testing.T) {
	runner := NewRunner(DefaultConfig())

	calls := 0
	err := runner.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRunnerRetryOnFailure(t *testing.T) {
	config := Config{
		MaxAttempts:   3,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      100 * time.Millisecond,
		BackoffFactor: 2.0,
	}
	runner := NewRunner(config)

	calls := 0
	start := time.Now()
	err := runner.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}

	// Should have taken at least some time for retries
	minExpected := 10*time.Millisecond + 20*time.Millisecond // first retry + second retry
	if elapsed < minExpected {
		t.Errorf("expected at least %v for retries, got %v", minExpected, elapsed)
	}
}

func TestRunnerRecoversOnLaterAttempt(t *testing.T) {
	config := Config{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		BackoffFactor: 2.0,
	}
	runner := NewRunner(config)

	calls := 0
	err := runner.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestRunnerContextCancellation(t *testing.T) {
	config := Config{
		MaxAttempts:   5,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      1 * time.Second,
		BackoffFactor: 2.0,
	}
	runner := NewRunner(config)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := runner.Do(ctx, func(ctx context.Context) error {
		return errors.New("always fails")
	})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected context cancellation error")
	}

	// Should respect context timeout
	if elapsed > 200*time.Millisecond {
		t.Errorf("took too long: %v", elapsed)
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("expected MaxAttempts=3, got %d", config.MaxAttempts)
	}
	if config.InitialDelay != 100*time.Millisecond {
		t.Errorf("expected InitialDelay=100ms, got %v", config.InitialDelay)
	}
}
