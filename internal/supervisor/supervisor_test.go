// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCrashEvent_IsCrash(t *testing.T) {
	tests := []struct {
		name     string
		event    CrashEvent
		expected bool
	}{
		{name: "clean cancellation", event: CrashEvent{Err: context.Canceled}, expected: false},
		{name: "no error", event: CrashEvent{}, expected: false},
		{name: "panic", event: CrashEvent{WasPanic: true}, expected: true},
		{name: "ordinary error", event: CrashEvent{Err: errors.New("boom")}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.IsCrash(); got != tt.expected {
				t.Errorf("IsCrash() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSupervisor_ShouldEnterSafeMode(t *testing.T) {
	sup := New(Config{Threshold: 3, Window: time.Minute}, nil)

	if sup.ShouldEnterSafeMode() {
		t.Error("ShouldEnterSafeMode() should be false with no crashes")
	}

	sup.RecordExit("enforcer", errors.New("boom"), false)
	sup.RecordExit("enforcer", nil, true)
	if sup.ShouldEnterSafeMode() {
		t.Error("ShouldEnterSafeMode() should be false with 2 crashes")
	}

	sup.RecordExit("enforcer", context.Canceled, false)
	if sup.ShouldEnterSafeMode() {
		t.Error("clean cancellation should not count toward safe mode")
	}

	sup.RecordExit("feedback", errors.New("boom again"), false)
	if !sup.ShouldEnterSafeMode() {
		t.Error("ShouldEnterSafeMode() should be true at threshold, across workers")
	}
}

func TestSupervisor_Reset(t *testing.T) {
	sup := New(Config{Threshold: 3, Window: time.Minute}, nil)

	sup.RecordExit("enforcer", errors.New("a"), false)
	sup.RecordExit("enforcer", errors.New("b"), false)
	sup.RecordExit("enforcer", errors.New("c"), false)

	if !sup.ShouldEnterSafeMode() {
		t.Fatal("should be in safe mode before reset")
	}

	sup.Reset()

	if sup.ShouldEnterSafeMode() {
		t.Error("should not be in safe mode after reset")
	}
}

func TestSupervisor_PruneOldEvents(t *testing.T) {
	window := 100 * time.Millisecond
	sup := New(Config{Threshold: 3, Window: window}, nil)

	sup.RecordExit("enforcer", errors.New("old"), false)
	time.Sleep(150 * time.Millisecond)
	sup.RecordExit("enforcer", context.Canceled, false)

	if sup.ShouldEnterSafeMode() {
		t.Error("expected old crash to be pruned out of the window")
	}
}

func TestSupervise_RestartsOnError(t *testing.T) {
	sup := New(Config{Threshold: 3, Window: time.Minute}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	done := make(chan struct{})
	go func() {
		sup.Supervise(ctx, "worker", func(ctx context.Context) error {
			attempts++
			if attempts < 2 {
				return errors.New("transient")
			}
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Supervise did not return after context cancellation")
	}

	if attempts < 2 {
		t.Errorf("expected at least 2 attempts, got %d", attempts)
	}
}

func TestSupervise_TripsSafeModeAfterThreshold(t *testing.T) {
	sup := New(Config{Threshold: 2, Window: time.Minute}, nil)
	ctx := context.Background()

	safeModeCalled := false
	sup.Supervise(ctx, "worker", func(ctx context.Context) error {
		return errors.New("always fails")
	}, func() {
		safeModeCalled = true
	})

	if !safeModeCalled {
		t.Error("expected onSafeMode callback to fire once threshold was crossed")
	}
	if !sup.ShouldEnterSafeMode() {
		t.Error("expected supervisor to remain in safe mode")
	}
}

func TestSupervise_RecoversFromPanic(t *testing.T) {
	sup := New(Config{Threshold: 3, Window: time.Minute}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan struct{})
	go func() {
		sup.Supervise(ctx, "worker", func(ctx context.Context) error {
			calls++
			if calls == 1 {
				panic("boom")
			}
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Supervise did not return after context cancellation")
	}

	if calls < 2 {
		t.Errorf("expected panic to be recovered and worker restarted, got %d calls", calls)
	}
}
