// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package supervisor provides crash-loop detection for the Orchestrator's
// long-lived worker goroutines (spec.md §5's five execution contexts).
// Unlike a bare restart counter, it tracks HOW a worker exited and only
// counts actual crashes (panics, errors other than a requested shutdown)
// toward the safe-mode threshold — retargeted from the teacher's
// process-level, signal-based crash detection to goroutine-level,
// panic/error-based detection, since there is no child process or signal
// to observe here.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ibnctl/ibnctl/internal/logging"
)

const (
	DefaultThreshold = 3
	DefaultWindow    = 5 * time.Minute
	restartBackoff   = 1 * time.Second
)

// Config holds supervisor configuration.
type Config struct {
	Threshold int
	Window    time.Duration
}

func DefaultConfig() Config {
	return Config{Threshold: DefaultThreshold, Window: DefaultWindow}
}

// CrashEvent records a single worker exit.
type CrashEvent struct {
	Worker    string
	Err       error
	WasPanic  bool
	Timestamp time.Time
}

// IsCrash reports whether this exit counts toward the safe-mode
// threshold. A worker that returns because its context was canceled (the
// global shutdown signal, spec.md §5) exited cleanly; anything else —
// panic or error — is a crash.
func (e CrashEvent) IsCrash() bool {
	if e.WasPanic {
		return true
	}
	return e.Err != nil && !errors.Is(e.Err, context.Canceled)
}

// Supervisor tracks worker crash history within a sliding window and
// decides when to trip safe mode. State lives in memory for the lifetime
// of one Orchestrator process — a fresh start naturally clears it, unlike
// the teacher's disk-persisted state, which has to survive the whole
// daemon process being killed and relaunched by init.
type Supervisor struct {
	config Config
	logger *logging.Logger

	mu     sync.Mutex
	events []CrashEvent
}

func New(config Config, logger *logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &Supervisor{config: config, logger: logger}
}

// RecordExit records a worker's exit.
func (s *Supervisor) RecordExit(worker string, err error, wasPanic bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, CrashEvent{Worker: worker, Err: err, WasPanic: wasPanic, Timestamp: time.Now()})
	s.pruneLocked()
}

// ShouldEnterSafeMode reports whether the crash count within the window
// has reached the threshold, across all supervised workers.
func (s *Supervisor) ShouldEnterSafeMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()

	count := 0
	for _, e := range s.events {
		if e.IsCrash() {
			count++
		}
	}
	return count >= s.config.Threshold
}

// Reset clears crash history, called after a stable-uptime window.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// StartStabilityTimer clears crash history after Window of uptime,
// mirroring the teacher's stability-timer idiom.
func (s *Supervisor) StartStabilityTimer(ctx context.Context) {
	go func() {
		select {
		case <-time.After(s.config.Window):
			s.Reset()
		case <-ctx.Done():
		}
	}()
}

func (s *Supervisor) pruneLocked() {
	cutoff := time.Now().Add(-s.config.Window)
	filtered := s.events[:0]
	for _, e := range s.events {
		if e.Timestamp.After(cutoff) {
			filtered = append(filtered, e)
		}
	}
	s.events = filtered
}

// Supervise runs fn in a restart loop, recovering panics and recording
// every exit. It stops restarting (without error) once ctx is done, and
// stops restarting with onSafeMode invoked once the crash threshold
// trips — at that point the worker is abandoned and the Orchestrator is
// expected to reject new submissions while continuing to enforce already
// applied state (spec.md §4.8's degraded-mode carve-out).
func (s *Supervisor) Supervise(ctx context.Context, worker string, fn func(context.Context) error, onSafeMode func()) {
	for {
		err, wasPanic := s.runOnce(ctx, fn)
		s.RecordExit(worker, err, wasPanic)

		if ctx.Err() != nil {
			return
		}
		if wasPanic {
			s.logger.Error("worker panicked", "worker", worker, "error", err)
		} else if err != nil {
			s.logger.Warn("worker exited with error", "worker", worker, "error", err)
		} else {
			return // clean, voluntary exit; nothing to restart
		}

		if s.ShouldEnterSafeMode() {
			s.logger.Error("crash threshold reached, entering safe mode", "worker", worker)
			if onSafeMode != nil {
				onSafeMode()
			}
			return
		}

		select {
		case <-time.After(restartBackoff):
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, fn func(context.Context) error) (err error, wasPanic bool) {
	defer func() {
		if r := recover(); r != nil {
			wasPanic = true
			err = panicError{r}
		}
	}()
	return fn(ctx), false
}

type panicError struct{ v any }

func (p panicError) Error() string {
	if e, ok := p.v.(error); ok {
		return e.Error()
	}
	return "panic: " + toString(p.v)
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "non-string panic value"
}
