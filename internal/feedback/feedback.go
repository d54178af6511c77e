// Package feedback implements the closed-loop goal evaluator: each tick it
// compares the running aggregate of a device metric against the Intent's
// declared Goal and, outside tolerance, emits a bounded corrective Intent,
// per spec.md §4.6.
package feedback

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/ibnctl/ibnctl/internal/logging"
	"github.com/ibnctl/ibnctl/internal/model"
	"github.com/ibnctl/ibnctl/internal/store"
)

const (
	DefaultPeriod    = 15 * time.Second
	DefaultTolerance = 0.10
	stepFraction     = 0.10
	oscillationTrip  = 3
	hysteresisTicks  = 10
	ringSize         = 3
)

// goalStore is the slice of *store.Store the Controller needs.
type goalStore interface {
	ActiveGoalIntents() ([]model.Intent, error)
	SamplesInWindow(metricName, deviceID string, window time.Duration, now time.Time) ([]model.MetricSample, error)
	UpdateIntentStatus(ctx context.Context, id string, status model.IntentStatus, warning string) error
	SetHysteresisBlock(ctx context.Context, intentID string, untilTick int64) error
}

// Submitter runs a ParsedIntent through the same Compiler/Enforcer path a
// user submission takes (spec.md §4.6 step 4). The Orchestrator supplies
// the concrete implementation; feedback only needs this narrow seam so it
// never has to import the Orchestrator (and by extension, the Enforcers).
type Submitter interface {
	SubmitParsed(ctx context.Context, parsed model.ParsedIntent, submitter, parentIntentID string) (model.Intent, []model.Policy, error)
}

// oscillationTracker records the last few satisfied/violated transitions
// for one Intent so the Controller can detect the damping condition.
type oscillationTracker struct {
	last        model.IntentStatus
	transitions []model.IntentStatus
	streak      int
}

// Controller runs the ticker-driven evaluation loop. Shaped directly on
// the teacher's internal/monitor/service.go: a stopCh/WaitGroup pair
// guarding a ticker loop, same shutdown drain, different per-tick body.
type Controller struct {
	store     goalStore
	submit    Submitter
	logger    *logging.Logger
	period    time.Duration
	tolerance float64

	stopCh chan struct{}
	wg     sync.WaitGroup
	tick   int64

	mu      sync.Mutex
	history map[string]*oscillationTracker
}

// Config configures a Controller. Zero values take the spec defaults.
type Config struct {
	Period    time.Duration
	Tolerance float64
}

func New(s goalStore, submit Submitter, cfg Config, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	period := cfg.Period
	if period <= 0 {
		period = DefaultPeriod
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Controller{
		store:     s,
		submit:    submit,
		logger:    logger,
		period:    period,
		tolerance: tolerance,
		stopCh:    make(chan struct{}),
		history:   make(map[string]*oscillationTracker),
	}
}

// Start begins the ticker loop in a background goroutine.
func (c *Controller) Start() {
	c.logger.Info("starting feedback controller", "period", c.period)
	c.wg.Add(1)
	go c.run()
}

// Stop signals the loop to exit and waits for it to drain.
func (c *Controller) Stop() {
	close(c.stopCh)
	c.wg.Wait()
	c.logger.Info("feedback controller stopped")
}

func (c *Controller) run() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.tick++
			c.runTick()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Controller) runTick() {
	intents, err := c.store.ActiveGoalIntents()
	if err != nil {
		c.logger.Warn("feedback: failed to list active goal intents", "error", err)
		return
	}
	for _, intent := range intents {
		c.evaluate(intent)
	}
}

func (c *Controller) evaluate(intent model.Intent) {
	goal := intent.Goal
	if goal == nil {
		return
	}

	window := goal.Window
	if window <= 0 {
		window = 2 * c.period
	}

	deviceID := singleDeviceTarget(intent.Parsed.TargetSelector)
	samples, err := c.store.SamplesInWindow(goal.Metric, deviceID, window, time.Now())
	if err != nil {
		c.logger.Warn("feedback: metric query failed", "intent", intent.ID, "metric", goal.Metric, "error", err)
		return
	}

	value, err := store.Aggregate(samples, goal.Aggregate)
	if err != nil {
		c.logger.Debug("feedback: no samples in window yet", "intent", intent.ID, "metric", goal.Metric)
		return
	}

	satisfied := withinTolerance(value, *goal, c.tolerance)
	query := RenderQuery(goal.Metric, goal.Aggregate, window)
	c.logger.Debug("feedback evaluated goal", "intent", intent.ID, "query", query, "value", value, "satisfied", satisfied)

	newStatus := model.StatusViolated
	if satisfied {
		newStatus = model.StatusSatisfied
	}

	ctx := context.Background()
	tracker := c.trackerFor(intent.ID, intent.Status)
	transitioned := tracker.last != newStatus
	tracker.last = newStatus

	if transitioned {
		tracker.transitions = append(tracker.transitions, newStatus)
		if len(tracker.transitions) > ringSize {
			tracker.transitions = tracker.transitions[len(tracker.transitions)-ringSize:]
		}

		if isOscillating(tracker.transitions) {
			tracker.streak++
			if tracker.streak >= oscillationTrip {
				untilTick := c.tick + hysteresisTicks
				if err := c.store.SetHysteresisBlock(ctx, intent.ID, untilTick); err != nil {
					c.logger.Warn("feedback: failed to record hysteresis block", "intent", intent.ID, "error", err)
				} else {
					c.logger.Info("feedback: damping corrective emission", "intent", intent.ID, "until_tick", untilTick)
					intent.HysteresisBlockedUntilTick = untilTick
				}
				tracker.streak = 0
				tracker.transitions = nil
			}
		}
	}

	if newStatus != intent.Status {
		if err := c.store.UpdateIntentStatus(ctx, intent.ID, newStatus, ""); err != nil {
			c.logger.Warn("feedback: failed to update intent status", "intent", intent.ID, "error", err)
			return
		}
	}

	if newStatus != model.StatusViolated {
		return
	}
	if intent.HysteresisBlockedUntilTick > c.tick {
		c.logger.Debug("feedback: corrective emission damped", "intent", intent.ID)
		return
	}

	corrective, ok := boundedStep(intent.Parsed, *goal, value)
	if !ok {
		return
	}
	if _, _, err := c.submit.SubmitParsed(ctx, corrective, "feedback", intent.ID); err != nil {
		c.logger.Warn("feedback: corrective submission failed", "intent", intent.ID, "error", err)
	}
}

func (c *Controller) trackerFor(intentID string, current model.IntentStatus) *oscillationTracker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.history[intentID]
	if !ok {
		t = &oscillationTracker{last: current}
		c.history[intentID] = t
	}
	return t
}

// isOscillating reports the satisfied->violated->satisfied pattern called
// out by spec.md §4.6 step 5.
func isOscillating(transitions []model.IntentStatus) bool {
	if len(transitions) != ringSize {
		return false
	}
	return transitions[0] == model.StatusSatisfied &&
		transitions[1] == model.StatusViolated &&
		transitions[2] == model.StatusSatisfied
}

func withinTolerance(value float64, goal model.Goal, tolerance float64) bool {
	switch goal.Comparator {
	case "<=":
		return value <= goal.Value*(1+tolerance)
	case ">=":
		return value >= goal.Value*(1-tolerance)
	case "==":
		return math.Abs(value-goal.Value) <= goal.Value*tolerance
	default:
		return true
	}
}

func singleDeviceTarget(sel model.TargetSelector) string {
	if len(sel.IDs) == 1 {
		return sel.IDs[0]
	}
	return ""
}
