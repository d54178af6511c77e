package metrics

import (
	"sync"
	"time"

	"github.com/ibnctl/ibnctl/internal/logging"
	"github.com/ibnctl/ibnctl/internal/model"
	"github.com/ibnctl/ibnctl/internal/store"
)

// snapshotStore is the slice of *store.Store the Collector polls.
type snapshotStore interface {
	ListIntents(filter store.IntentFilter) ([]model.Intent, error)
	ListPolicies(filter store.PolicyFilter) ([]model.Policy, error)
}

// Collector periodically snapshots State Store counts into gauges.
// Shaped on the teacher's internal/metrics/collector.go ticker loop;
// the per-event counters (PoliciesApplied, IntentsSubmitted, ...) are
// incremented directly by the orchestrator as events occur, not polled
// here. HysteresisBlocks, ReconciliationRepairs and DevicesOnline are
// registered but not updated by any package.
type Collector struct {
	registry *Registry
	store    snapshotStore
	logger   *logging.Logger
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewCollector(registry *Registry, s snapshotStore, interval time.Duration, logger *logging.Logger) *Collector {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		registry: registry,
		store:    s,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (c *Collector) Start() {
	c.logger.Info("starting metrics collector", "interval", c.interval)
	c.wg.Add(1)
	go c.run()
}

func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) run() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.snapshot()
	for {
		select {
		case <-ticker.C:
			c.snapshot()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) snapshot() {
	c.snapshotPolicies(model.PlaneDataPlane)
	c.snapshotPolicies(model.PlaneDevice)
	c.snapshotGoals()
}

func (c *Collector) snapshotPolicies(plane model.Plane) {
	policies, err := c.store.ListPolicies(store.PolicyFilter{Plane: plane, Status: model.PolicyApplied})
	if err != nil {
		c.logger.Warn("metrics: failed to list policies", "plane", plane, "error", err)
		return
	}
	c.registry.PoliciesActive.WithLabelValues(string(plane)).Set(float64(len(policies)))
}

func (c *Collector) snapshotGoals() {
	satisfied, err := c.store.ListIntents(store.IntentFilter{Status: model.StatusSatisfied})
	if err != nil {
		c.logger.Warn("metrics: failed to list satisfied intents", "error", err)
		return
	}
	violated, err := c.store.ListIntents(store.IntentFilter{Status: model.StatusViolated})
	if err != nil {
		c.logger.Warn("metrics: failed to list violated intents", "error", err)
		return
	}

	for _, intent := range satisfied {
		c.registry.GoalsSatisfied.WithLabelValues(intent.ID).Set(1)
		c.registry.GoalsViolated.WithLabelValues(intent.ID).Set(0)
	}
	for _, intent := range violated {
		c.registry.GoalsSatisfied.WithLabelValues(intent.ID).Set(0)
		c.registry.GoalsViolated.WithLabelValues(intent.ID).Set(1)
	}
}
