package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibnctl/ibnctl/internal/model"
	"github.com/ibnctl/ibnctl/internal/store"
)

type fakeSnapshotStore struct {
	policies []model.Policy
	intents  []model.Intent
}

func (s *fakeSnapshotStore) ListIntents(filter store.IntentFilter) ([]model.Intent, error) {
	var out []model.Intent
	for _, i := range s.intents {
		if i.Status == filter.Status {
			out = append(out, i)
		}
	}
	return out, nil
}

func (s *fakeSnapshotStore) ListPolicies(filter store.PolicyFilter) ([]model.Policy, error) {
	var out []model.Policy
	for _, p := range s.policies {
		if p.Plane == filter.Plane && p.Status == filter.Status {
			out = append(out, p)
		}
	}
	return out, nil
}

func TestCollectorSnapshotUpdatesGauges(t *testing.T) {
	registry := New()
	fake := &fakeSnapshotStore{
		policies: []model.Policy{
			{ID: "p1", Plane: model.PlaneDataPlane, Status: model.PolicyApplied},
			{ID: "p2", Plane: model.PlaneDataPlane, Status: model.PolicyApplied},
		},
		intents: []model.Intent{
			{ID: "i1", Status: model.StatusSatisfied},
			{ID: "i2", Status: model.StatusViolated},
		},
	}
	c := NewCollector(registry, fake, time.Second, nil)

	c.snapshot()

	assert.Equal(t, float64(2), testutil.ToFloat64(registry.PoliciesActive.WithLabelValues(string(model.PlaneDataPlane))))
	assert.Equal(t, float64(1), testutil.ToFloat64(registry.GoalsSatisfied.WithLabelValues("i1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(registry.GoalsViolated.WithLabelValues("i2")))
}

func TestRegistryHandlerServesText(t *testing.T) {
	registry := New()
	require.NotNil(t, registry.Handler())
}
