package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibnctl/ibnctl/internal/model"
	"github.com/ibnctl/ibnctl/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ibnctl.db")
	s, err := store.Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreSchemaCurrentAfterOpen(t *testing.T) {
	s := openTestStore(t)
	current, err := s.SchemaCurrent()
	require.NoError(t, err)
	assert.True(t, current)
}

func TestCreateAndGetIntent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	intent := &model.Intent{
		RawText:     "prioritize temperature sensors",
		Parsed:      model.ParsedIntent{Type: model.IntentPriority},
		Status:      model.StatusCompiled,
		SubmittedAt: time.Now(),
		UpdatedAt:   time.Now(),
		Submitter:   "test",
	}
	policies := []model.Policy{
		{Plane: model.PlaneDataPlane, Kind: model.PolicyHTBClass, Target: "temp-01:1:10", Parameters: map[string]any{"classid": "1:10"}, Status: model.PolicyPending},
		{Plane: model.PlaneDataPlane, Kind: model.PolicyPriorityMark, Target: "temp-01", Parameters: map[string]any{"mark": 16}, Status: model.PolicyPending},
	}

	require.NoError(t, s.CreateIntent(ctx, intent, policies))
	require.NotEmpty(t, intent.ID)

	got, gotPolicies, err := s.GetIntent(intent.ID)
	require.NoError(t, err)
	assert.Equal(t, "prioritize temperature sensors", got.RawText)
	assert.Equal(t, model.StatusCompiled, got.Status)
	require.Len(t, gotPolicies, 2)
}

func TestUpdateIntentStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	intent := &model.Intent{RawText: "x", Status: model.StatusCompiled, SubmittedAt: time.Now(), UpdatedAt: time.Now(), Submitter: "t"}
	require.NoError(t, s.CreateIntent(ctx, intent, nil))

	require.NoError(t, s.UpdateIntentStatus(ctx, intent.ID, model.StatusApplied, ""))

	got, _, err := s.GetIntent(intent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApplied, got.Status)
}

func TestUpdateIntentStatusNotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.UpdateIntentStatus(context.Background(), "ghost", model.StatusApplied, "")
	require.Error(t, err)
}

func TestSupersedeIntentRollsBackAppliedPolicies(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := &model.Intent{RawText: "old", Status: model.StatusApplied, SubmittedAt: time.Now(), UpdatedAt: time.Now(), Submitter: "t"}
	oldPolicies := []model.Policy{
		{Plane: model.PlaneDevice, Kind: model.PolicyDeviceControl, Target: "cam-1", Status: model.PolicyApplied},
	}
	require.NoError(t, s.CreateIntent(ctx, old, oldPolicies))

	require.NoError(t, s.SupersedeIntent(ctx, old.ID))

	got, gotPolicies, err := s.GetIntent(old.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuperseded, got.Status)
	require.Len(t, gotPolicies, 1)
	assert.Equal(t, model.PolicyRolledBack, gotPolicies[0].Status)
}

func TestAppendMetricSampleIdempotentUnderReplay(t *testing.T) {
	s := openTestStore(t)
	ts := time.Now().Truncate(time.Millisecond)
	sample := model.MetricSample{MetricName: "latency", DeviceID: "sensor-01", Value: 40, Timestamp: ts}

	require.NoError(t, s.AppendMetricSample(sample))
	require.NoError(t, s.AppendMetricSample(sample)) // duplicate delivery

	samples, err := s.SamplesInWindow("latency", "sensor-01", time.Hour, time.Now())
	require.NoError(t, err)
	assert.Len(t, samples, 1, "duplicate replay of the same (metric, device, timestamp) must not double-count")
}

func TestAggregateMeanMaxP95(t *testing.T) {
	samples := []model.MetricSample{{Value: 10}, {Value: 20}, {Value: 30}}

	mean, err := store.Aggregate(samples, "mean")
	require.NoError(t, err)
	assert.Equal(t, 20.0, mean)

	max, err := store.Aggregate(samples, "max")
	require.NoError(t, err)
	assert.Equal(t, 30.0, max)

	p95, err := store.Aggregate(samples, "p95")
	require.NoError(t, err)
	assert.Equal(t, 30.0, p95)
}

func TestAggregateEmptyFails(t *testing.T) {
	_, err := store.Aggregate(nil, "mean")
	require.Error(t, err)
}

func TestListIntentsFilterByStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := &model.Intent{RawText: "a", Status: model.StatusApplied, SubmittedAt: time.Now(), UpdatedAt: time.Now(), Submitter: "t"}
	b := &model.Intent{RawText: "b", Status: model.StatusFailed, SubmittedAt: time.Now(), UpdatedAt: time.Now(), Submitter: "t"}
	require.NoError(t, s.CreateIntent(ctx, a, nil))
	require.NoError(t, s.CreateIntent(ctx, b, nil))

	applied, err := s.ListIntents(store.IntentFilter{Status: model.StatusApplied})
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, "a", applied[0].RawText)
}

func TestAppliedPoliciesForReconciliation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	intent := &model.Intent{RawText: "x", Status: model.StatusApplied, SubmittedAt: time.Now(), UpdatedAt: time.Now(), Submitter: "t"}
	policies := []model.Policy{
		{Plane: model.PlaneDataPlane, Kind: model.PolicyHTBClass, Target: "t1", Status: model.PolicyApplied},
		{Plane: model.PlaneDataPlane, Kind: model.PolicyNetemDelay, Target: "t2", Status: model.PolicyPending},
	}
	require.NoError(t, s.CreateIntent(ctx, intent, policies))

	applied, err := s.AppliedPolicies(model.PlaneDataPlane)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, model.PolicyHTBClass, applied[0].Kind)
}
