package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibnctl/ibnctl/internal/model"
)

type fakeGoalStore struct {
	samples       []model.MetricSample
	statusUpdates []model.IntentStatus
	hysteresis    map[string]int64
}

func (s *fakeGoalStore) ActiveGoalIntents() ([]model.Intent, error) { return nil, nil }

func (s *fakeGoalStore) SamplesInWindow(metricName, deviceID string, window time.Duration, now time.Time) ([]model.MetricSample, error) {
	return s.samples, nil
}

func (s *fakeGoalStore) UpdateIntentStatus(ctx context.Context, id string, status model.IntentStatus, warning string) error {
	s.statusUpdates = append(s.statusUpdates, status)
	return nil
}

func (s *fakeGoalStore) SetHysteresisBlock(ctx context.Context, intentID string, untilTick int64) error {
	if s.hysteresis == nil {
		s.hysteresis = make(map[string]int64)
	}
	s.hysteresis[intentID] = untilTick
	return nil
}

type fakeSubmitter struct {
	submitted []model.ParsedIntent
}

func (s *fakeSubmitter) SubmitParsed(ctx context.Context, parsed model.ParsedIntent, submitter, parentIntentID string) (model.Intent, []model.Policy, error) {
	s.submitted = append(s.submitted, parsed)
	return model.Intent{ID: "corrective", Submitter: submitter, ParentIntentID: parentIntentID}, nil, nil
}

func samplesAt(metric string, values ...float64) []model.MetricSample {
	out := make([]model.MetricSample, len(values))
	for i, v := range values {
		out[i] = model.MetricSample{MetricName: metric, Value: v, Timestamp: time.Now()}
	}
	return out
}

func latencyIntent(status model.IntentStatus) model.Intent {
	return model.Intent{
		ID:     "intent-1",
		Status: status,
		Goal:   &model.Goal{Metric: "latency_ms", Comparator: "<=", Value: 50, Aggregate: "mean", Window: time.Minute},
		Parsed: model.ParsedIntent{
			Type:       model.IntentLatency,
			Parameters: map[string]any{"delay_ms": int64(100)},
		},
	}
}

func TestEvaluateSatisfiedDoesNotEmitCorrective(t *testing.T) {
	store := &fakeGoalStore{samples: samplesAt("latency_ms", 40, 42, 45)}
	submitter := &fakeSubmitter{}
	c := New(store, submitter, Config{}, nil)

	c.evaluate(latencyIntent(model.StatusApplied))

	assert.Empty(t, submitter.submitted)
	require.Len(t, store.statusUpdates, 1)
	assert.Equal(t, model.StatusSatisfied, store.statusUpdates[0])
}

func TestEvaluateViolatedEmitsBoundedCorrective(t *testing.T) {
	store := &fakeGoalStore{samples: samplesAt("latency_ms", 90, 95, 100)}
	submitter := &fakeSubmitter{}
	c := New(store, submitter, Config{}, nil)

	c.evaluate(latencyIntent(model.StatusApplied))

	require.Len(t, store.statusUpdates, 1)
	assert.Equal(t, model.StatusViolated, store.statusUpdates[0])
	require.Len(t, submitter.submitted, 1)
	next, ok := submitter.submitted[0].Parameters["delay_ms"].(int64)
	require.True(t, ok)
	assert.Less(t, next, int64(100), "corrective should tighten the delay policy")
}

func TestHysteresisDampensAfterThreeOscillations(t *testing.T) {
	store := &fakeGoalStore{}
	submitter := &fakeSubmitter{}
	c := New(store, submitter, Config{}, nil)

	intent := latencyIntent(model.StatusApplied)
	pattern := []bool{true, false, true, true, false, true, true, false, true}
	for _, satisfied := range pattern {
		if satisfied {
			store.samples = samplesAt("latency_ms", 10)
		} else {
			store.samples = samplesAt("latency_ms", 200)
		}
		c.tick++
		c.evaluate(intent)
		intent.Status = store.statusUpdates[len(store.statusUpdates)-1]
	}

	require.Contains(t, store.hysteresis, intent.ID)
	assert.Equal(t, c.tick+hysteresisTicks, store.hysteresis[intent.ID])
}
