package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibnctl/ibnctl/internal/compiler"
	ierrors "github.com/ibnctl/ibnctl/internal/errors"
	"github.com/ibnctl/ibnctl/internal/model"
)

var sensors = []model.Device{
	{ID: "temp-01", Kind: model.DeviceSensor, Address: "10.0.0.11"},
	{ID: "temp-02", Kind: model.DeviceSensor, Address: "10.0.0.12"},
}

func TestCompilePriorityProducesOneSharedClassAndMarkPerTarget(t *testing.T) {
	c := compiler.New(nil, "eth0")
	parsed := model.ParsedIntent{
		Type:       model.IntentPriority,
		Parameters: map[string]any{"level": "high"},
	}

	policies, err := c.Compile("intent-1", parsed, sensors)
	require.NoError(t, err)
	require.Len(t, policies, 3) // 1 shared htb_class + 2 devices * priority_mark

	var classes, marks int
	var classTargets []string
	for _, p := range policies {
		switch p.Kind {
		case model.PolicyHTBClass:
			classes++
			classTargets = append(classTargets, p.Target)
		case model.PolicyPriorityMark:
			marks++
		}
		assert.Equal(t, "intent-1", p.IntentID)
		assert.Equal(t, model.PolicyPending, p.Status)
	}
	assert.Equal(t, 1, classes)
	assert.Equal(t, 2, marks)
	assert.Equal(t, "eth0:1:10", classTargets[0])
}

func TestCompileBandwidthSetsRateAndCeil(t *testing.T) {
	c := compiler.New(nil, "eth0")
	parsed := model.ParsedIntent{
		Type:       model.IntentBandwidth,
		Parameters: map[string]any{"rate": int64(409600)},
	}

	policies, err := c.Compile("intent-2", parsed, []model.Device{{ID: "camera-01"}})
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, model.PolicyHTBClass, policies[0].Kind)
	assert.Equal(t, int64(409600), policies[0].Parameters["rate"])
	assert.Equal(t, int64(409600), policies[0].Parameters["ceil"])
}

func TestCompileLatencyTakesMinimumOfExisting(t *testing.T) {
	existing := model.Policy{
		Kind:       model.PolicyNetemDelay,
		Target:     "temp-01:netem",
		Parameters: map[string]any{"delay_ms": int64(15)},
	}
	lookup := func(key string) (model.Policy, bool) {
		if key == existing.Key() {
			return existing, true
		}
		return model.Policy{}, false
	}

	c := compiler.New(lookup, "eth0")
	parsed := model.ParsedIntent{
		Type:       model.IntentLatency,
		Parameters: map[string]any{"delay_ms": int64(20)},
	}

	policies, err := c.Compile("intent-3", parsed, []model.Device{{ID: "temp-01"}})
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, int64(15), policies[0].Parameters["delay_ms"], "existing 15ms delay is tighter than the new 20ms request")
}

func TestCompileConflictingSiblingsRejected(t *testing.T) {
	c := compiler.New(nil, "eth0")
	parsed := model.ParsedIntent{
		Type:       model.IntentAudioGain,
		Parameters: map[string]any{"value": 2.0},
		Conjunctions: []model.ParsedIntent{
			{Type: model.IntentAudioGain, Parameters: map[string]any{"value": 4.0}},
		},
	}

	_, err := c.Compile("intent-4", parsed, []model.Device{{ID: "esp32-audio-1"}})
	require.Error(t, err)
	assert.Equal(t, ierrors.KindCompileConflict, ierrors.GetKind(err))
}

func TestCompileIsDeterministic(t *testing.T) {
	c := compiler.New(nil, "eth0")
	parsed := model.ParsedIntent{
		Type:       model.IntentQoS,
		Parameters: map[string]any{"level": 1},
	}

	a, errA := c.Compile("intent-5", parsed, sensors)
	b, errB := c.Compile("intent-5", parsed, sensors)
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a, b)
}

func TestCompileSecurityQuarantine(t *testing.T) {
	c := compiler.New(nil, "eth0")
	parsed := model.ParsedIntent{
		Type:       model.IntentSecurity,
		Parameters: map[string]any{"action": "quarantine"},
	}

	policies, err := c.Compile("intent-6", parsed, []model.Device{{ID: "cam-9", Address: "10.0.0.9"}})
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, model.PolicyIPTablesRule, policies[0].Kind)
	assert.Equal(t, "quarantine", policies[0].Parameters["action"])
}

func TestCompilePowerSaving(t *testing.T) {
	c := compiler.New(nil, "eth0")
	parsed := model.ParsedIntent{
		Type:       model.IntentPowerSaving,
		Parameters: map[string]any{"mode": "eco"},
	}

	policies, err := c.Compile("intent-7", parsed, []model.Device{{ID: "gw-1"}})
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, model.PlaneDevice, policies[0].Plane)
	assert.Equal(t, "SET_POWER_MODE", policies[0].Parameters["command"])
	assert.Equal(t, "eco", policies[0].Parameters["mode"])
}
