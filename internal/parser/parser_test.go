package parser_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibnctl/ibnctl/internal/catalog"
	ierrors "github.com/ibnctl/ibnctl/internal/errors"
	"github.com/ibnctl/ibnctl/internal/model"
	"github.com/ibnctl/ibnctl/internal/parser"
)

const testDevices = `
device "temp-01" {
  kind             = "sensor"
  default_priority = "normal"
  control_topic    = "devices/temp-01/control"
  telemetry_topic  = "devices/temp-01/telemetry"
}

device "temp-02" {
  kind             = "sensor"
  default_priority = "normal"
  control_topic    = "devices/temp-02/control"
  telemetry_topic  = "devices/temp-02/telemetry"
}

device "camera-01" {
  kind             = "camera"
  control_topic    = "devices/camera-01/control"
  telemetry_topic  = "devices/camera-01/telemetry"
}

device "esp32-audio-1" {
  kind             = "audio"
  control_topic    = "devices/esp32-audio-1/control"
  telemetry_topic  = "devices/esp32-audio-1/telemetry"
}

device "esp32-mhz19-1" {
  kind             = "sensor"
  control_topic    = "devices/esp32-mhz19-1/control"
  telemetry_topic  = "devices/esp32-mhz19-1/telemetry"
}
`

const testGrammar = `
rule {
  pattern      = "^prioritize (?P<target>.+)$"
  intent_type  = "priority"
  target_group = "target"
  parameter_map = {
    level = "=high"
  }
}

rule {
  pattern       = "^limit bandwidth to (?P<rate>[a-z0-9./]+) for (?P<target>.+)$"
  intent_type   = "bandwidth"
  target_group  = "target"
  parameter_map = {
    rate = "rate"
  }
}

rule {
  pattern       = "^reduce latency to (?P<ms>[0-9]+ms) for (?P<target>.+)$"
  intent_type   = "latency"
  target_group  = "target"
  parameter_map = {
    delay_ms        = "ms"
    goal_metric     = "=latency"
    goal_comparator = "=<="
    goal_value      = "ms"
  }
}

rule {
  pattern       = "^set audio gain to (?P<value>[0-9.]+) for (?P<target>.+)$"
  intent_type   = "audio_gain"
  target_group  = "target"
  parameter_map = {
    value = "value"
  }
}

rule {
  pattern       = "^set qos to (?P<level>[0-9]) for (?P<target>.+)$"
  intent_type   = "qos"
  target_group  = "target"
  parameter_map = {
    level = "level"
  }
}
`

const testTemplates = `
template "htb_class" {
  skeleton = "class add dev ${interface} classid 1:${classid} htb rate ${rate}"
}
`

// The "priority" rule above sets its "level" parameter to the literal
// "high" instead of capturing it, so the grammar fixture stays small.

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "devices.hcl"), []byte(testDevices), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "grammar.hcl"), []byte(testGrammar), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "templates.hcl"), []byte(testTemplates), 0o644))

	c := catalog.New(dir, nil)
	require.NoError(t, c.Load())
	return c
}

func TestParsePriorityByKind(t *testing.T) {
	c := newTestCatalog(t)
	p := parser.New(c)

	parsed, err := p.Parse("prioritize temperature sensors")
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, model.IntentPriority, parsed[0].Type)
	assert.Empty(t, parsed[0].Conjunctions)
}

func TestParseBandwidthCanonicalizesUnits(t *testing.T) {
	c := newTestCatalog(t)
	p := parser.New(c)

	parsed, err := p.Parse("limit bandwidth to 50kb/s for cameras")
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, model.IntentBandwidth, parsed[0].Type)
	assert.Equal(t, int64(409600), parsed[0].Parameters["rate"])
}

func TestParseUnknownTargetFails(t *testing.T) {
	c := newTestCatalog(t)
	p := parser.New(c)

	_, err := p.Parse("limit bandwidth to 50kb/s for nonexistent-device")
	require.Error(t, err)
	assert.Equal(t, ierrors.KindUnknownTarget, ierrors.GetKind(err))
}

func TestParseNoMatchingRuleFails(t *testing.T) {
	c := newTestCatalog(t)
	p := parser.New(c)

	_, err := p.Parse("do something entirely unrecognized")
	require.Error(t, err)
	assert.Equal(t, ierrors.KindParseFailure, ierrors.GetKind(err))
}

func TestParseConjunctionProducesSiblings(t *testing.T) {
	c := newTestCatalog(t)
	p := parser.New(c)

	parsed, err := p.Parse("set qos to 1 for temp-01 and set qos to 2 for temp-02")
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	require.Len(t, parsed[0].Conjunctions, 1)
	assert.Equal(t, 1, parsed[0].Parameters["level"])
	assert.Equal(t, 2, parsed[0].Conjunctions[0].Parameters["level"])
}

func TestParseQoSOutOfRangeFails(t *testing.T) {
	c := newTestCatalog(t)
	p := parser.New(c)

	_, err := p.Parse("set qos to 5 for temp-01")
	require.Error(t, err)
	assert.Equal(t, ierrors.KindParseFailure, ierrors.GetKind(err))
}

func TestParseLatencyExtractsGoal(t *testing.T) {
	c := newTestCatalog(t)
	p := parser.New(c)

	parsed, err := p.Parse("reduce latency to 20ms for temp-01")
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	require.NotNil(t, parsed[0].Goal)
	assert.Equal(t, float64(20), parsed[0].Goal.Value)
	_, hasGoalMetric := parsed[0].Parameters["goal_metric"]
	assert.False(t, hasGoalMetric, "goal parameters should be lifted onto Goal, not left in Parameters")
}

func TestParseDeterministic(t *testing.T) {
	c := newTestCatalog(t)
	p := parser.New(c)

	a, errA := p.Parse("set qos to 1 for temp-01")
	b, errB := p.Parse("set qos to 1 for temp-01")
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a, b)
}
