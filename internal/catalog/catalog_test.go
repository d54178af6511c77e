package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibnctl/ibnctl/internal/model"
)

const validDevices = `
device "cam-1" {
  kind             = "camera"
  default_priority = "high"
  default_qos      = 1
  capabilities     = ["mqtt", "telemetry", "bandwidth_limit"]
  control_topic    = "devices/cam-1/control"
  telemetry_topic  = "devices/cam-1/telemetry"
}

device "sensor-1" {
  kind             = "sensor"
  default_priority = "low"
  default_qos      = 0
  capabilities     = ["mqtt", "telemetry"]
  control_topic    = "devices/sensor-1/control"
  telemetry_topic  = "devices/sensor-1/telemetry"
}
`

const validGrammar = `
rule {
  pattern      = "^prioritize (?P<target>.+)$"
  intent_type  = "priority"
  target_group = "target"
}

rule {
  pattern      = "^limit (?P<target>.+) to (?P<rate>[0-9]+mbit)$"
  intent_type  = "bandwidth"
  target_group = "target"
  parameter_map = {
    rate = "rate"
  }
}
`

const validTemplates = `
template "htb_class" {
  skeleton = "class add dev ${interface} parent 1: classid 1:${classid} htb rate ${rate}"
}
`

func writeCatalogFiles(t *testing.T, dir, devices, grammar, templates string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, devicesFile), []byte(devices), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, grammarFile), []byte(grammar), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, templatesFile), []byte(templates), 0o644))
}

func TestCatalogLoad(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFiles(t, dir, validDevices, validGrammar, validTemplates)

	c := New(dir, nil)
	require.NoError(t, c.Load())

	dev, ok := c.LookupDevice("cam-1")
	require.True(t, ok)
	assert.Equal(t, model.DeviceCamera, dev.Kind)
	assert.True(t, dev.HasCapability(model.CapBandwidthLimit))
	assert.Equal(t, "devices/cam-1/control/status", dev.StatusTopic)

	rules := c.GrammarRules()
	require.Len(t, rules, 2)

	tmpl, ok := c.Template("htb_class")
	require.True(t, ok)
	assert.Contains(t, tmpl.Skeleton, "${rate}")
}

func TestCatalogDuplicateDeviceIDRejected(t *testing.T) {
	dir := t.TempDir()
	dup := validDevices + `
device "cam-1" {
  kind            = "camera"
  control_topic   = "devices/cam-1b/control"
  telemetry_topic = "devices/cam-1b/telemetry"
}
`
	writeCatalogFiles(t, dir, dup, validGrammar, validTemplates)

	c := New(dir, nil)
	err := c.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate device id")
}

func TestCatalogTopicCollisionRejected(t *testing.T) {
	dir := t.TempDir()
	collide := `
device "a" {
  kind            = "sensor"
  control_topic   = "devices/shared/control"
  telemetry_topic = "devices/a/telemetry"
}
device "b" {
  kind            = "sensor"
  control_topic   = "devices/shared/control"
  telemetry_topic = "devices/b/telemetry"
}
`
	writeCatalogFiles(t, dir, collide, validGrammar, validTemplates)

	c := New(dir, nil)
	err := c.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "control_topic")
}

func TestCatalogRuleWithUnknownCaptureGroupCollectsAllErrors(t *testing.T) {
	dir := t.TempDir()
	badGrammar := `
rule {
  pattern      = "^prioritize (?P<target>.+)$"
  intent_type  = "priority"
  target_group = "nope"
}

rule {
  pattern       = "^limit (?P<target>.+) to (?P<rate>[0-9]+mbit)$"
  intent_type   = "bandwidth"
  target_group  = "target"
  parameter_map = {
    rate = "missing_group"
  }
}
`
	writeCatalogFiles(t, dir, validDevices, badGrammar, validTemplates)

	c := New(dir, nil)
	err := c.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
	assert.Contains(t, err.Error(), "missing_group")
}

func TestCatalogTemplateUnbalancedPlaceholderRejected(t *testing.T) {
	dir := t.TempDir()
	badTemplates := `
template "htb_class" {
  skeleton = "class add dev ${interface parent 1:"
}
`
	writeCatalogFiles(t, dir, validDevices, validGrammar, badTemplates)

	c := New(dir, nil)
	err := c.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unbalanced")
}

func TestCatalogReloadKeepsPreviousSnapshotOnError(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFiles(t, dir, validDevices, validGrammar, validTemplates)

	c := New(dir, nil)
	require.NoError(t, c.Load())

	require.NoError(t, os.WriteFile(filepath.Join(dir, devicesFile), []byte("not valid hcl {{{"), 0o644))
	err := c.Reload()
	require.Error(t, err)

	_, ok := c.LookupDevice("cam-1")
	assert.True(t, ok, "previous snapshot should still be served after a failed reload")
}

func TestResolveTargetsByExplicitIDs(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFiles(t, dir, validDevices, validGrammar, validTemplates)
	c := New(dir, nil)
	require.NoError(t, c.Load())

	devices := c.ResolveTargets(model.TargetSelector{IDs: []string{"cam-1", "sensor-1", "nonexistent"}})
	assert.Len(t, devices, 2)
}

func TestResolveTargetsByKind(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFiles(t, dir, validDevices, validGrammar, validTemplates)
	c := New(dir, nil)
	require.NoError(t, c.Load())

	devices := c.ResolveTargets(model.TargetSelector{Kind: model.DeviceSensor, HasKind: true})
	require.Len(t, devices, 1)
	assert.Equal(t, "sensor-1", devices[0].ID)
}

func TestResolveTargetsByGlob(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFiles(t, dir, validDevices, validGrammar, validTemplates)
	c := New(dir, nil)
	require.NoError(t, c.Load())

	devices := c.ResolveTargets(model.TargetSelector{Glob: "cam-*"})
	require.Len(t, devices, 1)
	assert.Equal(t, "cam-1", devices[0].ID)
}

func TestResolveTargetsUnknownReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFiles(t, dir, validDevices, validGrammar, validTemplates)
	c := New(dir, nil)
	require.NoError(t, c.Load())

	devices := c.ResolveTargets(model.TargetSelector{IDs: []string{"ghost"}})
	assert.Empty(t, devices)
}

func TestRuleMatchRequiresFullClauseMatch(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFiles(t, dir, validDevices, validGrammar, validTemplates)
	c := New(dir, nil)
	require.NoError(t, c.Load())

	rules := c.GrammarRules()
	require.Len(t, rules, 2)

	groups, ok := rules[0].Match("prioritize cam-1")
	require.True(t, ok)
	assert.Equal(t, "cam-1", groups["target"])

	_, ok = rules[0].Match("please prioritize cam-1 now")
	assert.False(t, ok)
}
