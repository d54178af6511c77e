// Package compiler lowers a ParsedIntent into the ordered list of concrete
// Policies that realize it, per spec.md §4.3.
package compiler

import (
	"fmt"

	ierrors "github.com/ibnctl/ibnctl/internal/errors"
	"github.com/ibnctl/ibnctl/internal/model"
)

// htb minor handles per priority level. Lower minor number means higher
// priority, matching the teacher's HTB class numbering convention in
// internal/qos/manager.go.
const (
	htbMinorHigh   = 0x10
	htbMinorNormal = 0x20
	htbMinorLow    = 0x30
)

var priorityMinor = map[model.Priority]int{
	model.PriorityHigh:   htbMinorHigh,
	model.PriorityNormal: htbMinorNormal,
	model.PriorityLow:    htbMinorLow,
}

// ExistingPolicyLookup resolves the currently applied policy for a
// (target, kind) key, used by the latency tie-break rule. Callers back
// this with the State Store.
type ExistingPolicyLookup func(key string) (model.Policy, bool)

// Compiler lowers ParsedIntents into Policies. It never consults
// wall-clock time or generates random IDs: compile is a pure function of
// (ParsedIntent, device set), per SPEC_FULL.md's determinism supplement.
// Policy IDs are assigned by the caller after compilation.
type Compiler struct {
	lookupExisting ExistingPolicyLookup
	iface          string
}

// New creates a Compiler bound to the data-plane interface its htb_class
// Policies key off. lookupExisting may be nil, in which case the latency
// tie-break always takes the new value.
func New(lookupExisting ExistingPolicyLookup, iface string) *Compiler {
	return &Compiler{lookupExisting: lookupExisting, iface: iface}
}

// Compile lowers one ParsedIntent (and its siblings) into an ordered
// policy list. Sibling clauses that collide on the same (target, kind)
// key within this single compilation are rejected with compile_conflict.
func (c *Compiler) Compile(intentID string, parsed model.ParsedIntent, devices []model.Device) ([]model.Policy, error) {
	all := append([]model.ParsedIntent{parsed}, parsed.Conjunctions...)

	var policies []model.Policy
	seen := make(map[string]bool)

	for _, clause := range all {
		clausePolicies, err := c.lowerClause(intentID, clause, devices)
		if err != nil {
			return nil, err
		}
		for _, p := range clausePolicies {
			if seen[p.Key()] {
				return nil, ierrors.Errorf(ierrors.KindCompileConflict, "sibling clauses collide on (target=%s, kind=%s)", p.Target, p.Kind)
			}
			seen[p.Key()] = true
			policies = append(policies, p)
		}
	}

	return policies, nil
}

func (c *Compiler) lowerClause(intentID string, clause model.ParsedIntent, devices []model.Device) ([]model.Policy, error) {
	switch clause.Type {
	case model.IntentPriority:
		return c.lowerPriority(intentID, clause, devices)
	case model.IntentBandwidth:
		return c.lowerBandwidth(intentID, clause, devices)
	case model.IntentLatency:
		return c.lowerLatency(intentID, clause, devices)
	case model.IntentQoS:
		return c.lowerQoS(intentID, clause, devices)
	case model.IntentSampling:
		return c.lowerDeviceControl(intentID, clause, devices, "SET_SAMPLING_INTERVAL", "interval_ms")
	case model.IntentAudioGain:
		return c.lowerDeviceControl(intentID, clause, devices, "SET_AUDIO_GAIN", "value")
	case model.IntentCameraConfig:
		return c.lowerCameraConfig(intentID, clause, devices)
	case model.IntentEnable:
		return c.lowerSimpleDeviceControl(intentID, clause, devices, "ENABLE")
	case model.IntentReset:
		return c.lowerSimpleDeviceControl(intentID, clause, devices, "RESET")
	case model.IntentPowerSaving:
		return c.lowerDeviceControl(intentID, clause, devices, "SET_POWER_MODE", "mode")
	case model.IntentSecurity:
		return c.lowerSecurity(intentID, clause, devices)
	default:
		return nil, ierrors.Errorf(ierrors.KindInternal, "no lowering rule for intent type %q", clause.Type)
	}
}

func newPolicy(intentID string, plane model.Plane, kind model.PolicyKind, target string, params map[string]any) model.Policy {
	return model.Policy{
		IntentID:   intentID,
		Plane:      plane,
		Kind:       kind,
		Target:     target,
		Parameters: params,
		Status:     model.PolicyPending,
	}
}

// lowerPriority emits one shared htb_class Policy per (interface, classid)
// touched by this clause, not one per device: all devices assigned the
// same priority level funnel into the one kernel HTB class for that
// level, matching spec.md §8 scenario 1 (two devices at the same level ->
// 2 priority_mark + 1 htb_class). A per-device htb_class would let
// rolling back one device's Policy (ClassDel) delete the class out from
// under its siblings, orphaning them.
func (c *Compiler) lowerPriority(intentID string, clause model.ParsedIntent, devices []model.Device) ([]model.Policy, error) {
	level, _ := clause.Parameters["level"].(string)
	minor, ok := priorityMinor[model.Priority(level)]
	if !ok {
		return nil, ierrors.Errorf(ierrors.KindCompileConflict, "unrecognized priority level %q", level)
	}

	classID := fmt.Sprintf("1:%x", minor)
	policies := []model.Policy{
		newPolicy(intentID, model.PlaneDataPlane, model.PolicyHTBClass,
			fmt.Sprintf("%s:%s", c.iface, classID),
			map[string]any{"classid": classID, "priority": level}),
	}
	for _, d := range devices {
		policies = append(policies, newPolicy(intentID, model.PlaneDataPlane, model.PolicyPriorityMark,
			d.ID,
			map[string]any{"mark": minor, "address": d.Address}))
	}
	return policies, nil
}

func (c *Compiler) lowerBandwidth(intentID string, clause model.ParsedIntent, devices []model.Device) ([]model.Policy, error) {
	rate, ok := clause.Parameters["rate"].(int64)
	if !ok {
		return nil, ierrors.Errorf(ierrors.KindInternal, "bandwidth intent missing canonicalized rate parameter")
	}

	var policies []model.Policy
	for _, d := range devices {
		policies = append(policies, newPolicy(intentID, model.PlaneDataPlane, model.PolicyHTBClass,
			fmt.Sprintf("%s:bandwidth", d.ID),
			map[string]any{"rate": rate, "ceil": rate}))
	}
	return policies, nil
}

func (c *Compiler) lowerLatency(intentID string, clause model.ParsedIntent, devices []model.Device) ([]model.Policy, error) {
	delayMS, ok := clause.Parameters["delay_ms"].(int64)
	if !ok {
		return nil, ierrors.Errorf(ierrors.KindInternal, "latency intent missing canonicalized delay_ms parameter")
	}

	var policies []model.Policy
	for _, d := range devices {
		target := fmt.Sprintf("%s:netem", d.ID)
		resolvedDelay := delayMS
		if c.lookupExisting != nil {
			if existing, found := c.lookupExisting((model.Policy{Kind: model.PolicyNetemDelay, Target: target}).Key()); found {
				if existingMS, ok := existing.Parameters["delay_ms"].(int64); ok && existingMS < resolvedDelay {
					resolvedDelay = existingMS
				}
			}
		}
		policies = append(policies, newPolicy(intentID, model.PlaneDataPlane, model.PolicyNetemDelay,
			target, map[string]any{"delay_ms": resolvedDelay}))
	}
	return policies, nil
}

func (c *Compiler) lowerQoS(intentID string, clause model.ParsedIntent, devices []model.Device) ([]model.Policy, error) {
	level, ok := clause.Parameters["level"].(int)
	if !ok {
		return nil, ierrors.Errorf(ierrors.KindInternal, "qos intent missing canonicalized level parameter")
	}

	var policies []model.Policy
	for _, d := range devices {
		policies = append(policies, newPolicy(intentID, model.PlaneDevice, model.PolicyMQTTQoS,
			d.ID, map[string]any{"command": "SET_MQTT_QOS", "qos": level}))
	}
	return policies, nil
}

func (c *Compiler) lowerDeviceControl(intentID string, clause model.ParsedIntent, devices []model.Device, command, paramKey string) ([]model.Policy, error) {
	value, ok := clause.Parameters[paramKey]
	if !ok {
		return nil, ierrors.Errorf(ierrors.KindInternal, "%s intent missing %q parameter", clause.Type, paramKey)
	}

	var policies []model.Policy
	for _, d := range devices {
		policies = append(policies, newPolicy(intentID, model.PlaneDevice, model.PolicyDeviceControl,
			d.ID, map[string]any{"command": command, paramKey: value}))
	}
	return policies, nil
}

func (c *Compiler) lowerCameraConfig(intentID string, clause model.ParsedIntent, devices []model.Device) ([]model.Policy, error) {
	field, _ := clause.Parameters["field"].(string)
	value := clause.Parameters["value"]
	command := "SET_CAMERA_" + field

	var policies []model.Policy
	for _, d := range devices {
		policies = append(policies, newPolicy(intentID, model.PlaneDevice, model.PolicyDeviceControl,
			d.ID, map[string]any{"command": command, "field": field, "value": value}))
	}
	return policies, nil
}

func (c *Compiler) lowerSimpleDeviceControl(intentID string, clause model.ParsedIntent, devices []model.Device, command string) ([]model.Policy, error) {
	var policies []model.Policy
	for _, d := range devices {
		policies = append(policies, newPolicy(intentID, model.PlaneDevice, model.PolicyDeviceControl,
			d.ID, map[string]any{"command": command}))
	}
	return policies, nil
}

func (c *Compiler) lowerSecurity(intentID string, clause model.ParsedIntent, devices []model.Device) ([]model.Policy, error) {
	action, _ := clause.Parameters["action"].(string)

	var policies []model.Policy
	for _, d := range devices {
		policies = append(policies, newPolicy(intentID, model.PlaneDataPlane, model.PolicyIPTablesRule,
			fmt.Sprintf("%s:security", d.ID),
			map[string]any{"action": action, "address": d.Address}))
	}
	return policies, nil
}
