// Package model defines the data types shared across every controller
// component: Device, Intent, ParsedIntent, Policy, and MetricSample, per
// spec.md §3.
package model

import "time"

// DeviceKind classifies what an endpoint is, used by kind-filter target
// selectors and default-parameter lookup.
type DeviceKind string

const (
	DeviceSensor  DeviceKind = "sensor"
	DeviceCamera  DeviceKind = "camera"
	DeviceAudio   DeviceKind = "audio"
	DeviceGateway DeviceKind = "gateway"
	DeviceOther   DeviceKind = "other"
)

// Priority is a coarse priority level used by priority intents and device
// defaults.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Capability is a token describing something a device can do.
type Capability string

const (
	CapMQTT           Capability = "mqtt"
	CapTelemetry      Capability = "telemetry"
	CapBandwidthLimit Capability = "bandwidth_limit"
	CapAudioGain      Capability = "audio_gain"
	CapResolution     Capability = "resolution"
)

// Device is the identity of an endpoint the controller may act upon.
// Devices are loaded from the Catalog; they are never created by user
// submissions.
type Device struct {
	ID              string
	Kind            DeviceKind
	Address         string // optional: IP or logical address
	DefaultPriority Priority
	DefaultQoS      int // 0|1|2
	BandwidthCap    int64 // bytes/s, 0 = unset
	Capabilities    map[Capability]bool
	ControlTopic    string
	TelemetryTopic  string
	StatusTopic     string
}

// HasCapability reports whether the device declares the given capability.
func (d Device) HasCapability(c Capability) bool {
	return d.Capabilities != nil && d.Capabilities[c]
}

// IntentType is the closed set of intent kinds the grammar can produce.
type IntentType string

const (
	IntentPriority     IntentType = "priority"
	IntentBandwidth    IntentType = "bandwidth"
	IntentLatency      IntentType = "latency"
	IntentQoS          IntentType = "qos"
	IntentSampling     IntentType = "sampling"
	IntentAudioGain    IntentType = "audio_gain"
	IntentCameraConfig IntentType = "camera_config"
	IntentEnable       IntentType = "enable"
	IntentReset        IntentType = "reset"
	IntentPowerSaving  IntentType = "power_saving"
	IntentSecurity     IntentType = "security"
)

// TargetSelector names the devices an intent clause applies to.
type TargetSelector struct {
	IDs     []string // explicit device IDs
	Glob    string   // glob pattern over device IDs
	Kind    DeviceKind // kind filter; empty means no kind filter
	HasKind bool
}

// Goal is an optional measurable target extracted from an intent's text,
// used by the Feedback Controller.
type Goal struct {
	Metric    string  // e.g. "latency", "throughput", "bandwidth"
	Comparator string // "<=", ">=", "=="
	Value     float64
	Window    time.Duration
	Aggregate string // "mean", "p95", "max"
}

// ParsedIntent is the structured form the Parser produces from one clause.
type ParsedIntent struct {
	Type           IntentType
	TargetSelector TargetSelector
	Parameters     map[string]any
	Conjunctions   []ParsedIntent
	Goal           *Goal
}

// IntentStatus is the lifecycle state of an Intent.
type IntentStatus string

const (
	StatusPending    IntentStatus = "pending"
	StatusCompiled   IntentStatus = "compiled"
	StatusApplied    IntentStatus = "applied"
	StatusSatisfied  IntentStatus = "satisfied"
	StatusViolated   IntentStatus = "violated"
	StatusSuperseded IntentStatus = "superseded"
	StatusFailed     IntentStatus = "failed"
)

// Intent is a user's declared desire, parsed and (eventually) enforced.
type Intent struct {
	ID          string
	RawText     string
	Parsed      ParsedIntent
	Goal        *Goal
	Status      IntentStatus
	SubmittedAt time.Time
	UpdatedAt   time.Time
	Submitter   string

	// ParentIntentID back-points to the Intent a corrective Intent was
	// issued on behalf of (spec.md §4.6 step 4). Empty for user-submitted
	// intents.
	ParentIntentID string

	// HysteresisBlockedUntilTick supplements the data model per SPEC_FULL.md
	// MODULE: Feedback Controller: non-zero while corrective emission is
	// damped after repeated oscillation.
	HysteresisBlockedUntilTick int64

	Warning string
}

// Plane names an enforcement surface.
type Plane string

const (
	PlaneDataPlane Plane = "data_plane"
	PlaneDevice    Plane = "device"
)

// PolicyKind is the concrete directive shape a Policy realizes.
type PolicyKind string

const (
	PolicyHTBClass     PolicyKind = "htb_class"
	PolicyNetemDelay   PolicyKind = "netem_delay"
	PolicyPriorityMark PolicyKind = "priority_mark"
	PolicyIPTablesRule PolicyKind = "iptables_rule"
	PolicyDeviceControl PolicyKind = "device_control"
	PolicyMQTTQoS      PolicyKind = "mqtt_qos"
)

// PolicyStatus is the lifecycle state of a Policy.
type PolicyStatus string

const (
	PolicyPending        PolicyStatus = "pending"
	PolicyApplied        PolicyStatus = "applied"
	PolicyFailed         PolicyStatus = "failed"
	PolicyRolledBack     PolicyStatus = "rolled_back"
	PolicyPendingDelivery PolicyStatus = "pending_delivery"
)

// Policy is a single concrete enforceable directive, owned by exactly one
// Intent.
type Policy struct {
	ID         string
	IntentID   string
	Plane      Plane
	Kind       PolicyKind
	Target     string // data_plane: "<interface>:<classid>" (priority htb_class), "<device id>:bandwidth|netem|security", or device id (priority_mark); device plane: device id
	Parameters map[string]any
	Status     PolicyStatus
	AppliedAt  time.Time
	LastError  string

	// ConsecutiveFailures tracks apply attempts for the "three consecutive
	// failures -> failed" rule in spec.md §4.4.
	ConsecutiveFailures int
}

// Key returns the (target, kind) collision key used for supersession,
// spec.md §3/§4.3.
func (p Policy) Key() string {
	return string(p.Kind) + "|" + p.Target
}

// MetricSample is a single observation used by the Feedback Controller.
type MetricSample struct {
	MetricName string
	DeviceID   string // optional
	Value      float64
	Timestamp  time.Time
}
