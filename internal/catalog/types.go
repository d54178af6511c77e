// Package catalog loads and serves the controller's three reloadable
// configuration inputs: the device registry, the intent grammar, and the
// policy templates (spec.md §4.1).
package catalog

// DeviceRegistry is the HCL-decoded device registry file.
type DeviceRegistry struct {
	Devices []DeviceEntry `hcl:"device,block"`
}

// DeviceEntry is one `device "<id>" { ... }` block.
type DeviceEntry struct {
	ID              string   `hcl:"id,label"`
	Kind            string   `hcl:"kind"`
	Address         string   `hcl:"address,optional"`
	DefaultPriority string   `hcl:"default_priority,optional"`
	DefaultQoS      int      `hcl:"default_qos,optional"`
	BandwidthCap    string   `hcl:"bandwidth_cap,optional"`
	Capabilities    []string `hcl:"capabilities,optional"`
	ControlTopic    string   `hcl:"control_topic"`
	TelemetryTopic  string   `hcl:"telemetry_topic"`
	StatusTopic     string   `hcl:"status_topic,optional"`
}

// Grammar is the HCL-decoded intent grammar file: an ordered list of rules.
type Grammar struct {
	Rules []GrammarRule `hcl:"rule,block"`
}

// GrammarRule is one `rule { ... }` block. Pattern is a regexp with named
// capture groups; ParameterMap maps an output parameter name to the name
// of the capture group supplying its raw (pre-validation) value.
type GrammarRule struct {
	Pattern     string            `hcl:"pattern"`
	IntentType  string            `hcl:"intent_type"`
	TargetGroup string            `hcl:"target_group,optional"`
	ParameterMap map[string]string `hcl:"parameter_map,optional"`
}

// TemplateSet is the HCL-decoded policy templates file.
type TemplateSet struct {
	Templates []Template `hcl:"template,block"`
}

// Template is one `template "<kind>" { ... }` block: a parameterized
// directive skeleton with named substitution holes (referenced as
// "${name}" inside Skeleton).
type Template struct {
	Kind     string `hcl:"kind,label"`
	Skeleton string `hcl:"skeleton"`
}
