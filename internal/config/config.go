// Package config loads the controller-level settings named by
// SPEC_FULL.md's "Configuration" ambient-stack supplement (tick period,
// tolerance band, retention, transport endpoint) from the same HCL2
// format the Catalog uses for its three inputs.
package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Controller holds the daemon-level settings an operator would otherwise
// have to pass as a long flag list. Every field is optional in the file;
// Load fills unset fields from DefaultController.
type Controller struct {
	CatalogDir         string `hcl:"catalog_dir,optional"`
	StateDBPath        string `hcl:"state_db,optional"`
	DataplaneIface     string `hcl:"dataplane_iface,optional"`
	MQTTBrokerURL      string `hcl:"mqtt_broker,optional"`
	HTTPAddr           string `hcl:"http_addr,optional"`
	FeedbackPeriod     string `hcl:"feedback_period,optional"`
	FeedbackTolerance  float64 `hcl:"feedback_tolerance,optional"`
	MetricsInterval    string `hcl:"metrics_interval,optional"`
	MetricsRetention   string `hcl:"metrics_retention,optional"`
	RetentionPrunePeriod string `hcl:"retention_prune_period,optional"`
}

// DefaultController mirrors the defaults ibnctld uses when no config file
// is given.
func DefaultController() Controller {
	return Controller{
		CatalogDir:           "/etc/ibnctl/catalog",
		StateDBPath:          "/var/lib/ibnctl/state.db",
		DataplaneIface:       "eth0",
		MQTTBrokerURL:        "tcp://localhost:1883",
		HTTPAddr:             ":8088",
		FeedbackPeriod:       "15s",
		FeedbackTolerance:    0.10,
		MetricsInterval:      "15s",
		MetricsRetention:     "168h",
		RetentionPrunePeriod: "1h",
	}
}

// Load parses an HCL controller-settings file, falling back to
// DefaultController's values for anything the file leaves unset.
func Load(path string) (Controller, error) {
	cfg := DefaultController()

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return Controller{}, fmt.Errorf("parse %s: %w", path, diags)
	}

	var fileCfg Controller
	if diags := gohcl.DecodeBody(file.Body, nil, &fileCfg); diags.HasErrors() {
		return Controller{}, fmt.Errorf("decode %s: %w", path, diags)
	}

	mergeDefaults(&fileCfg, cfg)
	return fileCfg, nil
}

func mergeDefaults(cfg *Controller, defaults Controller) {
	if cfg.CatalogDir == "" {
		cfg.CatalogDir = defaults.CatalogDir
	}
	if cfg.StateDBPath == "" {
		cfg.StateDBPath = defaults.StateDBPath
	}
	if cfg.DataplaneIface == "" {
		cfg.DataplaneIface = defaults.DataplaneIface
	}
	if cfg.MQTTBrokerURL == "" {
		cfg.MQTTBrokerURL = defaults.MQTTBrokerURL
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = defaults.HTTPAddr
	}
	if cfg.FeedbackPeriod == "" {
		cfg.FeedbackPeriod = defaults.FeedbackPeriod
	}
	if cfg.FeedbackTolerance == 0 {
		cfg.FeedbackTolerance = defaults.FeedbackTolerance
	}
	if cfg.MetricsInterval == "" {
		cfg.MetricsInterval = defaults.MetricsInterval
	}
	if cfg.MetricsRetention == "" {
		cfg.MetricsRetention = defaults.MetricsRetention
	}
	if cfg.RetentionPrunePeriod == "" {
		cfg.RetentionPrunePeriod = defaults.RetentionPrunePeriod
	}
}

// ParseDuration parses one of the file's duration-shaped string fields,
// falling back to def on an empty string.
func ParseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
