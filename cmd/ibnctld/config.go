package main

import (
	"fmt"
	"time"

	"github.com/ibnctl/ibnctl/internal/config"
	"github.com/ibnctl/ibnctl/internal/orchestrator"
)

// buildConfig produces an orchestrator.Config either from an HCL
// controller-settings file (when configFile is non-empty) or from the
// individually-parsed flags, matching SPEC_FULL.md's "Configuration"
// ambient-stack supplement: HCL2 is the lineage's format for controller-
// level settings, the same as the Catalog's three inputs.
func buildConfig(configFile, stateDBPath, catalogDir, iface, mqttBroker, httpAddr string, feedbackPeriod, metricsInterval time.Duration) (orchestrator.Config, error) {
	if configFile == "" {
		return orchestrator.Config{
			StateDBPath:     stateDBPath,
			CatalogDir:      catalogDir,
			DataplaneIface:  iface,
			MQTTBrokerURL:   mqttBroker,
			HTTPAddr:        httpAddr,
			FeedbackPeriod:  feedbackPeriod,
			MetricsInterval: metricsInterval,
		}, nil
	}

	ctrl, err := config.Load(configFile)
	if err != nil {
		return orchestrator.Config{}, fmt.Errorf("load %s: %w", configFile, err)
	}

	period, err := config.ParseDuration(ctrl.FeedbackPeriod, 15*time.Second)
	if err != nil {
		return orchestrator.Config{}, fmt.Errorf("feedback_period: %w", err)
	}
	metricsIvl, err := config.ParseDuration(ctrl.MetricsInterval, 15*time.Second)
	if err != nil {
		return orchestrator.Config{}, fmt.Errorf("metrics_interval: %w", err)
	}
	retention, err := config.ParseDuration(ctrl.MetricsRetention, 0)
	if err != nil {
		return orchestrator.Config{}, fmt.Errorf("metrics_retention: %w", err)
	}
	prunePeriod, err := config.ParseDuration(ctrl.RetentionPrunePeriod, 0)
	if err != nil {
		return orchestrator.Config{}, fmt.Errorf("retention_prune_period: %w", err)
	}

	return orchestrator.Config{
		StateDBPath:          ctrl.StateDBPath,
		CatalogDir:           ctrl.CatalogDir,
		DataplaneIface:       ctrl.DataplaneIface,
		MQTTBrokerURL:        ctrl.MQTTBrokerURL,
		HTTPAddr:             ctrl.HTTPAddr,
		FeedbackPeriod:       period,
		FeedbackTolerance:    ctrl.FeedbackTolerance,
		MetricsInterval:      metricsIvl,
		MetricsRetention:     retention,
		RetentionPrunePeriod: prunePeriod,
	}, nil
}
