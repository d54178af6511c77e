package orchestrator

import (
	"github.com/ibnctl/ibnctl/internal/dataplane"
	"github.com/ibnctl/ibnctl/internal/deviceplane"
	"github.com/ibnctl/ibnctl/internal/model"
)

// initEnforcers builds the data-plane Enforcer/Reconciler pair (selected
// at build time by GOOS, per SPEC_FULL.md's capability-based strategy)
// and the device-plane MQTT Enforcer, then subscribes it to every
// catalog device's status/telemetry topics.
func (o *Orchestrator) initEnforcers() error {
	o.dataEnforcer = o.newDataplaneEnforcer()
	o.dataReconciler = dataplane.NewReconciler(o.dataEnforcer, o.store, o.cfg.DataplaneIface, o.logger)

	devices := o.catalog.AllDevices()

	client, err := deviceplane.NewClient(deviceplane.ClientConfig{
		BrokerURL: o.cfg.MQTTBrokerURL,
		ClientID:  "ibnctld",
	}, nil, o.logger)
	if err != nil {
		o.logger.Warn("device-plane MQTT client unavailable, device policies will be recorded as pending_delivery", "error", err)
	} else {
		o.mqttClient = client
	}

	o.deviceEnforcer = deviceplane.New(client, o.deviceLookup, numWorkers(), o.logger)
	o.deviceEnforcer.SetStore(o.store)

	if client != nil {
		if err := deviceplane.Subscribe(client, devices, o.deviceEnforcer); err != nil {
			o.logger.Warn("failed to subscribe device-plane topics", "error", err)
		}
	}

	return nil
}

func (o *Orchestrator) deviceLookup(id string) (model.Device, bool) {
	return o.catalog.LookupDevice(id)
}
