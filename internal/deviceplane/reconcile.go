package deviceplane

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ibnctl/ibnctl/internal/model"
	"github.com/ibnctl/ibnctl/internal/store"
)

// policyStore is the slice of *store.Store the Enforcer needs to find
// Policies to redeliver and to record telemetry samples, narrowed so
// tests can fake it.
type policyStore interface {
	ListPolicies(filter store.PolicyFilter) ([]model.Policy, error)
	UpdatePolicyStatus(ctx context.Context, id string, status model.PolicyStatus, lastError string, consecutiveFailures int, appliedAt any) error
	AppendMetricSample(sample model.MetricSample) error
}

// SetStore wires the State Store into the Enforcer so a device's birth
// message can trigger redelivery of everything meant for it.
func (e *Enforcer) SetStore(s policyStore) {
	e.mu.Lock()
	e.store = s
	e.mu.Unlock()
}

// Subscribe wires the Enforcer's status/telemetry handling onto an
// already-connected client for every device the lookup knows about at
// call time. Call again after reconnect to resubscribe.
func Subscribe(client mqtt.Client, devices []model.Device, enforcer *Enforcer) error {
	for _, d := range devices {
		device := d
		statusTopic := device.StatusTopic
		if statusTopic == "" {
			statusTopic = "ibnctl/" + device.ID + "/status"
		}
		telemetryTopic := device.TelemetryTopic
		if telemetryTopic == "" {
			telemetryTopic = "ibnctl/" + device.ID + "/telemetry"
		}

		if token := client.Subscribe(statusTopic, mustQos, func(_ mqtt.Client, msg mqtt.Message) {
			enforcer.HandleStatusMessage(device.ID, string(msg.Payload()) == "online")
		}); token.Wait() && token.Error() != nil {
			return token.Error()
		}

		if token := client.Subscribe(telemetryTopic, mustQos, func(_ mqtt.Client, msg mqtt.Message) {
			enforcer.HandleTelemetryMessage(device.ID, msg.Payload())
		}); token.Wait() && token.Error() != nil {
			return token.Error()
		}
	}
	return nil
}

// HandleStatusMessage updates the cached online/offline state for a
// device and, on a transition to online, redelivers every Policy the
// Store has recorded as applied or pending_delivery for it. This is the
// device-plane counterpart of the data-plane Reconciler: instead of a
// periodic diff-then-apply tick, redelivery is event-driven off the
// device's own birth message.
func (e *Enforcer) HandleStatusMessage(deviceID string, online bool) {
	becameOnline := e.setOnline(deviceID, online)
	if !becameOnline {
		return
	}

	e.mu.Lock()
	s := e.store
	e.mu.Unlock()
	if s == nil {
		return
	}

	ctx := context.Background()
	pending := e.devicePolicies(s, deviceID, model.PolicyApplied)
	pending = append(pending, e.devicePolicies(s, deviceID, model.PolicyPendingDelivery)...)

	for _, p := range pending {
		e.logger.Info("redelivering policy on device reconnect", "device", deviceID, "policy", p.ID)
		err := e.Apply(ctx, p)
		switch {
		case err == nil:
			_ = s.UpdatePolicyStatus(ctx, p.ID, model.PolicyApplied, "", 0, time.Now().UnixMilli())
		case err == ErrDeviceOffline:
			_ = s.UpdatePolicyStatus(ctx, p.ID, model.PolicyPendingDelivery, "", p.ConsecutiveFailures, nil)
		default:
			failures := p.ConsecutiveFailures + 1
			status := model.PolicyPending
			if failures >= MaxConsecutiveFailures {
				status = model.PolicyFailed
			}
			_ = s.UpdatePolicyStatus(ctx, p.ID, status, err.Error(), failures, nil)
		}
	}
}

func (e *Enforcer) devicePolicies(s policyStore, deviceID string, status model.PolicyStatus) []model.Policy {
	all, err := s.ListPolicies(store.PolicyFilter{Plane: model.PlaneDevice, Status: status})
	if err != nil {
		return nil
	}
	out := make([]model.Policy, 0, len(all))
	for _, p := range all {
		if p.Target == deviceID {
			out = append(out, p)
		}
	}
	return out
}
