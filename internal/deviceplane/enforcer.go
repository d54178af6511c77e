package deviceplane

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	ierrors "github.com/ibnctl/ibnctl/internal/errors"
	"github.com/ibnctl/ibnctl/internal/logging"
	"github.com/ibnctl/ibnctl/internal/model"
)

const (
	DefaultAckWindow       = 5 * time.Second
	DefaultApplyTimeout    = 10 * time.Second // includes ack wait, per spec.md §5
	MaxConsecutiveFailures = 3
	maxPublishAttempts     = 3
	backoffBase            = 500 * time.Millisecond
)

// ErrDeviceOffline is returned by Apply when the target device's status
// topic last reported "offline". The caller should record the Policy as
// pending_delivery rather than counting it against the failure threshold;
// delivery resumes automatically when the device's birth message arrives.
var ErrDeviceOffline = errors.New("deviceplane: device offline")

// DeviceLookup resolves a device ID to its Catalog record.
type DeviceLookup func(id string) (model.Device, bool)

type job struct {
	ctx    context.Context
	policy model.Policy
	result chan error
}

// Enforcer realizes device-plane Policies over MQTT. Commands for the
// same device are serialized through a per-device inbox so a device
// never sees two in-flight commands racing, while different devices are
// processed concurrently across a bounded worker pool.
type Enforcer struct {
	client  mqttClient
	lookup  DeviceLookup
	logger  *logging.Logger
	ackWindow time.Duration

	inboxes []chan job

	mu      sync.Mutex
	online  map[string]bool
	waiters map[string]*ackWaiter // device ID -> pending ack (one in-flight Apply per device, per-device inbox serialization)
	store   policyStore
}

// ackWaiter describes what telemetry sample would confirm the in-flight
// command for one device, per spec.md §4.5: "the device emits a telemetry
// sample that reflects the change". matchable is false for commands with
// no quantifiable parameter to reflect (e.g. RESET, ENABLE); any telemetry
// arriving while such a command is in flight is treated as the ack, since
// the wire contract gives no other way to correlate a reply.
type ackWaiter struct {
	ch        chan struct{}
	key       string
	want      any
	matchable bool
}

// New builds an Enforcer with poolSize worker goroutines, one inbox each.
// poolSize bounds fan-out; devices hash onto inboxes by ID so a given
// device's commands always land on the same worker and stay ordered.
func New(client mqttClient, lookup DeviceLookup, poolSize int, logger *logging.Logger) *Enforcer {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	if poolSize < 1 {
		poolSize = 1
	}

	e := &Enforcer{
		client:    client,
		lookup:    lookup,
		logger:    logger,
		ackWindow: DefaultAckWindow,
		inboxes:   make([]chan job, poolSize),
		online:    make(map[string]bool),
		waiters:   make(map[string]*ackWaiter),
	}
	for i := range e.inboxes {
		e.inboxes[i] = make(chan job, 64)
		go e.drain(e.inboxes[i])
	}
	return e
}

func (e *Enforcer) drain(inbox chan job) {
	for j := range inbox {
		j.result <- e.doApply(j.ctx, j.policy)
	}
}

func inboxIndex(deviceID string, poolSize int) int {
	h := fnv.New32a()
	h.Write([]byte(deviceID))
	return int(h.Sum32()) % poolSize
}

// Apply enqueues the command for delivery and blocks until it is
// published and acknowledged, the ack window elapses, or ctx is done.
func (e *Enforcer) Apply(ctx context.Context, policy model.Policy) error {
	j := job{ctx: ctx, policy: policy, result: make(chan error, 1)}
	idx := inboxIndex(policy.Target, len(e.inboxes))
	select {
	case e.inboxes[idx] <- j:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Rollback is best-effort: device state lives on hardware the controller
// doesn't own, so rollback publishes an advisory undo command rather than
// guaranteeing reversal.
func (e *Enforcer) Rollback(ctx context.Context, policy model.Policy) error {
	device, ok := e.lookup(policy.Target)
	if !ok {
		return nil
	}
	payload, err := json.Marshal(map[string]any{
		"command":         "ROLLBACK",
		"target_policy_id": policy.ID,
		"original_command":  policy.Parameters["command"],
	})
	if err != nil {
		return err
	}
	topic := controlTopic(device)
	token := e.client.Publish(topic, mustQos, false, payload)
	token.WaitTimeout(e.ackWindow)
	return token.Error()
}

func (e *Enforcer) doApply(ctx context.Context, policy model.Policy) error {
	device, ok := e.lookup(policy.Target)
	if !ok {
		return ierrors.Errorf(ierrors.KindUnknownTarget, "deviceplane: unknown device %q", policy.Target)
	}

	if !e.isOnline(device.ID) {
		return ErrDeviceOffline
	}

	payload, err := json.Marshal(map[string]any{
		"policy_id":  policy.ID,
		"command":    policy.Parameters["command"],
		"parameters": policy.Parameters,
	})
	if err != nil {
		return ierrors.Wrap(err, ierrors.KindInternal, "deviceplane: marshal command")
	}

	topic := controlTopic(device)
	ackKey, ackWant, matchable := ackExpectation(policy)
	waiter := e.registerWaiter(device.ID, ackKey, ackWant, matchable)
	defer e.clearWaiter(device.ID)

	var lastErr error
	backoff := backoffBase
	for attempt := 0; attempt < maxPublishAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}

		token := e.client.Publish(topic, mustQos, false, payload)
		if !token.WaitTimeout(e.ackWindow) {
			lastErr = ierrors.Errorf(ierrors.KindApplyTimeout, "deviceplane: publish to %s timed out", topic)
			continue
		}
		if token.Error() != nil {
			lastErr = ierrors.Wrap(token.Error(), ierrors.KindApplyRejected, "deviceplane: publish rejected")
			continue
		}

		select {
		case <-waiter:
			return nil
		case <-time.After(e.ackWindow):
			lastErr = ierrors.Errorf(ierrors.KindApplyTimeout, "deviceplane: no telemetry ack for policy %s", policy.ID)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func controlTopic(device model.Device) string {
	if device.ControlTopic != "" {
		return device.ControlTopic
	}
	return "ibnctl/" + device.ID + "/control"
}

func (e *Enforcer) registerWaiter(deviceID, key string, want any, matchable bool) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan struct{})
	e.waiters[deviceID] = &ackWaiter{ch: ch, key: key, want: want, matchable: matchable}
	return ch
}

func (e *Enforcer) clearWaiter(deviceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.waiters, deviceID)
}

// ackExpectation derives, from a Policy's command and parameters, which
// telemetry field would reflect the change and what value it should carry,
// per spec.md §4.5. Commands with no quantifiable parameter (RESET, ENABLE,
// unrecognized commands) report matchable=false: any telemetry received
// while the command is in flight counts as the device's acknowledgement.
func ackExpectation(policy model.Policy) (key string, want any, matchable bool) {
	switch policy.Kind {
	case model.PolicyMQTTQoS:
		return "qos", policy.Parameters["qos"], true
	case model.PolicyDeviceControl:
		command, _ := policy.Parameters["command"].(string)
		switch {
		case command == "SET_SAMPLING_INTERVAL":
			return "interval_ms", policy.Parameters["interval_ms"], true
		case command == "SET_AUDIO_GAIN":
			return "value", policy.Parameters["value"], true
		case command == "SET_POWER_MODE":
			return "mode", policy.Parameters["mode"], true
		case strings.HasPrefix(command, "SET_CAMERA_"):
			if field, ok := policy.Parameters["field"].(string); ok && field != "" {
				return field, policy.Parameters["value"], true
			}
		}
	}
	return "", nil, false
}

// HandleTelemetryMessage decodes a telemetry payload per spec.md §6's wire
// contract (`{"device_id", "timestamp", <metric>: <value>, ...}`, metrics
// as flat top-level fields, not a nested envelope), resolves the device's
// ack waiter if the sample reflects the in-flight command's requested
// value, and records every numeric field into the State Store so the
// Feedback Controller's goal evaluation has samples to compare against.
func (e *Enforcer) HandleTelemetryMessage(deviceID string, payload []byte) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return
	}

	e.mu.Lock()
	w, waiting := e.waiters[deviceID]
	if waiting && ackSatisfiedBy(w, raw) {
		delete(e.waiters, deviceID)
	} else {
		waiting = false
	}
	s := e.store
	e.mu.Unlock()
	if waiting {
		// Resolved after this payload's samples are recorded, so an Apply
		// that returns on the ack already finds them in the store.
		defer close(w.ch)
	}

	if s == nil {
		return
	}
	now := time.Now()
	for name, value := range raw {
		if name == "device_id" || name == "timestamp" {
			continue
		}
		f, ok := toFloat(value)
		if !ok {
			continue
		}
		sample := model.MetricSample{MetricName: name, DeviceID: deviceID, Value: f, Timestamp: now}
		if err := s.AppendMetricSample(sample); err != nil {
			e.logger.Warn("failed to record telemetry sample", "device", deviceID, "metric", name, "error", err)
		}
	}
}

// ackSatisfiedBy reports whether a telemetry payload reflects the change
// a pending command requested.
func ackSatisfiedBy(w *ackWaiter, raw map[string]any) bool {
	if !w.matchable {
		return true
	}
	got, ok := raw[w.key]
	if !ok {
		return false
	}
	return valuesMatch(w.want, got)
}

// valuesMatch compares a requested parameter against a telemetry-reported
// value, tolerating the numeric-type drift JSON round-tripping introduces
// (requested int/int64/float64 vs. a decoded float64).
func valuesMatch(want, got any) bool {
	if wf, ok := toFloat(want); ok {
		gf, ok := toFloat(got)
		return ok && wf == gf
	}
	if ws, ok := want.(string); ok {
		gs, ok := got.(string)
		return ok && ws == gs
	}
	return want == got
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func (e *Enforcer) isOnline(deviceID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online[deviceID]
}

// setOnline updates the cached status derived from the device's retained
// status topic message ("online"/"offline"). Returns true if the device
// just transitioned from offline (or unknown) to online.
func (e *Enforcer) setOnline(deviceID string, online bool) (becameOnline bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	was := e.online[deviceID]
	e.online[deviceID] = online
	return online && !was
}
