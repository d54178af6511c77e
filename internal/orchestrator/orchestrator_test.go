package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/ibnctl/ibnctl/internal/errors"
	"github.com/ibnctl/ibnctl/internal/logging"
	"github.com/ibnctl/ibnctl/internal/model"
)

const testDevices = `
device "cam-1" {
  kind             = "camera"
  default_priority = "high"
  default_qos      = 1
  capabilities     = ["mqtt", "telemetry", "bandwidth_limit"]
  control_topic    = "devices/cam-1/control"
  telemetry_topic  = "devices/cam-1/telemetry"
}
`

const testGrammar = `
rule {
  pattern      = "^limit (?P<target>.+) to (?P<rate>[0-9]+mbit)$"
  intent_type  = "bandwidth"
  target_group = "target"
  parameter_map = {
    rate = "rate"
  }
}
`

const testTemplates = `
template "htb_class" {
  skeleton = "class add dev ${interface} parent 1: classid 1:${classid} htb rate ${rate}"
}
`

// newTestOrchestrator builds a fully wired Orchestrator against a temp
// catalog directory and a temp SQLite file, with an unreachable MQTT
// broker so device-plane construction takes the best-effort-offline path
// exercised in production when the broker hasn't come up yet.
func newTestOrchestrator(t *testing.T) (*Orchestrator, context.Context) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "devices.hcl"), []byte(testDevices), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "grammar.hcl"), []byte(testGrammar), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "templates.hcl"), []byte(testTemplates), 0o644))

	logger := logging.New(logging.Config{Level: logging.LevelError, JSON: false, Output: os.Stderr})

	o := New(Config{
		StateDBPath:     filepath.Join(t.TempDir(), "state.db"),
		CatalogDir:      dir,
		DataplaneIface:  "lo",
		MQTTBrokerURL:   "tcp://127.0.0.1:1",
		HTTPAddr:        ":0",
		FeedbackPeriod:  time.Hour,
		MetricsInterval: time.Hour,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, o.Start(ctx))
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = o.Shutdown(shutdownCtx)
	})

	return o, ctx
}

func TestOrchestrator_SubmitText_HappyPath(t *testing.T) {
	o, ctx := newTestOrchestrator(t)

	intent, policies, err := o.SubmitText(ctx, "limit cam-1 to 10mbit", "operator")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompiled, intent.Status)
	assert.NotEmpty(t, policies)

	stored, storedPolicies, err := o.store.GetIntent(intent.ID)
	require.NoError(t, err)
	assert.Equal(t, intent.ID, stored.ID)
	assert.Len(t, storedPolicies, len(policies))
}

func TestOrchestrator_SubmitText_UnknownTarget(t *testing.T) {
	o, ctx := newTestOrchestrator(t)

	_, _, err := o.SubmitText(ctx, "limit sensor-99 to 10mbit", "operator")
	require.Error(t, err)
	var ie *ierrors.Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ierrors.KindUnknownTarget, ie.Kind)
}

func TestOrchestrator_SafeModeRejectsSubmissions(t *testing.T) {
	o, ctx := newTestOrchestrator(t)

	o.enterSafeMode()
	_, _, err := o.SubmitText(ctx, "limit cam-1 to 10mbit", "operator")
	require.Error(t, err)
	var ie *ierrors.Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ierrors.KindUnavailable, ie.Kind)
}

func TestOrchestrator_RevokeIntent(t *testing.T) {
	o, ctx := newTestOrchestrator(t)

	intent, _, err := o.SubmitText(ctx, "limit cam-1 to 10mbit", "operator")
	require.NoError(t, err)

	require.NoError(t, o.RevokeIntent(ctx, intent.ID, "operator"))

	stored, _, err := o.store.GetIntent(intent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuperseded, stored.Status)
}

func TestOrchestrator_RevokeIntent_NotFound(t *testing.T) {
	o, ctx := newTestOrchestrator(t)

	err := o.RevokeIntent(ctx, "does-not-exist", "operator")
	require.Error(t, err)
}

func TestHTTPHandlers_HealthReflectsSafeMode(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	h := newHTTPServer(o, ":0", o.logger)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.handleHealth(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var healthBody map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &healthBody))
	assert.Equal(t, "ok", healthBody["status"])

	o.enterSafeMode()
	rec2 := httptest.NewRecorder()
	h.handleHealth(rec2, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec2.Code)
}

func TestWriteErr_StatusMapping(t *testing.T) {
	cases := []struct {
		kind ierrors.Kind
		want int
	}{
		{ierrors.KindValidation, http.StatusBadRequest},
		{ierrors.KindParseFailure, http.StatusBadRequest},
		{ierrors.KindUnknownTarget, http.StatusBadRequest},
		{ierrors.KindCompileConflict, http.StatusBadRequest},
		{ierrors.KindNotFound, http.StatusNotFound},
		{ierrors.KindConflict, http.StatusConflict},
		{ierrors.KindUnavailable, http.StatusServiceUnavailable},
		{ierrors.KindStoreUnavailable, http.StatusServiceUnavailable},
		{ierrors.KindTransportUnavailable, http.StatusServiceUnavailable},
		{ierrors.KindTimeout, http.StatusGatewayTimeout},
		{ierrors.KindApplyTimeout, http.StatusGatewayTimeout},
		{ierrors.KindInternal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeErr(rec, ierrors.New(tc.kind, "boom"))
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestNumWorkers_Bounds(t *testing.T) {
	n := numWorkers()
	assert.GreaterOrEqual(t, n, 2)
	assert.LessOrEqual(t, n, 8)
}
