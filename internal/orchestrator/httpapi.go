package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ibnctl/ibnctl/internal/logging"
	"github.com/ibnctl/ibnctl/internal/store"
)

// httpServer is the thin submission edge named by spec.md §6:
// submit/list/get/revoke intents, list policies, health, and Prometheus
// exposition. Shaped on the pack's gorilla/mux router wiring
// (tn/agent/pkg/http.go): one mux.Router, a buffered JSON-encode helper
// so a marshal failure never half-writes a response, ListenAndServe in
// a goroutine checked against http.ErrServerClosed.
type httpServer struct {
	o      *Orchestrator
	addr   string
	logger *logging.Logger
	srv    *http.Server
}

func newHTTPServer(o *Orchestrator, addr string, logger *logging.Logger) *httpServer {
	if addr == "" {
		addr = ":8088"
	}
	return &httpServer{o: o, addr: addr, logger: logger}
}

func (h *httpServer) run(ctx context.Context) error {
	router := mux.NewRouter()
	router.HandleFunc("/intents", h.handleSubmitIntent).Methods(http.MethodPost)
	router.HandleFunc("/intents", h.handleListIntents).Methods(http.MethodGet)
	router.HandleFunc("/intents/{id}", h.handleGetIntent).Methods(http.MethodGet)
	router.HandleFunc("/intents/{id}", h.handleRevokeIntent).Methods(http.MethodDelete)
	router.HandleFunc("/policies", h.handleListPolicies).Methods(http.MethodGet)
	router.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", h.o.registry.Handler())

	h.srv = &http.Server{
		Addr:              h.addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("starting http edge", "addr", h.addr)
		if err := h.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.srv.Shutdown(shutdownCtx)
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

type submitIntentRequest struct {
	Text      string `json:"text"`
	Submitter string `json:"submitter"`
}

func (h *httpServer) handleSubmitIntent(w http.ResponseWriter, r *http.Request) {
	var req submitIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	intent, policies, err := h.o.SubmitText(r.Context(), req.Text, req.Submitter)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"intent": intent, "policies": policies})
}

func (h *httpServer) handleListIntents(w http.ResponseWriter, r *http.Request) {
	var filter store.IntentFilter
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = statusFromQuery(status)
	}
	intents, err := h.o.store.ListIntents(filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intents)
}

func (h *httpServer) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	intent, policies, err := h.o.store.GetIntent(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"intent": intent, "policies": policies})
}

func (h *httpServer) handleRevokeIntent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	submitter := r.URL.Query().Get("submitter")
	if err := h.o.RevokeIntent(r.Context(), id, submitter); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *httpServer) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	var filter store.PolicyFilter
	if plane := r.URL.Query().Get("plane"); plane != "" {
		filter.Plane = planeFromQuery(plane)
	}
	policies, err := h.o.store.ListPolicies(filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policies)
}

func (h *httpServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{"status": "ok"}
	if h.o.inSafeMode() {
		status = http.StatusServiceUnavailable
		body["status"] = "safe_mode"
	}
	writeJSON(w, status, body)
}
