package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Warden-Labs/warden/pkg/actions"
)

// actionRequestSchema validates the shape of isolate/unisolate bodies
// before they reach the orchestrator. Policy-level checks (such as the
// single-agent limitation) stay in the actions client.
var actionRequestSchema = jsonschema.MustCompileString("action_request.json", `{
	"type": "object",
	"required": ["agent_ids"],
	"additionalProperties": false,
	"properties": {
		"agent_ids": {
			"type": "array",
			"minItems": 1,
			"items": {"type": "string", "minLength": 1}
		},
		"comment":   {"type": "string"},
		"case_ids":  {"type": "array", "items": {"type": "string", "minLength": 1}},
		"alert_ids": {"type": "array", "items": {"type": "string", "minLength": 1}}
	}
}`)

// ClientFactory builds one actions client per request. Connector
// resolution is memoized per client instance, so a fresh client per
// request makes configuration changes visible on the next request, never
// mid-flight.
type ClientFactory func(ctx context.Context) actions.Client

// Handler serves the response-action routes.
type Handler struct {
	newClient ClientFactory
	log       *slog.Logger
}

func NewHandler(factory ClientFactory, log *slog.Logger) *Handler {
	return &Handler{newClient: factory, log: log}
}

// Register mounts the response-action routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/endpoint/isolate", h.handleIsolate)
	mux.HandleFunc("POST /api/endpoint/unisolate", h.handleRelease)
	mux.HandleFunc("GET /api/endpoint/action/{id}", h.handleActionDetails)
	mux.HandleFunc("GET /health", h.handleHealth)
}

func (h *Handler) handleIsolate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeActionRequest(w, r)
	if !ok {
		return
	}

	details, err := h.newClient(r.Context()).Isolate(r.Context(), req)
	if err != nil {
		WriteActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeActionRequest(w, r)
	if !ok {
		return
	}

	details, err := h.newClient(r.Context()).Release(r.Context(), req)
	if err != nil {
		WriteActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *Handler) handleActionDetails(w http.ResponseWriter, r *http.Request) {
	actionID := r.PathValue("id")
	if actionID == "" {
		WriteBadRequest(w, "action id is required")
		return
	}

	details, err := h.newClient(r.Context()).FetchActionDetails(r.Context(), actionID)
	if err != nil {
		WriteActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeActionRequest reads, schema-validates, and decodes the body.
func (h *Handler) decodeActionRequest(w http.ResponseWriter, r *http.Request) (actions.ActionRequest, bool) {
	var req actions.ActionRequest

	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		WriteBadRequest(w, "unable to read request body")
		return req, false
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		WriteBadRequest(w, "request body is not valid JSON")
		return req, false
	}
	if err := actionRequestSchema.Validate(body); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Invalid Request", err.Error())
		return req, false
	}

	if err := json.Unmarshal(raw, &req); err != nil {
		WriteBadRequest(w, "request body does not match the expected shape")
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
