package api_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Warden-Labs/warden/pkg/actions"
	"github.com/Warden-Labs/warden/pkg/api"
	"github.com/Warden-Labs/warden/pkg/ledger"
)

// stubClient scripts the actions client behind the handlers.
type stubClient struct {
	details *ledger.ActionDetails
	err     error
	gotReq  actions.ActionRequest
}

func (s *stubClient) Isolate(ctx context.Context, req actions.ActionRequest) (*ledger.ActionDetails, error) {
	s.gotReq = req
	return s.details, s.err
}

func (s *stubClient) Release(ctx context.Context, req actions.ActionRequest) (*ledger.ActionDetails, error) {
	s.gotReq = req
	return s.details, s.err
}

func (s *stubClient) FetchActionDetails(ctx context.Context, actionID string) (*ledger.ActionDetails, error) {
	return s.details, s.err
}

func newServer(client *stubClient) *httptest.Server {
	handler := api.NewHandler(func(ctx context.Context) actions.Client {
		return client
	}, slog.New(slog.DiscardHandler))

	mux := http.NewServeMux()
	handler.Register(mux)
	return httptest.NewServer(mux)
}

func TestHandleIsolate_Success(t *testing.T) {
	client := &stubClient{details: &ledger.ActionDetails{
		ActionID: "act-1",
		Command:  "isolate",
		AgentIDs: []string{"a-1"},
	}}
	srv := newServer(client)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/endpoint/isolate", "application/json",
		strings.NewReader(`{"agent_ids":["a-1"],"comment":"containing incident"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var details ledger.ActionDetails
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&details))
	assert.Equal(t, "act-1", details.ActionID)
	assert.Equal(t, "containing incident", client.gotReq.Comment)
}

func TestHandleIsolate_SchemaRejectsMissingAgentIDs(t *testing.T) {
	client := &stubClient{}
	srv := newServer(client)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/endpoint/isolate", "application/json",
		strings.NewReader(`{"comment":"no targets"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	assert.Empty(t, client.gotReq.AgentIDs, "the orchestrator must not be invoked for an invalid body")
}

func TestHandleIsolate_ValidationErrorMapsTo400(t *testing.T) {
	client := &stubClient{err: actions.NewValidationError("[agent_ids]: multiple agent ids are not currently supported for SentinelOne")}
	srv := newServer(client)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/endpoint/isolate", "application/json",
		strings.NewReader(`{"agent_ids":["a-1","a-2"]}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var problem api.ProblemDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
	assert.Equal(t, "Invalid Request", problem.Title)
	assert.Contains(t, problem.Detail, "multiple agent ids")
}

func TestHandleRelease_DispatchErrorMapsTo500(t *testing.T) {
	client := &stubClient{err: actions.NewDispatchError("attempt to send [releaseHost] to SentinelOne failed: agent is offline", nil)}
	srv := newServer(client)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/endpoint/unisolate", "application/json",
		strings.NewReader(`{"agent_ids":["a-1"]}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var problem api.ProblemDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
	assert.Equal(t, "Dispatch Failed", problem.Title)
	assert.Contains(t, problem.Detail, "agent is offline")
}

func TestHandleActionDetails_NotFound(t *testing.T) {
	client := &stubClient{err: actions.NewNotFoundError("action [missing] not found")}
	srv := newServer(client)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/endpoint/action/missing")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleHealth(t *testing.T) {
	srv := newServer(&stubClient{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
