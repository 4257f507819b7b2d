package actions_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Warden-Labs/warden/pkg/actions"
	"github.com/Warden-Labs/warden/pkg/cases"
	"github.com/Warden-Labs/warden/pkg/connectors"
	"github.com/Warden-Labs/warden/pkg/ledger"
)

// mockRegistry is a scripted connector registry that records every call.
type mockRegistry struct {
	mu         sync.Mutex
	list       []connectors.Connector
	listErr    error
	listCalls  int
	executeFn  func(params connectors.ExecuteParams) (*connectors.Result, error)
	executed   []connectors.ExecuteParams
}

func (m *mockRegistry) List(ctx context.Context) ([]connectors.Connector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.list, nil
}

func (m *mockRegistry) Execute(ctx context.Context, params connectors.ExecuteParams) (*connectors.Result, error) {
	m.mu.Lock()
	m.executed = append(m.executed, params)
	m.mu.Unlock()
	return m.executeFn(params)
}

func (m *mockRegistry) executeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.executed)
}

func usableConnector() connectors.Connector {
	return connectors.Connector{
		ID:   "s1-prod",
		Type: connectors.TypeSentinelOne,
		Name: "SentinelOne Production",
	}
}

// happyExecute answers every sub-action successfully; getAgents resolves
// the agent to hostname "web-01".
func happyExecute(params connectors.ExecuteParams) (*connectors.Result, error) {
	if params.SubAction == "getAgents" {
		data, _ := json.Marshal(map[string]any{
			"data": []map[string]any{{"uuid": "a-1", "computerName": "web-01"}},
		})
		return &connectors.Result{Status: connectors.StatusOK, Data: data}, nil
	}
	return &connectors.Result{Status: connectors.StatusOK}, nil
}

// countingStore wraps a ledger store and counts appends.
type countingStore struct {
	ledger.Store
	mu        sync.Mutex
	requests  int
	responses int
}

func (s *countingStore) AppendRequest(ctx context.Context, rec ledger.RequestRecord) error {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()
	return s.Store.AppendRequest(ctx, rec)
}

func (s *countingStore) AppendResponse(ctx context.Context, rec ledger.ResponseRecord) error {
	s.mu.Lock()
	s.responses++
	s.mu.Unlock()
	return s.Store.AppendResponse(ctx, rec)
}

// failingStore injects persistence failures.
type failingStore struct {
	ledger.Store
	failRequest  bool
	failResponse bool
}

func (s *failingStore) AppendRequest(ctx context.Context, rec ledger.RequestRecord) error {
	if s.failRequest {
		return errors.New("ledger unavailable")
	}
	return s.Store.AppendRequest(ctx, rec)
}

func (s *failingStore) AppendResponse(ctx context.Context, rec ledger.ResponseRecord) error {
	if s.failResponse {
		return errors.New("ledger unavailable")
	}
	return s.Store.AppendResponse(ctx, rec)
}

type fakeCaseService struct {
	mu       sync.Mutex
	comments map[string][]string
	err      error
}

func newFakeCaseService() *fakeCaseService {
	return &fakeCaseService{comments: make(map[string][]string)}
}

func (f *fakeCaseService) AddComment(ctx context.Context, caseID, comment string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[caseID] = append(f.comments[caseID], comment)
	return nil
}

type fixture struct {
	registry *mockRegistry
	store    *countingStore
	caseSvc  *fakeCaseService
	logBuf   *bytes.Buffer
	client   *actions.SentinelOneClient
}

func newFixture(registry *mockRegistry) *fixture {
	store := &countingStore{Store: ledger.NewMemoryStore()}
	caseSvc := newFakeCaseService()
	logBuf := &bytes.Buffer{}
	log := slog.New(slog.NewTextHandler(logBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	client := actions.NewSentinelOneClient(registry, actions.ClientOptions{
		Ledger: ledger.NewWriter(store, log),
		Cases:  cases.NewSynchronizer(caseSvc, cases.NewMemoryGuard(), log),
		Log:    log,
	})

	return &fixture{registry: registry, store: store, caseSvc: caseSvc, logBuf: logBuf, client: client}
}

func happyRegistry() *mockRegistry {
	return &mockRegistry{
		list:      []connectors.Connector{usableConnector()},
		executeFn: happyExecute,
	}
}

func TestIsolate_MultipleAgentsRejectedBeforeDispatch(t *testing.T) {
	f := newFixture(happyRegistry())

	_, err := f.client.Isolate(context.Background(), actions.ActionRequest{
		AgentIDs: []string{"a-1", "a-2"},
	})
	require.Error(t, err)

	assert.Equal(t, actions.KindValidation, actions.KindOf(err))
	assert.Equal(t, 400, actions.StatusOf(err))
	assert.Equal(t, 0, f.registry.executeCount(), "no connector call may happen for an invalid request")
}

func TestIsolate_EmptyAgentListRejected(t *testing.T) {
	f := newFixture(happyRegistry())

	_, err := f.client.Isolate(context.Background(), actions.ActionRequest{})
	require.Error(t, err)
	assert.Equal(t, actions.KindValidation, actions.KindOf(err))
	assert.Equal(t, 0, f.registry.executeCount())
}

func TestIsolate_EndToEnd(t *testing.T) {
	f := newFixture(happyRegistry())

	details, err := f.client.Isolate(context.Background(), actions.ActionRequest{
		AgentIDs: []string{"a-1"},
		Comment:  "containing incident",
		CaseIDs:  []string{"case-1"},
		AlertIDs: []string{"alert-7"},
	})
	require.NoError(t, err)
	require.NotNil(t, details)

	assert.NotEmpty(t, details.ActionID)
	assert.Equal(t, "isolate", details.Command)
	assert.Equal(t, []string{"a-1"}, details.AgentIDs)
	assert.Equal(t, "web-01", details.Hosts["a-1"].Name)
	assert.Equal(t, "containing incident", details.Comment)
	assert.True(t, details.IsCompleted)

	require.Len(t, details.Responses, 1)
	assert.Equal(t, details.ActionID, details.Responses[0].ActionID)
	assert.Equal(t, "a-1", details.Responses[0].AgentID)

	assert.Equal(t, 1, f.store.requests, "exactly one request record per action")
	assert.Equal(t, 1, f.store.responses, "exactly one response record per action")

	require.Len(t, f.caseSvc.comments["case-1"], 1)
	comment := f.caseSvc.comments["case-1"][0]
	assert.Contains(t, comment, "isolate")
	assert.Contains(t, comment, "web-01")
	assert.Contains(t, comment, details.ActionID)

	// dispatch envelope carried the vendor sub-action and target uuid
	first := f.registry.executed[0]
	assert.Equal(t, "isolateHost", first.SubAction)
	assert.Equal(t, "s1-prod", first.ConnectorID)
}

func TestRelease_RecordsUnisolate(t *testing.T) {
	f := newFixture(happyRegistry())

	details, err := f.client.Release(context.Background(), actions.ActionRequest{
		AgentIDs: []string{"a-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "unisolate", details.Command)
	assert.Equal(t, "releaseHost", f.registry.executed[0].SubAction)
}

func TestIsolate_NoUsableConnector(t *testing.T) {
	registry := &mockRegistry{
		list: []connectors.Connector{
			{ID: "s1-old", Type: connectors.TypeSentinelOne, Deprecated: true},
			{ID: "s1-stage", Type: connectors.TypeSentinelOne, MissingSecrets: true},
			{ID: "other", Type: ".crowdstrike"},
		},
		executeFn: happyExecute,
	}
	f := newFixture(registry)

	_, err := f.client.Isolate(context.Background(), actions.ActionRequest{AgentIDs: []string{"a-1"}})
	require.Error(t, err)

	assert.Equal(t, actions.KindConfiguration, actions.KindOf(err))
	assert.Equal(t, 400, actions.StatusOf(err))
	assert.Equal(t, 0, f.registry.executeCount(), "no execute call may be attempted without a usable connector")

	var aerr *actions.Error
	require.ErrorAs(t, err, &aerr)
	assert.NotNil(t, aerr.Meta, "candidate list must travel with the error")
}

func TestIsolate_ConnectorListingFails(t *testing.T) {
	registry := &mockRegistry{listErr: errors.New("registry down"), executeFn: happyExecute}
	f := newFixture(registry)

	_, err := f.client.Isolate(context.Background(), actions.ActionRequest{AgentIDs: []string{"a-1"}})
	require.Error(t, err)

	assert.Equal(t, actions.KindConfiguration, actions.KindOf(err))
	assert.ErrorContains(t, err, "registry down")
	assert.Equal(t, 0, f.registry.executeCount())
}

func TestIsolate_DeprecatedConnectorFilteredDeterministically(t *testing.T) {
	deprecated := connectors.Connector{ID: "s1-old", Type: connectors.TypeSentinelOne, Deprecated: true}
	valid := usableConnector()

	for _, order := range [][]connectors.Connector{
		{deprecated, valid},
		{valid, deprecated},
	} {
		registry := &mockRegistry{list: order, executeFn: happyExecute}
		f := newFixture(registry)

		_, err := f.client.Isolate(context.Background(), actions.ActionRequest{AgentIDs: []string{"a-1"}})
		require.NoError(t, err)
		assert.Equal(t, "s1-prod", f.registry.executed[0].ConnectorID,
			"the valid connector must win regardless of list order")
	}
}

func TestIsolate_VendorErrorOutcome(t *testing.T) {
	registry := &mockRegistry{
		list: []connectors.Connector{usableConnector()},
		executeFn: func(params connectors.ExecuteParams) (*connectors.Result, error) {
			return &connectors.Result{
				Status:         connectors.StatusError,
				Message:        "execution failed",
				ServiceMessage: "agent is offline",
			}, nil
		},
	}
	f := newFixture(registry)

	_, err := f.client.Isolate(context.Background(), actions.ActionRequest{AgentIDs: []string{"a-1"}})
	require.Error(t, err)

	assert.Equal(t, actions.KindDispatch, actions.KindOf(err))
	assert.Equal(t, 500, actions.StatusOf(err))
	assert.ErrorContains(t, err, "agent is offline", "the vendor's service message must surface")
	assert.Equal(t, 0, f.store.requests, "a command that never reached the vendor leaves no ledger record")
}

func TestIsolate_TransportFailure(t *testing.T) {
	registry := &mockRegistry{
		list: []connectors.Connector{usableConnector()},
		executeFn: func(params connectors.ExecuteParams) (*connectors.Result, error) {
			return nil, errors.New("connection refused")
		},
	}
	f := newFixture(registry)

	_, err := f.client.Isolate(context.Background(), actions.ActionRequest{AgentIDs: []string{"a-1"}})
	require.Error(t, err)
	assert.Equal(t, actions.KindDispatch, actions.KindOf(err))
	assert.Equal(t, 0, f.store.requests)
}

func TestIsolate_AgentNotFound(t *testing.T) {
	registry := &mockRegistry{
		list: []connectors.Connector{usableConnector()},
		executeFn: func(params connectors.ExecuteParams) (*connectors.Result, error) {
			if params.SubAction == "getAgents" {
				data, _ := json.Marshal(map[string]any{"data": []any{}})
				return &connectors.Result{Status: connectors.StatusOK, Data: data}, nil
			}
			return &connectors.Result{Status: connectors.StatusOK}, nil
		},
	}
	f := newFixture(registry)

	_, err := f.client.Isolate(context.Background(), actions.ActionRequest{AgentIDs: []string{"a-1"}})
	require.Error(t, err)

	assert.Equal(t, actions.KindNotFound, actions.KindOf(err))
	assert.Equal(t, 404, actions.StatusOf(err))
}

func TestIsolate_CaseAttachFailureDoesNotChangeOutcome(t *testing.T) {
	f := newFixture(happyRegistry())
	f.caseSvc.err = errors.New("case service unavailable")

	details, err := f.client.Isolate(context.Background(), actions.ActionRequest{
		AgentIDs: []string{"a-1"},
		CaseIDs:  []string{"case-1"},
	})
	require.NoError(t, err, "case sync failure must not fail the action")
	require.NotNil(t, details)
	assert.True(t, details.IsCompleted)

	assert.Contains(t, f.logBuf.String(), "failed to attach", "the failure is observable via logging only")
}

func TestIsolate_RequestWriteFailureSurfacedLoudly(t *testing.T) {
	registry := happyRegistry()
	store := &failingStore{Store: ledger.NewMemoryStore(), failRequest: true}
	log := slog.New(slog.DiscardHandler)

	client := actions.NewSentinelOneClient(registry, actions.ClientOptions{
		Ledger: ledger.NewWriter(store, log),
		Log:    log,
	})

	_, err := client.Isolate(context.Background(), actions.ActionRequest{AgentIDs: []string{"a-1"}})
	require.Error(t, err)

	assert.Equal(t, actions.KindLedgerWrite, actions.KindOf(err))
	assert.Equal(t, 500, actions.StatusOf(err))
	assert.ErrorContains(t, err, "dispatched", "the orphaned dispatch must be called out")
}

func TestIsolate_ResponseWriteFailureSurfacedLoudly(t *testing.T) {
	registry := happyRegistry()
	store := &failingStore{Store: ledger.NewMemoryStore(), failResponse: true}
	log := slog.New(slog.DiscardHandler)

	client := actions.NewSentinelOneClient(registry, actions.ClientOptions{
		Ledger: ledger.NewWriter(store, log),
		Log:    log,
	})

	_, err := client.Isolate(context.Background(), actions.ActionRequest{AgentIDs: []string{"a-1"}})
	require.Error(t, err)

	assert.Equal(t, actions.KindLedgerWrite, actions.KindOf(err))
	assert.ErrorContains(t, err, "request record without a response")
}

func TestConnectorResolutionMemoizedPerClient(t *testing.T) {
	f := newFixture(happyRegistry())
	ctx := context.Background()

	_, err := f.client.Isolate(ctx, actions.ActionRequest{AgentIDs: []string{"a-1"}})
	require.NoError(t, err)
	_, err = f.client.Release(ctx, actions.ActionRequest{AgentIDs: []string{"a-1"}})
	require.NoError(t, err)

	assert.Equal(t, 1, f.registry.listCalls, "resolution happens once per client instance")

	// a fresh client resolves again
	f2 := newFixture(f.registry)
	_, err = f2.client.Isolate(ctx, actions.ActionRequest{AgentIDs: []string{"a-1"}})
	require.NoError(t, err)
	assert.Equal(t, 2, f.registry.listCalls)
}

func TestFetchActionDetails_NotFound(t *testing.T) {
	f := newFixture(happyRegistry())

	_, err := f.client.FetchActionDetails(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, actions.KindNotFound, actions.KindOf(err))
	assert.Equal(t, 404, actions.StatusOf(err))
}
