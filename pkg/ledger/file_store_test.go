package ledger_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Warden-Labs/warden/pkg/ledger"
)

func TestFileStore_SurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	ctx := context.Background()

	store, err := ledger.NewFileStore(path)
	require.NoError(t, err)

	w := ledger.NewWriterWithClock(store, testLogger(), fixedClock())
	req, err := w.WriteRequest(ctx, ledger.RequestOptions{
		ActionID: "act-1",
		Command:  "isolate",
		AgentIDs: []string{"a-1"},
		Hosts:    map[string]ledger.HostInfo{"a-1": {Name: "web-01"}},
	})
	require.NoError(t, err)

	_, err = w.WriteResponse(ctx, ledger.ResponseOptions{
		ActionID:    "act-1",
		AgentID:     "a-1",
		Command:     "isolate",
		RequestHash: req.Hash,
	})
	require.NoError(t, err)

	// reopen from disk
	reopened, err := ledger.NewFileStore(path)
	require.NoError(t, err)

	details, err := reopened.Details(ctx, "act-1")
	require.NoError(t, err)
	assert.Equal(t, "isolate", details.Command)
	require.Len(t, details.Responses, 1)
	require.NoError(t, ledger.VerifyChain(details))
}

func TestFileStore_DuplicateRequestRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	store, err := ledger.NewFileStore(path)
	require.NoError(t, err)

	rec := ledger.RequestRecord{ActionID: "act-1", Command: "isolate", AgentIDs: []string{"a-1"}}
	require.NoError(t, store.AppendRequest(context.Background(), rec))
	require.Error(t, store.AppendRequest(context.Background(), rec))
}
