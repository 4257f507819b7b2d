package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileStore implements Store using a local JSON file (for simple
// durability in air-gapped or single-node deployments).
type FileStore struct {
	path string
	mu   sync.RWMutex
	data fileData
}

type fileData struct {
	Requests  map[string]RequestRecord    `json:"requests"`
	Responses map[string][]ResponseRecord `json:"responses"`
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: fileData{
			Requests:  make(map[string]RequestRecord),
			Responses: make(map[string][]ResponseRecord),
		},
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := os.Stat(f.path); os.IsNotExist(err) {
		return nil // start empty
	}

	raw, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(raw, &f.data); err != nil {
		return err
	}
	if f.data.Requests == nil {
		f.data.Requests = make(map[string]RequestRecord)
	}
	if f.data.Responses == nil {
		f.data.Responses = make(map[string][]ResponseRecord)
	}
	return nil
}

func (f *FileStore) save() error {
	raw, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, raw, 0600)
}

func (f *FileStore) AppendRequest(ctx context.Context, rec RequestRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.data.Requests[rec.ActionID]; exists {
		return fmt.Errorf("request record already exists for action %s", rec.ActionID)
	}
	f.data.Requests[rec.ActionID] = rec
	return f.save()
}

func (f *FileStore) AppendResponse(ctx context.Context, rec ResponseRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.data.Requests[rec.ActionID]; !exists {
		return fmt.Errorf("no request record for action %s", rec.ActionID)
	}
	f.data.Responses[rec.ActionID] = append(f.data.Responses[rec.ActionID], rec)
	return f.save()
}

func (f *FileStore) Details(ctx context.Context, actionID string) (*ActionDetails, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	req, exists := f.data.Requests[actionID]
	if !exists {
		return nil, ErrNotFound
	}

	responses := make([]ResponseRecord, len(f.data.Responses[actionID]))
	copy(responses, f.data.Responses[actionID])

	return join(req, responses), nil
}
