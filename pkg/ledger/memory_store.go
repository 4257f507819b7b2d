package ledger

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore implements Store in memory. Thread-safe via RWMutex.
// Intended for tests and single-node development.
type MemoryStore struct {
	mu        sync.RWMutex
	requests  map[string]RequestRecord
	responses map[string][]ResponseRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:  make(map[string]RequestRecord),
		responses: make(map[string][]ResponseRecord),
	}
}

func (s *MemoryStore) AppendRequest(ctx context.Context, rec RequestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[rec.ActionID]; exists {
		return fmt.Errorf("request record already exists for action %s", rec.ActionID)
	}
	s.requests[rec.ActionID] = rec
	return nil
}

func (s *MemoryStore) AppendResponse(ctx context.Context, rec ResponseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[rec.ActionID]; !exists {
		return fmt.Errorf("no request record for action %s", rec.ActionID)
	}
	s.responses[rec.ActionID] = append(s.responses[rec.ActionID], rec)
	return nil
}

func (s *MemoryStore) Details(ctx context.Context, actionID string) (*ActionDetails, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, exists := s.requests[actionID]
	if !exists {
		return nil, ErrNotFound
	}

	// copy to avoid races on mutation outside the lock
	responses := make([]ResponseRecord, len(s.responses[actionID]))
	copy(responses, s.responses[actionID])

	return join(req, responses), nil
}

// join assembles the read projection from one request and its responses.
func join(req RequestRecord, responses []ResponseRecord) *ActionDetails {
	details := &ActionDetails{
		ActionID:  req.ActionID,
		Command:   req.Command,
		AgentIDs:  req.AgentIDs,
		Hosts:     req.Hosts,
		Comment:   req.Comment,
		CreatedBy: req.CreatedBy,
		CreatedAt: req.CreatedAt,
		Responses: responses,
	}

	// completed once every targeted agent has reported an outcome
	seen := make(map[string]bool, len(responses))
	for i := range responses {
		seen[responses[i].AgentID] = true
		if details.CompletedAt == nil || responses[i].CompletedAt.After(*details.CompletedAt) {
			ts := responses[i].CompletedAt
			details.CompletedAt = &ts
		}
	}
	details.IsCompleted = len(req.AgentIDs) > 0 && len(seen) >= len(req.AgentIDs)

	return details
}
