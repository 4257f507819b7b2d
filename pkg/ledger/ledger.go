package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Store is the durable interface for ledger persistence. Implementations
// must provide at-least atomic per-record writes; retries are the
// implementation's concern, never the caller's.
type Store interface {
	// AppendRequest persists a request record. Appending a second request
	// for the same action id is an error.
	AppendRequest(ctx context.Context, rec RequestRecord) error

	// AppendResponse persists a response record for an existing action.
	AppendResponse(ctx context.Context, rec ResponseRecord) error

	// Details joins the request record with any response records.
	// Returns ErrNotFound when no request record exists for the id.
	Details(ctx context.Context, actionID string) (*ActionDetails, error)
}

// RequestOptions are the inputs for one request record.
type RequestOptions struct {
	ActionID  string
	Command   string
	AgentIDs  []string
	Hosts     map[string]HostInfo
	Comment   string
	CreatedBy string
}

// ResponseOptions are the inputs for one response record.
type ResponseOptions struct {
	ActionID    string
	AgentID     string
	Command     string
	RequestHash string
}

// Writer assembles immutable ledger records, stamps timestamps, computes
// content hashes, and delegates persistence to a Store.
type Writer struct {
	store Store
	clock func() time.Time
	log   *slog.Logger
}

// NewWriter creates a Writer over the given store.
func NewWriter(store Store, log *slog.Logger) *Writer {
	return &Writer{store: store, clock: time.Now, log: log}
}

// NewWriterWithClock creates a Writer with an injectable clock.
func NewWriterWithClock(store Store, log *slog.Logger, clock func() time.Time) *Writer {
	return &Writer{store: store, clock: clock, log: log}
}

// now stamps record timestamps in UTC at microsecond precision. Hashes are
// computed over these stamps, and a Postgres TIMESTAMP column holds at most
// microseconds, so finer precision would change the digest after a
// round-trip through the SQL store.
func (w *Writer) now() time.Time {
	return w.clock().UTC().Truncate(time.Microsecond)
}

// WriteRequest persists the request record for an action. The record must
// exist before the rest of the system treats the action as dispatched.
func (w *Writer) WriteRequest(ctx context.Context, opts RequestOptions) (*RequestRecord, error) {
	if opts.ActionID == "" {
		return nil, fmt.Errorf("ledger: action id is required")
	}
	if opts.Command == "" {
		return nil, fmt.Errorf("ledger: command is required")
	}

	rec := RequestRecord{
		ActionID:  opts.ActionID,
		Command:   opts.Command,
		AgentIDs:  opts.AgentIDs,
		Hosts:     opts.Hosts,
		Comment:   opts.Comment,
		CreatedBy: opts.CreatedBy,
		CreatedAt: w.now(),
	}

	hash, err := HashRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("ledger: hash request record: %w", err)
	}
	rec.Hash = hash

	if err := w.store.AppendRequest(ctx, rec); err != nil {
		return nil, fmt.Errorf("ledger: append request record: %w", err)
	}

	w.log.Debug("ledger request record written",
		"action_id", rec.ActionID,
		"command", rec.Command,
		"hash", rec.Hash)

	return &rec, nil
}

// WriteResponse persists the response record for an action outcome.
func (w *Writer) WriteResponse(ctx context.Context, opts ResponseOptions) (*ResponseRecord, error) {
	if opts.ActionID == "" {
		return nil, fmt.Errorf("ledger: action id is required")
	}

	rec := ResponseRecord{
		ActionID:    opts.ActionID,
		AgentID:     opts.AgentID,
		Command:     opts.Command,
		CompletedAt: w.now(),
		RequestHash: opts.RequestHash,
	}

	hash, err := HashRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("ledger: hash response record: %w", err)
	}
	rec.Hash = hash

	if err := w.store.AppendResponse(ctx, rec); err != nil {
		return nil, fmt.Errorf("ledger: append response record: %w", err)
	}

	w.log.Debug("ledger response record written",
		"action_id", rec.ActionID,
		"agent_id", rec.AgentID,
		"hash", rec.Hash)

	return &rec, nil
}

// Details joins the request and response records for external consumption.
// A chain mismatch is logged, not fatal: the stored trail is still the
// authoritative answer and an operator must see it.
func (w *Writer) Details(ctx context.Context, actionID string) (*ActionDetails, error) {
	details, err := w.store.Details(ctx, actionID)
	if err != nil {
		return nil, err
	}

	if err := VerifyChain(details); err != nil {
		w.log.Error("ledger chain verification failed",
			"action_id", actionID,
			"error", err)
	}

	return details, nil
}
