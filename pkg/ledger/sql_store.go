package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// SQLStore implements Store using database/sql. It supports both Postgres
// and SQLite via standard drivers. Agent lists and host metadata are stored
// as JSON text so the schema stays driver-neutral.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS action_requests (
	action_id TEXT PRIMARY KEY,
	command TEXT NOT NULL,
	agent_ids TEXT NOT NULL,
	hosts TEXT NOT NULL,
	comment TEXT,
	created_by TEXT,
	created_at TIMESTAMP NOT NULL,
	hash TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS action_responses (
	action_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	command TEXT NOT NULL,
	completed_at TIMESTAMP NOT NULL,
	request_hash TEXT NOT NULL,
	hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_action_responses_action_id ON action_responses (action_id);
`

func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLStore) AppendRequest(ctx context.Context, rec RequestRecord) error {
	agentIDs, err := json.Marshal(rec.AgentIDs)
	if err != nil {
		return err
	}
	hosts, err := json.Marshal(rec.Hosts)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO action_requests (action_id, command, agent_ids, hosts, comment, created_by, created_at, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	// append-only enforced by the primary key
	_, err = s.db.ExecContext(ctx, query,
		rec.ActionID, rec.Command, string(agentIDs), string(hosts),
		rec.Comment, rec.CreatedBy, rec.CreatedAt, rec.Hash,
	)
	return err
}

func (s *SQLStore) AppendResponse(ctx context.Context, rec ResponseRecord) error {
	// a response must chain to an existing request record
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM action_requests WHERE action_id = $1`, rec.ActionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("no request record for action %s", rec.ActionID)
	}
	if err != nil {
		return err
	}

	query := `
		INSERT INTO action_responses (action_id, agent_id, command, completed_at, request_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.ActionID, rec.AgentID, rec.Command, rec.CompletedAt, rec.RequestHash, rec.Hash,
	)
	return err
}

func (s *SQLStore) Details(ctx context.Context, actionID string) (*ActionDetails, error) {
	query := `SELECT action_id, command, agent_ids, hosts, comment, created_by, created_at, hash
		FROM action_requests WHERE action_id = $1`
	row := s.db.QueryRowContext(ctx, query, actionID)

	var req RequestRecord
	var agentIDs, hosts string
	err := row.Scan(&req.ActionID, &req.Command, &agentIDs, &hosts,
		&req.Comment, &req.CreatedBy, &req.CreatedAt, &req.Hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(agentIDs), &req.AgentIDs); err != nil {
		return nil, fmt.Errorf("decode agent ids for %s: %w", actionID, err)
	}
	if err := json.Unmarshal([]byte(hosts), &req.Hosts); err != nil {
		return nil, fmt.Errorf("decode hosts for %s: %w", actionID, err)
	}

	responses, err := s.responsesFor(ctx, actionID)
	if err != nil {
		return nil, err
	}

	return join(req, responses), nil
}

func (s *SQLStore) responsesFor(ctx context.Context, actionID string) ([]ResponseRecord, error) {
	query := `SELECT action_id, agent_id, command, completed_at, request_hash, hash
		FROM action_responses WHERE action_id = $1 ORDER BY completed_at`
	rows, err := s.db.QueryContext(ctx, query, actionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]ResponseRecord, 0)
	for rows.Next() {
		var rec ResponseRecord
		if err := rows.Scan(&rec.ActionID, &rec.AgentID, &rec.Command,
			&rec.CompletedAt, &rec.RequestHash, &rec.Hash); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
