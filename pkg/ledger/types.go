// Package ledger is the append-only audit store for response actions. Every
// action produces one immutable request record at dispatch time and one
// response record per agent outcome; the pair is the canonical answer to
// "what was requested, what happened, and why". Records are never updated
// or deleted.
package ledger

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no request record exists for an action id.
var ErrNotFound = errors.New("not found")

// HostInfo is per-agent display metadata captured at dispatch time.
type HostInfo struct {
	Name string `json:"name"`
}

// RequestRecord is the immutable record of one issued command. The action
// id is assigned by the caller before any external side effect and is never
// reused. Hash is the JCS/SHA-256 digest of the record content.
type RequestRecord struct {
	ActionID  string              `json:"action_id"`
	Command   string              `json:"command"`
	AgentIDs  []string            `json:"agent_ids"`
	Hosts     map[string]HostInfo `json:"hosts,omitempty"`
	Comment   string              `json:"comment,omitempty"`
	CreatedBy string              `json:"created_by,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	Hash      string              `json:"hash,omitempty"`
}

// ResponseRecord is the immutable record of one observed outcome. Absence
// of a response record for an action id means the action is in flight or
// failed before the vendor call returned. RequestHash chains the response
// to its request record.
type ResponseRecord struct {
	ActionID    string    `json:"action_id"`
	AgentID     string    `json:"agent_id"`
	Command     string    `json:"command"`
	CompletedAt time.Time `json:"completed_at"`
	RequestHash string    `json:"request_hash,omitempty"`
	Hash        string    `json:"hash,omitempty"`
}

// ActionDetails is the read projection joining one request record with any
// response records observed so far.
type ActionDetails struct {
	ActionID    string              `json:"action_id"`
	Command     string              `json:"command"`
	AgentIDs    []string            `json:"agent_ids"`
	Hosts       map[string]HostInfo `json:"hosts,omitempty"`
	Comment     string              `json:"comment,omitempty"`
	CreatedBy   string              `json:"created_by,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	IsCompleted bool                `json:"is_completed"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	Responses   []ResponseRecord    `json:"responses,omitempty"`
}
