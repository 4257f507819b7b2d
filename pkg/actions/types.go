// Package actions orchestrates response actions against endpoint security
// agents: it validates operator requests, dispatches commands through a
// vendor connector, records the attempt in the append-only action ledger,
// and projects the outcome into linked cases.
package actions

import (
	"context"

	"github.com/Warden-Labs/warden/pkg/ledger"
)

// Command is one host-management command kind. Release is recorded as
// "unisolate" in the ledger, mirroring how operators query the trail.
type Command string

const (
	CommandIsolate   Command = "isolate"
	CommandUnisolate Command = "unisolate"
)

// ActionRequest is an operator's request to run one command.
type ActionRequest struct {
	// AgentIDs are the target agents. Vendor-backed variants currently
	// support exactly one agent per command; multi-agent payloads are
	// rejected, a stated limitation rather than a defect.
	AgentIDs []string `json:"agent_ids"`
	Comment  string   `json:"comment,omitempty"`
	CaseIDs  []string `json:"case_ids,omitempty"`
	AlertIDs []string `json:"alert_ids,omitempty"`
}

// AgentInfo is the vendor's view of one agent, used to capture display
// metadata for the ledger.
type AgentInfo struct {
	UUID          string `json:"uuid"`
	ComputerName  string `json:"computerName"`
	NetworkStatus string `json:"networkStatus,omitempty"`
	OSType        string `json:"osType,omitempty"`
}

// Client issues response actions for one agent-type variant. A Client
// instance is scoped to one logical request session; connector resolution
// is memoized for the instance lifetime, so configuration changes become
// visible on the next instance, never mid-action.
type Client interface {
	Isolate(ctx context.Context, req ActionRequest) (*ledger.ActionDetails, error)
	Release(ctx context.Context, req ActionRequest) (*ledger.ActionDetails, error)
	FetchActionDetails(ctx context.Context, actionID string) (*ledger.ActionDetails, error)
}
