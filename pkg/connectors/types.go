// Package connectors defines the registry contract through which Warden
// reaches vendor agent-management APIs. A Connector is a named, versioned
// configuration for one vendor endpoint; the Registry executes generic
// sub-action envelopes against it without Warden owning any vendor wire
// format.
package connectors

import (
	"context"
	"encoding/json"
)

// Connector type tags, one per supported vendor platform.
const (
	TypeSentinelOne = ".sentinelone"
)

// Connector is a configured credential/endpoint bundle for one vendor's
// management API.
type Connector struct {
	ID             string            `json:"id" yaml:"id"`
	Type           string            `json:"type" yaml:"type"`
	Name           string            `json:"name" yaml:"name"`
	Deprecated     bool              `json:"deprecated" yaml:"deprecated"`
	MissingSecrets bool              `json:"missing_secrets" yaml:"missing_secrets"`
	Config         map[string]string `json:"config,omitempty" yaml:"config,omitempty"`
}

// Usable reports whether the connector can serve requests for the given
// type tag. Deprecated connectors and connectors with missing secrets are
// never usable.
func (c Connector) Usable(typeTag string) bool {
	return c.Type == typeTag && !c.Deprecated && !c.MissingSecrets
}

// ExecuteParams is the generic envelope passed to a connector: a vendor
// sub-action name plus its parameters.
type ExecuteParams struct {
	ConnectorID     string `json:"connector_id"`
	SubAction       string `json:"sub_action"`
	SubActionParams any    `json:"sub_action_params,omitempty"`
}

// Result statuses reported by a connector execution.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Result is the tagged outcome of one connector execution. Status "error"
// means the vendor reported a failure even though the transport call
// succeeded; ServiceMessage carries the vendor's own wording when present.
type Result struct {
	Status         string          `json:"status"`
	Data           json.RawMessage `json:"data,omitempty"`
	Message        string          `json:"message,omitempty"`
	ServiceMessage string          `json:"service_message,omitempty"`
}

// Registry is the external collaborator that owns connector configuration
// and execution. Implementations must provide consistent reads from List;
// retries and timeouts for Execute are the implementation's concern.
type Registry interface {
	// List returns every configured connector, usable or not.
	List(ctx context.Context) ([]Connector, error)

	// Execute runs one envelope against the identified connector and
	// returns the vendor's tagged result. A non-nil error indicates a
	// transport-level failure; vendor-reported failures come back as a
	// Result with Status "error".
	Execute(ctx context.Context, params ExecuteParams) (*Result, error)
}
