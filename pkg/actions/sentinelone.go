package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Warden-Labs/warden/pkg/audit"
	"github.com/Warden-Labs/warden/pkg/cases"
	"github.com/Warden-Labs/warden/pkg/connectors"
	"github.com/Warden-Labs/warden/pkg/ledger"
)

// SentinelOne connector sub-actions.
const (
	subActionIsolateHost = "isolateHost"
	subActionReleaseHost = "releaseHost"
	subActionGetAgents   = "getAgents"
)

// SentinelOneClient issues response actions to SentinelOne-managed agents
// through the connector registry. Construct one client per logical request
// session: the resolved connector is memoized for the client's lifetime.
type SentinelOneClient struct {
	baseClient
	registry connectors.Registry

	connectorOnce sync.Once
	connector     connectors.Connector
	connectorErr  error
}

func NewSentinelOneClient(registry connectors.Registry, opts ClientOptions) *SentinelOneClient {
	return &SentinelOneClient{
		baseClient: newBaseClient(opts),
		registry:   registry,
	}
}

var _ Client = (*SentinelOneClient)(nil)

// getConnector resolves the usable SentinelOne connector once per client
// instance, guarded against concurrent duplicate computation.
func (c *SentinelOneClient) getConnector(ctx context.Context) (connectors.Connector, error) {
	c.connectorOnce.Do(func() {
		c.connector, c.connectorErr = c.resolveConnector(ctx)
	})
	return c.connector, c.connectorErr
}

func (c *SentinelOneClient) resolveConnector(ctx context.Context) (connectors.Connector, error) {
	list, err := c.registry.List(ctx)
	if err != nil {
		// failure here is likely an authorization problem, but the registry
		// gives no reliable way to tell, so the status stays 400
		return connectors.Connector{}, NewConfigurationError(
			"unable to retrieve list of stack connectors", err, nil)
	}

	for _, conn := range list {
		if conn.Usable(connectors.TypeSentinelOne) {
			c.log.Debug("using SentinelOne stack connector", "name", conn.Name, "id", conn.ID)
			return conn, nil
		}
	}

	return connectors.Connector{}, NewConfigurationError(
		"no SentinelOne stack connector found", nil, list)
}

// sendCommand executes one sub-action envelope against the resolved
// connector. A vendor-reported error outcome is a failure even though the
// transport call succeeded.
func (c *SentinelOneClient) sendCommand(ctx context.Context, subAction string, params any) (*connectors.Result, error) {
	conn, err := c.getConnector(ctx)
	if err != nil {
		return nil, err
	}

	c.log.Debug("calling connector execute for SentinelOne",
		"connector_id", conn.ID, "sub_action", subAction)

	result, err := c.registry.Execute(ctx, connectors.ExecuteParams{
		ConnectorID:     conn.ID,
		SubAction:       subAction,
		SubActionParams: params,
	})
	if err != nil {
		return nil, NewDispatchError(
			fmt.Sprintf("attempt to send [%s] to SentinelOne failed", subAction), err)
	}

	if result.Status == connectors.StatusError {
		msg := result.ServiceMessage
		if msg == "" {
			msg = result.Message
		}
		c.log.Error("SentinelOne reported an error outcome",
			"sub_action", subAction, "message", msg)
		return nil, NewDispatchError(
			fmt.Sprintf("attempt to send [%s] to SentinelOne failed: %s", subAction, msg), nil)
	}

	return result, nil
}

type getAgentsResponse struct {
	Data []AgentInfo `json:"data"`
}

// getAgentDetails looks up one agent to capture display metadata for the
// ledger.
func (c *SentinelOneClient) getAgentDetails(ctx context.Context, agentID string) (*AgentInfo, error) {
	conn, err := c.getConnector(ctx)
	if err != nil {
		return nil, err
	}

	result, err := c.registry.Execute(ctx, connectors.ExecuteParams{
		ConnectorID:     conn.ID,
		SubAction:       subActionGetAgents,
		SubActionParams: map[string]string{"uuid": agentID},
	})
	if err != nil {
		return nil, NewDispatchError(
			fmt.Sprintf("error while attempting to retrieve SentinelOne host with agent id [%s]", agentID), err)
	}

	var resp getAgentsResponse
	if result.Status != connectors.StatusError && len(result.Data) > 0 {
		if err := json.Unmarshal(result.Data, &resp); err != nil {
			return nil, NewDispatchError(
				fmt.Sprintf("error while attempting to retrieve SentinelOne host with agent id [%s]", agentID), err)
		}
	}

	if len(resp.Data) == 0 {
		return nil, NewNotFoundError(fmt.Sprintf("SentinelOne agent id [%s] not found", agentID))
	}

	return &resp.Data[0], nil
}

func validateRequest(req ActionRequest) error {
	if len(req.AgentIDs) == 0 {
		return NewValidationError("[agent_ids]: at least one agent id is required")
	}
	if len(req.AgentIDs) > 1 {
		// TODO: support multiple agents once the ledger schema gains
		// per-agent dispatch outcomes
		return NewValidationError("[agent_ids]: multiple agent ids are not currently supported for SentinelOne")
	}
	return nil
}

func (c *SentinelOneClient) Isolate(ctx context.Context, req ActionRequest) (*ledger.ActionDetails, error) {
	return c.run(ctx, req, CommandIsolate, subActionIsolateHost)
}

func (c *SentinelOneClient) Release(ctx context.Context, req ActionRequest) (*ledger.ActionDetails, error) {
	return c.run(ctx, req, CommandUnisolate, subActionReleaseHost)
}

// run is the shared pipeline: validate, dispatch, record the request and
// response in the ledger, attach cases, return the consolidated view.
// There is no rollback: once dispatched the action is externally real and
// the remaining steps faithfully record that fact.
func (c *SentinelOneClient) run(ctx context.Context, req ActionRequest, command Command, subAction string) (_ *ledger.ActionDetails, retErr error) {
	ctx, span := c.tracer.Start(ctx, "actions."+string(command),
		trace.WithAttributes(attribute.String("agent.type", "sentinel_one")))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
		}
		span.End()
	}()

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	agentID := req.AgentIDs[0]
	// the action id exists before any external side effect and is never
	// reused
	actionID := uuid.New().String()
	span.SetAttributes(
		attribute.String("action.id", actionID),
		attribute.String("agent.id", agentID),
	)

	if _, err := c.sendCommand(ctx, subAction, map[string]string{"uuid": agentID}); err != nil {
		// the vendor did not accept the command: the ledger holds no
		// record of this attempt
		return nil, err
	}

	agent, err := c.getAgentDetails(ctx, agentID)
	if err != nil {
		return nil, err
	}

	reqRec, err := c.writeActionRequest(ctx, ledger.RequestOptions{
		ActionID: actionID,
		Command:  string(command),
		AgentIDs: req.AgentIDs,
		Hosts: map[string]ledger.HostInfo{
			agentID: {Name: agent.ComputerName},
		},
		Comment: req.Comment,
	})
	if err != nil {
		return nil, err
	}

	if _, err := c.writeActionResponse(ctx, ledger.ResponseOptions{
		ActionID:    actionID,
		AgentID:     agentID,
		Command:     string(command),
		RequestHash: reqRec.Hash,
	}); err != nil {
		return nil, err
	}

	c.attachCases(ctx, cases.AttachOptions{
		Command:  string(command),
		CaseIDs:  req.CaseIDs,
		AlertIDs: req.AlertIDs,
		Hosts:    []cases.HostMapping{{HostID: agentID, Hostname: agent.ComputerName}},
		Comment:  req.Comment,
		ActionID: actionID,
	})

	c.recordAudit(ctx, audit.EventMutation, "endpoint."+string(command), actionID, map[string]interface{}{
		"agent_id": agentID,
		"command":  string(command),
	})

	return c.FetchActionDetails(ctx, actionID)
}
