package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Warden-Labs/warden/pkg/audit"
	"github.com/Warden-Labs/warden/pkg/auth"
	"github.com/Warden-Labs/warden/pkg/cases"
	"github.com/Warden-Labs/warden/pkg/ledger"
)

// ClientOptions are the collaborators shared by every agent-type variant.
// Ambient services (logger, audit sink) are injected explicitly.
type ClientOptions struct {
	Ledger *ledger.Writer
	Cases  *cases.Synchronizer
	Audit  audit.Recorder
	Log    *slog.Logger
}

// baseClient carries the pipeline steps common to all variants:
// record request, record response, attach cases, fetch details.
type baseClient struct {
	ledger *ledger.Writer
	cases  *cases.Synchronizer
	audit  audit.Recorder
	log    *slog.Logger
	tracer trace.Tracer
}

func newBaseClient(opts ClientOptions) baseClient {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return baseClient{
		ledger: opts.Ledger,
		cases:  opts.Cases,
		audit:  opts.Audit,
		log:    log,
		tracer: otel.Tracer("warden/actions"),
	}
}

// writeActionRequest persists the request record. By the time this runs the
// vendor call has already succeeded, so a failure leaves an externally-real
// action with no record: it is wrapped as a loud LedgerWrite failure and an
// operator must reconcile out of band.
func (c *baseClient) writeActionRequest(ctx context.Context, opts ledger.RequestOptions) (*ledger.RequestRecord, error) {
	if opts.CreatedBy == "" {
		opts.CreatedBy = auth.ActorID(ctx, "system")
	}

	rec, err := c.ledger.WriteRequest(ctx, opts)
	if err != nil {
		c.recordAudit(ctx, audit.EventSystem, "endpoint.ledger_write_failed", opts.ActionID,
			map[string]interface{}{"record": "request", "error": err.Error()})
		return nil, NewLedgerWriteError(
			fmt.Sprintf("command [%s] was dispatched but writing the request record failed; action [%s] is untracked",
				opts.Command, opts.ActionID),
			err)
	}
	return rec, nil
}

// writeActionResponse persists the response record. A failure here leaves a
// request record without a response, an observable orphaned-dispatch state
// that is surfaced, not corrected.
func (c *baseClient) writeActionResponse(ctx context.Context, opts ledger.ResponseOptions) (*ledger.ResponseRecord, error) {
	rec, err := c.ledger.WriteResponse(ctx, opts)
	if err != nil {
		c.recordAudit(ctx, audit.EventSystem, "endpoint.ledger_write_failed", opts.ActionID,
			map[string]interface{}{"record": "response", "error": err.Error()})
		return nil, NewLedgerWriteError(
			fmt.Sprintf("writing the response record failed; action [%s] has a request record without a response",
				opts.ActionID),
			err)
	}
	return rec, nil
}

// attachCases projects the outcome into linked cases. Failures are logged
// and never change the operation's outcome.
func (c *baseClient) attachCases(ctx context.Context, opts cases.AttachOptions) {
	if c.cases == nil || len(opts.CaseIDs) == 0 {
		return
	}
	if err := c.cases.Attach(ctx, opts); err != nil {
		c.log.Error("failed to attach action to cases",
			"action_id", opts.ActionID,
			"command", opts.Command,
			"error", err)
	}
}

func (c *baseClient) recordAudit(ctx context.Context, eventType audit.EventType, action, actionID string, metadata map[string]interface{}) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Record(ctx, eventType, action, actionID, metadata); err != nil {
		c.log.Error("failed to record audit event", "action", action, "error", err)
	}
}

// FetchActionDetails returns the consolidated request/response view of one
// action from the ledger.
func (c *baseClient) FetchActionDetails(ctx context.Context, actionID string) (*ledger.ActionDetails, error) {
	details, err := c.ledger.Details(ctx, actionID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, NewNotFoundError(fmt.Sprintf("action [%s] not found", actionID))
		}
		return nil, fmt.Errorf("fetch action details for [%s]: %w", actionID, err)
	}
	return details, nil
}
