// Package cases projects action outcomes into the case-management system.
// Attachment is best-effort enrichment: a failure here must never roll back
// or mask the already-committed ledger entries.
package cases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Service is the case-management collaborator.
type Service interface {
	AddComment(ctx context.Context, caseID, comment string) error
}

// Guard tracks which (case, action) pairs have already been attached so a
// re-run does not duplicate comments. A pair is marked only after the
// attachment succeeded; a failed attachment stays unclaimed and can be
// retried.
type Guard interface {
	// Attached reports whether this (case, action) pair was already
	// attached.
	Attached(ctx context.Context, caseID, actionID string) (bool, error)

	// MarkAttached records a successful attachment of the pair.
	MarkAttached(ctx context.Context, caseID, actionID string) error
}

// MemoryGuard implements Guard in memory.
type MemoryGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{seen: make(map[string]bool)}
}

func (g *MemoryGuard) Attached(ctx context.Context, caseID, actionID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seen[caseID+"/"+actionID], nil
}

func (g *MemoryGuard) MarkAttached(ctx context.Context, caseID, actionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen[caseID+"/"+actionID] = true
	return nil
}

// HostMapping pairs an agent id with the hostname resolved at dispatch time.
type HostMapping struct {
	HostID   string
	Hostname string
}

// AttachOptions describe one action outcome to project into cases.
type AttachOptions struct {
	Command  string
	CaseIDs  []string
	AlertIDs []string
	Hosts    []HostMapping
	Comment  string
	ActionID string
}

// Synchronizer appends rendered action comments to linked cases.
type Synchronizer struct {
	svc   Service
	guard Guard
	log   *slog.Logger
}

// NewSynchronizer creates a Synchronizer. guard may be nil, in which case
// every attachment is attempted.
func NewSynchronizer(svc Service, guard Guard, log *slog.Logger) *Synchronizer {
	return &Synchronizer{svc: svc, guard: guard, log: log}
}

// Attach appends the rendered comment to each linked case. Per-case
// failures are logged and aggregated into the returned error; the caller
// treats any error as non-fatal for the action itself.
func (s *Synchronizer) Attach(ctx context.Context, opts AttachOptions) error {
	if len(opts.CaseIDs) == 0 {
		return nil
	}

	comment := RenderComment(opts)
	var errs []error

	for _, caseID := range opts.CaseIDs {
		if s.guard != nil {
			attached, err := s.guard.Attached(ctx, caseID, opts.ActionID)
			if err != nil {
				// fail open: a guard outage must not block enrichment
				s.log.Error("case attachment guard failed",
					"case_id", caseID, "action_id", opts.ActionID, "error", err)
			} else if attached {
				s.log.Debug("case already attached, skipping",
					"case_id", caseID, "action_id", opts.ActionID)
				continue
			}
		}

		if err := s.svc.AddComment(ctx, caseID, comment); err != nil {
			// the pair stays unclaimed in the guard so a retry can attach
			s.log.Error("failed to attach action to case",
				"case_id", caseID, "action_id", opts.ActionID, "error", err)
			errs = append(errs, fmt.Errorf("case %s: %w", caseID, err))
			continue
		}

		if s.guard != nil {
			if err := s.guard.MarkAttached(ctx, caseID, opts.ActionID); err != nil {
				s.log.Error("case attachment guard mark failed",
					"case_id", caseID, "action_id", opts.ActionID, "error", err)
			}
		}

		s.log.Debug("attached action to case",
			"case_id", caseID, "action_id", opts.ActionID)
	}

	return errors.Join(errs...)
}

// RenderComment produces the human-readable case comment for one action.
func RenderComment(opts AttachOptions) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Response action [%s] submitted", opts.Command)
	if len(opts.Hosts) > 0 {
		names := make([]string, 0, len(opts.Hosts))
		for _, h := range opts.Hosts {
			if h.Hostname != "" {
				names = append(names, fmt.Sprintf("%s (%s)", h.Hostname, h.HostID))
			} else {
				names = append(names, h.HostID)
			}
		}
		fmt.Fprintf(&b, " for host %s", strings.Join(names, ", "))
	}
	b.WriteString(".")

	if len(opts.AlertIDs) > 0 {
		fmt.Fprintf(&b, "\nLinked alerts: %s.", strings.Join(opts.AlertIDs, ", "))
	}
	if opts.Comment != "" {
		fmt.Fprintf(&b, "\nComment: %s", opts.Comment)
	}
	fmt.Fprintf(&b, "\nAction ID: %s", opts.ActionID)

	return b.String()
}
