// Package tracker implements the quarter engine operations on top of a
// persistence layer: adding entries, grouped views, carry-forward between
// quarters and batch status changes.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"qtrack/internal/group"
	"qtrack/internal/quarter"
	"qtrack/internal/types"
)

// Store is the persistence the engine consumes.
type Store interface {
	FindEntries(ctx context.Context, filter types.EntryFilter) ([]*types.Entry, error)
	InsertEntry(ctx context.Context, e *types.Entry) error
	UpdateStatus(ctx context.Context, id string, status types.Status) error
	AllocateSequence(ctx context.Context, kind types.Kind, quarterLabel, groupKey string) (int, error)
}

// Auditor receives activity-log records. Failures are logged and ignored.
type Auditor interface {
	Record(ctx context.Context, rec types.AuditRecord) error
}

// Service runs the engine operations against a Store.
type Service struct {
	store  Store
	audit  Auditor
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithAuditor sets where activity records go. Without one nothing is recorded.
func WithAuditor(a Auditor) Option {
	return func(s *Service) { s.audit = a }
}

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock sets the clock used to pick the default quarter.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New returns a Service over store.
func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CurrentQuarter returns the quarter containing the service clock's now.
func (s *Service) CurrentQuarter() quarter.Quarter {
	return quarter.Current(s.now())
}

// AddRequest describes a manual or quick-add entry. An empty QuarterLabel
// means the current quarter.
type AddRequest struct {
	Kind         types.Kind   `json:"kind"`
	GroupKey     string       `json:"group_key"`
	QuarterLabel string       `json:"quarter_label,omitempty"`
	Status       types.Status `json:"status,omitempty"`
	Assignees    []string     `json:"assignees,omitempty"`
	Notes        string       `json:"notes,omitempty"`
	StartDate    *time.Time   `json:"start_date,omitempty"`
	EndDate      *time.Time   `json:"end_date,omitempty"`
	Actor        string       `json:"actor,omitempty"`
}

// AddEntry creates an entry through the sequence allocator.
func (s *Service) AddEntry(ctx context.Context, req AddRequest) (*types.Entry, error) {
	q := s.CurrentQuarter()
	if req.QuarterLabel != "" {
		var err error
		if q, err = quarter.Parse(req.QuarterLabel); err != nil {
			return nil, err
		}
	}

	e := &types.Entry{
		Kind:         req.Kind,
		GroupKey:     strings.TrimSpace(req.GroupKey),
		QuarterLabel: q.Label(),
		Year:         q.Year,
		Status:       req.Status,
		Assignees:    req.Assignees,
		Notes:        req.Notes,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
	}
	if err := s.store.InsertEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("add %s %q: %w", req.Kind.Label(), req.GroupKey, err)
	}
	entriesCreated.WithLabelValues(string(e.Kind), "manual").Inc()

	s.logger.Info("entry added", "kind", e.Kind, "group", e.GroupKey, "quarter", e.QuarterLabel, "sequence", e.SequenceNumber)
	s.record(ctx, types.AuditRecord{
		Actor:      req.Actor,
		Action:     types.ActionCreate,
		EntityType: string(e.Kind),
		EntityID:   e.ID,
		Details:    fmt.Sprintf("%s #%d %s", e.QuarterLabel, e.SequenceNumber, e.GroupKey),
	})
	return e, nil
}

// AllocateSequence returns the number groupKey has, or would get, in the quarter.
func (s *Service) AllocateSequence(ctx context.Context, kind types.Kind, quarterLabel, groupKey string) (int, error) {
	if _, err := quarter.Parse(quarterLabel); err != nil {
		return 0, err
	}
	if !kind.IsValid() {
		return 0, fmt.Errorf("%w: %q", types.ErrInvalidKind, kind)
	}
	return s.store.AllocateSequence(ctx, kind, quarterLabel, strings.TrimSpace(groupKey))
}

// Groups loads a quarter and clusters it into display rows.
func (s *Service) Groups(ctx context.Context, kind types.Kind, quarterLabel string) ([]group.Group, error) {
	if _, err := quarter.Parse(quarterLabel); err != nil {
		return nil, err
	}
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidKind, kind)
	}
	entries, err := s.store.FindEntries(ctx, types.EntryFilter{Kind: kind, QuarterLabel: quarterLabel})
	if err != nil {
		return nil, err
	}
	return group.Build(entries), nil
}

func (s *Service) record(ctx context.Context, rec types.AuditRecord) {
	if s.audit == nil {
		return
	}
	if rec.Actor == "" {
		rec.Actor = "system"
	}
	if err := s.audit.Record(ctx, rec); err != nil {
		s.logger.Warn("audit record failed", "action", rec.Action, "entity", rec.EntityID, "error", err)
	}
}
