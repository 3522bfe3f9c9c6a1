// Package types holds the entry model shared by storage, grouping and the tracker service.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"qtrack/internal/quarter"
)

var (
	ErrInvalidStatus = errors.New("invalid status")
	ErrInvalidKind   = errors.New("invalid kind")
	ErrInvalidEntry  = errors.New("invalid entry")
)

// Kind is the tracked list an entry belongs to. Sequences are scoped per kind.
type Kind string

const (
	KindProject   Kind = "project"
	KindDailyLog  Kind = "daily_log"
	KindWorkOrder Kind = "work_order"
)

var Kinds = []Kind{KindProject, KindDailyLog, KindWorkOrder}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "-", "_"))) {
	case "project", "projects":
		return KindProject, nil
	case "daily_log", "daily", "log":
		return KindDailyLog, nil
	case "work_order", "workorder", "wo":
		return KindWorkOrder, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// Label is the human-readable singular name, e.g. "work order".
func (k Kind) Label() string {
	return strings.ReplaceAll(string(k), "_", " ")
}

func (k Kind) IsValid() bool {
	switch k {
	case KindProject, KindDailyLog, KindWorkOrder:
		return true
	}
	return false
}

type Status string

const (
	StatusUnset    Status = ""
	StatusProgress Status = "Progress"
	StatusDone     Status = "Done"
	StatusHold     Status = "Hold"
)

var Statuses = []Status{StatusProgress, StatusDone, StatusHold, StatusUnset}

// ParseStatus accepts the status names case-insensitively. "unset" and "none"
// map to the empty status.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "progress", "in-progress", "in_progress":
		return StatusProgress, nil
	case "done":
		return StatusDone, nil
	case "hold", "on-hold":
		return StatusHold, nil
	case "", "unset", "none":
		return StatusUnset, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

func (s Status) IsValid() bool {
	switch s {
	case StatusUnset, StatusProgress, StatusDone, StatusHold:
		return true
	}
	return false
}

// IsTerminal reports whether entries in this status stay behind on carry-forward.
func (s Status) IsTerminal() bool {
	return s == StatusDone
}

func (s Status) String() string {
	if s == StatusUnset {
		return "unset"
	}
	return string(s)
}

// Entry is one tracked row. Entries sharing GroupKey inside a quarter share
// SequenceNumber.
type Entry struct {
	ID             string     `json:"id"`
	Kind           Kind       `json:"kind"`
	GroupKey       string     `json:"group_key"`
	QuarterLabel   string     `json:"quarter_label"`
	Year           int        `json:"year"`
	SequenceNumber int        `json:"sequence_number"`
	Status         Status     `json:"status"`
	Assignees      []string   `json:"assignees,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	CarriedFrom    string     `json:"carried_from,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Validate checks the fields every stored entry must satisfy. The year must
// agree with the year embedded in the quarter label.
func (e *Entry) Validate() error {
	if strings.TrimSpace(e.GroupKey) == "" {
		return fmt.Errorf("%w: group key is required", ErrInvalidEntry)
	}
	if !e.Kind.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, e.Kind)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, e.Status)
	}
	q, err := quarter.Parse(e.QuarterLabel)
	if err != nil {
		return err
	}
	if q.Year != e.Year {
		return fmt.Errorf("%w: year %d does not match %s", quarter.ErrInvalidLabel, e.Year, e.QuarterLabel)
	}
	if e.StartDate != nil && e.EndDate != nil && e.EndDate.Before(*e.StartDate) {
		return fmt.Errorf("%w: end date before start date", ErrInvalidEntry)
	}
	return nil
}

// EntryFilter selects entries for FindEntries. Zero values match everything.
type EntryFilter struct {
	Kind          Kind
	QuarterLabel  string
	GroupKey      string
	ExcludeStatus []Status
	IDs           []string
}

// AuditRecord is one activity-log line.
type AuditRecord struct {
	ID         int64     `json:"id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Details    string    `json:"details,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Audit actions
const (
	ActionCreate       = "create"
	ActionStatusChange = "status_change"
	ActionCarryForward = "carry_forward"
)
