package tracker

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"qtrack/internal/group"
	"qtrack/internal/quarter"
	"qtrack/internal/types"
)

// ErrSameQuarter is returned when source and target of a carry-forward match.
var ErrSameQuarter = errors.New("source and target quarter are the same")

type CarryRequest struct {
	Kind          types.Kind `json:"kind"`
	SourceQuarter string     `json:"source_quarter"`
	SourceYear    int        `json:"source_year"`
	TargetQuarter string     `json:"target_quarter"`
	TargetYear    int        `json:"target_year"`
	Actor         string     `json:"actor,omitempty"`
}

// CarryResult reports a carry-forward run. One entry is created per carried
// group, so CopiedCount equals len(CopiedNames).
type CarryResult struct {
	Kind         types.Kind     `json:"kind"`
	CopiedCount  int            `json:"copied_count"`
	CopiedNames  []string       `json:"copied_names"`
	SkippedCount int            `json:"skipped_count"`
	Entries      []*types.Entry `json:"entries,omitempty"`
}

// Message is the user-facing confirmation. Zero copies is informational.
func (r *CarryResult) Message() string {
	if r.CopiedCount == 0 {
		if r.SkippedCount > 0 {
			return fmt.Sprintf("Nothing to carry forward (%d already carried)", r.SkippedCount)
		}
		return "Nothing to carry forward"
	}
	return fmt.Sprintf("Carried forward %d %s(s): %s", r.CopiedCount, r.Kind.Label(), strings.Join(r.CopiedNames, ", "))
}

// CarryForward moves unfinished work of the source quarter into the target
// quarter. Every group with at least one non-Done entry becomes one new entry
// in the target, created in ascending source sequence order so target numbers
// keep the source precedence. The new entry gets a fresh id, fresh createdAt
// and an unset status; source entries are never modified.
//
// A group that already has a clone in the target quarter is skipped, so
// running the same pair twice does not duplicate rows.
//
// Each clone is written independently. On a storage error the remaining
// groups are not attempted and the partial result is returned with the error.
func (s *Service) CarryForward(ctx context.Context, req CarryRequest) (*CarryResult, error) {
	if !req.Kind.IsValid() {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidKind, req.Kind)
	}
	src, err := quarter.Resolve(req.SourceQuarter, req.SourceYear)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	dst, err := quarter.Resolve(req.TargetQuarter, req.TargetYear)
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	if src == dst {
		return nil, fmt.Errorf("%w: %s", ErrSameQuarter, src)
	}

	// Done entries stay in the load: a group counts as carried when any of
	// its source entries, finished or not, was used for a target clone.
	sources, err := s.store.FindEntries(ctx, types.EntryFilter{Kind: req.Kind, QuarterLabel: src.Label()})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", src, err)
	}

	existing, err := s.store.FindEntries(ctx, types.EntryFilter{Kind: req.Kind, QuarterLabel: dst.Label()})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", dst, err)
	}
	carried := make(map[string]bool, len(existing))
	for _, e := range existing {
		if e.CarriedFrom != "" {
			carried[e.CarriedFrom] = true
		}
	}
	carriedGroups := make(map[string]bool)
	for _, e := range sources {
		if carried[e.ID] {
			carriedGroups[e.GroupKey] = true
		}
	}

	sources = slices.DeleteFunc(sources, func(e *types.Entry) bool { return e.Status.IsTerminal() })
	slices.SortStableFunc(sources, func(a, b *types.Entry) int {
		return cmp.Compare(a.SequenceNumber, b.SequenceNumber)
	})

	res := &CarryResult{Kind: req.Kind, CopiedNames: []string{}}
	for _, g := range group.Build(sources) {
		if carriedGroups[g.Key] {
			res.SkippedCount++
			carryForwardGroups.WithLabelValues(string(req.Kind), "skipped").Inc()
			continue
		}

		clone := mergeForQuarter(g.Entries, dst)
		if err := s.store.InsertEntry(ctx, clone); err != nil {
			carryForwardGroups.WithLabelValues(string(req.Kind), "error").Inc()
			s.logger.Error("carry forward aborted", "source", src.Label(), "target", dst.Label(),
				"group", g.Key, "copied", res.CopiedCount, "error", err)
			return res, fmt.Errorf("carry %s %q into %s: %w", req.Kind.Label(), g.Key, dst, err)
		}

		res.CopiedCount++
		res.CopiedNames = append(res.CopiedNames, clone.GroupKey)
		res.Entries = append(res.Entries, clone)
		carryForwardGroups.WithLabelValues(string(req.Kind), "copied").Inc()
		entriesCreated.WithLabelValues(string(req.Kind), "carry_forward").Inc()

		s.record(ctx, types.AuditRecord{
			Actor:      req.Actor,
			Action:     types.ActionCreate,
			EntityType: string(clone.Kind),
			EntityID:   clone.ID,
			Details:    fmt.Sprintf("carried from %s (%s #%d)", clone.CarriedFrom, src.Label(), g.SequenceNumber),
		})
	}

	s.logger.Info("carry forward finished", "kind", req.Kind, "source", src.Label(), "target", dst.Label(),
		"copied", res.CopiedCount, "skipped", res.SkippedCount)
	s.record(ctx, types.AuditRecord{
		Actor:      req.Actor,
		Action:     types.ActionCarryForward,
		EntityType: "quarter",
		EntityID:   dst.Label(),
		Details:    fmt.Sprintf("%s from %s: %d copied, %d skipped", req.Kind, src.Label(), res.CopiedCount, res.SkippedCount),
	})
	return res, nil
}

// mergeForQuarter builds the target entry for one group of unfinished source
// entries. Notes and CarriedFrom come from the most recently created entry,
// assignees are the union in first-seen order and the start date is the
// earliest one. The end date is dropped since the work is not finished.
func mergeForQuarter(entries []*types.Entry, q quarter.Quarter) *types.Entry {
	latest := entries[0]
	for _, e := range entries[1:] {
		if !e.CreatedAt.Before(latest.CreatedAt) {
			latest = e
		}
	}

	clone := &types.Entry{
		Kind:         latest.Kind,
		GroupKey:     latest.GroupKey,
		QuarterLabel: q.Label(),
		Year:         q.Year,
		Status:       types.StatusUnset,
		Notes:        latest.Notes,
		CarriedFrom:  latest.ID,
	}

	seen := make(map[string]bool)
	for _, e := range entries {
		for _, a := range e.Assignees {
			if !seen[a] {
				seen[a] = true
				clone.Assignees = append(clone.Assignees, a)
			}
		}
		if e.StartDate != nil && (clone.StartDate == nil || e.StartDate.Before(*clone.StartDate)) {
			start := *e.StartDate
			clone.StartDate = &start
		}
	}
	return clone
}
