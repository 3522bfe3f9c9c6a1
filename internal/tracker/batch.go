package tracker

import (
	"context"
	"errors"
	"fmt"

	"qtrack/internal/store"
	"qtrack/internal/types"
)

// ReasonNotFound marks a batch id that matched no entry.
const ReasonNotFound = "NotFound"

type FailedItem struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

type BatchResult struct {
	Status       types.Status `json:"status"`
	UpdatedCount int          `json:"updated_count"`
	Failed       []FailedItem `json:"failed"`
}

func (r *BatchResult) FailedIDs() []string {
	ids := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		ids[i] = f.ID
	}
	return ids
}

func (r *BatchResult) Message() string {
	if len(r.Failed) == 0 {
		return fmt.Sprintf("Updated %d entr%s to %s", r.UpdatedCount, plural(r.UpdatedCount), r.Status)
	}
	return fmt.Sprintf("Updated %d entr%s to %s, %d failed", r.UpdatedCount, plural(r.UpdatedCount), r.Status, len(r.Failed))
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

// ApplyStatus sets status on each id independently. Missing ids are reported
// in Failed and do not stop the batch. A storage error stops the batch and is
// returned together with the partial result. Duplicate ids are applied once.
func (s *Service) ApplyStatus(ctx context.Context, ids []string, status types.Status, actor string) (*BatchResult, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidStatus, status)
	}

	res := &BatchResult{Status: status, Failed: []FailedItem{}}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		err := s.store.UpdateStatus(ctx, id, status)
		switch {
		case err == nil:
			res.UpdatedCount++
			batchStatusUpdates.WithLabelValues("updated").Inc()
			s.record(ctx, types.AuditRecord{
				Actor:      actor,
				Action:     types.ActionStatusChange,
				EntityType: "entry",
				EntityID:   id,
				Details:    status.String(),
			})
		case errors.Is(err, store.ErrNotFound):
			res.Failed = append(res.Failed, FailedItem{ID: id, Reason: ReasonNotFound})
			batchStatusUpdates.WithLabelValues("not_found").Inc()
		default:
			batchStatusUpdates.WithLabelValues("error").Inc()
			s.logger.Error("batch status aborted", "entry", id, "updated", res.UpdatedCount, "error", err)
			return res, err
		}
	}

	s.logger.Info("batch status applied", "status", status.String(), "updated", res.UpdatedCount, "failed", len(res.Failed))
	return res, nil
}
