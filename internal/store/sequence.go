package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"qtrack/internal/quarter"
	"qtrack/internal/types"
)

// AllocateSequence returns the sequence number groupKey holds in the quarter,
// or the number the next new group would receive. It does not reserve the
// number; InsertEntry allocates and writes in one transaction.
func (s *Store) AllocateSequence(ctx context.Context, kind types.Kind, quarterLabel, groupKey string) (int, error) {
	if _, err := quarter.Parse(quarterLabel); err != nil {
		return 0, err
	}
	return allocate(ctx, s.db, kind, quarterLabel, groupKey)
}

// MaxSequenceNumber returns the highest sequence number used in the quarter,
// or 0 when it has no entries.
func (s *Store) MaxSequenceNumber(ctx context.Context, kind types.Kind, quarterLabel string) (int, error) {
	if _, err := quarter.Parse(quarterLabel); err != nil {
		return 0, err
	}
	return maxSequence(ctx, s.db, kind, quarterLabel)
}

func allocate(ctx context.Context, q querier, kind types.Kind, quarterLabel, groupKey string) (int, error) {
	var seq int
	err := q.QueryRowContext(ctx, findGroupSequenceSQL, kind, quarterLabel, groupKey).Scan(&seq)
	if err == nil {
		return seq, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, wrapDBError("find group sequence", err)
	}

	highest, err := maxSequence(ctx, q, kind, quarterLabel)
	if err != nil {
		return 0, err
	}
	return highest + 1, nil
}

func maxSequence(ctx context.Context, q querier, kind types.Kind, quarterLabel string) (int, error) {
	var highest int
	if err := q.QueryRowContext(ctx, maxSequenceSQL, kind, quarterLabel).Scan(&highest); err != nil {
		return 0, wrapDBError(fmt.Sprintf("max sequence for %s", quarterLabel), err)
	}
	return highest, nil
}
