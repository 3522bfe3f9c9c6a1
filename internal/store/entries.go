package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"qtrack/internal/types"
)

// InsertEntry allocates the entry's sequence number and writes it in one
// transaction. ID is generated when empty; CreatedAt and UpdatedAt are always
// set by the store so first-seen order follows insertion order.
func (s *Store) InsertEntry(ctx context.Context, e *types.Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Assignees == nil {
		e.Assignees = []string{}
	}
	e.GroupKey = strings.TrimSpace(e.GroupKey)
	if err := e.Validate(); err != nil {
		return err
	}

	assignees, err := json.Marshal(e.Assignees)
	if err != nil {
		return fmt.Errorf("encode assignees: %w", err)
	}

	var (
		seq int
		now time.Time
	)
	err = s.runInTx(ctx, "insert entry", func(q querier) error {
		// read the clock under the write lock so createdAt order matches
		// allocation order
		now = s.now()
		n, err := allocate(ctx, q, e.Kind, e.QuarterLabel, e.GroupKey)
		if err != nil {
			return err
		}

		_, err = q.ExecContext(ctx, insertEntrySQL,
			e.ID, e.Kind, e.GroupKey, e.QuarterLabel, e.Year, n, e.Status,
			string(assignees), e.Notes, formatDate(e.StartDate), formatDate(e.EndDate),
			nullString(e.CarriedFrom), formatTime(now), formatTime(now))
		if err != nil {
			return wrapDBError("insert entry", err)
		}
		seq = n
		return nil
	})
	if err != nil {
		return err
	}

	e.SequenceNumber = seq
	e.CreatedAt = now.UTC()
	e.UpdatedAt = now.UTC()
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (*types.Entry, error) {
	row := s.db.QueryRowContext(ctx, getEntrySQL, id)
	e, err := scanEntry(row)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get entry %s", id), err)
	}
	return e, nil
}

// FindEntries returns matching entries ordered by sequence number, then
// creation time.
func (s *Store) FindEntries(ctx context.Context, filter types.EntryFilter) ([]*types.Entry, error) {
	var (
		where []string
		args  []any
	)
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.QuarterLabel != "" {
		where = append(where, "quarter_label = ?")
		args = append(args, filter.QuarterLabel)
	}
	if filter.GroupKey != "" {
		where = append(where, "group_key = ?")
		args = append(args, filter.GroupKey)
	}
	if len(filter.ExcludeStatus) > 0 {
		where = append(where, "status NOT IN ("+placeholders(len(filter.ExcludeStatus))+")")
		for _, st := range filter.ExcludeStatus {
			args = append(args, st)
		}
	}
	if len(filter.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(filter.IDs))+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}

	query := "SELECT " + entryColumns + " FROM entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY sequence_number, created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("find entries", err)
	}
	defer rows.Close()

	var entries []*types.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, wrapDBError("scan entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("find entries", err)
	}

	return entries, nil
}

// UpdateStatus sets the status of one entry. Setting the current value again
// still counts as an update.
func (s *Store) UpdateStatus(ctx context.Context, id string, status types.Status) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", types.ErrInvalidStatus, status)
	}
	res, err := s.db.ExecContext(ctx, updateEntryStatusSQL, status, formatTime(s.now()), id)
	if err != nil {
		return wrapDBError(fmt.Sprintf("update status of %s", id), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError(fmt.Sprintf("update status of %s", id), err)
	}
	if n == 0 {
		return fmt.Errorf("update status of %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, deleteEntrySQL, id)
	if err != nil {
		return wrapDBError(fmt.Sprintf("delete entry %s", id), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete entry %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*types.Entry, error) {
	var (
		e                    types.Entry
		assignees            string
		startDate, endDate   sql.NullString
		carriedFrom          sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&e.ID, &e.Kind, &e.GroupKey, &e.QuarterLabel, &e.Year, &e.SequenceNumber, &e.Status,
		&assignees, &e.Notes, &startDate, &endDate, &carriedFrom, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(assignees), &e.Assignees); err != nil {
		return nil, fmt.Errorf("decode assignees of %s: %w", e.ID, err)
	}
	if e.StartDate, err = parseDate(startDate); err != nil {
		return nil, fmt.Errorf("parse start date of %s: %w", e.ID, err)
	}
	if e.EndDate, err = parseDate(endDate); err != nil {
		return nil, fmt.Errorf("parse end date of %s: %w", e.ID, err)
	}
	e.CarriedFrom = carriedFrom.String
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at of %s: %w", e.ID, err)
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at of %s: %w", e.ID, err)
	}
	return &e, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
