package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const beginMaxElapsed = 10 * time.Second

// querier is satisfied by *sql.DB and *sql.Conn.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func newBeginBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxElapsedTime = beginMaxElapsed
	return bo
}

// runInTx runs fn on a dedicated connection inside BEGIN IMMEDIATE.
//
// IMMEDIATE takes the database write lock up front, so two transactions
// that each read MAX(sequence_number) and then insert can never interleave.
// The transaction is rolled back when fn returns an error or panics.
func (s *Store) runInTx(ctx context.Context, op string, fn func(q querier) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return &StorageError{Op: op, Err: fmt.Errorf("acquire connection: %w", err)}
	}
	defer func() { _ = conn.Close() }()

	if err := s.beginImmediate(ctx, conn); err != nil {
		return &StorageError{Op: op, Err: fmt.Errorf("begin transaction: %w", err)}
	}

	committed := false
	defer func() {
		if !committed {
			// background context so rollback completes even if ctx is cancelled
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(conn); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return &StorageError{Op: op, Err: fmt.Errorf("commit: %w", err)}
	}
	committed = true
	return nil
}

func (s *Store) beginImmediate(ctx context.Context, conn *sql.Conn) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err != nil && isBusy(err) {
			s.logger.Debug("database busy, retrying begin", "attempt", attempt)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(newBeginBackoff(), ctx))
}

func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database is busy")
}
