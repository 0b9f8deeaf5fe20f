package sink

import (
	"context"
	"database/sql"
	"fmt"
)

// txBeginner opens a transaction on a pooled database or a pinned connection
type txBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// txScope keeps one open transaction across tables and scopes each table
// with a savepoint so a failed table can be discarded alone.
type txScope struct {
	db        txBeginner
	tx        *sql.Tx
	savepoint string
	seq       int
}

func (s *txScope) current(ctx context.Context) (*sql.Tx, error) {
	if s.tx != nil {
		return s.tx, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.tx = tx
	return tx, nil
}

func (s *txScope) begin(ctx context.Context) error {
	tx, err := s.current(ctx)
	if err != nil {
		return err
	}
	if s.savepoint != "" {
		return fmt.Errorf("table scope %s still open", s.savepoint)
	}
	s.seq++
	name := fmt.Sprintf("table_%d", s.seq)
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to open savepoint: %w", err)
	}
	s.savepoint = name
	return nil
}

func (s *txScope) end(ctx context.Context, ok bool) error {
	if s.tx == nil || s.savepoint == "" {
		return ErrNoTable
	}
	name := s.savepoint
	s.savepoint = ""

	if !ok {
		if _, err := s.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
			return fmt.Errorf("failed to roll back table: %w", err)
		}
	}
	if _, err := s.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

func (s *txScope) commit() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	s.savepoint = ""
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *txScope) rollback() {
	if s.tx == nil {
		return
	}
	s.tx.Rollback()
	s.tx = nil
	s.savepoint = ""
}
