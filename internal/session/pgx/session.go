// Package pgx adapts the session package to github.com/jackc/pgx/v5,
// following ascetic-ddd-go's asceticddd/session/pgx package: a Session
// wraps a pooled connection, Atomic opens a real transaction and hands the
// callback a TransactionSession, and a transaction's own Atomic opens a
// savepoint instead of a nested BEGIN.
package pgx

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/krew-solutions/protoflow/internal/session"
	"github.com/krew-solutions/protoflow/internal/signals"
)

// Session represents a database session without an open transaction.
type Session struct {
	ctx       context.Context
	conn      *pgxpool.Conn
	onStarted signals.Signal[session.ScopeStartedEvent]
	onEnded   signals.Signal[session.ScopeEndedEvent]
}

// NewSession wraps an acquired pool connection as a root Session.
func NewSession(ctx context.Context, conn *pgxpool.Conn) *Session {
	return &Session{
		ctx:       ctx,
		conn:      conn,
		onStarted: signals.NewSignal[session.ScopeStartedEvent](),
		onEnded:   signals.NewSignal[session.ScopeEndedEvent](),
	}
}

func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) Connection() session.Connection {
	return &connection{ctx: s.ctx, exec: s.conn}
}

func (s *Session) OnAtomicStarted() signals.Signal[session.ScopeStartedEvent] { return s.onStarted }
func (s *Session) OnAtomicEnded() signals.Signal[session.ScopeEndedEvent]     { return s.onEnded }

// Atomic opens a new transaction, runs callback against a TransactionSession,
// and commits exactly once if and only if callback returns nil.
func (s *Session) Atomic(callback session.Callback) error {
	tx, err := s.conn.Begin(s.ctx)
	if err != nil {
		return errors.Wrap(err, "unable to start transaction")
	}

	txSession := NewTransactionSession(s.ctx, tx)
	s.onStarted.Notify(session.ScopeStartedEvent{Session: txSession})

	err = callback(txSession)
	if err != nil {
		if txErr := tx.Rollback(s.ctx); txErr != nil {
			s.onEnded.Notify(session.ScopeEndedEvent{Session: txSession, Err: err})
			return multierror.Append(err, txErr)
		}
		s.onEnded.Notify(session.ScopeEndedEvent{Session: txSession, Err: err})
		return err
	}

	if txErr := tx.Commit(s.ctx); txErr != nil {
		wrapped := errors.Wrap(txErr, "failed to commit transaction")
		s.onEnded.Notify(session.ScopeEndedEvent{Session: txSession, Err: wrapped})
		return wrapped
	}

	s.onEnded.Notify(session.ScopeEndedEvent{Session: txSession, Err: nil})
	return nil
}

// TransactionSession represents a session running inside an open
// transaction.
type TransactionSession struct {
	ctx       context.Context
	tx        pgx.Tx
	onStarted signals.Signal[session.ScopeStartedEvent]
	onEnded   signals.Signal[session.ScopeEndedEvent]
}

// NewTransactionSession wraps an open transaction as a Session.
func NewTransactionSession(ctx context.Context, tx pgx.Tx) *TransactionSession {
	return &TransactionSession{
		ctx:       ctx,
		tx:        tx,
		onStarted: signals.NewSignal[session.ScopeStartedEvent](),
		onEnded:   signals.NewSignal[session.ScopeEndedEvent](),
	}
}

func (s *TransactionSession) Context() context.Context { return s.ctx }

func (s *TransactionSession) Connection() session.Connection {
	return &connection{ctx: s.ctx, exec: s.tx}
}

func (s *TransactionSession) OnAtomicStarted() signals.Signal[session.ScopeStartedEvent] {
	return s.onStarted
}
func (s *TransactionSession) OnAtomicEnded() signals.Signal[session.ScopeEndedEvent] {
	return s.onEnded
}

// Atomic opens a savepoint nested inside the current transaction.
func (s *TransactionSession) Atomic(callback session.Callback) error {
	nestedTx, err := s.tx.Begin(s.ctx)
	if err != nil {
		return errors.Wrap(err, "unable to start savepoint")
	}

	savepointSession := NewTransactionSession(s.ctx, nestedTx)

	err = callback(savepointSession)
	if err != nil {
		if txErr := nestedTx.Rollback(s.ctx); txErr != nil {
			return multierror.Append(err, txErr)
		}
		return err
	}

	if txErr := nestedTx.Commit(s.ctx); txErr != nil {
		return errors.Wrap(txErr, "failed to commit savepoint")
	}

	return nil
}

// executor is satisfied by both *pgxpool.Conn and pgx.Tx.
type executor interface {
	Exec(ctx context.Context, query string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
}

type connection struct {
	ctx  context.Context
	exec executor
}

func (c *connection) Exec(query string, args ...any) (session.Result, error) {
	tag, err := c.exec.Exec(c.ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return result(tag.RowsAffected()), nil
}

func (c *connection) Query(query string, args ...any) (session.Rows, error) {
	rows, err := c.exec.Query(c.ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &rowsAdapter{rows: rows}, nil
}

func (c *connection) QueryRow(query string, args ...any) session.Row {
	return c.exec.QueryRow(c.ctx, query, args...)
}

type result int64

func (r result) RowsAffected() (int64, error) { return int64(r), nil }

type rowsAdapter struct {
	rows pgx.Rows
}

func (r *rowsAdapter) Close()           { r.rows.Close() }
func (r *rowsAdapter) Err() error       { return r.rows.Err() }
func (r *rowsAdapter) Next() bool       { return r.rows.Next() }
func (r *rowsAdapter) Scan(dest ...any) error {
	return r.rows.Scan(dest...)
}
