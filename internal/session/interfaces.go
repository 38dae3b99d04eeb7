// Package session defines the transactional unit-of-work abstraction the
// store and scheduler build on. It is adapted from ascetic-ddd-go's
// session package: a Session wraps one logical unit of work and exposes
// Atomic to open a nested transaction (or savepoint) around a callback;
// a SessionPool hands out Sessions bound to a pooled connection.
package session

import (
	"context"

	"github.com/krew-solutions/protoflow/internal/signals"
)

// Callback runs inside a Session, typically one already inside a
// transaction opened by Atomic.
type Callback func(Session) error

// Session is one logical unit of work: a pooled connection, or a
// transaction/savepoint nested inside one.
type Session interface {
	Context() context.Context
	Atomic(Callback) error
	OnAtomicStarted() signals.Signal[ScopeStartedEvent]
	OnAtomicEnded() signals.Signal[ScopeEndedEvent]
}

// PoolCallback runs against a freshly acquired Session.
type PoolCallback func(Session) error

// Pool acquires a Session for the duration of a callback and releases the
// underlying connection when it returns.
type Pool interface {
	Session(context.Context, PoolCallback) error
	OnSessionStarted() signals.Signal[ScopeStartedEvent]
	OnSessionEnded() signals.Signal[ScopeEndedEvent]
}

// ScopeStartedEvent is notified when a session or atomic scope begins.
type ScopeStartedEvent struct {
	Session Session
}

// ScopeEndedEvent is notified when a session or atomic scope ends,
// successfully or not.
type ScopeEndedEvent struct {
	Session Session
	Err     error
}

// Result mirrors database/sql's Result so Store implementations don't leak
// a specific driver type through the interface.
type Result interface {
	RowsAffected() (int64, error)
}

// Rows mirrors database/sql's Rows.
type Rows interface {
	Close()
	Err() error
	Next() bool
	Scan(dest ...any) error
}

// Row mirrors database/sql's Row.
type Row interface {
	Scan(dest ...any) error
}

// Connection is the query surface a Store implementation runs SQL through;
// it is satisfied by both a pooled connection and a transaction/savepoint.
type Connection interface {
	Exec(query string, args ...any) (Result, error)
	Query(query string, args ...any) (Rows, error)
	QueryRow(query string, args ...any) Row
}

// DbSession is a Session that additionally exposes its Connection.
type DbSession interface {
	Session
	Connection() Connection
}
