package pgx

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/krew-solutions/protoflow/internal/session"
	"github.com/krew-solutions/protoflow/internal/signals"
)

// SessionPool acquires connections from a pgxpool.Pool, one per Session
// call, releasing the connection when the callback returns.
type SessionPool struct {
	pool      *pgxpool.Pool
	onStarted signals.Signal[session.ScopeStartedEvent]
	onEnded   signals.Signal[session.ScopeEndedEvent]
}

// NewSessionPool wraps a pgxpool.Pool as a session.Pool.
func NewSessionPool(pool *pgxpool.Pool) *SessionPool {
	return &SessionPool{
		pool:      pool,
		onStarted: signals.NewSignal[session.ScopeStartedEvent](),
		onEnded:   signals.NewSignal[session.ScopeEndedEvent](),
	}
}

func (p *SessionPool) OnSessionStarted() signals.Signal[session.ScopeStartedEvent] {
	return p.onStarted
}
func (p *SessionPool) OnSessionEnded() signals.Signal[session.ScopeEndedEvent] {
	return p.onEnded
}

// Session acquires a pooled connection, runs callback against it, and
// releases the connection regardless of outcome.
func (p *SessionPool) Session(ctx context.Context, callback session.PoolCallback) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	sess := NewSession(ctx, conn)
	p.onStarted.Notify(session.ScopeStartedEvent{Session: sess})

	err = callback(sess)
	p.onEnded.Notify(session.ScopeEndedEvent{Session: sess, Err: err})
	return err
}
