// Package signals is a small typed observer/notify primitive, adapted from
// the ascetic-ddd-go toolkit's signals package. It backs the session pool's
// start/end hooks and the sessions' atomic-scope start/end hooks.
package signals

import (
	"reflect"

	"github.com/krew-solutions/protoflow/internal/disposable"
)

// Observer receives notifications of type E.
type Observer[E any] func(E)

// Signal is an attach/detach/notify point for observers of type E.
type Signal[E any] interface {
	Attach(observer Observer[E], observerID ...any) disposable.Disposable
	Detach(observer Observer[E], observerID ...any)
	Notify(event E)
}

type entry[E any] struct {
	id       any
	observer Observer[E]
}

// SignalImp is the default in-process Signal implementation.
type SignalImp[E any] struct {
	observers []entry[E]
}

// NewSignal constructs an empty Signal.
func NewSignal[E any]() *SignalImp[E] {
	return &SignalImp[E]{}
}

func (s *SignalImp[E]) Attach(observer Observer[E], observerID ...any) disposable.Disposable {
	id := resolveID(observer, observerID)
	for _, e := range s.observers {
		if e.id == id {
			return disposable.NewDisposable(func() { s.Detach(observer, id) })
		}
	}
	s.observers = append(s.observers, entry[E]{id: id, observer: observer})
	return disposable.NewDisposable(func() { s.Detach(observer, id) })
}

func (s *SignalImp[E]) Detach(observer Observer[E], observerID ...any) {
	id := resolveID(observer, observerID)
	for i, e := range s.observers {
		if e.id == id {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}

func (s *SignalImp[E]) Notify(event E) {
	for _, e := range s.observers {
		e.observer(event)
	}
}

func resolveID[E any](observer Observer[E], observerID []any) any {
	if len(observerID) > 0 {
		return observerID[0]
	}
	return reflect.ValueOf(observer).Pointer()
}
