// Package disposable provides a minimal handle-to-cleanup abstraction used
// by signals and dispatch to let callers detach observers/handlers they
// registered without needing to keep the registration key around.
package disposable

// Disposable releases whatever resource or registration it wraps. Dispose
// is idempotent-by-convention: callers are expected to call it at most
// once, but implementations built from a plain func() tolerate repeats.
type Disposable interface {
	Dispose()
}

type funcDisposable struct {
	dispose func()
}

func (d *funcDisposable) Dispose() {
	if d.dispose != nil {
		d.dispose()
	}
}

// NewDisposable wraps a plain cleanup function as a Disposable.
func NewDisposable(dispose func()) Disposable {
	return &funcDisposable{dispose: dispose}
}

type compositeDisposable struct {
	delegates []Disposable
}

func (d *compositeDisposable) Dispose() {
	for _, delegate := range d.delegates {
		delegate.Dispose()
	}
}

// NewCompositeDisposable bundles several Disposables so the caller can
// release all of them with a single Dispose call.
func NewCompositeDisposable(delegates ...Disposable) Disposable {
	return &compositeDisposable{delegates: delegates}
}
