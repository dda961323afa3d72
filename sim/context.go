package sim

import "sync"

// The ambient context is the handle of the runtime currently inside a
// BlockOn call. It is a scoped cell, not a bare global: enterContext saves
// the previous value and the returned restore function reinstates it, so
// every exit path of BlockOn (including panics, via defer) unwinds the
// context deterministically. Nested BlockOn calls stack.
var (
	contextMu  sync.Mutex
	contextTop *Handle
)

// enterContext installs h as the ambient handle and returns the function
// that restores the previous one.
func enterContext(h Handle) (restore func()) {
	contextMu.Lock()
	prev := contextTop
	contextTop = &h
	contextMu.Unlock()
	return func() {
		contextMu.Lock()
		contextTop = prev
		contextMu.Unlock()
	}
}

// Current returns the handle of the runtime driving the caller. It fails
// with ErrNoContext outside a BlockOn call.
func Current() (Handle, error) {
	contextMu.Lock()
	defer contextMu.Unlock()
	if contextTop == nil {
		return Handle{}, ErrNoContext
	}
	return *contextTop, nil
}
