package account

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Notification is the payload of events that carry no data.
type Notification = struct{}

// Listener receives events of type T.
type Listener[T any] func(T)

// Disposable releases a registration or resource. Dispose is idempotent.
type Disposable interface {
	Dispose()
}

// DisposeFunc adapts a function to Disposable. The function runs at most once.
func DisposeFunc(fn func()) Disposable {
	return &onceDisposable{fn: fn}
}

type onceDisposable struct {
	once sync.Once
	fn   func()
}

func (d *onceDisposable) Dispose() {
	d.once.Do(func() {
		if d.fn != nil {
			d.fn()
		}
	})
}

// Lifecycle collects disposables owned by one component and releases them
// together, newest first.
type Lifecycle struct {
	mu       sync.Mutex
	items    []Disposable
	disposed bool
}

// NewLifecycle returns an empty, live Lifecycle.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

// Add registers d with the lifecycle. If the lifecycle has already been
// disposed, d is disposed immediately.
func (l *Lifecycle) Add(d Disposable) {
	if d == nil {
		return
	}
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		d.Dispose()
		return
	}
	l.items = append(l.items, d)
	l.mu.Unlock()
}

// remove drops d without disposing it.
func (l *Lifecycle) remove(d Disposable) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := slices.Index(l.items, d); i >= 0 {
		l.items = slices.Delete(l.items, i, i+1)
	}
}

// Len returns the number of disposables still held.
func (l *Lifecycle) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Disposed reports whether Dispose has been called.
func (l *Lifecycle) Disposed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disposed
}

// Dispose releases every held disposable in reverse registration order.
func (l *Lifecycle) Dispose() {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return
	}
	l.disposed = true
	items := l.items
	l.items = nil
	l.mu.Unlock()

	for i := len(items) - 1; i >= 0; i-- {
		items[i].Dispose()
	}
}

// Emitter is a goroutine-safe event source with typed listeners.
type Emitter[T any] struct {
	mu        sync.RWMutex
	listeners map[uint64]Listener[T]
	nextID    atomic.Uint64
}

// Subscribe registers l and returns a handle that removes it. When scope is
// non-nil the handle is also added to scope, so disposing the scope removes
// the listener; disposing the handle first takes it out of scope.
func (e *Emitter[T]) Subscribe(l Listener[T], scope *Lifecycle) Disposable {
	id := e.nextID.Add(1)

	e.mu.Lock()
	if e.listeners == nil {
		e.listeners = make(map[uint64]Listener[T])
	}
	e.listeners[id] = l
	e.mu.Unlock()

	var d Disposable
	d = DisposeFunc(func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
		if scope != nil {
			scope.remove(d)
		}
	})
	if scope != nil {
		scope.Add(d)
	}
	return d
}

// Fire delivers v to every current listener in subscription order.
// Listeners run on the caller's goroutine against a snapshot, so they may
// subscribe or dispose while the event is being delivered.
func (e *Emitter[T]) Fire(v T) {
	e.mu.RLock()
	ids := make([]uint64, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	snapshot := make([]Listener[T], 0, len(ids))
	for _, id := range ids {
		snapshot = append(snapshot, e.listeners[id])
	}
	e.mu.RUnlock()

	for _, l := range snapshot {
		l(v)
	}
}

// Len returns the number of registered listeners.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}
