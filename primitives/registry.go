package primitives

import (
	"context"
	"sort"
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/Swind/go-taskkit/errdefs"
)

type primitive interface {
	Name() string
	Kind() Kind
	holdCount() int
	snapshot() PrimitiveState
}

// Registry owns every named primitive. Names share one namespace across
// kinds. The table itself is guarded by a go-deadlock mutex: if the
// bookkeeping lock is ever stuck the process aborts instead of running on
// with an inconsistent table.
type Registry struct {
	mu      deadlock.Mutex
	entries map[string]primitive
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the clock used for creation and hold timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]primitive),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) add(name string, p primitive) error {
	if name == "" {
		return errdefs.InvalidArgument("primitive name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[name]; ok {
		return errdefs.NewDuplicateNameError(existing.Kind().String(), name)
	}
	r.entries[name] = p
	return nil
}

func (r *Registry) NewMutex(name string) (*Mutex, error) {
	m := newMutex(name, r.now)
	if err := r.add(name, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *Registry) NewRecursiveMutex(name string) (*RecursiveMutex, error) {
	m := newRecursiveMutex(name, r.now)
	if err := r.add(name, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *Registry) NewRWMutex(name string) (*RWMutex, error) {
	m := newRWMutex(name, r.now)
	if err := r.add(name, m); err != nil {
		return nil, err
	}
	return m, nil
}

// NewSemaphore creates a counting semaphore with the given number of permits.
func (r *Registry) NewSemaphore(name string, permits int64) (*Semaphore, error) {
	if permits < 0 {
		return nil, errdefs.InvalidArgument("semaphore %q: permits must be >= 0, got %d", name, permits)
	}
	s := newSemaphore(name, permits, r.now)
	if err := r.add(name, s); err != nil {
		return nil, err
	}
	return s, nil
}

// NewCond creates a condition variable coupled to the existing mutex lockName.
func (r *Registry) NewCond(name, lockName string) (*Cond, error) {
	lock, err := r.Mutex(lockName)
	if err != nil {
		return nil, err
	}
	c := newCond(name, lock, r.now)
	if err := r.add(name, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Registry) NewCounter(name string) (*Counter, error) {
	c := newCounter(name, r.now)
	if err := r.add(name, c); err != nil {
		return nil, err
	}
	return c, nil
}

func lookup[T primitive](r *Registry, name string, kind Kind) (T, error) {
	var zero T
	r.mu.Lock()
	p, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return zero, errdefs.NewNotFoundError(kind.String(), name)
	}
	t, ok := p.(T)
	if !ok {
		return zero, errdefs.InvalidArgument("%q is a %s, not a %s", name, p.Kind(), kind)
	}
	return t, nil
}

func (r *Registry) Mutex(name string) (*Mutex, error) {
	return lookup[*Mutex](r, name, KindMutex)
}

func (r *Registry) RecursiveMutex(name string) (*RecursiveMutex, error) {
	return lookup[*RecursiveMutex](r, name, KindRecursiveMutex)
}

func (r *Registry) RWMutex(name string) (*RWMutex, error) {
	return lookup[*RWMutex](r, name, KindRWMutex)
}

func (r *Registry) Semaphore(name string) (*Semaphore, error) {
	return lookup[*Semaphore](r, name, KindSemaphore)
}

func (r *Registry) Cond(name string) (*Cond, error) {
	return lookup[*Cond](r, name, KindCond)
}

func (r *Registry) Counter(name string) (*Counter, error) {
	return lookup[*Counter](r, name, KindCounter)
}

// AcquireLock acquires the exclusive lock name.
func (r *Registry) AcquireLock(ctx context.Context, name string, timeout time.Duration) (*Guard, error) {
	m, err := r.Mutex(name)
	if err != nil {
		return nil, err
	}
	return m.Acquire(ctx, timeout)
}

// AcquireRecursive acquires the recursive lock name on behalf of the owner
// carried by ctx.
func (r *Registry) AcquireRecursive(ctx context.Context, name string, timeout time.Duration) (*Guard, error) {
	m, err := r.RecursiveMutex(name)
	if err != nil {
		return nil, err
	}
	return m.Acquire(ctx, timeout)
}

func (r *Registry) AcquireRead(ctx context.Context, name string, timeout time.Duration) (*Guard, error) {
	m, err := r.RWMutex(name)
	if err != nil {
		return nil, err
	}
	return m.AcquireRead(ctx, timeout)
}

func (r *Registry) AcquireWrite(ctx context.Context, name string, timeout time.Duration) (*Guard, error) {
	m, err := r.RWMutex(name)
	if err != nil {
		return nil, err
	}
	return m.AcquireWrite(ctx, timeout)
}

// AcquireSemaphore takes one permit of the semaphore name.
func (r *Registry) AcquireSemaphore(ctx context.Context, name string, timeout time.Duration) (*Guard, error) {
	s, err := r.Semaphore(name)
	if err != nil {
		return nil, err
	}
	return s.Acquire(ctx, timeout)
}

// Remove deletes a primitive. Held locks, semaphores with permits out and
// conds with waiters cannot be removed, nor can a mutex that a cond is bound to.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.entries[name]
	if !ok {
		return errdefs.NewNotFoundError("primitive", name)
	}
	if n := p.holdCount(); n > 0 {
		return errdefs.NewInvalidStateError("remove", p.Kind().String()+" "+name, "held")
	}
	if _, isMutex := p.(*Mutex); isMutex {
		for _, other := range r.entries {
			if c, ok := other.(*Cond); ok && c.LockName() == name {
				return errdefs.NewInvalidStateError("remove", "mutex "+name, "bound to cond "+c.Name())
			}
		}
	}
	delete(r.entries, name)
	return nil
}

// Len returns the number of registered primitives.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns the state of every primitive, sorted by name.
func (r *Registry) Snapshot() []PrimitiveState {
	r.mu.Lock()
	list := make([]primitive, 0, len(r.entries))
	for _, p := range r.entries {
		list = append(list, p)
	}
	r.mu.Unlock()

	out := make([]PrimitiveState, 0, len(list))
	for _, p := range list {
		out = append(out, p.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
