// Package resource builds optimistic collection stores on top of the
// fetch executor: mutations apply to the in-memory collection first, the
// backend call runs, and the collection is reconciled with the
// authoritative record or rolled back to its pre-mutation contents.
// Consumers never observe a state that is neither pre-mutation truth nor
// server-confirmed truth.
package resource

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/teamtrack/teamtrack/pkg/fetch"
	"github.com/teamtrack/teamtrack/pkg/invalidation"
)

var nopLogger = zap.NewNop()

type Opts[T any] struct {
	// Name is the resource's cache namespace, e.g. "players". Cannot
	// be empty.
	Name string

	// Executor owns the collection this store mutates. Cannot be nil.
	Executor *fetch.Executor[[]T]

	// Registry receives invalidations after confirmed mutations.
	// Cannot be nil.
	Registry *invalidation.Registry

	// ID extracts a record's identifier. Cannot be nil.
	ID func(T) string

	// Related lists namespaces with denormalized dependencies on this
	// resource, purged together with Name after every confirmed
	// mutation. Optional.
	Related []string

	// Logger is the *zap.Logger for this store. A nil Logger will
	// disable logging.
	Logger *zap.Logger
}

func (opts *Opts[T]) Init() error {
	if len(opts.Name) == 0 {
		return errors.New("empty resource name")
	}
	if opts.Executor == nil {
		return errors.New("nil executor")
	}
	if opts.Registry == nil {
		return errors.New("nil registry")
	}
	if opts.ID == nil {
		return errors.New("nil id func")
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

// Store serializes optimistic mutations per resource: a mutation holds
// the queue until its rollback or confirmation completes, so two racing
// mutations cannot interleave their snapshot/restore pairs.
type Store[T any] struct {
	opts Opts[T]

	// mutation queue
	mu sync.Mutex
}

func NewStore[T any](opts Opts[T]) (*Store[T], error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	return &Store[T]{opts: opts}, nil
}

// Name returns the store's cache namespace.
func (s *Store[T]) Name() string {
	return s.opts.Name
}

// Items resolves the collection, cache-served when fresh.
func (s *Store[T]) Items(ctx context.Context) ([]T, error) {
	return s.opts.Executor.Execute(ctx)
}

// Refresh forces a producer round-trip.
func (s *Store[T]) Refresh(ctx context.Context) ([]T, error) {
	s.opts.Executor.Invalidate()
	return s.opts.Executor.Refetch(ctx)
}

// State exposes the executor's observable state.
func (s *Store[T]) State() fetch.State[[]T] {
	return s.opts.Executor.State()
}

// Create appends build(tempID) to the collection immediately, then runs
// send. On success the placeholder is replaced by the server-confirmed
// record (no entry retains the temporary id) and the resource's cache
// namespaces are invalidated. On failure the placeholder is filtered
// back out and the error is returned to the caller.
func (s *Store[T]) Create(ctx context.Context, build func(tempID string) T, send func(context.Context) (T, error)) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tempID := TempID()
	provisional := build(tempID)
	s.opts.Executor.UpdateData(func(cur []T) []T {
		return append(slices.Clone(cur), provisional)
	})

	confirmed, err := send(ctx)
	if err != nil {
		s.opts.Executor.UpdateData(func(cur []T) []T {
			next := make([]T, 0, len(cur))
			for _, it := range cur {
				if s.opts.ID(it) != tempID {
					next = append(next, it)
				}
			}
			return next
		})
		s.opts.Logger.Debug("create rolled back",
			zap.String("resource", s.opts.Name), zap.Error(err))
		var zero T
		return zero, err
	}

	s.opts.Executor.UpdateData(func(cur []T) []T {
		next := slices.Clone(cur)
		for i, it := range next {
			if s.opts.ID(it) == tempID {
				next[i] = confirmed
			}
		}
		return next
	})
	s.confirm(func() { s.opts.Registry.OnCreate(s.opts.Name) })
	return confirmed, nil
}

// Update applies apply(record) to the matching record immediately, then
// runs send. The entire prior collection is snapshotted first and
// restored verbatim on failure.
func (s *Store[T]) Update(ctx context.Context, id string, apply func(T) T, send func(context.Context) (T, error)) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snapshot []T
	s.opts.Executor.UpdateData(func(cur []T) []T {
		snapshot = slices.Clone(cur)
		next := slices.Clone(cur)
		for i, it := range next {
			if s.opts.ID(it) == id {
				next[i] = apply(it)
			}
		}
		return next
	})

	confirmed, err := send(ctx)
	if err != nil {
		s.rollback(snapshot, err)
		var zero T
		return zero, err
	}

	s.opts.Executor.UpdateData(func(cur []T) []T {
		next := slices.Clone(cur)
		for i, it := range next {
			if s.opts.ID(it) == id {
				next[i] = confirmed
			}
		}
		return next
	})
	s.confirm(func() { s.opts.Registry.OnUpdate(s.opts.Name, id) })
	return confirmed, nil
}

// Delete removes the matching record immediately, then runs send,
// restoring the full prior collection on failure.
func (s *Store[T]) Delete(ctx context.Context, id string, send func(context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snapshot []T
	s.opts.Executor.UpdateData(func(cur []T) []T {
		snapshot = slices.Clone(cur)
		next := make([]T, 0, len(cur))
		for _, it := range cur {
			if s.opts.ID(it) != id {
				next = append(next, it)
			}
		}
		return next
	})

	if err := send(ctx); err != nil {
		s.rollback(snapshot, err)
		return err
	}

	s.confirm(func() { s.opts.Registry.OnDelete(s.opts.Name, id) })
	return nil
}

func (s *Store[T]) rollback(snapshot []T, err error) {
	s.opts.Executor.UpdateData(func([]T) []T {
		return snapshot
	})
	s.opts.Logger.Debug("mutation rolled back",
		zap.String("resource", s.opts.Name), zap.Error(err))
}

// confirm fans out cache invalidation after a server-confirmed
// mutation: the registry purges this resource's namespace (and related
// ones), and the executor drops its own key so a future refetch cannot
// resurrect the now-stale cached list.
func (s *Store[T]) confirm(notify func()) {
	notify()
	if len(s.opts.Related) > 0 {
		s.opts.Registry.OnRelatedUpdate(s.opts.Related...)
	}
	s.opts.Executor.Invalidate()
}
