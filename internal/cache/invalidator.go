package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Mutation describes a committed write. ScopeID is the id of the entity the write
// belongs to (dam id, checklist id); it may be empty.
type Mutation struct {
	Kind    MutationKind
	ScopeID string
}

// Fanout is the port mutators depend on. Invalidate never fails from the caller's
// point of view: a committed write is never reported as failed because the cache
// could not be cleared.
type Fanout interface {
	Invalidate(ctx context.Context, m Mutation)
}

// NoopFanout ignores every mutation. Used when no cache is configured and in tests.
type NoopFanout struct{}

// Invalidate does nothing.
func (NoopFanout) Invalidate(context.Context, Mutation) {}

// InvalidationError reports a namespace that could not be cleared.
type InvalidationError struct {
	Kind      MutationKind
	Namespace string
	Prefix    string
	Err       error
}

func (e *InvalidationError) Error() string {
	return fmt.Sprintf("cache invalidation failed for %s (namespace=%s, prefix=%s): %v",
		e.Kind, e.Namespace, e.Prefix, e.Err)
}

func (e *InvalidationError) Unwrap() error {
	return e.Err
}

// FailureObserver is notified once per namespace that failed to clear.
type FailureObserver interface {
	ObserveInvalidationFailure(namespace string)
}

// Invalidator applies a Policy to a Store.
type Invalidator struct {
	store      Store
	policy     Policy
	logger     *slog.Logger
	observer   FailureObserver
	generation atomic.Uint64
}

var _ Fanout = (*Invalidator)(nil)

// InvalidatorOption configures an Invalidator.
type InvalidatorOption func(*Invalidator)

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p Policy) InvalidatorOption {
	return func(i *Invalidator) {
		i.policy = p
	}
}

// WithLogger sets the logger used for invalidation failures.
func WithLogger(logger *slog.Logger) InvalidatorOption {
	return func(i *Invalidator) {
		i.logger = logger
	}
}

// WithFailureObserver registers a metrics hook for failed namespaces.
func WithFailureObserver(o FailureObserver) InvalidatorOption {
	return func(i *Invalidator) {
		i.observer = o
	}
}

// NewInvalidator creates an Invalidator. It returns ErrInvalidPolicy when the
// configured policy is malformed.
func NewInvalidator(store Store, opts ...InvalidatorOption) (*Invalidator, error) {
	inv := &Invalidator{
		store:  store,
		policy: DefaultPolicy(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(inv)
	}

	if err := inv.policy.Validate(); err != nil {
		return nil, err
	}

	return inv, nil
}

// Invalidate deletes every namespace the policy maps m.Kind to. It runs on the
// caller's goroutine and returns once every deletion was attempted. Unknown kinds
// are logged and ignored.
func (i *Invalidator) Invalidate(ctx context.Context, m Mutation) {
	// Bumped before deleting so a Loader that read the store concurrently with the
	// write does not repopulate the cache with the pre-write value.
	i.generation.Add(1)

	rules, ok := i.policy[m.Kind]
	if !ok {
		i.logger.Warn("No invalidation rules for mutation",
			slog.String("mutation", string(m.Kind)))

		return
	}

	start := time.Now()
	deleted := 0

	for _, rule := range rules {
		prefix := rule.Prefix(m.ScopeID)

		n, err := i.store.DeletePrefix(ctx, prefix)
		if err != nil {
			i.reportFailure(&InvalidationError{
				Kind:      m.Kind,
				Namespace: rule.Namespace,
				Prefix:    prefix,
				Err:       err,
			})

			continue
		}

		deleted += n
	}

	i.logger.Debug("Cache invalidated",
		slog.String("mutation", string(m.Kind)),
		slog.String("scope_id", m.ScopeID),
		slog.Int("namespaces", len(rules)),
		slog.Int("keys_deleted", deleted),
		slog.Duration("duration", time.Since(start)))
}

// Generation increases on every Invalidate call.
func (i *Invalidator) Generation() uint64 {
	return i.generation.Load()
}

func (i *Invalidator) reportFailure(err *InvalidationError) {
	i.logger.Error("Cache invalidation failed",
		slog.String("mutation", string(err.Kind)),
		slog.String("namespace", err.Namespace),
		slog.String("prefix", err.Prefix),
		slog.String("error", err.Err.Error()))

	if i.observer != nil {
		i.observer.ObserveInvalidationFailure(err.Namespace)
	}
}
