// Package space implements the in-memory write-back cache for draft
// composition spaces: a concurrent registry of open drafts, a coalescing
// delay queue debouncing their edits, and a background worker that
// persists accumulated changes to the backing store.
package space

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/draftspace/internal/delayqueue"
	"github.com/nhle/draftspace/internal/draft"
	"github.com/nhle/draftspace/internal/model"
	"github.com/nhle/draftspace/internal/store"
)

// Default coalescing delays, used when the config leaves them zero.
const (
	defaultMinFlushDelay = 5 * time.Second
	defaultMaxFlushDelay = 30 * time.Second
)

// Config carries the tunables of the draft cache.
type Config struct {
	// MinFlushDelay is the quiet period after an edit before the draft
	// is flushed.
	MinFlushDelay time.Duration

	// MaxFlushDelay caps how long a continuously edited draft may go
	// unflushed, counted from its first unflushed edit.
	MaxFlushDelay time.Duration
}

// View is an immutable snapshot of a composition space handed to
// callers. Mutating a View never reaches the live draft.
type View struct {
	ID           string              `json:"id"`
	ServiceID    string              `json:"service_id"`
	Owner        model.Owner         `json:"owner"`
	ClientToken  string              `json:"client_token,omitempty"`
	LastModified int64               `json:"last_modified"`
	Message      *model.DraftMessage `json:"message"`
}

// Service is the storage façade for composition spaces. Construct one
// per process (or per test) with NewService; there is no ambient global
// instance.
type Service struct {
	store  store.Store
	queue  *delayqueue.Queue
	logger *slog.Logger

	// spaces maps space id to *draft.Space. Entries are independent; no
	// global lock spans different keys.
	spaces sync.Map

	shuttingDown atomic.Bool

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// NewService creates a service flushing through st. A nil logger falls
// back to slog.Default. The flush worker is not started; call Start.
func NewService(st store.Store, cfg Config, logger *slog.Logger) *Service {
	if cfg.MinFlushDelay <= 0 {
		cfg.MinFlushDelay = defaultMinFlushDelay
	}
	if cfg.MaxFlushDelay < cfg.MinFlushDelay {
		cfg.MaxFlushDelay = defaultMaxFlushDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		queue:  delayqueue.New(cfg.MinFlushDelay, cfg.MaxFlushDelay),
		logger: logger,
	}
}

// Open persists a new composition space (the store is the authoritative
// id source), registers it in memory, and returns its initial view.
func (s *Service) Open(ctx context.Context, owner model.Owner, initial *model.DraftMessage, clientToken string) (*View, error) {
	if s.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}

	id, stamp, err := s.store.CreateSpace(ctx, owner, initial, clientToken)
	if err != nil {
		return nil, fmt.Errorf("opening composition space: %w", err)
	}

	sp := draft.NewSpace(id, owner, clientToken, stamp, draft.NewState(id, s.queue, initial))
	s.spaces.Store(id, sp)
	return s.view(sp), nil
}

// Get returns the space if it exists and belongs to owner. Absence and
// ownership mismatch both surface as ErrNotFound.
func (s *Service) Get(id string, owner model.Owner) (*View, error) {
	sp, err := s.lookup(id, owner)
	if err != nil {
		return nil, err
	}
	return s.view(sp), nil
}

// List returns snapshots of all spaces owned by owner. The result is
// detached from the registry; it never reflects later mutations.
func (s *Service) List(owner model.Owner) []*View {
	var views []*View
	s.spaces.Range(func(_, v any) bool {
		sp := v.(*draft.Space)
		if sp.OwnedBy(owner) {
			views = append(views, s.view(sp))
		}
		return true
	})
	return views
}

// Update applies a sparse change set to the space. When expected is
// non-nil it is compared against the current last-modified stamp; on
// mismatch nothing is applied and ErrConflict is returned. On success
// the stamp has advanced and the returned view reflects the new state.
func (s *Service) Update(id string, owner model.Owner, change *model.DraftDelta, expected *int64) (*View, error) {
	if s.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}

	sp, err := s.lookup(id, owner)
	if err != nil {
		return nil, err
	}

	if expected != nil {
		if _, ok := sp.AdvanceIfMatch(*expected); !ok {
			return nil, ErrConflict
		}
	} else {
		sp.Advance()
	}

	sp.State().ApplyDelta(change)
	return s.view(sp), nil
}

// Close removes the space from the registry, discards any pending queue
// entry, and forwards the close to the store. It reports whether a space
// was actually removed; closing an already-closed space is not an error.
// Close stays usable during shutdown so callers can release spaces while
// the worker drains.
func (s *Service) Close(ctx context.Context, id string, owner model.Owner) (bool, error) {
	v, ok := s.spaces.Load(id)
	if !ok {
		return false, nil
	}
	if !v.(*draft.Space).OwnedBy(owner) {
		return false, nil
	}
	if _, loaded := s.spaces.LoadAndDelete(id); !loaded {
		// A concurrent Close won the race.
		return false, nil
	}

	s.queue.Remove(id)
	if err := s.store.CloseSpace(ctx, id); err != nil {
		return true, fmt.Errorf("closing composition space %s: %w", id, err)
	}
	return true, nil
}

// DeleteExpired reaps owner's spaces idle longer than maxIdle: the store
// computes and deletes the expired rows, then each returned id is purged
// from the registry and the queue. The whole operation runs under the
// queue's lock so the flush worker cannot observe a ready entry for a
// key whose row was just deleted.
func (s *Service) DeleteExpired(ctx context.Context, owner model.Owner, maxIdle time.Duration) ([]string, error) {
	if s.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}

	s.queue.Lock()
	defer s.queue.Unlock()

	ids, err := s.store.DeleteExpired(ctx, owner, maxIdle)
	if err != nil {
		return nil, fmt.Errorf("deleting expired composition spaces: %w", err)
	}
	for _, id := range ids {
		s.spaces.Delete(id)
		s.queue.RemoveLocked(id)
	}
	return ids, nil
}

// FlushAll synchronously flushes every pending delta. Callers needing a
// stronger guarantee than the shutdown drain run this before Stop.
func (s *Service) FlushAll(ctx context.Context) error {
	var errs []error
	s.spaces.Range(func(k, v any) bool {
		sp := v.(*draft.Space)
		// Drop the queue entry before flushing. An edit racing with the
		// flush re-offers its own entry once it gets the draft lock, so
		// removing afterwards could discard an entry guarding a fresh
		// delta. A failed flush re-offers the key itself.
		s.queue.Remove(k.(string))
		if err := sp.State().FlushToStore(ctx, s.store); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}

// Start launches the flush worker. Starting twice, or after Stop, is a
// no-op.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.shuttingDown.Load() {
		return
	}
	s.running = true
	s.done = make(chan struct{})
	go s.run(s.done)
}

// Stop shuts the service down: mutating operations start returning
// ErrShuttingDown, the worker is woken with a shutdown entry, performs
// one best-effort drain of everything still pending, and exits. Stop
// returns once the worker has finished.
func (s *Service) Stop() {
	s.shuttingDown.Store(true)

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	done := s.done
	s.mu.Unlock()

	s.queue.OfferImmediately("shutdown-" + uuid.NewString())
	<-done
}

// lookup resolves id to a space owned by owner, folding absence and
// ownership mismatch into the same error.
func (s *Service) lookup(id string, owner model.Owner) (*draft.Space, error) {
	v, ok := s.spaces.Load(id)
	if !ok {
		return nil, ErrNotFound
	}
	sp := v.(*draft.Space)
	if !sp.OwnedBy(owner) {
		return nil, ErrNotFound
	}
	return sp, nil
}

// view builds an immutable caller-facing snapshot of a space.
func (s *Service) view(sp *draft.Space) *View {
	return &View{
		ID:           sp.ID(),
		ServiceID:    draft.ServiceID,
		Owner:        sp.Owner(),
		ClientToken:  sp.ClientToken(),
		LastModified: sp.LastModified(),
		Message:      sp.State().Snapshot(),
	}
}
