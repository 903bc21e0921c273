package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nhle/draftspace/internal/model"
	"github.com/nhle/draftspace/internal/store"
)

// RecordingStore is an in-memory store.Store that records every call,
// for asserting flush behavior without a database.
type RecordingStore struct {
	mu        sync.Mutex
	nextID    int
	created   []string
	updates   map[string][]*model.DraftDelta
	closed    []string
	expired   []string
	updateErr error
	onUpdate  func()
}

var _ store.Store = (*RecordingStore)(nil)

// NewRecordingStore creates an empty recording store.
func NewRecordingStore() *RecordingStore {
	return &RecordingStore{updates: make(map[string][]*model.DraftDelta)}
}

// CreateSpace mints a deterministic id and records the call.
func (r *RecordingStore) CreateSpace(_ context.Context, _ model.Owner, _ *model.DraftMessage, _ string) (string, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := fmt.Sprintf("space-%04d", r.nextID)
	r.created = append(r.created, id)
	return id, time.Now().UnixMilli(), nil
}

// UpdateSpace records the delta, or fails with the configured error.
func (r *RecordingStore) UpdateSpace(_ context.Context, id string, delta *model.DraftDelta) error {
	r.mu.Lock()
	hook := r.onUpdate
	r.mu.Unlock()
	if hook != nil {
		hook()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	r.updates[id] = append(r.updates[id], delta)
	return nil
}

// CloseSpace records the closed id.
func (r *RecordingStore) CloseSpace(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, id)
	return nil
}

// DeleteExpired returns the ids configured via SetExpired.
func (r *RecordingStore) DeleteExpired(_ context.Context, _ model.Owner, _ time.Duration) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.expired))
	copy(out, r.expired)
	return out, nil
}

// GetSnapshot always misses; the cache never consults it while a space
// is open.
func (r *RecordingStore) GetSnapshot(_ context.Context, _ string) (*model.DraftMessage, error) {
	return nil, store.ErrSpaceNotFound
}

// FailUpdates makes subsequent UpdateSpace calls return err; pass nil to
// heal the store again.
func (r *RecordingStore) FailUpdates(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateErr = err
}

// BeforeUpdate installs a hook invoked at the start of every UpdateSpace
// call, before the delta is recorded. Tests use it to interleave
// concurrent edits with an in-flight flush; pass nil to remove it.
func (r *RecordingStore) BeforeUpdate(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUpdate = fn
}

// SetExpired configures the ids DeleteExpired reports as reaped.
func (r *RecordingStore) SetExpired(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expired = ids
}

// Updates returns the deltas recorded for id, in call order.
func (r *RecordingStore) Updates(id string) []*model.DraftDelta {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.DraftDelta, len(r.updates[id]))
	copy(out, r.updates[id])
	return out
}

// UpdateCount returns the number of UpdateSpace calls recorded for id.
func (r *RecordingStore) UpdateCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates[id])
}

// Created returns the ids minted by CreateSpace, in order.
func (r *RecordingStore) Created() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.created))
	copy(out, r.created)
	return out
}

// Closed returns the ids passed to CloseSpace, in order.
func (r *RecordingStore) Closed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.closed))
	copy(out, r.closed)
	return out
}
