// Package delayqueue provides a coalescing delay queue: a debounce
// structure holding at most one pending entry per key, with a dynamic
// ready time bounded below by a minimum delay after the latest offer and
// above by a maximum delay after the first offer.
//
// It backs the draft flush pipeline: every edit re-offers the draft's
// key, so a burst of edits collapses into a single entry that becomes
// ready once the edits pause (minDelay) or the cap is hit (maxDelay).
package delayqueue

import (
	"container/heap"
	"sync"
	"time"
)

// Entry is one queued key, or the shutdown signal when Shutdown is set.
type Entry struct {
	// Key identifies the draft state this entry belongs to.
	Key string

	// FirstQueuedAt is when the key was first offered after the last
	// take/removal. It anchors the maxDelay cap.
	FirstQueuedAt time.Time

	// ReadyAt is when the entry becomes eligible for Take/DrainReady.
	ReadyAt time.Time

	// Shutdown marks the entry as a wake-up signal for a blocked Take
	// rather than a real key.
	Shutdown bool
}

// item is an Entry plus its heap index, so arbitrary removal stays O(log n).
type item struct {
	entry Entry
	index int
}

// entryHeap orders items by ReadyAt, earliest first.
type entryHeap []*item

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].entry.ReadyAt.Before(h[j].entry.ReadyAt) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Queue is a coalescing delay queue. It is safe for concurrent use.
// Offers never fail: offering an already-present key is always a safe
// no-op or a coalescing reset, per the operation used.
type Queue struct {
	mu       sync.Mutex
	heap     entryHeap
	byKey    map[string]*item
	minDelay time.Duration
	maxDelay time.Duration

	// wake is signaled whenever the earliest entry may have changed,
	// so a blocked Take re-evaluates its sleep.
	wake chan struct{}

	// now is the clock; replaced in tests.
	now func() time.Time
}

// New creates a queue with the given minimum and maximum coalescing
// delays. maxDelay must be at least minDelay.
func New(minDelay, maxDelay time.Duration) *Queue {
	return &Queue{
		byKey:    make(map[string]*item),
		minDelay: minDelay,
		maxDelay: maxDelay,
		wake:     make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Lock acquires the queue's lock. It is exposed so callers that need a
// persistent-store call and one or more RemoveLocked calls to appear
// atomic with respect to Take/DrainReady can hold it across both steps.
func (q *Queue) Lock() { q.mu.Lock() }

// Unlock releases the queue's lock.
func (q *Queue) Unlock() { q.mu.Unlock() }

// OfferIfAbsent inserts an entry for key, ready minDelay from now, only
// if no entry for key exists. It reports whether an entry was inserted.
func (q *Queue) OfferIfAbsent(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.byKey[key]; ok {
		return false
	}
	q.insertLocked(key, false)
	return true
}

// OfferIfAbsentElseReset inserts an entry for key if absent; if one is
// already present it advances the entry's ready time to now+minDelay,
// capped at firstQueuedAt+maxDelay. This is the steady-state call made
// on every field mutation.
func (q *Queue) OfferIfAbsentElseReset(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byKey[key]
	if !ok {
		q.insertLocked(key, false)
		return
	}

	ready := q.now().Add(q.minDelay)
	if latest := it.entry.FirstQueuedAt.Add(q.maxDelay); ready.After(latest) {
		ready = latest
	}
	it.entry.ReadyAt = ready
	heap.Fix(&q.heap, it.index)
	q.signal()
}

// OfferImmediately inserts a shutdown-tagged entry that is ready at
// once, waking a blocked Take. The key must not collide with a draft key.
func (q *Queue) OfferImmediately(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.byKey[key]; ok {
		return
	}
	q.insertLocked(key, true)
}

// insertLocked adds a fresh entry for key. Callers hold q.mu.
func (q *Queue) insertLocked(key string, shutdown bool) {
	now := q.now()
	ready := now
	if !shutdown {
		ready = now.Add(q.minDelay)
	}
	it := &item{entry: Entry{
		Key:           key,
		FirstQueuedAt: now,
		ReadyAt:       ready,
		Shutdown:      shutdown,
	}}
	q.byKey[key] = it
	heap.Push(&q.heap, it)
	q.signal()
}

// Take blocks until the earliest entry's ready time has elapsed, then
// removes and returns it. Shutdown is signaled by an OfferImmediately
// entry flowing through like any other.
func (q *Queue) Take() Entry {
	for {
		q.mu.Lock()
		var sleep time.Duration = -1
		if len(q.heap) > 0 {
			head := q.heap[0]
			d := head.entry.ReadyAt.Sub(q.now())
			if d <= 0 {
				e := q.removeLocked(head.entry.Key)
				q.mu.Unlock()
				return *e
			}
			sleep = d
		}
		q.mu.Unlock()

		if sleep < 0 {
			<-q.wake
			continue
		}
		timer := time.NewTimer(sleep)
		select {
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// DrainReady removes and returns all entries whose ready time has
// already elapsed. It never blocks.
func (q *Queue) DrainReady() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []Entry
	now := q.now()
	for len(q.heap) > 0 && !q.heap[0].entry.ReadyAt.After(now) {
		e := q.removeLocked(q.heap[0].entry.Key)
		ready = append(ready, *e)
	}
	return ready
}

// Remove force-removes the entry for key regardless of readiness. It
// reports whether an entry was present.
func (q *Queue) Remove(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(key) != nil
}

// RemoveLocked is Remove for callers already holding the queue's lock
// via Lock.
func (q *Queue) RemoveLocked(key string) bool {
	return q.removeLocked(key) != nil
}

// removeLocked detaches key from both the map and the heap. Callers
// hold q.mu. Returns the removed entry, or nil if absent.
func (q *Queue) removeLocked(key string) *Entry {
	it, ok := q.byKey[key]
	if !ok {
		return nil
	}
	delete(q.byKey, key)
	heap.Remove(&q.heap, it.index)
	e := it.entry
	return &e
}

// Entries returns a snapshot of all queued entries, ready or not,
// without removing them. Used by the shutdown drain, which must not
// race concurrent removals by owning callers.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, 0, len(q.heap))
	for _, it := range q.heap {
		out = append(out, it.entry)
	}
	return out
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byKey)
}

// signal nudges a blocked Take without ever blocking the caller.
// Callers hold q.mu.
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
