package draft

import (
	"sync/atomic"
	"time"

	"github.com/nhle/draftspace/internal/model"
)

// ServiceID tags composition spaces backed by this in-memory cache,
// distinguishing them from spaces held by other storage backends.
const ServiceID = "memory"

// Space wraps a draft State with its identity, owner, client-supplied
// concurrency token, and the last-modified stamp used for optimistic
// concurrency. The stamp only ever advances.
type Space struct {
	id           string
	owner        model.Owner
	clientToken  string
	lastModified atomic.Int64
	state        *State
}

// NewSpace creates a space around an existing draft state. stamp is the
// initial last-modified value handed back by the persistent store.
func NewSpace(id string, owner model.Owner, clientToken string, stamp int64, state *State) *Space {
	sp := &Space{
		id:          id,
		owner:       owner,
		clientToken: clientToken,
		state:       state,
	}
	sp.lastModified.Store(stamp)
	return sp
}

// ID returns the space's opaque identifier.
func (s *Space) ID() string { return s.id }

// Owner returns the owning (tenant, user) pair.
func (s *Space) Owner() model.Owner { return s.owner }

// OwnedBy reports whether the space belongs to the given owner. Both
// the tenant and the user must match.
func (s *Space) OwnedBy(owner model.Owner) bool {
	return s.owner == owner
}

// ClientToken returns the opaque token the opening client supplied.
func (s *Space) ClientToken() string { return s.clientToken }

// LastModified returns the current stamp (unix milliseconds).
func (s *Space) LastModified() int64 {
	return s.lastModified.Load()
}

// State returns the mutable draft state.
func (s *Space) State() *State { return s.state }

// Advance unconditionally moves the stamp to "now", strictly past its
// current value, and returns the new stamp.
func (s *Space) Advance() int64 {
	for {
		cur := s.lastModified.Load()
		next := nextStamp(cur)
		if s.lastModified.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// AdvanceIfMatch is the optimistic-concurrency step: it moves the stamp
// to "now" only if the caller's expected value is still current. On a
// stale expectation nothing changes and ok is false.
func (s *Space) AdvanceIfMatch(expected int64) (stamp int64, ok bool) {
	next := nextStamp(expected)
	if s.lastModified.CompareAndSwap(expected, next) {
		return next, true
	}
	return s.lastModified.Load(), false
}

// nextStamp returns wall-clock millis, bumped past cur so the stamp
// never stalls within a single millisecond.
func nextStamp(cur int64) int64 {
	next := time.Now().UnixMilli()
	if next <= cur {
		next = cur + 1
	}
	return next
}
