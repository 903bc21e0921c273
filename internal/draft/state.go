// Package draft holds the mutable in-memory side of a composition
// space: the draft field set, the pending delta accumulated since the
// last flush, and the optimistic-concurrency wrapper around both.
package draft

import (
	"context"
	"fmt"
	"sync"

	"github.com/nhle/draftspace/internal/delayqueue"
	"github.com/nhle/draftspace/internal/model"
	"github.com/nhle/draftspace/internal/store"
)

// State is the lock-guarded mutable draft of one composition space.
//
// Every setter updates the live field, records the new value into the
// lazily created pending delta, and re-offers the state's key on the
// coalescing queue, all under the per-state lock. Setters on different
// states never contend.
type State struct {
	mu    sync.Mutex
	key   string
	queue *delayqueue.Queue
	live  *model.DraftMessage

	// delta holds only the fields mutated since the last successful
	// flush; nil when fully flushed. At most one exists at a time.
	delta *model.DraftDelta
}

// NewState creates a draft state for the space identified by key. A nil
// initial draft starts from empty defaults. The initial draft is cloned;
// the caller keeps no handle into internal state.
func NewState(key string, queue *delayqueue.Queue, initial *model.DraftMessage) *State {
	if initial == nil {
		initial = model.NewDraftMessage()
	}
	return &State{
		key:   key,
		queue: queue,
		live:  initial.Clone(),
	}
}

// Key returns the space id this state belongs to.
func (s *State) Key() string { return s.key }

// Snapshot returns an independent copy of the current draft.
func (s *State) Snapshot() *model.DraftMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live.Clone()
}

// HasPendingChanges reports whether unflushed field changes exist.
func (s *State) HasPendingChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delta != nil
}

// SetFrom sets the sender address.
func (s *State) SetFrom(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setFromLocked(v)
	s.queue.OfferIfAbsentElseReset(s.key)
}

// SetReplySender sets the reply-to address.
func (s *State) SetReplySender(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setReplySenderLocked(v)
	s.queue.OfferIfAbsentElseReset(s.key)
}

// SetTo replaces the To recipient list.
func (s *State) SetTo(v []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setToLocked(v)
	s.queue.OfferIfAbsentElseReset(s.key)
}

// SetCc replaces the Cc recipient list.
func (s *State) SetCc(v []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCcLocked(v)
	s.queue.OfferIfAbsentElseReset(s.key)
}

// SetBcc replaces the Bcc recipient list.
func (s *State) SetBcc(v []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setBccLocked(v)
	s.queue.OfferIfAbsentElseReset(s.key)
}

// SetSubject sets the subject line.
func (s *State) SetSubject(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setSubjectLocked(v)
	s.queue.OfferIfAbsentElseReset(s.key)
}

// SetContent sets the draft body.
func (s *State) SetContent(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setContentLocked(v)
	s.queue.OfferIfAbsentElseReset(s.key)
}

// SetContentType sets the body content type.
func (s *State) SetContentType(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setContentTypeLocked(v)
	s.queue.OfferIfAbsentElseReset(s.key)
}

// SetRequestReadReceipt sets the read-receipt flag.
func (s *State) SetRequestReadReceipt(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setRequestReadReceiptLocked(v)
	s.queue.OfferIfAbsentElseReset(s.key)
}

// SetPriority sets the draft priority.
func (s *State) SetPriority(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setPriorityLocked(v)
	s.queue.OfferIfAbsentElseReset(s.key)
}

// SetSecurity sets the security settings.
func (s *State) SetSecurity(v model.Security) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setSecurityLocked(v)
	s.queue.OfferIfAbsentElseReset(s.key)
}

// SetSharedAttachments sets the shared-attachment settings.
func (s *State) SetSharedAttachments(v model.SharedAttachments) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setSharedAttachmentsLocked(v)
	s.queue.OfferIfAbsentElseReset(s.key)
}

// SetAttachments replaces the attachment list.
func (s *State) SetAttachments(v []model.Attachment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setAttachmentsLocked(v)
	s.queue.OfferIfAbsentElseReset(s.key)
}

// SetOrigin sets the origin marker.
func (s *State) SetOrigin(v model.Origin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setOriginLocked(v)
	s.queue.OfferIfAbsentElseReset(s.key)
}

// ApplyDelta applies only the fields present in change, each through its
// own field applier, atomically with respect to other setters on this
// state. A single queue offer covers the whole change set.
func (s *State) ApplyDelta(change *model.DraftDelta) {
	if change.IsEmpty() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if change.From != nil {
		s.setFromLocked(*change.From)
	}
	if change.ReplySender != nil {
		s.setReplySenderLocked(*change.ReplySender)
	}
	if change.To != nil {
		s.setToLocked(*change.To)
	}
	if change.Cc != nil {
		s.setCcLocked(*change.Cc)
	}
	if change.Bcc != nil {
		s.setBccLocked(*change.Bcc)
	}
	if change.Subject != nil {
		s.setSubjectLocked(*change.Subject)
	}
	if change.Content != nil {
		s.setContentLocked(*change.Content)
	}
	if change.ContentType != nil {
		s.setContentTypeLocked(*change.ContentType)
	}
	if change.RequestReadReceipt != nil {
		s.setRequestReadReceiptLocked(*change.RequestReadReceipt)
	}
	if change.Priority != nil {
		s.setPriorityLocked(*change.Priority)
	}
	if change.Security != nil {
		s.setSecurityLocked(*change.Security)
	}
	if change.SharedAttachments != nil {
		s.setSharedAttachmentsLocked(*change.SharedAttachments)
	}
	if change.Attachments != nil {
		s.setAttachmentsLocked(*change.Attachments)
	}
	if change.Origin != nil {
		s.setOriginLocked(*change.Origin)
	}

	s.queue.OfferIfAbsentElseReset(s.key)
}

// FlushToStore writes the pending delta to the persistent store and
// clears it. A nil delta (already flushed, e.g. racing a forced close)
// is a no-op. On store failure the delta is kept and the key re-offered,
// since the queue entry that triggered this flush was already consumed;
// the write is retried on the next drain cycle.
func (s *State) FlushToStore(ctx context.Context, st store.Store) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.delta == nil {
		return nil
	}
	if err := st.UpdateSpace(ctx, s.key, s.delta); err != nil {
		s.queue.OfferIfAbsent(s.key)
		return fmt.Errorf("flushing draft %s: %w", s.key, err)
	}
	s.delta = nil
	return nil
}

// ensureDeltaLocked returns the pending delta, creating it on the first
// mutation after a flush. Callers hold s.mu.
func (s *State) ensureDeltaLocked() *model.DraftDelta {
	if s.delta == nil {
		s.delta = &model.DraftDelta{}
	}
	return s.delta
}

func (s *State) setFromLocked(v string) {
	s.live.From = v
	s.ensureDeltaLocked().From = &v
}

func (s *State) setReplySenderLocked(v string) {
	s.live.ReplySender = v
	s.ensureDeltaLocked().ReplySender = &v
}

func (s *State) setToLocked(v []string) {
	v = model.CopyStrings(v)
	s.live.To = v
	s.ensureDeltaLocked().To = &v
}

func (s *State) setCcLocked(v []string) {
	v = model.CopyStrings(v)
	s.live.Cc = v
	s.ensureDeltaLocked().Cc = &v
}

func (s *State) setBccLocked(v []string) {
	v = model.CopyStrings(v)
	s.live.Bcc = v
	s.ensureDeltaLocked().Bcc = &v
}

func (s *State) setSubjectLocked(v string) {
	s.live.Subject = v
	s.ensureDeltaLocked().Subject = &v
}

func (s *State) setContentLocked(v string) {
	s.live.Content = v
	s.ensureDeltaLocked().Content = &v
}

func (s *State) setContentTypeLocked(v string) {
	s.live.ContentType = v
	s.ensureDeltaLocked().ContentType = &v
}

func (s *State) setRequestReadReceiptLocked(v bool) {
	s.live.RequestReadReceipt = v
	s.ensureDeltaLocked().RequestReadReceipt = &v
}

func (s *State) setPriorityLocked(v string) {
	s.live.Priority = v
	s.ensureDeltaLocked().Priority = &v
}

func (s *State) setSecurityLocked(v model.Security) {
	s.live.Security = v
	s.ensureDeltaLocked().Security = &v
}

func (s *State) setSharedAttachmentsLocked(v model.SharedAttachments) {
	s.live.SharedAttachments = v
	s.ensureDeltaLocked().SharedAttachments = &v
}

func (s *State) setAttachmentsLocked(v []model.Attachment) {
	v = model.CopyAttachments(v)
	s.live.Attachments = v
	s.ensureDeltaLocked().Attachments = &v
}

func (s *State) setOriginLocked(v model.Origin) {
	s.live.Origin = v
	s.ensureDeltaLocked().Origin = &v
}
