package space

import (
	"context"

	"github.com/nhle/draftspace/internal/draft"
)

// run is the flush worker loop. It blocks on the queue, flushes each
// entry that becomes ready, and opportunistically batches whatever else
// ripened in the meantime. A shutdown entry triggers one final drain
// pass over everything still queued, ready or not, before the loop
// exits for good.
func (s *Service) run(done chan struct{}) {
	defer close(done)

	for {
		e := s.queue.Take()
		if e.Shutdown {
			s.drainRemaining()
			return
		}
		s.flushKey(e.Key)

		sawShutdown := false
		for _, b := range s.queue.DrainReady() {
			if b.Shutdown {
				sawShutdown = true
				continue
			}
			s.flushKey(b.Key)
		}
		if sawShutdown {
			s.drainRemaining()
			return
		}
	}
}

// drainRemaining flushes every entry still queued. It iterates a
// snapshot without removing entries, so a Close racing the shutdown
// drain stays safe: the flush of a just-closed key is a no-op.
//
// A flush failing here re-offers its key into a queue nothing will
// drain again. The drain is best effort; the loss is logged, not
// retried. Callers needing durability run FlushAll before Stop.
func (s *Service) drainRemaining() {
	entries := s.queue.Entries()
	for _, e := range entries {
		if e.Shutdown {
			continue
		}
		s.flushKey(e.Key)
	}
	s.logger.Info("flush worker stopped", "drained", len(entries))
}

// flushKey flushes one space's pending delta. Flush errors are logged,
// not propagated: FlushToStore re-queues the key, so the write is
// retried on a later cycle.
func (s *Service) flushKey(key string) {
	v, ok := s.spaces.Load(key)
	if !ok {
		// Closed or expired after its entry was taken.
		return
	}
	sp := v.(*draft.Space)
	if err := sp.State().FlushToStore(context.Background(), s.store); err != nil {
		s.logger.Error("flushing draft", "space", key, "error", err)
	}
}
