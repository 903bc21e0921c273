package space

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/draftspace/internal/model"
	"github.com/nhle/draftspace/tests/testutil"
)

var (
	owner      = model.Owner{AccountID: "acct-1", UserID: "user-1"}
	otherOwner = model.Owner{AccountID: "acct-1", UserID: "user-2"}
)

// newTestService wires a service to a recording store. The returned
// service is not started; tests exercising the worker call Start and
// register Stop via cleanup.
func newTestService(t *testing.T, cfg Config) (*Service, *testutil.RecordingStore) {
	t.Helper()
	rec := testutil.NewRecordingStore()
	svc := NewService(rec, cfg, nil)
	return svc, rec
}

func startWorker(t *testing.T, svc *Service) {
	t.Helper()
	svc.Start()
	t.Cleanup(svc.Stop)
}

func TestOpenAndGet(t *testing.T) {
	svc, rec := newTestService(t, Config{})

	initial := model.NewDraftMessage()
	initial.Subject = "Hi"
	v, err := svc.Open(context.Background(), owner, initial, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Created()[0], v.ID)
	assert.Equal(t, "memory", v.ServiceID)
	assert.Equal(t, owner, v.Owner)
	assert.Equal(t, "tok-1", v.ClientToken)
	assert.Equal(t, "Hi", v.Message.Subject)

	got, err := svc.Get(v.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, "Hi", got.Message.Subject)
}

func TestGetUniformNotFound(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	v, err := svc.Open(context.Background(), owner, nil, "")
	require.NoError(t, err)

	_, missingErr := svc.Get("no-such-space", owner)
	_, foreignErr := svc.Get(v.ID, otherOwner)

	assert.ErrorIs(t, missingErr, ErrNotFound)
	assert.ErrorIs(t, foreignErr, ErrNotFound)
	assert.Equal(t, missingErr, foreignErr,
		"absence and foreign ownership must be indistinguishable")
}

func TestListFiltersByOwner(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	ctx := context.Background()

	mine1, err := svc.Open(ctx, owner, nil, "")
	require.NoError(t, err)
	mine2, err := svc.Open(ctx, owner, nil, "")
	require.NoError(t, err)
	_, err = svc.Open(ctx, otherOwner, nil, "")
	require.NoError(t, err)

	views := svc.List(owner)
	require.Len(t, views, 2)
	ids := []string{views[0].ID, views[1].ID}
	assert.ElementsMatch(t, []string{mine1.ID, mine2.ID}, ids)

	assert.Empty(t, svc.List(model.Owner{AccountID: "acct-9", UserID: "user-9"}))
}

func TestListReturnsDetachedSnapshots(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	v, err := svc.Open(context.Background(), owner, nil, "")
	require.NoError(t, err)

	views := svc.List(owner)
	require.Len(t, views, 1)
	views[0].Message.Subject = "tampered"

	got, err := svc.Get(v.ID, owner)
	require.NoError(t, err)
	assert.Empty(t, got.Message.Subject)
}

func TestUpdateAppliesChangeSet(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	v, err := svc.Open(context.Background(), owner, nil, "")
	require.NoError(t, err)

	subject := "updated"
	to := []string{"to@example.com"}
	updated, err := svc.Update(v.ID, owner, &model.DraftDelta{Subject: &subject, To: &to}, nil)
	require.NoError(t, err)

	assert.Equal(t, "updated", updated.Message.Subject)
	assert.Equal(t, to, updated.Message.To)
	assert.Greater(t, updated.LastModified, v.LastModified)
}

func TestUpdateConflictOnStaleStamp(t *testing.T) {
	svc, rec := newTestService(t, Config{})

	v, err := svc.Open(context.Background(), owner, nil, "")
	require.NoError(t, err)
	t0 := v.LastModified

	subject := "first"
	_, err = svc.Update(v.ID, owner, &model.DraftDelta{Subject: &subject}, &t0)
	require.NoError(t, err)

	subject2 := "second"
	_, err = svc.Update(v.ID, owner, &model.DraftDelta{Subject: &subject2}, &t0)
	assert.ErrorIs(t, err, ErrConflict)

	// The conflicting change set was not applied.
	got, err := svc.Get(v.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Message.Subject)
	assert.Zero(t, rec.UpdateCount(v.ID), "conflict detection happens before any store traffic")
}

func TestUpdateOfForeignSpace(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	v, err := svc.Open(context.Background(), owner, nil, "")
	require.NoError(t, err)

	subject := "x"
	_, err = svc.Update(v.ID, otherOwner, &model.DraftDelta{Subject: &subject}, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIdempotentClose(t *testing.T) {
	svc, rec := newTestService(t, Config{})
	ctx := context.Background()

	v, err := svc.Open(ctx, owner, nil, "")
	require.NoError(t, err)

	removed, err := svc.Close(ctx, v.ID, owner)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = svc.Close(ctx, v.ID, owner)
	require.NoError(t, err)
	assert.False(t, removed, "second close reports nothing removed, not an error")

	assert.Equal(t, []string{v.ID}, rec.Closed(), "the store sees exactly one close")
	_, err = svc.Get(v.ID, owner)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseOfForeignSpaceRemovesNothing(t *testing.T) {
	svc, rec := newTestService(t, Config{})
	ctx := context.Background()

	v, err := svc.Open(ctx, owner, nil, "")
	require.NoError(t, err)

	removed, err := svc.Close(ctx, v.ID, otherOwner)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Empty(t, rec.Closed())

	_, err = svc.Get(v.ID, owner)
	require.NoError(t, err, "the rightful owner still sees the space")
}

func TestCloseDiscardsPendingQueueEntry(t *testing.T) {
	svc, rec := newTestService(t, Config{MinFlushDelay: time.Hour, MaxFlushDelay: 2 * time.Hour})
	ctx := context.Background()

	v, err := svc.Open(ctx, owner, nil, "")
	require.NoError(t, err)

	subject := "never flushed"
	_, err = svc.Update(v.ID, owner, &model.DraftDelta{Subject: &subject}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, svc.queue.Len())

	_, err = svc.Close(ctx, v.ID, owner)
	require.NoError(t, err)
	assert.Zero(t, svc.queue.Len())
	assert.Zero(t, rec.UpdateCount(v.ID), "a closed space's pending delta is discarded, not flushed")
}

func TestRapidUpdatesCoalesceIntoOneFlush(t *testing.T) {
	svc, rec := newTestService(t, Config{MinFlushDelay: 30 * time.Millisecond, MaxFlushDelay: 200 * time.Millisecond})
	startWorker(t, svc)
	ctx := context.Background()

	initial := model.NewDraftMessage()
	initial.Subject = "Hi"
	v, err := svc.Open(ctx, owner, initial, "")
	require.NoError(t, err)

	var finalTo []string
	for i := 0; i < 5; i++ {
		to := []string{fmt.Sprintf("rcpt-%d@example.com", i)}
		finalTo = to
		_, err = svc.Update(v.ID, owner, &model.DraftDelta{To: &to}, nil)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return rec.UpdateCount(v.ID) == 1
	}, 500*time.Millisecond, 10*time.Millisecond, "the burst must flush exactly once within maxDelay")

	deltas := rec.Updates(v.ID)
	require.NotNil(t, deltas[0].To)
	assert.Equal(t, finalTo, *deltas[0].To, "the single flush carries the last written recipient list")

	// No trailing second flush sneaks in after the quiet period.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, rec.UpdateCount(v.ID))
}

func TestContinuousEditsFlushWithinMaxDelay(t *testing.T) {
	svc, rec := newTestService(t, Config{MinFlushDelay: 40 * time.Millisecond, MaxFlushDelay: 150 * time.Millisecond})
	startWorker(t, svc)
	ctx := context.Background()

	v, err := svc.Open(ctx, owner, nil, "")
	require.NoError(t, err)

	// Edit faster than minDelay so the ready time keeps resetting; the
	// cap must force a flush anyway.
	stop := time.After(400 * time.Millisecond)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	i := 0
loop:
	for {
		select {
		case <-stop:
			break loop
		case <-tick.C:
			subject := fmt.Sprintf("edit-%d", i)
			i++
			if _, err := svc.Update(v.ID, owner, &model.DraftDelta{Subject: &subject}, nil); err != nil {
				t.Fatalf("update: %v", err)
			}
		}
	}

	assert.GreaterOrEqual(t, rec.UpdateCount(v.ID), 1,
		"continuous edits must not starve the flush past maxDelay")
}

func TestShutdownDrainsPendingDeltas(t *testing.T) {
	svc, rec := newTestService(t, Config{MinFlushDelay: time.Hour, MaxFlushDelay: 2 * time.Hour})
	svc.Start()
	ctx := context.Background()

	v1, err := svc.Open(ctx, owner, nil, "")
	require.NoError(t, err)
	v2, err := svc.Open(ctx, owner, nil, "")
	require.NoError(t, err)

	s1, s2 := "pending one", "pending two"
	_, err = svc.Update(v1.ID, owner, &model.DraftDelta{Subject: &s1}, nil)
	require.NoError(t, err)
	_, err = svc.Update(v2.ID, owner, &model.DraftDelta{Subject: &s2}, nil)
	require.NoError(t, err)

	// Far-future ready times: only the shutdown drain can flush these.
	svc.Stop()

	assert.Equal(t, 1, rec.UpdateCount(v1.ID))
	assert.Equal(t, 1, rec.UpdateCount(v2.ID))
}

func TestOperationsAfterStop(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	svc.Start()
	ctx := context.Background()

	v, err := svc.Open(ctx, owner, nil, "")
	require.NoError(t, err)

	svc.Stop()

	_, err = svc.Open(ctx, owner, nil, "")
	assert.ErrorIs(t, err, ErrShuttingDown)

	subject := "x"
	_, err = svc.Update(v.ID, owner, &model.DraftDelta{Subject: &subject}, nil)
	assert.ErrorIs(t, err, ErrShuttingDown)

	_, err = svc.DeleteExpired(ctx, owner, time.Hour)
	assert.ErrorIs(t, err, ErrShuttingDown)

	// Reads and closes keep working so callers can wind down.
	_, err = svc.Get(v.ID, owner)
	require.NoError(t, err)

	removed, err := svc.Close(ctx, v.ID, owner)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestStopWithoutStart(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	svc.Stop() // must not hang or panic
}

func TestStartTwice(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	svc.Start()
	svc.Start()
	svc.Stop()
}

func TestDeleteExpiredPurgesRegistryAndQueue(t *testing.T) {
	svc, rec := newTestService(t, Config{MinFlushDelay: time.Hour, MaxFlushDelay: 2 * time.Hour})
	ctx := context.Background()

	v, err := svc.Open(ctx, owner, nil, "")
	require.NoError(t, err)

	// Leave a pending queue entry behind.
	subject := "pending"
	_, err = svc.Update(v.ID, owner, &model.DraftDelta{Subject: &subject}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, svc.queue.Len())

	rec.SetExpired(v.ID)
	ids, err := svc.DeleteExpired(ctx, owner, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{v.ID}, ids)

	_, err = svc.Get(v.ID, owner)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, svc.queue.Len(), "the expired space's queue entry is force-removed")
}

func TestFlushAll(t *testing.T) {
	svc, rec := newTestService(t, Config{MinFlushDelay: time.Hour, MaxFlushDelay: 2 * time.Hour})
	ctx := context.Background()

	v, err := svc.Open(ctx, owner, nil, "")
	require.NoError(t, err)

	subject := "pending"
	_, err = svc.Update(v.ID, owner, &model.DraftDelta{Subject: &subject}, nil)
	require.NoError(t, err)

	require.NoError(t, svc.FlushAll(ctx))
	assert.Equal(t, 1, rec.UpdateCount(v.ID))
	assert.Zero(t, svc.queue.Len())

	// Nothing left to flush.
	require.NoError(t, svc.FlushAll(ctx))
	assert.Equal(t, 1, rec.UpdateCount(v.ID))
}

func TestFlushAllKeepsEntryForConcurrentEdit(t *testing.T) {
	svc, rec := newTestService(t, Config{MinFlushDelay: time.Hour, MaxFlushDelay: 2 * time.Hour})
	ctx := context.Background()

	v, err := svc.Open(ctx, owner, nil, "")
	require.NoError(t, err)

	first := "first"
	_, err = svc.Update(v.ID, owner, &model.DraftDelta{Subject: &first}, nil)
	require.NoError(t, err)

	// While the flush writes the first delta, land a second edit. It
	// blocks on the draft lock until the flush releases it, then starts
	// a fresh delta and offers its own queue entry. That entry must not
	// be swallowed by the flush pass.
	edited := make(chan struct{})
	rec.BeforeUpdate(func() {
		rec.BeforeUpdate(nil)
		go func() {
			defer close(edited)
			second := "second"
			if _, err := svc.Update(v.ID, owner, &model.DraftDelta{Subject: &second}, nil); err != nil {
				t.Errorf("concurrent update: %v", err)
			}
		}()
		time.Sleep(20 * time.Millisecond)
	})

	require.NoError(t, svc.FlushAll(ctx))
	<-edited

	require.Equal(t, 1, svc.queue.Len(), "the racing edit's queue entry survives the flush pass")

	// The shutdown drain finds the surviving entry and persists the edit.
	svc.Start()
	svc.Stop()

	deltas := rec.Updates(v.ID)
	require.Len(t, deltas, 2)
	require.NotNil(t, deltas[1].Subject)
	assert.Equal(t, "second", *deltas[1].Subject)
}

func TestFlushFailureIsRetried(t *testing.T) {
	svc, rec := newTestService(t, Config{MinFlushDelay: 20 * time.Millisecond, MaxFlushDelay: 100 * time.Millisecond})
	startWorker(t, svc)
	ctx := context.Background()

	v, err := svc.Open(ctx, owner, nil, "")
	require.NoError(t, err)

	rec.FailUpdates(errors.New("db down"))
	subject := "survives outage"
	_, err = svc.Update(v.ID, owner, &model.DraftDelta{Subject: &subject}, nil)
	require.NoError(t, err)

	// Let at least one failing flush attempt happen, then heal the store.
	time.Sleep(60 * time.Millisecond)
	rec.FailUpdates(nil)

	require.Eventually(t, func() bool {
		return rec.UpdateCount(v.ID) == 1
	}, time.Second, 10*time.Millisecond, "the delta must survive the outage and flush afterwards")

	deltas := rec.Updates(v.ID)
	require.NotNil(t, deltas[0].Subject)
	assert.Equal(t, "survives outage", *deltas[0].Subject)
}
