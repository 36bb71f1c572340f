package notes

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/store"
)

func nextBatch(t *testing.T, sub *Subscription) Batch {
	t.Helper()
	select {
	case b := <-sub.Updates():
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("no batch delivered")
		return Batch{}
	}
}

func TestWatch_DeliversDecryptedBatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "u1")

	sub, err := f.repo.Watch(ctx, ListOptions{PatientID: "p1"})
	require.NoError(t, err)
	defer sub.Close()

	first := nextBatch(t, sub)
	assert.Empty(t, first.Notes)
	assert.False(t, sub.Loading())

	id, err := f.repo.Create(ctx, NoteInput{PatientID: "p1", Subjective: textPtr("dor lombar")})
	require.NoError(t, err)

	var batch Batch
	require.Eventually(t, func() bool {
		select {
		case batch = <-sub.Updates():
		default:
		}
		return len(batch.Notes) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, id, batch.Notes[0].ID)
	assert.Equal(t, "dor lombar", batch.Notes[0].Subjective.String())
	assert.NoError(t, sub.Err())
}

func TestWatch_CorruptedRecordDoesNotFailSubscription(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "u1")

	var ids []string
	for _, s := range []string{"a", "b", "c", "d"} {
		id, err := f.repo.Create(ctx, NoteInput{PatientID: "p1", Assessment: textPtr(s)})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	corrupt(t, f, ids[2], "assessment")

	sub, err := f.repo.Watch(ctx, ListOptions{PatientID: "p1"})
	require.NoError(t, err)
	defer sub.Close()

	batch := nextBatch(t, sub)
	assert.Len(t, batch.Notes, 3)
	require.Len(t, batch.Failures, 1)
	assert.Equal(t, ids[2], batch.Failures[0].RecordID)
	for _, n := range batch.Notes {
		assert.NotEqual(t, ids[2], n.ID)
	}
	assert.NoError(t, sub.Err())
	assert.False(t, sub.Loading())
	select {
	case <-sub.Done():
		t.Fatal("subscription ended")
	default:
	}
}

func TestWatch_StoreFailureEndsSubscription(t *testing.T) {
	boom := errors.New("listener revoked")
	f := newFixture(t, "u1")
	repo, err := NewRepository(failingStore{err: boom}, f.enc, fixedActor("u1"), f.cache)
	require.NoError(t, err)

	sub, err := repo.Watch(context.Background(), ListOptions{})
	require.NoError(t, err)
	defer sub.Close()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end")
	}
	assert.Equal(t, boom, sub.Err())
	assert.False(t, sub.Loading())
}

func TestWatch_StoreFailureReleasesWatch(t *testing.T) {
	f := newFixture(t, "u1")
	ms := &manualStore{}
	repo, err := NewRepository(ms, f.enc, fixedActor("u1"), f.cache)
	require.NoError(t, err)

	sub, err := repo.Watch(context.Background(), ListOptions{})
	require.NoError(t, err)

	boom := errors.New("listener revoked")
	ms.fn(nil, boom)
	<-sub.Done()
	assert.Equal(t, boom, sub.Err())
	assert.Eventually(t, ms.canceled.Load, 2*time.Second, 10*time.Millisecond, "the store watch is released without Close")

	sub.Close()
	assert.Equal(t, boom, sub.Err())
}

// manualStore lets the test decide when the watch callback runs.
type manualStore struct {
	store.Store
	fn       store.WatchFunc
	canceled atomic.Bool
}

func (s *manualStore) Watch(ctx context.Context, q store.Query, fn store.WatchFunc) (func(), error) {
	s.fn = fn
	return func() { s.canceled.Store(true) }, nil
}

func TestWatch_LoadingAndClose(t *testing.T) {
	f := newFixture(t, "u1")
	ms := &manualStore{}
	repo, err := NewRepository(ms, f.enc, fixedActor("u1"), f.cache)
	require.NoError(t, err)

	sub, err := repo.Watch(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.True(t, sub.Loading(), "loading until the first batch")

	ms.fn([]store.Snapshot{{ID: "legacy", Data: store.Document{"patient_id": "p1", "subjective": "antigo"}}}, nil)
	assert.False(t, sub.Loading())

	batch := nextBatch(t, sub)
	require.Len(t, batch.Notes, 1)
	assert.Equal(t, "antigo", batch.Notes[0].Subjective.String())

	sub.Close()
	assert.True(t, ms.canceled.Load())
	<-sub.Done()

	// Results arriving after Close are discarded.
	ms.fn([]store.Snapshot{{ID: "late", Data: store.Document{}}}, nil)
	select {
	case b := <-sub.Updates():
		t.Fatalf("batch delivered after close: %v", b)
	default:
	}
	sub.Close()
}

func TestWatch_KeepsOnlyLatestBatch(t *testing.T) {
	f := newFixture(t, "u1")
	ms := &manualStore{}
	repo, err := NewRepository(ms, f.enc, fixedActor("u1"), f.cache)
	require.NoError(t, err)

	sub, err := repo.Watch(context.Background(), ListOptions{})
	require.NoError(t, err)
	defer sub.Close()

	ms.fn([]store.Snapshot{{ID: "1", Data: store.Document{}}}, nil)
	ms.fn([]store.Snapshot{{ID: "1", Data: store.Document{}}, {ID: "2", Data: store.Document{}}}, nil)

	batch := nextBatch(t, sub)
	assert.Len(t, batch.Notes, 2)
	select {
	case <-sub.Updates():
		t.Fatal("stale batch kept")
	default:
	}
}
