package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/store"
)

func fixedClock() func() time.Time {
	t := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := New(WithClock(fixedClock()))

	id, err := s.Add(ctx, "evolutions", store.Document{
		"patient_id": "p1",
		"created_at": store.ServerTimestamp,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	snap, err := s.Get(ctx, "evolutions", id)
	require.NoError(t, err)
	assert.Equal(t, id, snap.ID)
	assert.Equal(t, "p1", snap.Data["patient_id"])
	assert.Equal(t, "2026-05-01T12:00:01.000000000Z", snap.Data["created_at"])

	require.NoError(t, s.Update(ctx, "evolutions", id, store.Document{"signature_hash": "abc"}))
	snap, err = s.Get(ctx, "evolutions", id)
	require.NoError(t, err)
	assert.Equal(t, "abc", snap.Data["signature_hash"])
	assert.Equal(t, "p1", snap.Data["patient_id"])

	require.NoError(t, s.Delete(ctx, "evolutions", id))
	_, err = s.Get(ctx, "evolutions", id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_MissingDocuments(t *testing.T) {
	ctx := context.Background()
	s := New()

	assert.ErrorIs(t, s.Update(ctx, "evolutions", "nope", store.Document{"a": 1}), store.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "evolutions", "nope"), store.ErrNotFound)
	_, err := s.Get(ctx, "other", "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	id, err := s.Add(ctx, "evolutions", store.Document{"patient_id": "p1"})
	require.NoError(t, err)

	snap, err := s.Get(ctx, "evolutions", id)
	require.NoError(t, err)
	snap.Data["patient_id"] = "mutated"

	snap, err = s.Get(ctx, "evolutions", id)
	require.NoError(t, err)
	assert.Equal(t, "p1", snap.Data["patient_id"])
}

func TestStore_QueryInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := New()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := s.Add(ctx, "evolutions", store.Document{"patient_id": "p1", "n": i})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, err := s.Add(ctx, "evolutions", store.Document{"patient_id": "p2"})
	require.NoError(t, err)

	docs, err := s.Query(ctx, store.Query{
		Collection: "evolutions",
		Filters:    []store.Filter{{Field: "patient_id", Value: "p1"}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 5)
	for i, d := range docs {
		assert.Equal(t, ids[i], d.ID)
	}
}

func TestStore_Watch(t *testing.T) {
	ctx := context.Background()
	s := New()

	updates := make(chan []store.Snapshot, 16)
	cancel, err := s.Watch(ctx, store.Query{Collection: "evolutions"}, func(docs []store.Snapshot, err error) {
		assert.NoError(t, err)
		updates <- docs
	})
	require.NoError(t, err)
	defer cancel()

	next := func() []store.Snapshot {
		select {
		case docs := <-updates:
			return docs
		case <-time.After(time.Second):
			t.Fatal("no snapshot delivered")
			return nil
		}
	}

	assert.Empty(t, next())

	id, err := s.Add(ctx, "evolutions", store.Document{"patient_id": "p1"})
	require.NoError(t, err)
	docs := next()
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0].ID)

	// Changes to other collections are not delivered.
	_, err = s.Add(ctx, "patients", store.Document{"name": "x"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "evolutions", id))
	assert.Empty(t, next())

	cancel()
	_, err = s.Add(ctx, "evolutions", store.Document{"patient_id": "p1"})
	require.NoError(t, err)
	select {
	case <-updates:
		t.Fatal("snapshot delivered after cancel")
	case <-time.After(30 * time.Millisecond):
	}
}
