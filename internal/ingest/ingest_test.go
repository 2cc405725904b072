package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/call-insights/internal/gong"
)

// fakeStore is an in-memory CallStore with configurable failures.
type fakeStore struct {
	mu          sync.Mutex
	stored      map[string]bool
	lookupErrs  map[string]error
	insertErrAt int // 1-based index of the InsertBatch call that fails, 0 = never
	insertCalls int
	batchSizes  []int
}

func newFakeStore(existing ...string) *fakeStore {
	s := &fakeStore{stored: make(map[string]bool), lookupErrs: make(map[string]error)}
	for _, id := range existing {
		s.stored[id] = true
	}
	return s
}

func (s *fakeStore) CallExists(_ context.Context, callID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lookupErrs[callID]; err != nil {
		return false, err
	}
	return s.stored[callID], nil
}

func (s *fakeStore) InsertBatch(_ context.Context, batch []gong.CallTranscript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	s.batchSizes = append(s.batchSizes, len(batch))
	if s.insertErrAt == s.insertCalls {
		return errors.New("insert failed")
	}
	for _, r := range batch {
		s.stored[r.CallID] = true
	}
	return nil
}

func TestProcessPage_InsertsOnlyNewRecords(t *testing.T) {
	store := newFakeStore("b")
	ing := New(store, 25, nil)

	var res Result
	ing.ProcessPage(context.Background(), records("a", "b", "c"), &res)

	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 2, res.Inserted)
	assert.Zero(t, res.LookupFailures)
	assert.Zero(t, res.InsertFailures)
	require.Len(t, res.Stored, 2)
	assert.True(t, store.stored["a"])
	assert.True(t, store.stored["c"])
}

func TestProcessPage_LookupFailureSkipsRecordOnly(t *testing.T) {
	store := newFakeStore()
	store.lookupErrs["a"] = errors.New("connection reset")
	ing := New(store, 25, nil)

	var res Result
	ing.ProcessPage(context.Background(), records("a", "b"), &res)

	assert.Equal(t, 1, res.LookupFailures)
	assert.Equal(t, 1, res.Inserted)
	assert.False(t, store.stored["a"], "record with failed lookup must not be inserted")
	assert.True(t, store.stored["b"])
}

func TestProcessPage_InsertFailureDropsBatchAndContinues(t *testing.T) {
	store := newFakeStore()
	store.insertErrAt = 1
	ing := New(store, 2, nil)

	var res Result
	ing.ProcessPage(context.Background(), records("a", "b", "c", "d"), &res)

	assert.Equal(t, 2, res.InsertFailures)
	assert.Equal(t, 2, res.Inserted)
	require.Len(t, res.Stored, 2)
	assert.Equal(t, "c", res.Stored[0].CallID)
	assert.Equal(t, "d", res.Stored[1].CallID)
}

func TestProcessPage_RespectsBatchSize(t *testing.T) {
	store := newFakeStore()
	ing := New(store, 3, nil)

	var res Result
	ing.ProcessPage(context.Background(), records("a", "b", "c", "d", "e", "f", "g"), &res)

	assert.Equal(t, 7, res.Inserted)
	assert.Equal(t, []int{3, 3, 1}, store.batchSizes)
}

func TestProcessPage_SecondRunIsNoOp(t *testing.T) {
	store := newFakeStore()
	ing := New(store, 25, nil)

	var first Result
	ing.ProcessPage(context.Background(), records("a"), &first)
	require.Equal(t, 1, first.Inserted)

	var second Result
	ing.ProcessPage(context.Background(), records("a"), &second)
	assert.Equal(t, 1, second.Duplicates)
	assert.Zero(t, second.Inserted)
	assert.Equal(t, 1, store.insertCalls, "no second insert for an already-stored call")
}

func TestProcessPage_EmptyPage(t *testing.T) {
	store := newFakeStore()
	ing := New(store, 25, nil)

	var res Result
	ing.ProcessPage(context.Background(), nil, &res)
	assert.Zero(t, res.Fetched)
	assert.Zero(t, store.insertCalls)
}
