package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/call-insights/internal/classify"
	"github.com/jonathan/call-insights/internal/gong"
	"github.com/jonathan/call-insights/internal/store"
)

type fakeSource struct {
	pages    [][]gong.CallTranscript
	failPage int // 1-based page whose fetch fails, 0 = never
}

func (f *fakeSource) Pages(_ context.Context, _ gong.Filter, fn gong.PageFunc) error {
	for i, page := range f.pages {
		if f.failPage == i+1 {
			return errors.New("fetch transcript page: boom")
		}
		if err := fn(page); err != nil {
			return err
		}
	}
	return nil
}

type fakeStore struct {
	mu            sync.Mutex
	stored        map[string]bool
	matched       map[string][]string
	interests     []string
	interestsErr  error
	users         []store.UserInterest
	usersErr      error
	saveMatchErr  error
	insertBatches int
}

func newPipelineStore() *fakeStore {
	return &fakeStore{stored: make(map[string]bool), matched: make(map[string][]string)}
}

func (f *fakeStore) CallExists(_ context.Context, callID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stored[callID], nil
}

func (f *fakeStore) InsertBatch(_ context.Context, batch []gong.CallTranscript) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertBatches++
	for _, r := range batch {
		f.stored[r.CallID] = true
	}
	return nil
}

func (f *fakeStore) SaveMatchedKeywords(_ context.Context, callID string, keywords []string) error {
	if f.saveMatchErr != nil {
		return f.saveMatchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matched[callID] = keywords
	return nil
}

func (f *fakeStore) DistinctInterests(context.Context) ([]string, error) {
	return f.interests, f.interestsErr
}

func (f *fakeStore) UserInterests(context.Context) ([]store.UserInterest, error) {
	return f.users, f.usersErr
}

type fakeClassifier struct {
	mu      sync.Mutex
	calls   int
	results map[string]classify.Result
	errFor  map[string]error
}

func (f *fakeClassifier) Classify(_ context.Context, callID, _ string, _ []string) (classify.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err := f.errFor[callID]; err != nil {
		return classify.Result{}, err
	}
	if result, ok := f.results[callID]; ok {
		return result, nil
	}
	return classify.Result{CallID: callID, Matches: []classify.Match{}}, nil
}

func (f *fakeClassifier) Close() error { return nil }

type fakeNotifier struct {
	mu     sync.Mutex
	sent   []string
	errFor string // substring of bodies that should fail
}

func (f *fakeNotifier) Send(_ context.Context, body string) error {
	if f.errFor != "" && strings.Contains(body, f.errFor) {
		return errors.New("webhook down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, body)
	return nil
}

func transcriptPage(ids ...string) []gong.CallTranscript {
	page := make([]gong.CallTranscript, 0, len(ids))
	for _, id := range ids {
		page = append(page, gong.CallTranscript{
			CallID: id,
			Transcript: []gong.SpeakerTurn{
				{SpeakerID: "spk-1", Sentences: []gong.Sentence{{Start: 0, End: 1000, Text: "We talked pricing."}}},
			},
		})
	}
	return page
}

func TestRun_EndToEnd(t *testing.T) {
	src := &fakeSource{pages: [][]gong.CallTranscript{transcriptPage("c1", "c2"), transcriptPage("c3")}}
	st := newPipelineStore()
	st.stored["c2"] = true // already ingested by a previous run
	st.interests = []string{"pricing", "security"}
	st.users = []store.UserInterest{
		{Email: "ana@example.com", Interests: []string{"pricing"}},
		{Email: "bo@example.com", Interests: []string{"hiring"}},
	}
	cls := &fakeClassifier{results: map[string]classify.Result{
		"c1": {CallID: "c1", Matches: []classify.Match{
			{Keyword: "pricing", Summary: "Enterprise pricing discussed.", Timestamp: 4030, Link: "https://app.gong.io/call?id=c1&highlights=x"},
		}},
	}}
	notifier := &fakeNotifier{}

	summary, err := Run(context.Background(), Deps{Source: src, Store: st, Classifier: cls, Notifier: notifier}, Options{
		FromDateTime: "2024-01-01T00:00:00-08:00",
		ToDateTime:   "2024-01-31T23:59:59-08:00",
		BatchSize:    25,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Fetched)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Equal(t, 2, summary.Inserted)
	assert.Equal(t, 2, summary.Keywords)
	assert.Equal(t, 2, summary.Classified)
	assert.Equal(t, 1, summary.MatchedCalls)
	assert.Equal(t, 1, summary.NotificationsSent)
	assert.Zero(t, summary.NotifyFailures)

	assert.Equal(t, []string{"pricing"}, st.matched["c1"])

	require.Len(t, notifier.sent, 1)
	assert.Contains(t, notifier.sent[0], "ana@example.com")
	assert.Contains(t, notifier.sent[0], "Enterprise pricing discussed.")
}

func TestRun_FetchFailureIsFatalButKeepsEarlierPages(t *testing.T) {
	src := &fakeSource{
		pages:    [][]gong.CallTranscript{transcriptPage("c1"), transcriptPage("c2")},
		failPage: 2,
	}
	st := newPipelineStore()
	cls := &fakeClassifier{}

	summary, err := Run(context.Background(), Deps{Source: src, Store: st, Classifier: cls, Notifier: &fakeNotifier{}}, Options{BatchSize: 25})
	require.Error(t, err)

	// The first page was persisted before the failure surfaced.
	assert.True(t, st.stored["c1"])
	assert.Equal(t, 1, summary.Inserted)
	assert.Zero(t, cls.calls, "classification must not run after a fatal fetch error")
}

func TestRun_KeywordLoadFailureSkipsClassification(t *testing.T) {
	src := &fakeSource{pages: [][]gong.CallTranscript{transcriptPage("c1")}}
	st := newPipelineStore()
	st.interestsErr = errors.New("rpc failed")
	cls := &fakeClassifier{}

	_, err := Run(context.Background(), Deps{Source: src, Store: st, Classifier: cls, Notifier: &fakeNotifier{}}, Options{BatchSize: 25})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load interest keywords")
	assert.Zero(t, cls.calls, "classification service must not be invoked")
}

func TestRun_ClassifyFailureIsRecoverable(t *testing.T) {
	src := &fakeSource{pages: [][]gong.CallTranscript{transcriptPage("c1", "c2")}}
	st := newPipelineStore()
	st.interests = []string{"pricing"}
	st.users = []store.UserInterest{{Email: "ana@example.com", Interests: []string{"pricing"}}}
	cls := &fakeClassifier{
		errFor: map[string]error{"c1": errors.New("model overloaded")},
		results: map[string]classify.Result{
			"c2": {CallID: "c2", Matches: []classify.Match{{Keyword: "pricing", Summary: "s", Timestamp: 1}}},
		},
	}
	notifier := &fakeNotifier{}

	summary, err := Run(context.Background(), Deps{Source: src, Store: st, Classifier: cls, Notifier: notifier}, Options{BatchSize: 25})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ClassifyFailures)
	assert.Equal(t, 1, summary.Classified)
	assert.Equal(t, 1, summary.NotificationsSent)
}

func TestRun_NotifyFailureDoesNotBlockOtherUsers(t *testing.T) {
	src := &fakeSource{pages: [][]gong.CallTranscript{transcriptPage("c1")}}
	st := newPipelineStore()
	st.interests = []string{"pricing"}
	st.users = []store.UserInterest{
		{Email: "ana@example.com", Interests: []string{"pricing"}},
		{Email: "bo@example.com", Interests: []string{"pricing"}},
	}
	cls := &fakeClassifier{results: map[string]classify.Result{
		"c1": {CallID: "c1", Matches: []classify.Match{{Keyword: "pricing", Summary: "s", Timestamp: 1}}},
	}}
	notifier := &fakeNotifier{errFor: "ana@example.com"}

	summary, err := Run(context.Background(), Deps{Source: src, Store: st, Classifier: cls, Notifier: notifier}, Options{BatchSize: 25})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NotifyFailures)
	assert.Equal(t, 1, summary.NotificationsSent)
	require.Len(t, notifier.sent, 1)
	assert.Contains(t, notifier.sent[0], "bo@example.com")
}

func TestRun_NoKeywordsSkipsClassification(t *testing.T) {
	src := &fakeSource{pages: [][]gong.CallTranscript{transcriptPage("c1")}}
	st := newPipelineStore()
	cls := &fakeClassifier{}

	summary, err := Run(context.Background(), Deps{Source: src, Store: st, Classifier: cls, Notifier: &fakeNotifier{}}, Options{BatchSize: 25})
	require.NoError(t, err)
	assert.Zero(t, cls.calls)
	assert.Equal(t, 1, summary.Inserted)
}
