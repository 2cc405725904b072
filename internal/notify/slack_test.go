package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/call-insights/internal/classify"
)

func TestSend_PostsTextPayload(t *testing.T) {
	var got slackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewSlackWebhook(server.URL, 5*time.Second)
	require.NoError(t, sender.Send(context.Background(), "hello"))
	assert.Equal(t, "hello", got.Text)
}

func TestSend_ClientErrorIsNotRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	sender := NewSlackWebhook(server.URL, 5*time.Second)
	err := sender.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestSend_RetriesServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewSlackWebhook(server.URL, 5*time.Second)
	require.NoError(t, sender.Send(context.Background(), "hello"))
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestMatchesForUser_IntersectsKeywords(t *testing.T) {
	matches := []classify.Match{
		{Keyword: "pricing", Summary: "Pricing discussed."},
		{Keyword: "security", Summary: "SOC2 questions."},
		{Keyword: "roadmap", Summary: "Q3 roadmap."},
	}

	got := MatchesForUser([]string{"Security", "roadmap"}, matches)
	require.Len(t, got, 2)
	assert.Equal(t, "security", got[0].Keyword)
	assert.Equal(t, "roadmap", got[1].Keyword)
}

func TestMatchesForUser_NoOverlap(t *testing.T) {
	matches := []classify.Match{{Keyword: "pricing"}}
	assert.Empty(t, MatchesForUser([]string{"hiring"}, matches))
}

func TestComposeMessage(t *testing.T) {
	matches := []classify.Match{
		{Keyword: "pricing", Summary: "Enterprise tier discussed.", Link: "https://app.gong.io/call?id=1&highlights=x"},
		{Keyword: "security", Summary: "SOC2 audit questions."},
	}

	body := ComposeMessage("ana@example.com", matches)
	assert.Contains(t, body, "New Gong Call Summary for ana@example.com:")
	assert.Contains(t, body, "• [pricing] Enterprise tier discussed. (https://app.gong.io/call?id=1&highlights=x)")
	assert.Contains(t, body, "• [security] SOC2 audit questions.")
}
