// Package pipeline provides the high-level orchestration for one ingestion
// and classification run.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/call-insights/internal/classify"
	"github.com/jonathan/call-insights/internal/gong"
	"github.com/jonathan/call-insights/internal/ingest"
	"github.com/jonathan/call-insights/internal/notify"
	"github.com/jonathan/call-insights/internal/store"
)

// notifyParallelism bounds concurrent per-user webhook sends. Sends are
// independent; one failure never cancels the others.
const notifyParallelism = 4

// TranscriptSource produces pages of call transcripts for a date range.
type TranscriptSource interface {
	Pages(ctx context.Context, filter gong.Filter, fn gong.PageFunc) error
}

// Store is the persistence surface the pipeline needs.
type Store interface {
	ingest.CallStore
	SaveMatchedKeywords(ctx context.Context, callID string, keywords []string) error
	DistinctInterests(ctx context.Context) ([]string, error)
	UserInterests(ctx context.Context) ([]store.UserInterest, error)
}

// Deps are the external collaborators of one run.
type Deps struct {
	Source     TranscriptSource
	Store      Store
	Classifier classify.Classifier
	Notifier   notify.Sender
	Log        *logrus.Entry
}

// Options selects what one run ingests.
type Options struct {
	FromDateTime string
	ToDateTime   string
	CallIDs      []string
	BatchSize    int
}

// Summary aggregates per-item outcomes of a run. The run succeeds as long as
// no fatal stage failed; individual failures are reported here instead of
// through the response status.
type Summary struct {
	Fetched           int `json:"fetched"`
	Duplicates        int `json:"duplicates"`
	LookupFailures    int `json:"lookup_failures"`
	Inserted          int `json:"inserted"`
	InsertFailures    int `json:"insert_failures"`
	Keywords          int `json:"keywords"`
	Classified        int `json:"classified"`
	ClassifyFailures  int `json:"classify_failures"`
	MatchedCalls      int `json:"matched_calls"`
	MatchSaveFailures int `json:"match_save_failures"`
	NotificationsSent int `json:"notifications_sent"`
	NotifyFailures    int `json:"notify_failures"`
}

// Run executes one full pass: fetch and persist every page for the range,
// load the interest keywords, classify each ingested transcript, and notify
// each user whose interests matched. The returned error is non-nil only for
// fatal failures (page fetch, keyword load); everything else is counted in
// the Summary.
func Run(ctx context.Context, deps Deps, opts Options) (*Summary, error) {
	log := deps.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("module", "pipeline")

	summary := &Summary{}

	// FETCH_PAGE -> DEDUP_BATCH -> PERSIST, page by page. Pages processed
	// before a fetch failure stay persisted; the failure itself is fatal.
	ing := ingest.New(deps.Store, opts.BatchSize, log)
	var ingested ingest.Result
	filter := gong.Filter{
		FromDateTime: opts.FromDateTime,
		ToDateTime:   opts.ToDateTime,
		CallIDs:      opts.CallIDs,
	}
	err := deps.Source.Pages(ctx, filter, func(page []gong.CallTranscript) error {
		ing.ProcessPage(ctx, page, &ingested)
		return nil
	})
	summary.Fetched = ingested.Fetched
	summary.Duplicates = ingested.Duplicates
	summary.LookupFailures = ingested.LookupFailures
	summary.Inserted = ingested.Inserted
	summary.InsertFailures = ingested.InsertFailures
	if err != nil {
		return summary, err
	}

	// LOAD_KEYWORDS. Both reads are fatal: without them classification and
	// routing cannot run at all.
	keywords, err := deps.Store.DistinctInterests(ctx)
	if err != nil {
		return summary, fmt.Errorf("load interest keywords: %w", err)
	}
	summary.Keywords = len(keywords)

	users, err := deps.Store.UserInterests(ctx)
	if err != nil {
		return summary, fmt.Errorf("load user interests: %w", err)
	}

	if len(keywords) == 0 || len(ingested.Stored) == 0 {
		log.WithFields(logrus.Fields{
			"keywords": len(keywords),
			"stored":   len(ingested.Stored),
		}).Info("nothing to classify")
		return summary, nil
	}

	// CLASSIFY_EACH: one request per ingested transcript. A service failure
	// yields an empty-matches result for that call only.
	var allMatches []classify.Match
	for _, call := range ingested.Stored {
		result, err := deps.Classifier.Classify(ctx, call.CallID, call.FlattenText(), keywords)
		if err != nil {
			log.WithError(err).WithField("call_id", call.CallID).Warn("classification failed, treating as no matches")
			summary.ClassifyFailures++
			continue
		}
		summary.Classified++
		if len(result.Matches) == 0 {
			continue
		}

		summary.MatchedCalls++
		allMatches = append(allMatches, result.Matches...)

		matched := make([]string, 0, len(result.Matches))
		for _, m := range result.Matches {
			matched = append(matched, m.Keyword)
		}
		if err := deps.Store.SaveMatchedKeywords(ctx, call.CallID, matched); err != nil {
			log.WithError(err).WithField("call_id", call.CallID).Warn("failed to save matched keywords")
			summary.MatchSaveFailures++
		}
	}

	// NOTIFY_EACH: independent sends per user.
	var mu sync.Mutex
	g := &errgroup.Group{}
	g.SetLimit(notifyParallelism)
	for _, user := range users {
		user := user
		relevant := notify.MatchesForUser(user.Interests, allMatches)
		if len(relevant) == 0 {
			continue
		}
		g.Go(func() error {
			body := notify.ComposeMessage(user.Email, relevant)
			err := deps.Notifier.Send(ctx, body)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.WithError(err).WithField("recipient", user.Email).Warn("notification send failed")
				summary.NotifyFailures++
				return nil
			}
			summary.NotificationsSent++
			return nil
		})
	}
	_ = g.Wait()

	log.WithFields(logrus.Fields{
		"fetched":       summary.Fetched,
		"inserted":      summary.Inserted,
		"matched_calls": summary.MatchedCalls,
		"notified":      summary.NotificationsSent,
	}).Info("run complete")

	return summary, nil
}
