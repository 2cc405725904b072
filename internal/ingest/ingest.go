// Package ingest implements the deduplicating batcher and persister stages:
// existence checks by call_id, fixed-size batch planning, and bulk inserts.
package ingest

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/call-insights/internal/gong"
)

// lookupParallelism bounds concurrent existence checks within one page. All
// checks for a page complete before any of its batches are persisted.
const lookupParallelism = 4

// CallStore is the subset of the store the ingestor needs.
type CallStore interface {
	CallExists(ctx context.Context, callID string) (bool, error)
	InsertBatch(ctx context.Context, batch []gong.CallTranscript) error
}

// Result accumulates per-record outcomes across the pages of one run. Every
// outcome is counted rather than surfaced as an error; only the fetch itself
// can fail a run.
type Result struct {
	Fetched        int
	Duplicates     int
	LookupFailures int
	Inserted       int
	InsertFailures int

	// Stored holds the records that made it into a successfully persisted
	// batch, in arrival order. Classification fans out over these.
	Stored []gong.CallTranscript
}

// Ingestor consumes fetched pages and persists new records in batches.
type Ingestor struct {
	Store     CallStore
	BatchSize int
	Log       *logrus.Entry
}

// New constructs an Ingestor.
func New(store CallStore, batchSize int, log *logrus.Entry) *Ingestor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Ingestor{Store: store, BatchSize: batchSize, Log: log.WithField("module", "ingest")}
}

// ProcessPage runs one page through dedup and persistence, updating res.
// Lookup failures skip the record; insert failures drop the batch. Neither
// stops the run.
func (ing *Ingestor) ProcessPage(ctx context.Context, page []gong.CallTranscript, res *Result) {
	res.Fetched += len(page)
	if len(page) == 0 {
		return
	}

	existing, lookupFailed := ing.checkExistence(ctx, page)

	for id := range existing {
		ing.Log.WithField("call_id", id).Info("call already stored, skipping")
	}
	res.Duplicates += len(existing)
	res.LookupFailures += len(lookupFailed)

	// Records with a failed lookup are excluded from planning entirely: we
	// cannot tell whether they are new, so inserting would risk duplicates.
	for id := range lookupFailed {
		existing[id] = true
	}

	for _, batch := range PlanBatches(page, existing, ing.BatchSize) {
		if err := ing.Store.InsertBatch(ctx, batch); err != nil {
			ing.Log.WithError(err).WithField("batch_size", len(batch)).Error("batch insert failed, dropping batch")
			res.InsertFailures += len(batch)
			continue
		}
		res.Inserted += len(batch)
		res.Stored = append(res.Stored, batch...)
	}
}

// checkExistence looks up every record of the page concurrently and returns
// the call_ids that already exist and the ones whose lookup errored.
func (ing *Ingestor) checkExistence(ctx context.Context, page []gong.CallTranscript) (existing, failed map[string]bool) {
	existing = make(map[string]bool)
	failed = make(map[string]bool)

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupParallelism)

	for _, record := range page {
		callID := record.CallID
		g.Go(func() error {
			exists, err := ing.Store.CallExists(ctx, callID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				ing.Log.WithError(err).WithField("call_id", callID).Warn("existence check failed, skipping record")
				failed[callID] = true
				return nil
			}
			if exists {
				existing[callID] = true
			}
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors; outcomes land in the maps
	return existing, failed
}
