package ingest

import "github.com/jonathan/call-insights/internal/gong"

// PlanBatches splits the records of one page into insert batches. Records
// whose call_id is in existing are dropped, as are repeats of a call_id
// within the page itself. Input order is preserved and every batch holds at
// most batchSize records. The function is pure; existence lookups and inserts
// happen elsewhere.
func PlanBatches(records []gong.CallTranscript, existing map[string]bool, batchSize int) [][]gong.CallTranscript {
	if batchSize <= 0 {
		batchSize = 1
	}

	seen := make(map[string]bool, len(records))
	var batches [][]gong.CallTranscript
	var current []gong.CallTranscript

	for _, record := range records {
		if existing[record.CallID] || seen[record.CallID] {
			continue
		}
		seen[record.CallID] = true

		current = append(current, record)
		if len(current) == batchSize {
			batches = append(batches, current)
			current = nil
		}
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
