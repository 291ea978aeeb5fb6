package greeting

import (
	"fmt"
	"time"
)

type Outcome string

const (
	Sent             Outcome = "sent"
	SkippedDuplicate Outcome = "skipped-duplicate"
	SkippedCap       Outcome = "skipped-cap"
	FailedRetryable  Outcome = "failed-retryable"
	FailedFatal      Outcome = "failed-fatal"
	// SkippedAborted marks items left unprocessed after a ban or a lost session.
	SkippedAborted Outcome = "skipped-aborted"
)

// Record is the append-only outcome of one posting in a run.
type Record struct {
	PostingID string    `json:"posting_id"`
	Company   string    `json:"company,omitempty"`
	Title     string    `json:"title,omitempty"`
	Score     int       `json:"score"`
	Outcome   Outcome   `json:"outcome"`
	Attempts  int       `json:"attempts,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Report lists records in processing order with a count per outcome.
type Report struct {
	RunID   string          `json:"run_id"`
	Records []Record        `json:"records"`
	Summary map[Outcome]int `json:"summary"`
}

func newReport(runID string) *Report {
	return &Report{RunID: runID, Summary: map[Outcome]int{}}
}

func (r *Report) add(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	r.Records = append(r.Records, rec)
	r.Summary[rec.Outcome]++
}

// Sent returns the ids greeted in this run.
func (r *Report) Sent() []string {
	var ids []string
	for _, rec := range r.Records {
		if rec.Outcome == Sent {
			ids = append(ids, rec.PostingID)
		}
	}
	return ids
}

// AbortError ends a run early. Report holds every record, including the
// skipped-aborted remainder.
type AbortError struct {
	PostingID string
	Err       error
	Report    *Report
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("greeting run aborted at posting %s: %v", e.PostingID, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}
