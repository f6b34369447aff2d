// Package session accumulates resolved candidates during a batch run and
// submits them as one bulk request.
//
// A Session is not safe for concurrent use. The pipeline controller only
// touches it while holding its own lock, which serialises every append,
// submit and clear.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomasbasham/card-scan/internal/api"
	"github.com/tomasbasham/card-scan/internal/card"
	"github.com/tomasbasham/card-scan/internal/resolver"
)

// ErrEmpty is returned by Submit when nothing has been appended.
var ErrEmpty = errors.New("session: nothing to submit")

// BulkScanner is the bulk endpoint of the remote API.
type BulkScanner interface {
	ScanBulk(ctx context.Context, req api.BulkScanRequest) (*api.BulkScanResponse, error)
}

// Item is one submitted candidate and its outcome.
type Item struct {
	Candidate string       `json:"candidate"`
	Outcome   card.Outcome `json:"outcome"`
}

// BatchResult reports a bulk submission. Results holds one outcome per
// candidate in the order they were appended.
type BatchResult struct {
	SessionID      int            `json:"session_id"`
	TotalSubmitted int            `json:"total_submitted"`
	Successful     int            `json:"successful"`
	Failed         int            `json:"failed"`
	Results        []card.Outcome `json:"results"`
	SubmittedAt    time.Time      `json:"submitted_at"`

	// ReceiptURL locates the archived receipt, when one was written.
	ReceiptURL string `json:"receipt_url,omitempty"`
}

// Session is an ordered list of resolved candidates.
type Session struct {
	scanner    BulkScanner
	candidates []card.Candidate
}

func New(scanner BulkScanner) *Session {
	return &Session{scanner: scanner}
}

// Append adds a candidate that has already resolved successfully.
func (s *Session) Append(c card.Candidate) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	s.candidates = append(s.candidates, c)
	return nil
}

func (s *Session) Len() int      { return len(s.candidates) }
func (s *Session) IsEmpty() bool { return len(s.candidates) == 0 }

// Candidates returns a copy of the accumulated candidates in order.
func (s *Session) Candidates() []card.Candidate {
	return append([]card.Candidate(nil), s.candidates...)
}

// Clear drops every accumulated candidate.
func (s *Session) Clear() {
	s.candidates = nil
}

// Submit posts every accumulated candidate in one request. The session is
// left untouched whatever the result, so a failed submission can be retried;
// the caller clears it once it is done with the batch.
func (s *Session) Submit(ctx context.Context) (*BatchResult, error) {
	if s.IsEmpty() {
		return nil, ErrEmpty
	}

	req := api.BulkScanRequest{Scans: make([]api.ScanRequest, 0, len(s.candidates))}
	for _, c := range s.candidates {
		req.Scans = append(req.Scans, api.NewScanRequest(c))
	}

	resp, err := s.scanner.ScanBulk(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("session: bulk submit of %d scans failed: %w", len(req.Scans), err)
	}

	return reconcile(len(s.candidates), resp), nil
}

// reconcile builds a BatchResult with exactly n outcomes. Results missing
// from the response are reported as not found; extra results are dropped.
func reconcile(n int, resp *api.BulkScanResponse) *BatchResult {
	br := &BatchResult{
		SessionID:      resp.SessionID,
		TotalSubmitted: resp.TotalScanned,
		Successful:     resp.SuccessfulScans,
		Failed:         resp.FailedScans,
		Results:        make([]card.Outcome, n),
		SubmittedAt:    time.Now().UTC(),
	}
	if br.TotalSubmitted == 0 {
		br.TotalSubmitted = n
	}
	for i := range br.Results {
		if i < len(resp.Results) {
			br.Results[i] = resolver.Classify(&resp.Results[i], nil)
			continue
		}
		br.Results[i] = card.Unresolved(card.ReasonNotFound, "missing from bulk response")
	}

	// The server's counts describe its own result list; once that has been
	// padded or truncated they are recounted from what is returned.
	if len(resp.Results) != n {
		br.TotalSubmitted = n
		br.Successful, br.Failed = 0, 0
		for _, o := range br.Results {
			if o.IsResolved() {
				br.Successful++
			} else {
				br.Failed++
			}
		}
	}
	return br
}

// Items pairs each candidate with its outcome in r. r must come from
// submitting candidates.
func Items(candidates []card.Candidate, r *BatchResult) []Item {
	items := make([]Item, 0, len(candidates))
	for i, c := range candidates {
		it := Item{Candidate: c.String()}
		if i < len(r.Results) {
			it.Outcome = r.Results[i]
		}
		items = append(items, it)
	}
	return items
}
