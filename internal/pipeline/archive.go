package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tomasbasham/card-scan/internal/card"
	"github.com/tomasbasham/card-scan/internal/session"
	"github.com/tomasbasham/card-scan/internal/storage"
)

// receipt is the archived record of a submitted batch.
type receipt struct {
	SessionID      int            `json:"session_id"`
	SubmittedAt    time.Time      `json:"submitted_at"`
	TotalSubmitted int            `json:"total_submitted"`
	Successful     int            `json:"successful"`
	Failed         int            `json:"failed"`
	Items          []session.Item `json:"items"`
}

// archiveReceipt uploads a receipt for res and records its URL on res.
// Failures are logged and never fail the batch.
func (c *Controller) archiveReceipt(ctx context.Context, candidates []card.Candidate, res *session.BatchResult) {
	if c.archive == nil {
		return
	}

	body, err := json.MarshalIndent(receipt{
		SessionID:      res.SessionID,
		SubmittedAt:    res.SubmittedAt,
		TotalSubmitted: res.TotalSubmitted,
		Successful:     res.Successful,
		Failed:         res.Failed,
		Items:          session.Items(candidates, res),
	}, "", "  ")
	if err != nil {
		c.log.WithError(err).Warn("failed to encode batch receipt")
		return
	}

	up, err := c.archive.Upload(ctx, &storage.UploadRequest{
		ObjectName:  storage.ReceiptObjectName(res.SessionID, res.SubmittedAt),
		Content:     bytes.NewReader(body),
		ContentType: "application/json",
	})
	if err != nil {
		c.log.WithError(err).WithField("session_id", res.SessionID).Warn("failed to archive batch receipt")
		return
	}

	res.ReceiptURL = up.SignedURL
	c.log.WithFields(logrus.Fields{
		"session_id": res.SessionID,
		"object":     up.ObjectName,
	}).Info("batch receipt archived")
}
