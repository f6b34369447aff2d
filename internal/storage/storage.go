// Package storage archives batch receipts. The GCS implementation is the
// production backend; LocalUploader writes to a directory for a single scan
// station and for tests.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"
)

// Uploader persists objects to a storage backend and returns a URL for
// retrieving them.
type Uploader interface {
	Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error)
}

type UploadRequest struct {
	// ObjectName is the slash-separated object path within the backend.
	ObjectName string

	// Content is the data to be uploaded.
	Content io.Reader

	// ContentType is the MIME type of the content, e.g. "application/json".
	ContentType string
}

// UploadResult is the outcome of a successful upload.
type UploadResult struct {
	ObjectName string

	// SignedURL provides access to the object. For GCS it is time-limited.
	SignedURL string

	// ExpiresAt is when the signed URL becomes invalid, or zero if never.
	ExpiresAt time.Time
}

// ReceiptObjectName returns the object path of the receipt for a submitted
// batch: batches/YYYY/MM/DD/<session id>/receipt.json, dated in UTC.
// Batches the server did not number are filed under "unnumbered" with the
// submission time appended to keep them apart.
func ReceiptObjectName(sessionID int, submittedAt time.Time) string {
	at := submittedAt.UTC()
	id := strconv.Itoa(sessionID)
	if sessionID <= 0 {
		id = fmt.Sprintf("unnumbered-%s", at.Format("150405.000000000"))
	}
	return path.Join("batches", at.Format("2006/01/02"), id, "receipt.json")
}
