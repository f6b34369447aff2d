package api

import (
	"time"

	"github.com/tomasbasham/card-scan/internal/card"
)

// ScanRequest is the body of POST /cards/scan. Exactly one identifying field
// is set.
type ScanRequest struct {
	CardName        string `json:"card_name,omitempty"`
	SetCode         string `json:"set_code,omitempty"`
	CollectorNumber string `json:"collector_number,omitempty"`
	Barcode         string `json:"barcode,omitempty"`
}

// NewScanRequest maps a candidate onto the wire shape. Manual and recognised
// names are sent the same way.
func NewScanRequest(c card.Candidate) ScanRequest {
	switch c.Kind() {
	case card.KindCollector:
		return ScanRequest{SetCode: c.SetCode(), CollectorNumber: c.CollectorNumber()}
	case card.KindBarcode:
		return ScanRequest{Barcode: c.BarcodePayload()}
	default:
		return ScanRequest{CardName: c.CardName()}
	}
}

// ScanResponse is the body returned by POST /cards/scan and each element of a
// bulk response.
type ScanResponse struct {
	Success bool       `json:"success"`
	Card    *card.Card `json:"card,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// Outcome maps a 2xx scan response onto a card outcome.
func (r ScanResponse) Outcome() card.Outcome {
	if r.Success && r.Card != nil {
		return card.Resolved(*r.Card)
	}
	return card.Unresolved(card.ReasonNotFound, r.Error)
}

// BulkScanRequest is the body of POST /cards/scan/bulk.
type BulkScanRequest struct {
	Scans []ScanRequest `json:"scans"`
}

// BulkScanResponse carries one result per submitted scan, in submission
// order.
type BulkScanResponse struct {
	SessionID       int            `json:"session_id"`
	TotalScanned    int            `json:"total_scanned"`
	SuccessfulScans int            `json:"successful_scans"`
	FailedScans     int            `json:"failed_scans"`
	Results         []ScanResponse `json:"results"`
}

type authRequest struct {
	DeviceID string `json:"device_id"`
}

// AuthResponse is returned by POST /auth/anonymous.
type AuthResponse struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// InventoryItem is one owned card.
type InventoryItem struct {
	ID       int        `json:"id"`
	UserID   string     `json:"user_id"`
	CardID   string     `json:"card_id"`
	Quantity int        `json:"quantity"`
	AddedAt  time.Time  `json:"added_at"`
	Card     *card.Card `json:"card,omitempty"`
}

// InventoryResponse is returned by GET /inventory.
type InventoryResponse struct {
	Inventory []InventoryItem `json:"inventory"`
	Count     int             `json:"count"`
}

// errorResponse is the body the API sends with non-2xx statuses.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
