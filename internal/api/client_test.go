package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tomasbasham/card-scan/internal/card"
)

type staticTokens struct {
	token       string
	invalidated []string
}

func (s *staticTokens) Token(context.Context) (string, error) { return s.token, nil }
func (s *staticTokens) Invalidate(token string)               { s.invalidated = append(s.invalidated, token) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *staticTokens) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tokens := &staticTokens{token: "tok-1"}
	c.UseTokenSource(tokens)
	return c, tokens
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected an error for an empty base URL")
	}
}

func TestAuthenticate(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/anonymous" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("authentication must not carry a bearer token, got %q", got)
		}
		var body authRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.DeviceID != "device-1" {
			t.Errorf("device_id = %q, want device-1", body.DeviceID)
		}
		writeJSON(w, http.StatusOK, AuthResponse{UserID: "user-1", Token: "tok-2"})
	})

	got, err := c.Authenticate(context.Background(), "device-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.UserID != "user-1" || got.Token != "tok-2" {
		t.Fatalf("unexpected response %+v", got)
	}
}

func TestScan_SendsBearerAndOneField(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		var raw map[string]any
		_ = json.NewDecoder(r.Body).Decode(&raw)
		if len(raw) != 1 || raw["barcode"] != "0123456789" {
			t.Errorf("unexpected body %v", raw)
		}
		writeJSON(w, http.StatusOK, ScanResponse{Success: true, Card: &card.Card{ID: "c1", Name: "Opt"}})
	})

	resp, err := c.Scan(context.Background(), NewScanRequest(card.Barcode("0123456789")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success || resp.Card == nil || resp.Card.Name != "Opt" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestScan_StatusError(t *testing.T) {
	c, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "token expired"})
	})

	_, err := c.Scan(context.Background(), NewScanRequest(card.Name("Opt")))

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusUnauthorized || se.Message != "token expired" {
		t.Fatalf("unexpected status error %+v", se)
	}
	if len(tokens.invalidated) != 1 || tokens.invalidated[0] != "tok-1" {
		t.Fatalf("expected tok-1 to be invalidated once, got %v", tokens.invalidated)
	}
}

func TestInvalidate_NamesTheRejectedToken(t *testing.T) {
	var calls int
	c, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "token expired"})
			return
		}
		writeJSON(w, http.StatusOK, InventoryResponse{})
	})

	if _, err := c.Inventory(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
	tokens.token = "tok-2"
	if _, err := c.Inventory(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(tokens.invalidated) != 1 || tokens.invalidated[0] != "tok-1" {
		t.Fatalf("expected only tok-1 to be invalidated, got %v", tokens.invalidated)
	}
}

func TestScan_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Options{BaseURL: url})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.UseTokenSource(&staticTokens{token: "t"})

	_, err = c.Scan(context.Background(), NewScanRequest(card.Name("Opt")))
	if !IsTransport(err) {
		t.Fatalf("expected a transport error, got %v", err)
	}
	if StatusCode(err) != 0 {
		t.Fatalf("transport errors carry no status code")
	}
}

func TestScanBulk_PreservesOrder(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cards/scan/bulk" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body BulkScanRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		results := make([]ScanResponse, 0, len(body.Scans))
		for _, s := range body.Scans {
			results = append(results, ScanResponse{Success: true, Card: &card.Card{Name: s.CardName}})
		}
		writeJSON(w, http.StatusOK, BulkScanResponse{
			SessionID:       7,
			TotalScanned:    len(body.Scans),
			SuccessfulScans: len(body.Scans),
			Results:         results,
		})
	})

	resp, err := c.ScanBulk(context.Background(), BulkScanRequest{Scans: []ScanRequest{
		{CardName: "A"}, {CardName: "B"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.SessionID != 7 || len(resp.Results) != 2 || resp.Results[1].Card.Name != "B" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestInventory(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/inventory" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		writeJSON(w, http.StatusOK, InventoryResponse{
			Inventory: []InventoryItem{{ID: 1, CardID: "c1", Quantity: 3}},
			Count:     1,
		})
	})

	resp, err := c.Inventory(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Count != 1 || resp.Inventory[0].Quantity != 3 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCard(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/cards" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("id"); got != "c-42" {
			t.Errorf("expected id c-42, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("unexpected authorization header %q", got)
		}
		writeJSON(w, http.StatusOK, card.Card{ID: "c-42", Name: "Opt", SetCode: "xln", CollectorNumber: "65"})
	})

	got, err := c.Card(context.Background(), "c-42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "c-42" || got.Name != "Opt" || got.SetCode != "xln" {
		t.Fatalf("unexpected card %+v", got)
	}
}

func TestCard_NotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "card not found"})
	})

	_, err := c.Card(context.Background(), "missing")

	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("expected a 404 StatusError, got %v", err)
	}
}

func TestNewScanRequest(t *testing.T) {
	tests := []struct {
		in   card.Candidate
		want ScanRequest
	}{
		{card.Name("Opt"), ScanRequest{CardName: "Opt"}},
		{card.ManualName(" Shock "), ScanRequest{CardName: "Shock"}},
		{card.Collector("m21", "123"), ScanRequest{SetCode: "m21", CollectorNumber: "123"}},
		{card.Barcode("xyz"), ScanRequest{Barcode: "xyz"}},
	}
	for _, tt := range tests {
		if got := NewScanRequest(tt.in); got != tt.want {
			t.Errorf("NewScanRequest(%s) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
