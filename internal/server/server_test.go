package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/tomasbasham/card-scan/internal/api"
	"github.com/tomasbasham/card-scan/internal/capture"
	"github.com/tomasbasham/card-scan/internal/operation"
	"github.com/tomasbasham/card-scan/internal/pipeline"
	"github.com/tomasbasham/card-scan/internal/session"
)

type fakeController struct {
	mu       sync.Mutex
	observer pipeline.Observer
	state    pipeline.State
	manual   []string
	closed   int

	captureErr error
	finishErr  error
	torchErr   error
	batch      *session.BatchResult
}

func (f *fakeController) Capture(_ context.Context, manual string) (<-chan pipeline.Cycle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	f.manual = append(f.manual, manual)
	cy := pipeline.Cycle{Seq: len(f.manual), Status: pipeline.StatusResolved, SessionSize: len(f.manual)}
	f.observer.OnCycleDone(cy)

	ch := make(chan pipeline.Cycle, 1)
	ch <- cy
	close(ch)
	return ch, nil
}

func (f *fakeController) Finish(context.Context) (*session.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finishErr != nil {
		return nil, f.finishErr
	}
	f.state = pipeline.StateFinished
	f.observer.OnStateChange(pipeline.StateIdle, pipeline.StateFinished)
	if f.batch != nil {
		f.observer.OnBatchSubmitted(f.batch)
	}
	return f.batch, nil
}

func (f *fakeController) SetTorch(context.Context, bool) error { return f.torchErr }

func (f *fakeController) State() pipeline.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeController) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

type fakeInventory struct {
	mu          sync.Mutex
	invalidated int
	err         error
}

func (f *fakeInventory) List(context.Context) (*api.InventoryResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &api.InventoryResponse{Inventory: []api.InventoryItem{{ID: 1, CardID: "c1", Quantity: 1}}, Count: 1}, nil
}

func (f *fakeInventory) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
}

func (f *fakeInventory) invalidations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invalidated
}

type fixture struct {
	srv   *httptest.Server
	store *operation.MemoryStore
	inv   *fakeInventory
	ctls  []*fakeController
	next  func(*fakeController)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	f := &fixture{store: operation.NewMemoryStore(), inv: &fakeInventory{}}
	factory := func(mode pipeline.Mode, observer pipeline.Observer) (Controller, error) {
		ctl := &fakeController{observer: observer}
		if f.next != nil {
			f.next(ctl)
		}
		f.ctls = append(f.ctls, ctl)
		return ctl, nil
	}

	s := New(f.store, factory, f.inv, logrus.NewEntry(log))
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, f.srv.URL+path, r)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (f *fixture) startRun(t *testing.T, mode string) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/runs", map[string]string{"mode": mode})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /runs = %d %v", resp.StatusCode, body)
	}
	return body["run_id"].(string)
}

func TestRunLifecycle(t *testing.T) {
	f := newFixture(t)
	id := f.startRun(t, "batch")

	resp, _ := f.do(t, http.MethodPost, "/runs", map[string]string{"mode": "single"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second run while active = %d, want 409", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodPost, "/runs/"+id+"/captures", map[string]string{"card_name": "Opt"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("capture = %d, want 202", resp.StatusCode)
	}
	if got := f.ctls[0].manual; len(got) != 1 || got[0] != "Opt" {
		t.Fatalf("manual text not passed through: %v", got)
	}

	resp, run := f.do(t, http.MethodGet, "/runs/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET run = %d", resp.StatusCode)
	}
	if run["mode"] != "batch" || run["cycles"].(float64) != 1 || run["session_size"].(float64) != 1 {
		t.Fatalf("unexpected run record %v", run)
	}

	f.ctls[0].batch = &session.BatchResult{SessionID: 5, TotalSubmitted: 1, Successful: 1}
	resp, body := f.do(t, http.MethodPost, "/runs/"+id+"/finish", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finish = %d %v", resp.StatusCode, body)
	}
	if body["state"] != "finished" || body["batch"].(map[string]any)["session_id"].(float64) != 5 {
		t.Fatalf("unexpected finish body %v", body)
	}

	_, run = f.do(t, http.MethodGet, "/runs/"+id, nil)
	if run["state"] != "finished" || run["batch"] == nil {
		t.Fatalf("run record not updated: %v", run)
	}

	// A finished run does not block a new one.
	next := f.startRun(t, "single")
	if f.ctls[0].closed != 1 {
		t.Fatalf("finished run should be torn down once, got %d", f.ctls[0].closed)
	}

	resp, _ = f.do(t, http.MethodPost, "/runs/"+id+"/captures", nil)
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("capture on replaced run = %d, want 410", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodDelete, "/runs/"+next, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete = %d, want 204", resp.StatusCode)
	}
	_, run = f.do(t, http.MethodGet, "/runs/"+next, nil)
	if run["closed"] != true {
		t.Fatalf("deleted run not marked closed: %v", run)
	}

	if f.inv.invalidations() == 0 {
		t.Fatal("inventory cache should be invalidated after a submitted batch")
	}
}

func TestControllerErrors(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*fakeController)
		path   string
		body   any
		status int
	}{
		{"busy capture", func(c *fakeController) { c.captureErr = pipeline.ErrBusy }, "/captures", nil, http.StatusConflict},
		{"finished capture", func(c *fakeController) { c.captureErr = pipeline.ErrFinished }, "/captures", nil, http.StatusGone},
		{"busy finish", func(c *fakeController) { c.finishErr = pipeline.ErrBusy }, "/finish", nil, http.StatusConflict},
		{"failed submit", func(c *fakeController) {
			c.finishErr = &api.TransportError{Method: "POST", Path: "/cards/scan/bulk", Err: errors.New("offline")}
		}, "/finish", nil, http.StatusBadGateway},
		{"torch unsupported", func(c *fakeController) { c.torchErr = capture.ErrTorchUnsupported }, "/torch", map[string]bool{"on": true}, http.StatusNotImplemented},
		{"torch ok", func(c *fakeController) {}, "/torch", map[string]bool{"on": true}, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.next = tt.setup
			id := f.startRun(t, "single")

			resp, body := f.do(t, http.MethodPost, "/runs/"+id+tt.path, tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d (%v)", resp.StatusCode, tt.status, body)
			}
		})
	}
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/runs", map[string]string{"mode": "bulk"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown mode = %d, want 400", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodGet, "/runs/missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown run = %d, want 404", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodPost, "/runs/missing/captures", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("capture on unknown run = %d, want 404", resp.StatusCode)
	}
}

func TestInventoryAndHealth(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/inventory?refresh=true", nil)
	if resp.StatusCode != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("inventory = %d %v", resp.StatusCode, body)
	}
	if f.inv.invalidations() != 1 {
		t.Fatalf("refresh should invalidate the cache once, got %d", f.inv.invalidations())
	}

	f.inv.err = errors.New("offline")
	resp, _ = f.do(t, http.MethodGet, "/inventory", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("inventory failure = %d, want 502", resp.StatusCode)
	}

	resp, body = f.do(t, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", resp.StatusCode, body)
	}
}
