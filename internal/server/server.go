// Package server provides the HTTP control surface of a scan station. One run
// is active at a time; triggers are accepted immediately and cycle results
// are read back from the run record.
//
// Endpoints:
//
//	POST   /runs                 start a run; {mode} is "single" or "batch"
//	GET    /runs/{id}            run record
//	POST   /runs/{id}/captures   trigger a capture; optional {card_name}
//	POST   /runs/{id}/torch      {on}
//	POST   /runs/{id}/finish     end the run, submitting a batch
//	DELETE /runs/{id}            tear the run down
//	GET    /inventory            the user's inventory; ?refresh=true skips the cache
//	GET    /healthz
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tomasbasham/card-scan/internal/api"
	"github.com/tomasbasham/card-scan/internal/capture"
	"github.com/tomasbasham/card-scan/internal/operation"
	"github.com/tomasbasham/card-scan/internal/pipeline"
	"github.com/tomasbasham/card-scan/internal/session"
)

// Controller is the part of pipeline.Controller the server drives.
type Controller interface {
	Capture(ctx context.Context, manualText string) (<-chan pipeline.Cycle, error)
	Finish(ctx context.Context) (*session.BatchResult, error)
	SetTorch(ctx context.Context, on bool) error
	State() pipeline.State
	Close() error
}

// RunFactory builds the controller for a new run. The observer must be
// attached to it so the run record follows the controller.
type RunFactory func(mode pipeline.Mode, observer pipeline.Observer) (Controller, error)

// InventoryLister serves the user's inventory.
type InventoryLister interface {
	List(ctx context.Context) (*api.InventoryResponse, error)
	Invalidate()
}

type activeRun struct {
	id  string
	ctl Controller
}

// Server holds the dependencies shared across HTTP handlers.
type Server struct {
	store     operation.Store
	newRun    RunFactory
	inventory InventoryLister
	log       *logrus.Entry
	mux       *http.ServeMux

	mu     sync.Mutex
	active *activeRun
}

// New creates a Server. inventory may be nil, in which case /inventory
// answers 501.
func New(store operation.Store, newRun RunFactory, inventory InventoryLister, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		store:     store,
		newRun:    newRun,
		inventory: inventory,
		log:       log.WithField("component", "server"),
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("POST /runs", s.handleCreateRun)
	s.mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	s.mux.HandleFunc("POST /runs/{id}/captures", s.handleCapture)
	s.mux.HandleFunc("POST /runs/{id}/torch", s.handleTorch)
	s.mux.HandleFunc("POST /runs/{id}/finish", s.handleFinish)
	s.mux.HandleFunc("DELETE /runs/{id}", s.handleDeleteRun)
	s.mux.HandleFunc("GET /inventory", s.handleInventory)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down and
// tears down the active run.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close tears down the active run, if any.
func (s *Server) Close() {
	s.mu.Lock()
	run := s.active
	s.active = nil
	s.mu.Unlock()

	if run != nil {
		s.teardown(run)
	}
}

type createRunRequest struct {
	Mode string `json:"mode"`
}

type runResponse struct {
	RunID string               `json:"run_id"`
	State pipeline.State       `json:"state"`
	Batch *session.BatchResult `json:"batch,omitempty"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	mode, err := pipeline.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		if s.active.ctl.State() != pipeline.StateFinished {
			writeError(w, http.StatusConflict, fmt.Sprintf("run %q is still active", s.active.id))
			return
		}
		s.teardown(s.active)
		s.active = nil
	}

	run, err := s.store.Create(mode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create run: "+err.Error())
		return
	}
	ctl, err := s.newRun(mode, operation.NewRecorder(run.ID, s.store, s.log))
	if err != nil {
		_ = s.store.MarkFailed(run.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to start run: "+err.Error())
		return
	}
	s.active = &activeRun{id: run.ID, ctl: ctl}

	s.log.WithFields(logrus.Fields{"run_id": run.ID, "mode": mode}).Info("run started")
	writeJSON(w, http.StatusCreated, runResponse{RunID: run.ID, State: ctl.State()})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type captureRequest struct {
	CardName string `json:"card_name,omitempty"`
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r.PathValue("id"))
	if !ok {
		return
	}
	var req captureRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ch, err := run.ctl.Capture(r.Context(), req.CardName)
	if err != nil {
		writeControllerError(w, err)
		return
	}

	// The cycle outlives the request; its result lands on the run record.
	go func() {
		if cy := <-ch; cy.Status == pipeline.StatusResolved && s.inventory != nil {
			s.inventory.Invalidate()
		}
	}()

	writeJSON(w, http.StatusAccepted, runResponse{RunID: run.id, State: run.ctl.State()})
}

type torchRequest struct {
	On bool `json:"on"`
}

func (s *Server) handleTorch(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r.PathValue("id"))
	if !ok {
		return
	}
	var req torchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := run.ctl.SetTorch(r.Context(), req.On); err != nil {
		if errors.Is(err, capture.ErrTorchUnsupported) {
			writeError(w, http.StatusNotImplemented, err.Error())
			return
		}
		writeControllerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r.PathValue("id"))
	if !ok {
		return
	}

	res, err := run.ctl.Finish(r.Context())
	if err != nil {
		writeControllerError(w, err)
		return
	}
	if res != nil && s.inventory != nil {
		s.inventory.Invalidate()
	}

	writeJSON(w, http.StatusOK, runResponse{RunID: run.id, State: run.ctl.State(), Batch: res})
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	run := s.active
	if run != nil && run.id == id {
		s.active = nil
	} else {
		run = nil
	}
	s.mu.Unlock()

	if run == nil {
		if _, err := s.store.Get(id); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		// Already torn down.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.teardown(run)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	if s.inventory == nil {
		writeError(w, http.StatusNotImplemented, "inventory is not configured")
		return
	}
	if r.URL.Query().Get("refresh") == "true" {
		s.inventory.Invalidate()
	}

	inv, err := s.inventory.List(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// lookup returns the active run with the given id, writing the error
// response itself when there is none.
func (s *Server) lookup(w http.ResponseWriter, id string) (*activeRun, bool) {
	s.mu.Lock()
	run := s.active
	s.mu.Unlock()

	if run != nil && run.id == id {
		return run, true
	}
	if _, err := s.store.Get(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	writeError(w, http.StatusGone, fmt.Sprintf("run %q is no longer active", id))
	return nil, false
}

func (s *Server) teardown(run *activeRun) {
	log := s.log.WithField("run_id", run.id)
	if err := run.ctl.Close(); err != nil {
		log.WithError(err).Warn("run teardown reported an error")
		_ = s.store.MarkFailed(run.id, err)
	}
	if err := s.store.MarkClosed(run.id); err != nil {
		log.WithError(err).Warn("failed to mark run closed")
	}
	log.Info("run closed")
}

// decodeBody decodes a JSON body into v; an empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeControllerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrFinished), errors.Is(err, pipeline.ErrClosed):
		writeError(w, http.StatusGone, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
