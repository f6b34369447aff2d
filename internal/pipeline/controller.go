// Package pipeline drives one scan run: it accepts capture triggers, runs
// each capture cycle (acquire frame, recognise, resolve) in the background
// and applies the result to the run's state and batch session.
//
// A Controller serialises cycles with a Gate: a trigger that arrives while a
// cycle is in flight is dropped with ErrBusy. Every change to the run's state
// or session is made while holding the controller's lock.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tomasbasham/card-scan/internal/capture"
	"github.com/tomasbasham/card-scan/internal/card"
	"github.com/tomasbasham/card-scan/internal/recognition"
	"github.com/tomasbasham/card-scan/internal/session"
	"github.com/tomasbasham/card-scan/internal/storage"
)

var (
	ErrBusy     = errors.New("pipeline: a capture cycle is already in progress")
	ErrFinished = errors.New("pipeline: run has finished")
	ErrClosed   = errors.New("pipeline: run is closed")
)

// Recognizer identifies the content of a frame and releases it.
type Recognizer interface {
	Recognize(ctx context.Context, frame *capture.Frame) recognition.Outcome
	Close() error
}

// Resolver resolves a candidate against the remote catalog.
type Resolver interface {
	Resolve(ctx context.Context, c card.Candidate) card.Outcome
}

// Options configures a Controller. Source, Recognizer and Resolver are
// required; Session is required in batch mode.
type Options struct {
	Mode       Mode
	Source     capture.Source
	Recognizer Recognizer
	Resolver   Resolver
	Session    *session.Session

	// Archive receives a receipt for every submitted batch. Optional.
	Archive storage.Uploader

	Observers []Observer
	Logger    *logrus.Entry
}

// Cycle reports how one capture cycle ended.
type Cycle struct {
	Seq         int              `json:"seq"`
	Status      Status           `json:"status"`
	Manual      bool             `json:"manual"`
	Recognition recognition.Kind `json:"recognition,omitempty"`
	Candidate   string           `json:"candidate,omitempty"`
	Outcome     *card.Outcome    `json:"outcome,omitempty"`
	Detail      string           `json:"detail,omitempty"`
	State       State            `json:"state"`
	SessionSize int              `json:"session_size"`
	StartedAt   time.Time        `json:"started_at"`
	Duration    time.Duration    `json:"duration"`
}

// Controller owns one run. It is safe for concurrent use.
type Controller struct {
	mode       Mode
	source     capture.Source
	recognizer Recognizer
	resolver   Resolver
	session    *session.Session
	archive    storage.Uploader
	observer   observers
	log        *logrus.Entry

	gate interface {
		TryAcquire() bool
		Release() bool
	}

	mu     sync.Mutex
	state  State
	closed bool
	seq    int

	inflight  sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func New(opts Options) (*Controller, error) {
	if opts.Source == nil || opts.Recognizer == nil || opts.Resolver == nil {
		return nil, fmt.Errorf("pipeline: source, recognizer and resolver are required")
	}
	if opts.Mode == "" {
		opts.Mode = ModeSingle
	}
	if opts.Mode == ModeBatch && opts.Session == nil {
		return nil, fmt.Errorf("pipeline: batch mode requires a session")
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Controller{
		mode:       opts.Mode,
		source:     opts.Source,
		recognizer: opts.Recognizer,
		resolver:   opts.Resolver,
		session:    opts.Session,
		archive:    opts.Archive,
		observer:   observers(opts.Observers),
		log:        log.WithFields(logrus.Fields{"component": "pipeline", "mode": opts.Mode}),
		gate:       &Gate{},
		state:      StateIdle,
	}, nil
}

func (c *Controller) Mode() Mode { return c.mode }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionSize is the number of cards accumulated in the batch session.
func (c *Controller) SessionSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionSize()
}

func (c *Controller) sessionSize() int {
	if c.session == nil {
		return 0
	}
	return c.session.Len()
}

// Capture starts a capture cycle. A non-blank manualText skips the camera
// and recognition and resolves the text as a card name. The returned channel
// receives exactly one Cycle and is then closed.
//
// The cycle is not cancelled with ctx; only its values are used.
func (c *Controller) Capture(ctx context.Context, manualText string) (<-chan Cycle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return nil, ErrClosed
	case c.state == StateFinished:
		return nil, ErrFinished
	}
	if !c.gate.TryAcquire() {
		c.log.Debug("capture trigger dropped while a cycle is in flight")
		return nil, ErrBusy
	}

	c.seq++
	cy := &cycle{
		Cycle:  Cycle{Seq: c.seq, StartedAt: time.Now()},
		manual: strings.TrimSpace(manualText),
	}
	cy.Manual = cy.manual != ""
	c.transition(StateCapturing)

	done := make(chan Cycle, 1)
	c.inflight.Add(1)
	go c.run(context.WithoutCancel(ctx), cy, done)

	return done, nil
}

// Finish ends the run. In batch mode a non-empty session is submitted in
// one request, archived and cleared; the result is returned. Otherwise the
// run simply moves to Finished and the result is nil.
//
// A failed submission leaves the run open and the session intact so the
// caller may retry.
func (c *Controller) Finish(ctx context.Context) (*session.BatchResult, error) {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return nil, ErrClosed
	case c.state == StateFinished:
		c.mu.Unlock()
		return nil, ErrFinished
	}
	if !c.gate.TryAcquire() {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	defer c.gate.Release()

	if c.mode != ModeBatch || c.session.IsEmpty() {
		c.transition(StateFinished)
		c.mu.Unlock()
		c.log.Info("run finished")
		return nil, nil
	}
	candidates := c.session.Candidates()
	c.mu.Unlock()

	log := c.log.WithField("count", len(candidates))
	log.Info("submitting batch")

	res, err := c.session.Submit(ctx)
	if err != nil {
		log.WithError(err).Warn("batch submission failed; session retained")
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		log.WithField("session_id", res.SessionID).Warn("batch submitted after teardown; result not applied")
		return res, nil
	}
	c.session.Clear()
	c.transition(StateFinished)
	c.mu.Unlock()

	log.WithFields(logrus.Fields{
		"session_id": res.SessionID,
		"successful": res.Successful,
		"failed":     res.Failed,
	}).Info("batch submitted")

	c.archiveReceipt(ctx, candidates, res)
	c.observer.OnBatchSubmitted(res)

	return res, nil
}

// SetTorch switches the capture source's light.
func (c *Controller) SetTorch(ctx context.Context, on bool) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return c.source.SetTorch(ctx, on)
}

// Close tears the run down: the capture source and the recognition services
// are closed exactly once. Cycles still in flight run to completion but their
// results are discarded.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.closeErr = errors.Join(c.source.Close(), c.recognizer.Close())
		c.log.Info("run closed")
	})
	return c.closeErr
}

// Wait blocks until every started cycle has completed.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

// transition must be called with c.mu held.
func (c *Controller) transition(to State) {
	from := c.state
	if !CanTransition(from, to) {
		c.log.WithFields(logrus.Fields{"from": from, "to": to}).Error("illegal state transition")
		return
	}
	c.state = to
	c.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("state changed")
	c.observer.OnStateChange(from, to)
}
