package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tomasbasham/card-scan/internal/capture"
	"github.com/tomasbasham/card-scan/internal/card"
	"github.com/tomasbasham/card-scan/internal/recognition"
)

// cycle is the working state of one capture cycle.
type cycle struct {
	Cycle

	manual    string
	frame     *capture.Frame
	candidate card.Candidate
}

// step is one task of a cycle. It returns the next task, or nil when the
// cycle has nothing further to do.
type step func(ctx context.Context, cy *cycle) step

// run executes the cycle's tasks in order and then applies the result. It
// owns the gate acquired by Capture and releases it exactly once.
func (c *Controller) run(ctx context.Context, cy *cycle, done chan<- Cycle) {
	defer c.inflight.Done()

	var next step = c.acquireFrame
	if cy.manual != "" {
		next = c.manualCandidate
	}
	for next != nil {
		next = next(ctx, cy)
	}

	c.complete(cy)

	if !c.gate.Release() {
		c.log.WithField("seq", cy.Seq).Error("capture gate was not held at the end of a cycle")
	}
	done <- cy.Cycle
	close(done)
}

func (c *Controller) manualCandidate(_ context.Context, cy *cycle) step {
	cy.candidate = card.ParseManual(cy.manual)
	cy.Candidate = cy.candidate.String()
	if !c.advance(StateResolving) {
		return nil
	}
	return c.resolve
}

func (c *Controller) acquireFrame(ctx context.Context, cy *cycle) step {
	frame, err := c.source.Acquire(ctx)
	if err != nil {
		cy.Status = StatusCaptureUnavailable
		cy.Detail = err.Error()
		return nil
	}
	if !c.advance(StateRecognizing) {
		frame.Release()
		return nil
	}
	cy.frame = frame
	return c.recognize
}

func (c *Controller) recognize(ctx context.Context, cy *cycle) step {
	out := c.recognizer.Recognize(ctx, cy.frame)
	cy.frame = nil
	cy.Recognition = out.Kind

	switch out.Kind {
	case recognition.KindBarcodeFound:
		cy.candidate = card.Barcode(out.Payload)
	case recognition.KindTextFound:
		cy.candidate = card.Name(out.Name)
	case recognition.KindNothingFound:
		cy.Status = StatusNothingDetected
		return nil
	default:
		cy.Status = StatusRecognitionFailed
		if out.Err != nil {
			cy.Detail = out.Err.Error()
		}
		return nil
	}

	cy.Candidate = cy.candidate.String()
	if !c.advance(StateResolving) {
		return nil
	}
	return c.resolve
}

func (c *Controller) resolve(ctx context.Context, cy *cycle) step {
	out := c.resolver.Resolve(ctx, cy.candidate)
	cy.Outcome = &out
	return nil
}

// advance moves the run to the given state unless it has been closed.
func (c *Controller) advance(to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.transition(to)
	return true
}

// complete applies the cycle's result to the run, or discards it when the
// run was closed in the meantime.
func (c *Controller) complete(cy *cycle) {
	c.mu.Lock()
	if c.closed {
		cy.Status = StatusDiscarded
	} else {
		c.apply(cy)
	}
	cy.State = c.state
	cy.SessionSize = c.sessionSize()
	c.mu.Unlock()

	cy.Duration = time.Since(cy.StartedAt)

	log := c.log.WithFields(logrus.Fields{
		"seq":      cy.Seq,
		"status":   cy.Status,
		"state":    cy.State,
		"duration": cy.Duration,
	})
	if cy.Candidate != "" {
		log = log.WithField("candidate", cy.Candidate)
	}
	if cy.Detail != "" {
		log = log.WithField("detail", cy.Detail)
	}
	log.Info("capture cycle finished")

	c.observer.OnCycleDone(cy.Cycle)
}

// apply must be called with c.mu held.
func (c *Controller) apply(cy *cycle) {
	if cy.Outcome == nil {
		// Ended before resolution: nothing detected, recognition failure or
		// no frame.
		c.transition(StateIdle)
		return
	}

	out := *cy.Outcome
	if out.IsResolved() {
		cy.Status = StatusResolved
	} else {
		cy.Status = unresolvedStatus(out)
		cy.Detail = out.Reason
	}

	switch {
	case c.mode == ModeBatch:
		if out.IsResolved() {
			if err := c.session.Append(cy.candidate); err != nil {
				c.log.WithError(err).Error("resolved candidate rejected by session")
			}
		}
		c.transition(StateAwaitingNext)
		c.transition(StateIdle)
	case out.IsResolved():
		c.transition(StateFinished)
	default:
		c.transition(StateIdle)
	}
}

func unresolvedStatus(o card.Outcome) Status {
	if o.IsNotFound() {
		return StatusResolutionNotFound
	}
	return StatusTransportError
}
