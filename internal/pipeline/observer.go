package pipeline

import "github.com/tomasbasham/card-scan/internal/session"

// Observer is notified of run events. Calls are made synchronously from the
// goroutine that caused the event, state changes while the controller holds
// its lock. Implementations must not call back into the Controller.
type Observer interface {
	OnStateChange(from, to State)
	OnCycleDone(c Cycle)
	OnBatchSubmitted(r *session.BatchResult)
}

// observers fans a single event out to several observers in order.
type observers []Observer

func (o observers) OnStateChange(from, to State) {
	for _, ob := range o {
		ob.OnStateChange(from, to)
	}
}

func (o observers) OnCycleDone(c Cycle) {
	for _, ob := range o {
		ob.OnCycleDone(c)
	}
}

func (o observers) OnBatchSubmitted(r *session.BatchResult) {
	for _, ob := range o {
		ob.OnBatchSubmitted(r)
	}
}
