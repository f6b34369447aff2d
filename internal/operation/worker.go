package operation

import (
	"github.com/sirupsen/logrus"

	"github.com/tomasbasham/card-scan/internal/pipeline"
	"github.com/tomasbasham/card-scan/internal/session"
)

// Recorder is a pipeline.Observer that writes a controller's events onto
// its run record.
type Recorder struct {
	runID string
	store Store
	log   *logrus.Entry
}

var _ pipeline.Observer = (*Recorder)(nil)

func NewRecorder(runID string, store Store, log *logrus.Entry) *Recorder {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Recorder{runID: runID, store: store, log: log.WithField("run_id", runID)}
}

func (r *Recorder) OnStateChange(_, to pipeline.State) {
	r.check(r.store.SetState(r.runID, to))
}

func (r *Recorder) OnCycleDone(c pipeline.Cycle) {
	r.check(r.store.RecordCycle(r.runID, c))
}

func (r *Recorder) OnBatchSubmitted(b *session.BatchResult) {
	r.check(r.store.RecordBatch(r.runID, b))
}

func (r *Recorder) check(err error) {
	if err != nil {
		// The store is broken or the run was removed; the pipeline carries on.
		r.log.WithError(err).Warn("failed to record run event")
	}
}
