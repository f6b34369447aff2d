// Package resolver resolves one scan candidate against the remote catalog.
package resolver

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/tomasbasham/card-scan/internal/api"
	"github.com/tomasbasham/card-scan/internal/card"
)

// Scanner is the single-card endpoint of the remote API.
type Scanner interface {
	Scan(ctx context.Context, req api.ScanRequest) (*api.ScanResponse, error)
}

// Resolver turns candidates into outcomes with one network round trip each.
// It never retries; that is left to the caller.
type Resolver struct {
	scanner Scanner
	log     *logrus.Entry
}

func New(scanner Scanner, log *logrus.Entry) *Resolver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Resolver{scanner: scanner, log: log.WithField("component", "resolver")}
}

// Resolve calls the API once and maps the result:
//
//	2xx, success, card present -> Resolved(card)
//	2xx otherwise              -> Unresolved("not found")
//	non-2xx                    -> Unresolved("server error <code>")
//	no response                -> Unresolved("transport error")
func (r *Resolver) Resolve(ctx context.Context, c card.Candidate) card.Outcome {
	log := r.log.WithField("candidate", c.String())

	resp, err := r.scanner.Scan(ctx, api.NewScanRequest(c))
	out := Classify(resp, err)

	if out.IsResolved() {
		log.WithField("card", out.Card.Name).Info("candidate resolved")
	} else {
		log.WithFields(logrus.Fields{"reason": out.Reason, "detail": out.Detail}).Info("candidate unresolved")
	}
	return out
}

// Classify maps a scan response or error onto an outcome. It is shared by
// single and bulk submission so both report reasons the same way.
func Classify(resp *api.ScanResponse, err error) card.Outcome {
	if err != nil {
		if code := api.StatusCode(err); code != 0 {
			return card.ServerError(code, err.Error())
		}
		return card.Unresolved(card.ReasonTransport, err.Error())
	}
	if resp == nil {
		return card.Unresolved(card.ReasonNotFound, "")
	}
	return resp.Outcome()
}
