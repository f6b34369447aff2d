package card

import "fmt"

// Status tags an Outcome.
type Status string

const (
	StatusResolved   Status = "resolved"
	StatusUnresolved Status = "unresolved"
)

// Reasons reported for an unresolved candidate.
const (
	ReasonNotFound  = "not found"
	ReasonTransport = "transport error"
)

// Outcome is the result of resolving one Candidate. It is produced once per
// candidate and never mutated afterwards.
type Outcome struct {
	Status Status `json:"status"`
	Card   *Card  `json:"card,omitempty"`
	Reason string `json:"reason,omitempty"`

	// Detail carries the server-reported error message or the transport
	// error text, when one was available.
	Detail string `json:"detail,omitempty"`
}

// Resolved returns a successful outcome for c.
func Resolved(c Card) Outcome {
	return Outcome{Status: StatusResolved, Card: &c}
}

// Unresolved returns a failed outcome with the given reason.
func Unresolved(reason, detail string) Outcome {
	return Outcome{Status: StatusUnresolved, Reason: reason, Detail: detail}
}

// ServerError returns the unresolved outcome for a non-2xx response.
func ServerError(code int, detail string) Outcome {
	return Unresolved(fmt.Sprintf("server error %d", code), detail)
}

func (o Outcome) IsResolved() bool { return o.Status == StatusResolved }

// IsNotFound reports whether the server answered but had no matching card.
func (o Outcome) IsNotFound() bool {
	return o.Status == StatusUnresolved && o.Reason == ReasonNotFound
}
