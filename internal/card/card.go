// Package card holds the domain values passed between the scan pipeline stages:
// the candidate identifying a card, the card itself as returned by the catalog,
// and the outcome of resolving one candidate.
package card

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Card is a catalog entry as returned by the remote resolution API.
type Card struct {
	ID              string    `json:"id"`
	ScryfallID      string    `json:"scryfall_id,omitempty"`
	Name            string    `json:"name"`
	SetCode         string    `json:"set_code"`
	CollectorNumber string    `json:"collector_number"`
	ImageURI        string    `json:"image_uri,omitempty"`
	OracleText      string    `json:"oracle_text,omitempty"`
	TypeLine        string    `json:"type_line,omitempty"`
	ManaCost        string    `json:"mana_cost,omitempty"`
	Rarity          string    `json:"rarity,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Kind identifies which shape of Candidate is populated.
type Kind string

const (
	KindName       Kind = "name"
	KindCollector  Kind = "collector"
	KindBarcode    Kind = "barcode"
	KindManualName Kind = "manual"
)

// Candidate is a single identifying guess about a card. Exactly one shape is
// populated and the value is immutable once constructed; use the constructor
// functions rather than a struct literal.
type Candidate struct {
	kind            Kind
	name            string
	setCode         string
	collectorNumber string
	barcode         string
}

// Name returns a candidate built from a recognised card name.
func Name(name string) Candidate {
	return Candidate{kind: KindName, name: strings.TrimSpace(name)}
}

// ManualName returns a candidate built from a name typed by the user.
func ManualName(name string) Candidate {
	return Candidate{kind: KindManualName, name: strings.TrimSpace(name)}
}

// Collector returns a candidate identified by set code and collector number.
func Collector(setCode, collectorNumber string) Candidate {
	return Candidate{
		kind:            KindCollector,
		setCode:         strings.TrimSpace(setCode),
		collectorNumber: strings.TrimSpace(collectorNumber),
	}
}

// collectorForm matches typed input of the form "set#number", e.g. "m21#123".
var collectorForm = regexp.MustCompile(`^([A-Za-z0-9]{2,6})\s*#\s*([0-9A-Za-z★-]+)$`)

// ParseManual returns the candidate for text typed by the user: a collector
// candidate when the text reads "set#number", otherwise a manual name.
func ParseManual(text string) Candidate {
	text = strings.TrimSpace(text)
	if m := collectorForm.FindStringSubmatch(text); m != nil {
		return Collector(strings.ToLower(m[1]), m[2])
	}
	return ManualName(text)
}

// Barcode returns a candidate built from a decoded structured-code payload.
func Barcode(payload string) Candidate {
	return Candidate{kind: KindBarcode, barcode: payload}
}

func (c Candidate) Kind() Kind              { return c.kind }
func (c Candidate) CardName() string        { return c.name }
func (c Candidate) SetCode() string         { return c.setCode }
func (c Candidate) CollectorNumber() string { return c.collectorNumber }
func (c Candidate) BarcodePayload() string  { return c.barcode }

// Validate reports whether the candidate carries a usable identifier for its
// shape.
func (c Candidate) Validate() error {
	switch c.kind {
	case KindName, KindManualName:
		if c.name == "" {
			return fmt.Errorf("card: %s candidate has an empty name", c.kind)
		}
	case KindCollector:
		if c.setCode == "" || c.collectorNumber == "" {
			return fmt.Errorf("card: collector candidate requires both set code and collector number")
		}
	case KindBarcode:
		if c.barcode == "" {
			return fmt.Errorf("card: barcode candidate has an empty payload")
		}
	default:
		return fmt.Errorf("card: candidate has no identifying field")
	}
	return nil
}

func (c Candidate) String() string {
	switch c.kind {
	case KindName, KindManualName:
		return fmt.Sprintf("%s:%q", c.kind, c.name)
	case KindCollector:
		return fmt.Sprintf("collector:%s/%s", c.setCode, c.collectorNumber)
	case KindBarcode:
		return fmt.Sprintf("barcode:%s", c.barcode)
	default:
		return "empty"
	}
}
