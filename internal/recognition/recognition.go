// Package recognition identifies what is on a captured frame. It tries to
// decode a structured code first and falls back to free-text recognition,
// running the text through the identifier extractor.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tomasbasham/card-scan/internal/capture"
	"github.com/tomasbasham/card-scan/internal/extract"
)

// Decoder decodes structured codes (barcodes, QR codes) on a frame. Results
// are returned in the service's own stable order; an empty slice means
// nothing was found.
type Decoder interface {
	Decode(ctx context.Context, frame *capture.Frame) ([]string, error)
	io.Closer
}

// TextRecognizer returns all text recognised on a frame.
type TextRecognizer interface {
	RecognizeText(ctx context.Context, frame *capture.Frame) (string, error)
	io.Closer
}

// Kind tags an Outcome.
type Kind string

const (
	KindBarcodeFound Kind = "barcode_found"
	KindTextFound    Kind = "text_found"
	KindNothingFound Kind = "nothing_found"
	KindFailed       Kind = "failed"
)

// Outcome is the single terminal result of recognising one frame.
type Outcome struct {
	Kind Kind

	// Payload is set for KindBarcodeFound.
	Payload string

	// Name is set for KindTextFound.
	Name string

	// Err is set for KindFailed.
	Err error

	// DecodeErr records a failed first stage that was recovered by the text
	// fallback. Informational only.
	DecodeErr error
}

func BarcodeFound(payload string) Outcome { return Outcome{Kind: KindBarcodeFound, Payload: payload} }
func TextFound(name string) Outcome       { return Outcome{Kind: KindTextFound, Name: name} }
func NothingFound() Outcome               { return Outcome{Kind: KindNothingFound} }
func Failed(err error) Outcome            { return Outcome{Kind: KindFailed, Err: err} }

func (o Outcome) String() string {
	switch o.Kind {
	case KindBarcodeFound:
		return fmt.Sprintf("barcode %q", o.Payload)
	case KindTextFound:
		return fmt.Sprintf("text %q", o.Name)
	case KindFailed:
		return fmt.Sprintf("failed: %v", o.Err)
	default:
		return string(o.Kind)
	}
}

// Coordinator runs the two recognition stages against one frame at a time.
type Coordinator struct {
	decoder Decoder
	text    TextRecognizer
	log     *logrus.Entry

	closeOnce sync.Once
	closeErr  error
}

// NewCoordinator returns a Coordinator owning both services; Close shuts them
// down.
func NewCoordinator(decoder Decoder, text TextRecognizer, log *logrus.Entry) *Coordinator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Coordinator{
		decoder: decoder,
		text:    text,
		log:     log.WithField("component", "recognition"),
	}
}

// Recognize consumes frame and returns exactly one outcome. The frame is
// released exactly once before Recognize returns, whichever branch ran.
//
// Text recognition only runs when decoding found nothing or failed, and then
// only after decoding has completed.
func (c *Coordinator) Recognize(ctx context.Context, frame *capture.Frame) Outcome {
	defer frame.Release()

	payloads, decodeErr := c.decoder.Decode(ctx, frame)
	if decodeErr == nil && len(payloads) > 0 {
		c.log.WithField("results", len(payloads)).Debug("structured code decoded")
		return BarcodeFound(payloads[0])
	}
	if decodeErr != nil {
		c.log.WithError(decodeErr).Debug("structured code decode failed; falling back to text")
	}

	text, err := c.text.RecognizeText(ctx, frame)
	if err != nil {
		out := Failed(err)
		out.DecodeErr = decodeErr
		return out
	}

	name := extract.Identifier(text)
	if name == "" {
		out := NothingFound()
		out.DecodeErr = decodeErr
		return out
	}
	out := TextFound(name)
	out.DecodeErr = decodeErr
	return out
}

// Close shuts down both recognition services. Only the first call has an
// effect; later calls return the same error.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = errors.Join(c.decoder.Close(), c.text.Close())
	})
	return c.closeErr
}
