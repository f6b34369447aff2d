// Package capture provides the camera side of the scan pipeline: the Frame
// value handed to recognition and the Source implementations that produce
// frames. A Source is bound once per scan run and closed exactly once when the
// run is torn down.
package capture

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var (
	// ErrUnavailable is returned by Acquire when the source cannot produce a
	// frame yet, e.g. the camera is not ready or the hot folder is empty.
	ErrUnavailable = errors.New("capture: source unavailable")

	// ErrTorchUnsupported is returned by SetTorch on sources without a light.
	ErrTorchUnsupported = errors.New("capture: torch not supported")

	// ErrClosed is returned by a source after Close.
	ErrClosed = errors.New("capture: source closed")
)

// Source produces frames for recognition.
type Source interface {
	// Acquire blocks until one frame is available or ctx is done. The caller
	// owns the returned frame and must Release it exactly once.
	Acquire(ctx context.Context) (*Frame, error)

	// SetTorch switches the source's light on or off.
	SetTorch(ctx context.Context, on bool) error

	// Close unbinds the source.
	Close() error
}

// Frame is one captured image. It is exclusively owned by the cycle that
// acquired it and must be released once recognition has finished with it.
type Frame struct {
	// Data is the encoded image (JPEG or PNG).
	Data []byte

	// Rotation is the clockwise rotation in degrees needed to display the
	// image upright: 0, 90, 180 or 270.
	Rotation int

	CapturedAt time.Time

	// Origin names where the frame came from, e.g. a file path or URL.
	Origin string

	released  atomic.Bool
	onRelease func()
}

// NewFrame returns a frame whose release runs onRelease. onRelease may be nil.
func NewFrame(data []byte, rotation int, origin string, onRelease func()) *Frame {
	return &Frame{
		Data:       data,
		Rotation:   normaliseRotation(rotation),
		CapturedAt: time.Now(),
		Origin:     origin,
		onRelease:  onRelease,
	}
}

// Release frees the frame. Only the first call has any effect; it reports
// whether this call performed the release.
func (f *Frame) Release() bool {
	if !f.released.CompareAndSwap(false, true) {
		return false
	}
	f.Data = nil
	if f.onRelease != nil {
		f.onRelease()
	}
	return true
}

// Released reports whether Release has been called.
func (f *Frame) Released() bool {
	return f.released.Load()
}

func normaliseRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg - deg%90
}
