package recognition

import (
	"context"
	"errors"
	"testing"

	c "github.com/smartystreets/goconvey/convey"

	"github.com/tomasbasham/card-scan/internal/capture"
)

type fakeDecoder struct {
	payloads []string
	err      error
	calls    int
	closed   int
}

func (d *fakeDecoder) Decode(context.Context, *capture.Frame) ([]string, error) {
	d.calls++
	return d.payloads, d.err
}

func (d *fakeDecoder) Close() error { d.closed++; return nil }

type fakeText struct {
	text string
	err  error

	calls  int
	closed int

	// sawFrameData records whether the frame was still live when called.
	sawFrameData bool
}

func (r *fakeText) RecognizeText(_ context.Context, f *capture.Frame) (string, error) {
	r.calls++
	r.sawFrameData = f.Data != nil && !f.Released()
	return r.text, r.err
}

func (r *fakeText) Close() error { r.closed++; return errors.New("text close") }

func newFrame(releases *int) *capture.Frame {
	return capture.NewFrame([]byte("jpeg"), 90, "test", func() { *releases++ })
}

func TestRecognize(t *testing.T) {
	c.Convey("Coordinator.Recognize", t, func() {
		ctx := context.Background()
		releases := 0
		frame := newFrame(&releases)

		c.Convey("a decoded code short-circuits text recognition", func() {
			dec := &fakeDecoder{payloads: []string{"0123456789", "second"}}
			txt := &fakeText{text: "Lightning Bolt"}

			out := NewCoordinator(dec, txt, nil).Recognize(ctx, frame)

			c.So(out.Kind, c.ShouldEqual, KindBarcodeFound)
			c.So(out.Payload, c.ShouldEqual, "0123456789")
			c.So(txt.calls, c.ShouldEqual, 0)
			c.So(releases, c.ShouldEqual, 1)
		})

		c.Convey("zero codes fall back to text exactly once", func() {
			dec := &fakeDecoder{}
			txt := &fakeText{text: "Lightning Bolt\nInstant\n"}

			out := NewCoordinator(dec, txt, nil).Recognize(ctx, frame)

			c.So(out.Kind, c.ShouldEqual, KindTextFound)
			c.So(out.Name, c.ShouldEqual, "Lightning Bolt")
			c.So(dec.calls, c.ShouldEqual, 1)
			c.So(txt.calls, c.ShouldEqual, 1)
			c.So(txt.sawFrameData, c.ShouldBeTrue)
			c.So(releases, c.ShouldEqual, 1)
		})

		c.Convey("a decode failure falls back to text exactly once", func() {
			decodeErr := errors.New("decoder offline")
			dec := &fakeDecoder{err: decodeErr}
			txt := &fakeText{text: "Shock"}

			out := NewCoordinator(dec, txt, nil).Recognize(ctx, frame)

			c.So(out.Kind, c.ShouldEqual, KindTextFound)
			c.So(out.DecodeErr, c.ShouldEqual, decodeErr)
			c.So(txt.calls, c.ShouldEqual, 1)
			c.So(releases, c.ShouldEqual, 1)
		})

		c.Convey("blank text is nothing found", func() {
			txt := &fakeText{text: "  \n \n"}

			out := NewCoordinator(&fakeDecoder{}, txt, nil).Recognize(ctx, frame)

			c.So(out.Kind, c.ShouldEqual, KindNothingFound)
			c.So(releases, c.ShouldEqual, 1)
		})

		c.Convey("a text failure is reported as failed", func() {
			textErr := errors.New("ocr timeout")
			dec := &fakeDecoder{err: errors.New("decoder offline")}
			txt := &fakeText{err: textErr}

			out := NewCoordinator(dec, txt, nil).Recognize(ctx, frame)

			c.So(out.Kind, c.ShouldEqual, KindFailed)
			c.So(errors.Is(out.Err, textErr), c.ShouldBeTrue)
			c.So(releases, c.ShouldEqual, 1)
			c.So(frame.Released(), c.ShouldBeTrue)
		})
	})
}

func TestCoordinatorClose(t *testing.T) {
	c.Convey("Close shuts both services down once", t, func() {
		dec := &fakeDecoder{}
		txt := &fakeText{}
		co := NewCoordinator(dec, txt, nil)

		err := co.Close()
		c.So(err, c.ShouldNotBeNil)
		c.So(co.Close(), c.ShouldEqual, err)
		c.So(dec.closed, c.ShouldEqual, 1)
		c.So(txt.closed, c.ShouldEqual, 1)
	})
}
