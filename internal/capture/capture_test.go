package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	c "github.com/smartystreets/goconvey/convey"
)

func TestFrameRelease(t *testing.T) {
	c.Convey("Frame.Release", t, func() {
		calls := 0
		f := NewFrame([]byte("img"), 0, "test", func() { calls++ })

		c.Convey("first release runs the hook", func() {
			c.So(f.Release(), c.ShouldBeTrue)
			c.So(calls, c.ShouldEqual, 1)
			c.So(f.Released(), c.ShouldBeTrue)
			c.So(f.Data, c.ShouldBeNil)
		})

		c.Convey("later releases are no-ops", func() {
			f.Release()
			c.So(f.Release(), c.ShouldBeFalse)
			c.So(calls, c.ShouldEqual, 1)
		})
	})
}

func TestNormaliseRotation(t *testing.T) {
	c.Convey("rotation snaps to quarter turns", t, func() {
		c.So(normaliseRotation(0), c.ShouldEqual, 0)
		c.So(normaliseRotation(90), c.ShouldEqual, 90)
		c.So(normaliseRotation(-90), c.ShouldEqual, 270)
		c.So(normaliseRotation(450), c.ShouldEqual, 90)
		c.So(normaliseRotation(100), c.ShouldEqual, 90)
	})
}

func TestDirSource(t *testing.T) {
	c.Convey("DirSource", t, func() {
		dir := t.TempDir()
		src, err := NewDirSource(dir, nil)
		c.So(err, c.ShouldBeNil)
		ctx := context.Background()

		write := func(name string, age time.Duration) string {
			p := filepath.Join(dir, name)
			c.So(os.WriteFile(p, []byte(name), 0o644), c.ShouldBeNil)
			mt := time.Now().Add(-age)
			c.So(os.Chtimes(p, mt, mt), c.ShouldBeNil)
			return p
		}

		c.Convey("an empty folder is unavailable", func() {
			_, err := src.Acquire(ctx)
			c.So(errors.Is(err, ErrUnavailable), c.ShouldBeTrue)
		})

		c.Convey("frames come oldest first and skip non-images", func() {
			write("new.jpg", time.Minute)
			write("old.png", time.Hour)
			write("notes.txt", 2*time.Hour)

			f, err := src.Acquire(ctx)
			c.So(err, c.ShouldBeNil)
			c.So(string(f.Data), c.ShouldEqual, "old.png")

			c.Convey("an unreleased frame is not handed out twice", func() {
				g, err := src.Acquire(ctx)
				c.So(err, c.ShouldBeNil)
				c.So(string(g.Data), c.ShouldEqual, "new.jpg")

				_, err = src.Acquire(ctx)
				c.So(errors.Is(err, ErrUnavailable), c.ShouldBeTrue)
			})

			c.Convey("release moves the file to processed/", func() {
				c.So(f.Release(), c.ShouldBeTrue)

				_, err := os.Stat(filepath.Join(dir, "old.png"))
				c.So(os.IsNotExist(err), c.ShouldBeTrue)

				moved, err := filepath.Glob(filepath.Join(dir, processedDirName, "*_old.png"))
				c.So(err, c.ShouldBeNil)
				c.So(moved, c.ShouldHaveLength, 1)
			})
		})

		c.Convey("torch is unsupported", func() {
			c.So(src.SetTorch(ctx, true), c.ShouldEqual, ErrTorchUnsupported)
		})

		c.Convey("a closed source refuses to capture", func() {
			write("a.jpg", 0)
			c.So(src.Close(), c.ShouldBeNil)
			_, err := src.Acquire(ctx)
			c.So(err, c.ShouldEqual, ErrClosed)
		})
	})
}
