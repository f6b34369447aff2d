package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	c "github.com/smartystreets/goconvey/convey"
)

func TestNew(t *testing.T) {
	c.Convey("New", t, func() {
		var console bytes.Buffer

		c.Convey("logs to the console only without a directory", func() {
			log, closeFn, err := New(Options{Level: "warn", Out: &console})
			c.So(err, c.ShouldBeNil)
			defer closeFn()

			log.Info("hidden")
			log.WithField("run_id", "r1").Warn("shown")

			c.So(log.GetLevel(), c.ShouldEqual, logrus.WarnLevel)
			c.So(console.String(), c.ShouldNotContainSubstring, "hidden")
			c.So(console.String(), c.ShouldContainSubstring, "run_id=r1")
		})

		c.Convey("falls back to info for unknown levels", func() {
			log, _, err := New(Options{Level: "chatty", Out: &console})
			c.So(err, c.ShouldBeNil)
			c.So(log.GetLevel(), c.ShouldEqual, logrus.InfoLevel)
		})

		c.Convey("writes JSON lines to the rotated file", func() {
			dir := filepath.Join(t.TempDir(), "logs")
			log, closeFn, err := New(Options{Level: "info", Dir: dir, Name: "station", Out: &console})
			c.So(err, c.ShouldBeNil)

			log.WithField("seq", 3).Info("cycle done")
			log.Debug("not in file")
			c.So(closeFn(), c.ShouldBeNil)

			data, err := os.ReadFile(filepath.Join(dir, "station.log"))
			c.So(err, c.ShouldBeNil)

			lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
			c.So(lines, c.ShouldHaveLength, 1)

			var entry map[string]any
			c.So(json.Unmarshal(lines[0], &entry), c.ShouldBeNil)
			c.So(entry["msg"], c.ShouldEqual, "cycle done")
			c.So(entry["seq"], c.ShouldEqual, float64(3))
		})
	})
}

func TestResolveLevels(t *testing.T) {
	c.Convey("resolveLevels", t, func() {
		c.So(resolveLevels("ERROR"), c.ShouldContain, logrus.ErrorLevel)
		c.So(resolveLevels("error"), c.ShouldNotContain, logrus.WarnLevel)
		c.So(resolveLevels("bogus"), c.ShouldResemble, levelMapping["info"])
	})
}
