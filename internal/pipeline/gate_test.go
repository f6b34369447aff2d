package pipeline

import (
	"sync"
	"sync/atomic"
	"testing"

	c "github.com/smartystreets/goconvey/convey"
)

func TestGate(t *testing.T) {
	c.Convey("Gate", t, func() {
		var g Gate

		c.Convey("admits one holder", func() {
			c.So(g.TryAcquire(), c.ShouldBeTrue)
			c.So(g.TryAcquire(), c.ShouldBeFalse)
			c.So(g.Held(), c.ShouldBeTrue)
		})

		c.Convey("can be reacquired after release", func() {
			g.TryAcquire()
			c.So(g.Release(), c.ShouldBeTrue)
			c.So(g.TryAcquire(), c.ShouldBeTrue)
		})

		c.Convey("reports a release of an unheld gate", func() {
			c.So(g.Release(), c.ShouldBeFalse)
			g.TryAcquire()
			g.Release()
			c.So(g.Release(), c.ShouldBeFalse)
		})

		c.Convey("never grants more than one concurrent holder", func() {
			var (
				holders atomic.Int32
				max     atomic.Int32
				wg      sync.WaitGroup
			)
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 500; j++ {
						if !g.TryAcquire() {
							continue
						}
						n := holders.Add(1)
						for {
							m := max.Load()
							if n <= m || max.CompareAndSwap(m, n) {
								break
							}
						}
						holders.Add(-1)
						g.Release()
					}
				}()
			}
			wg.Wait()

			c.So(max.Load(), c.ShouldEqual, 1)
			c.So(g.Held(), c.ShouldBeFalse)
		})
	})
}

func TestCanTransition(t *testing.T) {
	c.Convey("State transitions", t, func() {
		c.So(CanTransition(StateIdle, StateCapturing), c.ShouldBeTrue)
		c.So(CanTransition(StateCapturing, StateResolving), c.ShouldBeTrue)
		c.So(CanTransition(StateRecognizing, StateIdle), c.ShouldBeTrue)
		c.So(CanTransition(StateResolving, StateFinished), c.ShouldBeTrue)
		c.So(CanTransition(StateAwaitingNext, StateIdle), c.ShouldBeTrue)

		c.So(CanTransition(StateIdle, StateResolving), c.ShouldBeFalse)
		c.So(CanTransition(StateAwaitingNext, StateCapturing), c.ShouldBeFalse)
		c.So(CanTransition(StateFinished, StateIdle), c.ShouldBeFalse)
		c.So(CanTransition(StateFinished, StateCapturing), c.ShouldBeFalse)
	})

	c.Convey("ParseMode", t, func() {
		m, err := ParseMode("")
		c.So(err, c.ShouldBeNil)
		c.So(m, c.ShouldEqual, ModeSingle)

		m, err = ParseMode("batch")
		c.So(err, c.ShouldBeNil)
		c.So(m, c.ShouldEqual, ModeBatch)

		_, err = ParseMode("bulk")
		c.So(err, c.ShouldNotBeNil)
	})
}
