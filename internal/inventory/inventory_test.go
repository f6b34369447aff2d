package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	c "github.com/smartystreets/goconvey/convey"

	"github.com/tomasbasham/card-scan/internal/api"
)

type fakeFetcher struct {
	calls int
	err   error
}

func (f *fakeFetcher) Inventory(context.Context) (*api.InventoryResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &api.InventoryResponse{
		Inventory: []api.InventoryItem{{ID: f.calls, CardID: "c1", Quantity: 2}},
		Count:     1,
	}, nil
}

func TestLister(t *testing.T) {
	c.Convey("Lister", t, func() {
		ctx := context.Background()
		f := &fakeFetcher{}
		l, err := NewLister(f, time.Minute, nil)
		c.So(err, c.ShouldBeNil)
		defer l.Close()

		c.Convey("serves repeated calls from cache", func() {
			first, err := l.List(ctx)
			c.So(err, c.ShouldBeNil)
			second, err := l.List(ctx)
			c.So(err, c.ShouldBeNil)

			c.So(f.calls, c.ShouldEqual, 1)
			c.So(second, c.ShouldEqual, first)
		})

		c.Convey("keeps the listing stored between calls", func() {
			for i := 0; i < 3; i++ {
				_, err := l.List(ctx)
				c.So(err, c.ShouldBeNil)
			}

			v, ok := l.cache.Get(cacheKey)
			c.So(ok, c.ShouldBeTrue)
			c.So(v.(*api.InventoryResponse).Count, c.ShouldEqual, 1)
			c.So(f.calls, c.ShouldEqual, 1)
		})

		c.Convey("fetches again after invalidation", func() {
			_, _ = l.List(ctx)
			l.Invalidate()
			inv, err := l.List(ctx)

			c.So(err, c.ShouldBeNil)
			c.So(f.calls, c.ShouldEqual, 2)
			c.So(inv.Inventory[0].ID, c.ShouldEqual, 2)
		})

		c.Convey("does not cache failures", func() {
			f.err = errors.New("offline")
			_, err := l.List(ctx)
			c.So(err, c.ShouldNotBeNil)

			f.err = nil
			_, err = l.List(ctx)
			c.So(err, c.ShouldBeNil)
			c.So(f.calls, c.ShouldEqual, 2)
		})
	})

	c.Convey("An expired listing is fetched again", t, func() {
		f := &fakeFetcher{}
		l, err := NewLister(f, 20*time.Millisecond, nil)
		c.So(err, c.ShouldBeNil)
		defer l.Close()

		_, _ = l.List(context.Background())
		time.Sleep(60 * time.Millisecond)
		_, _ = l.List(context.Background())

		c.So(f.calls, c.ShouldEqual, 2)
	})
}
