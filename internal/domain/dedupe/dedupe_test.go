package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	dedupe "github.com/okian/windfarm/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new InMemoryDeduper", t, func() {
		d := dedupe.NewInMemoryDeduper()
		So(d.Size(), ShouldEqual, 0)

		Convey("When a job id is recorded", func() {
			seen := d.SeenAndRecord(ctx, "job-1")

			Convey("Then it is new the first time and seen afterwards", func() {
				So(seen, ShouldBeFalse)
				So(d.SeenAndRecord(ctx, "job-1"), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("And it is unrecorded after a failed install", func() {
				d.Unrecord(ctx, "job-1")

				Convey("Then a redelivery is processed again", func() {
					So(d.Size(), ShouldEqual, 0)
					So(d.SeenAndRecord(ctx, "job-1"), ShouldBeFalse)
				})
			})
		})

		Convey("When an unknown id is unrecorded", func() {
			d.Unrecord(ctx, "nope")
			So(d.Size(), ShouldEqual, 0)
		})
	})

	Convey("Given a bounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
		for _, id := range []string{"job-1", "job-2", "job-3", "job-4"} {
			So(d.SeenAndRecord(ctx, id), ShouldBeFalse)
		}

		Convey("Then the oldest id is forgotten first", func() {
			So(d.Size(), ShouldEqual, 3)
			So(d.SeenAndRecord(ctx, "job-4"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "job-3"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "job-2"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "job-1"), ShouldBeFalse)
		})

		Convey("Then unrecording frees a slot without evicting", func() {
			d.Unrecord(ctx, "job-3")
			So(d.SeenAndRecord(ctx, "job-5"), ShouldBeFalse)
			So(d.SeenAndRecord(ctx, "job-2"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "job-4"), ShouldBeTrue)
			So(d.Size(), ShouldEqual, 3)
		})
	})

	Convey("Given an unbounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
		for i := 0; i < 2000; i++ {
			d.SeenAndRecord(ctx, fmt.Sprintf("job-%d", i))
		}

		Convey("Then nothing is forgotten", func() {
			So(d.Size(), ShouldEqual, int64(2000))
			So(d.SeenAndRecord(ctx, "job-0"), ShouldBeTrue)
		})
	})

	Convey("Given repeated record and unrecord cycles", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(2))
		for i := 0; i < 500; i++ {
			d.SeenAndRecord(ctx, "retry")
			d.Unrecord(ctx, "retry")
		}
		d.SeenAndRecord(ctx, "a")
		d.SeenAndRecord(ctx, "b")

		Convey("Then stale bookkeeping does not evict live ids", func() {
			So(d.Size(), ShouldEqual, 2)
			So(d.SeenAndRecord(ctx, "a"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "b"), ShouldBeTrue)
		})
	})
}

func TestDedupeConcurrency(t *testing.T) {
	Convey("Given a deduper shared by notice sources", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(1000))
		var wg sync.WaitGroup
		var mu sync.Mutex
		fresh := 0

		for g := 0; g < 10; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					if !d.SeenAndRecord(context.Background(), fmt.Sprintf("job-%d", j)) {
						mu.Lock()
						fresh++
						mu.Unlock()
					}
				}
			}()
		}
		wg.Wait()

		Convey("Then each job id is new exactly once", func() {
			So(fresh, ShouldEqual, 100)
			So(d.Size(), ShouldEqual, int64(100))
		})
	})
}
