package ringbuffer_test

import (
	"sync"
	"testing"

	"github.com/okian/windfarm/internal/domain/model"
	"github.com/okian/windfarm/internal/domain/ringbuffer"
	. "github.com/smartystreets/goconvey/convey"
)

func sample(seq uint64) model.SensorSample {
	s := model.SensorSample{TurbineID: "wt-01", Seq: seq}
	for c := range s.Values {
		s.Values[c] = float64(seq)
	}
	return s
}

func seqs(samples []model.SensorSample) []uint64 {
	out := make([]uint64, len(samples))
	for i, s := range samples {
		out[i] = s.Seq
	}
	return out
}

func TestBuffer(t *testing.T) {
	Convey("Given a buffer of capacity 4", t, func() {
		b := ringbuffer.New(4)

		Convey("When empty", func() {
			w, full := b.Latest(2)

			Convey("Then nothing is returned", func() {
				So(full, ShouldBeFalse)
				So(w, ShouldBeEmpty)
				So(b.Len(), ShouldEqual, 0)
				So(b.Cap(), ShouldEqual, 4)
			})
		})

		Convey("When partially filled", func() {
			b.Push(sample(1))
			b.Push(sample(2))

			Convey("Then a larger window reports not full", func() {
				w, full := b.Latest(3)
				So(full, ShouldBeFalse)
				So(seqs(w), ShouldResemble, []uint64{1, 2})
			})

			Convey("And a fitting window is oldest first", func() {
				w, full := b.Latest(2)
				So(full, ShouldBeTrue)
				So(seqs(w), ShouldResemble, []uint64{1, 2})
			})
		})

		Convey("When pushed past capacity", func() {
			for i := uint64(1); i <= 11; i++ {
				b.Push(sample(i))
			}

			Convey("Then exactly the most recent capacity samples remain", func() {
				So(b.Len(), ShouldEqual, 4)
				So(b.Total(), ShouldEqual, uint64(11))
				So(seqs(b.Snapshot()), ShouldResemble, []uint64{8, 9, 10, 11})
			})

			Convey("And Latest returns the tail", func() {
				w, full := b.Latest(2)
				So(full, ShouldBeTrue)
				So(seqs(w), ShouldResemble, []uint64{10, 11})
			})

			Convey("And returned windows are copies", func() {
				w, _ := b.Latest(1)
				w[0].Seq = 999
				again, _ := b.Latest(1)
				So(again[0].Seq, ShouldEqual, uint64(11))
			})
		})

		Convey("When the capacity is invalid", func() {
			small := ringbuffer.New(0)
			small.Push(sample(1))
			small.Push(sample(2))

			Convey("Then it holds a single sample", func() {
				So(small.Cap(), ShouldEqual, 1)
				So(seqs(small.Snapshot()), ShouldResemble, []uint64{2})
			})
		})
	})
}

func TestBufferInvariantAcrossTickCounts(t *testing.T) {
	Convey("Given buffers of several capacities", t, func() {
		for _, capacity := range []int{1, 3, 16, 50} {
			for _, ticks := range []int{capacity + 1, capacity * 2, capacity*3 + 7} {
				b := ringbuffer.New(capacity)
				for i := 1; i <= ticks; i++ {
					b.Push(sample(uint64(i)))
				}

				got := seqs(b.Snapshot())
				So(len(got), ShouldEqual, capacity)
				So(got[0], ShouldEqual, uint64(ticks-capacity+1))
				So(got[len(got)-1], ShouldEqual, uint64(ticks))
			}
		}
	})
}

func TestBufferConcurrentReadersSeeWholeWindows(t *testing.T) {
	Convey("Given one writer and one reader", t, func() {
		b := ringbuffer.New(32)
		const ticks = 5000

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := uint64(1); i <= ticks; i++ {
				b.Push(sample(i))
			}
		}()

		torn := false
		for i := 0; i < 2000; i++ {
			w, full := b.Latest(8)
			if !full {
				continue
			}
			for j := 1; j < len(w); j++ {
				if w[j].Seq != w[j-1].Seq+1 {
					torn = true
				}
			}
		}
		wg.Wait()

		Convey("Then every window is contiguous", func() {
			So(torn, ShouldBeFalse)
		})
	})
}
