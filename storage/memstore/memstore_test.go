package memstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mengeric/jobprogress/status"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeNow 可手动推进的时钟
type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) Now() time.Time { f.mu.Lock(); defer f.mu.Unlock(); return f.t }
func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func TestStore_SetGet(t *testing.T) {
	Convey("Set should create and merge records", t, func() {
		s := New(time.Minute)
		_, ok := s.Get("J1")
		So(ok, ShouldBeFalse)

		rec, applied := s.Set("J1", status.Progress(0, 4, "start"))
		So(applied, ShouldBeTrue)
		So(rec.State, ShouldEqual, status.StateRunning)

		msg := "formatting"
		s.Set("J1", status.Update{Message: &msg})
		got, ok := s.Get("J1")
		So(ok, ShouldBeTrue)
		So(got.Total, ShouldEqual, 4)
		So(got.Message, ShouldEqual, "formatting")
		So(got.Revision, ShouldEqual, 2)
	})

	Convey("Get returns a copy", t, func() {
		s := New(time.Minute)
		s.Set("J1", status.Progress(1, 2, "a"))
		got, _ := s.Get("J1")
		got.Current = 99
		again, _ := s.Get("J1")
		So(again.Current, ShouldEqual, 1)
	})

	Convey("terminal records never regress", t, func() {
		s := New(time.Minute)
		s.Set("J1", status.Succeeded(4, "X"))
		_, applied := s.Set("J1", status.Progress(2, 4, "late"))
		So(applied, ShouldBeFalse)
		_, applied = s.Set("J1", status.Failed("E", "late"))
		So(applied, ShouldBeFalse)
		got, _ := s.Get("J1")
		So(got.State, ShouldEqual, status.StateSuccess)
		So(got.OutputURL, ShouldEqual, "X")
	})

	Convey("a rejected write does not create a record", t, func() {
		s := New(time.Minute)
		bad := status.State("paused")
		_, applied := s.Set("J9", status.Update{State: &bad})
		So(applied, ShouldBeFalse)
		So(s.Len(), ShouldEqual, 0)
	})

	Convey("concurrent readers and a single writer are safe", t, func() {
		s := New(time.Minute)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 200; j++ {
					s.Get("J1")
				}
			}()
		}
		for j := 0; j <= 100; j++ {
			s.Set("J1", status.Progress(j, 100, "p"))
		}
		wg.Wait()
		got, _ := s.Get("J1")
		So(got.Current, ShouldEqual, 100)
	})
}

func TestStore_Sweep(t *testing.T) {
	Convey("records older than TTL are evicted regardless of state", t, func() {
		clk := &fakeNow{t: time.Unix(1700000000, 0)}
		var evicted, remaining int
		s := New(15*time.Minute, WithClock(clk.Now), WithSweepHook(func(e, r int) { evicted, remaining = e, r }))

		s.Set("done", status.Succeeded(1, "X"))
		s.Set("running", status.Progress(1, 3, "p"))
		clk.Advance(10 * time.Minute)
		s.Set("fresh", status.Started("go"))

		So(s.SweepExpired(), ShouldEqual, 0)
		clk.Advance(6 * time.Minute)
		So(s.SweepExpired(), ShouldEqual, 2)
		So(evicted, ShouldEqual, 2)
		So(remaining, ShouldEqual, 1)

		_, ok := s.Get("done")
		So(ok, ShouldBeFalse)
		_, ok = s.Get("running")
		So(ok, ShouldBeFalse)
		_, ok = s.Get("fresh")
		So(ok, ShouldBeTrue)
	})

	Convey("Start sweeps on a ticker until ctx is cancelled", t, func() {
		clk := &fakeNow{t: time.Unix(1700000000, 0)}
		var sweeps atomic.Int32
		s := New(time.Minute, WithClock(clk.Now), WithSweepHook(func(int, int) { sweeps.Add(1) }))
		s.Set("J1", status.Started("go"))
		clk.Advance(2 * time.Minute)

		ctx, cancel := context.WithCancel(context.Background())
		s.Start(ctx, 10*time.Millisecond)
		time.Sleep(60 * time.Millisecond)
		cancel()

		So(sweeps.Load(), ShouldBeGreaterThan, 0)
		So(s.Len(), ShouldEqual, 0)
	})
}
