package tracker

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestManager(t *testing.T) {
	Convey("Start registers a cancellable instance", t, func() {
		m := NewManager()
		ins := m.Start(context.Background(), "r1", "J1")
		So(m.Count(), ShouldEqual, 1)
		So(m.Stop("r1"), ShouldBeTrue)
		So(ins.Ctx.Err(), ShouldEqual, context.Canceled)
		So(m.Stop("r1"), ShouldBeFalse)
	})

	Convey("Track counts per job and StopAll cancels everything once", t, func() {
		m := NewManager()
		closed := 0
		m.Track(context.Background(), "c1", "J1", func() { closed++ })
		m.Track(context.Background(), "c2", "J1", func() { closed++ })
		m.Track(context.Background(), "c3", "J2", func() { closed++ })
		So(m.CountJob("J1"), ShouldEqual, 2)

		So(m.Remove("c3"), ShouldBeTrue)
		So(m.StopAll(), ShouldEqual, 2)
		So(closed, ShouldEqual, 2)
		So(m.Count(), ShouldEqual, 0)
		So(m.StopAll(), ShouldEqual, 0)
	})
}
