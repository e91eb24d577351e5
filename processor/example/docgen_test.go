package example

import (
	"context"
	"testing"

	"github.com/mengeric/jobprogress/processor"
	"github.com/mengeric/jobprogress/status"
	. "github.com/smartystreets/goconvey/convey"
)

type recorder struct {
	calls []string
	last  [2]int
}

func (r *recorder) Progress(current, total int, msg status.Message) {
	r.calls = append(r.calls, msg.String())
	r.last = [2]int{current, total}
}

func TestDocGen(t *testing.T) {
	Convey("docgen is registered and walks every phase", t, func() {
		p, ok := processor.Get("docgen")
		So(ok, ShouldBeTrue)

		rec := &recorder{}
		res, err := p.Run(context.Background(), map[string]any{
			"documents": []any{"SROGs Set 1", "RFAs"},
			"stepMS":    float64(0),
			"outputUrl": "X",
		}, rec)
		So(err, ShouldBeNil)
		So(res.Total, ShouldEqual, 2)
		So(res.OutputURL, ShouldEqual, "X")
		So(rec.calls, ShouldHaveLength, 1+2*len(Phases))
		So(rec.calls[0], ShouldEqual, "start")
		So(rec.calls[1], ShouldEqual, "SROGs Set 1 • parsing")
		So(rec.last, ShouldResemble, [2]int{1, 2})
	})

	Convey("docgen rejects empty input and honours cancellation", t, func() {
		d := &DocGen{}
		_, err := d.Run(context.Background(), map[string]any{}, &recorder{})
		So(err, ShouldNotBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = d.Run(ctx, map[string]any{"documents": []string{"a"}, "stepMS": float64(1000)}, &recorder{})
		So(err, ShouldEqual, context.Canceled)
	})
}
