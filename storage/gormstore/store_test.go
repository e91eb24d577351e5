package gormstore

import (
	"testing"
	"time"

	"github.com/mengeric/jobprogress/status"
	. "github.com/smartystreets/goconvey/convey"
)

func TestModelMapping(t *testing.T) {
	Convey("terminal records survive the model round trip", t, func() {
		at := time.Unix(1700000000, 0).UTC()
		rec := status.Record{
			JobID: "J3", State: status.StateFailed, Current: 1, Total: 4,
			Message: "SROGs • formatting", ErrorCode: "UPSTREAM_UNREACHABLE", ErrorMessage: "dial tcp: refused",
			Revision: 7, LastUpdatedAt: at,
		}
		m := toModel(rec)
		So(m.TableName(), ShouldEqual, "job_status_archive")
		So(m.FinishedAt, ShouldEqual, at)

		back := fromModel(m)
		So(back.State, ShouldEqual, status.StateFailed)
		So(back.ErrorCode, ShouldEqual, "UPSTREAM_UNREACHABLE")
		So(back.LastUpdatedAt, ShouldEqual, at)
		// 归档不保留内存修订号
		So(back.Revision, ShouldEqual, 0)
	})
}
