package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestHTTPPipelineAPI(t *testing.T) {
	Convey("JobStatus should decode the pipeline payload", t, func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/jobs/J1/status", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(PipelineStatus{JobID: "J1", Status: "processing", DocumentsCompleted: 2, DocumentsTotal: 4, Phase: "formatting"})
		})
		ts := httptest.NewServer(mux)
		defer ts.Close()

		api := NewHTTPPipelineAPI(ts.URL+"/", time.Second)
		st, err := api.JobStatus(context.Background(), "J1")
		So(err, ShouldBeNil)
		So(st.Status, ShouldEqual, "processing")
		So(st.DocumentsCompleted, ShouldEqual, 2)
		So(st.Phase, ShouldEqual, "formatting")
	})

	Convey("JobStatus should classify upstream failures", t, func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/jobs/missing/status", func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
		mux.HandleFunc("/api/jobs/broken/status", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		})
		mux.HandleFunc("/api/jobs/garbled/status", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("{not json"))
		})
		mux.HandleFunc("/api/jobs/slow/status", func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		})
		ts := httptest.NewServer(mux)
		defer ts.Close()
		api := NewHTTPPipelineAPI(ts.URL, time.Second)

		_, err := api.JobStatus(context.Background(), "missing")
		So(errors.Is(err, ErrNotFound), ShouldBeTrue)

		_, err = api.JobStatus(context.Background(), "broken")
		So(errors.Is(err, ErrUnreachable), ShouldBeTrue)

		_, err = api.JobStatus(context.Background(), "garbled")
		So(errors.Is(err, ErrMalformed), ShouldBeTrue)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = api.JobStatus(ctx, "slow")
		So(errors.Is(err, ErrTimeout), ShouldBeTrue)
	})

	Convey("JobStatus should report an unreachable host", t, func() {
		ts := httptest.NewServer(http.NotFoundHandler())
		addr := ts.URL
		ts.Close()
		_, err := NewHTTPPipelineAPI(addr, time.Second).JobStatus(context.Background(), "J3")
		So(errors.Is(err, ErrUnreachable), ShouldBeTrue)
	})
}
