package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/mengeric/jobprogress/sse"
	"github.com/mengeric/jobprogress/status"
	"github.com/mengeric/jobprogress/storage/memstore"
	. "github.com/smartystreets/goconvey/convey"
)

func newStreamServer(store status.Store) *httptest.Server {
	h := sse.NewHandler(store, sse.WithOptions(sse.Options{
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		FlushDelay:        5 * time.Millisecond,
	}))
	r := mux.NewRouter()
	r.Handle("/api/jobs/{jobId}/stream", h)
	return httptest.NewServer(r)
}

func TestHTTPStream(t *testing.T) {
	Convey("the client follows a job to completion over HTTP", t, func() {
		store := memstore.New(time.Minute)
		store.Set("J1", status.Progress(0, 4, "start"))
		srv := newStreamServer(store)
		defer srv.Close()

		progress := make(chan Progress, 8)
		complete := make(chan Complete, 8)
		s := New(srv.URL+"/api/jobs/J1/stream", Handlers{
			OnProgress: func(p Progress) { progress <- p },
			OnComplete: func(c Complete) { complete <- c },
		}, WithDialer(HTTPDialer{Token: "secret"}))
		defer s.Close()
		So(s.Connect(), ShouldBeNil)

		var p Progress
		So(recv(progress, &p), ShouldBeTrue)
		So(p, ShouldResemble, Progress{Current: 0, Total: 4, Message: "start"})

		store.Set("J1", status.Progress(2, 4, "formatting"))
		So(recv(progress, &p), ShouldBeTrue)
		So(p.Current, ShouldEqual, 2)

		store.Set("J1", status.Succeeded(4, "X"))
		var c Complete
		So(recv(complete, &c), ShouldBeTrue)
		So(c, ShouldResemble, Complete{Total: 4, OutputURL: "X"})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		So(s.Wait(ctx), ShouldEqual, StateCompleted)
		time.Sleep(100 * time.Millisecond)
		So(len(progress), ShouldEqual, 0)
		So(len(complete), ShouldEqual, 0)
	})

	Convey("non-stream responses are transport errors", t, func() {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()

		notices := make(chan Notice, 8)
		s := New(srv.URL+"/api/jobs/J9/stream", Handlers{OnNotice: func(n Notice) { notices <- n }})
		defer s.Close()
		So(s.Connect(), ShouldBeNil)

		var n Notice
		So(recv(notices, &n), ShouldBeTrue)
		So(n.Kind, ShouldEqual, NoticeReconnecting)
		So(n.Err.Error(), ShouldContainSubstring, "unexpected status 404")
	})

	Convey("the token travels as a query parameter", t, func() {
		got := make(chan string, 1)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got <- r.URL.Query().Get("token")
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		src, err := HTTPDialer{Token: "t0k"}.Dial(srv.URL+"/stream?x=1", nopListener{})
		So(err, ShouldBeNil)
		defer src.Close()
		var tok string
		So(recv(got, &tok), ShouldBeTrue)
		So(tok, ShouldEqual, "t0k")
	})
}

type nopListener struct{}

func (nopListener) Open()                 {}
func (nopListener) Event(string, []byte)  {}
func (nopListener) Heartbeat()            {}
func (nopListener) TransportError(error)  {}

func recv[T any](ch <-chan T, out *T) bool {
	select {
	case v := <-ch:
		*out = v
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}
