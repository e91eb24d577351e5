package sse

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mengeric/jobprogress/status"
	"github.com/mengeric/jobprogress/storage/memstore"
	. "github.com/smartystreets/goconvey/convey"
)

type countingObserver struct {
	mu     sync.Mutex
	opened int
	closed int
	frames map[string]int
}

func newCountingObserver() *countingObserver { return &countingObserver{frames: map[string]int{}} }

func (c *countingObserver) ConnOpened() { c.mu.Lock(); c.opened++; c.mu.Unlock() }
func (c *countingObserver) ConnClosed() { c.mu.Lock(); c.closed++; c.mu.Unlock() }
func (c *countingObserver) FrameSent(ev string) {
	c.mu.Lock()
	c.frames[ev]++
	c.mu.Unlock()
}
func (c *countingObserver) count(ev string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[ev]
}
func (c *countingObserver) closedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// slowOptions 定时器不会在测试期间触发，Tick 由测试直接驱动。
var slowOptions = Options{PollInterval: time.Hour, HeartbeatInterval: time.Hour, FlushDelay: time.Millisecond}

func openTestConn(jobID string, obs Observer) (*Conn, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	c := newConn("c1", jobID, rec, rec, obs)
	So(c.open(slowOptions), ShouldBeNil)
	return c, rec
}

func TestConnTick(t *testing.T) {
	Convey("open writes a connected comment and starts streaming", t, func() {
		c, rec := openTestConn("j1", nil)
		So(c.State(), ShouldEqual, StateStreaming)
		So(rec.Body.String(), ShouldEqual, ": connected j1\n\n")
		So(c.pollC(), ShouldNotBeNil)
		So(c.heartbeatC(), ShouldNotBeNil)
		c.Close()
	})

	Convey("missing records are skipped", t, func() {
		store := memstore.New(time.Minute)
		c, rec := openTestConn("ghost", nil)
		before := rec.Body.Len()
		terminal, err := c.Tick(store)
		So(err, ShouldBeNil)
		So(terminal, ShouldBeFalse)
		So(rec.Body.Len(), ShouldEqual, before)
		c.Close()
	})

	Convey("progress frames are only written when the record changes", t, func() {
		store := memstore.New(time.Minute)
		obs := newCountingObserver()
		store.Set("j1", status.Progress(0, 4, "starting"))
		c, rec := openTestConn("j1", obs)

		_, _ = c.Tick(store)
		_, _ = c.Tick(store)
		So(obs.count(EventProgress), ShouldEqual, 1)
		So(rec.Body.String(), ShouldContainSubstring, "event: progress\ndata: {\"current\":0,\"total\":4,\"message\":\"starting\"}\n\n")

		store.Set("j1", status.Progress(2, 4, "Doc B • formatting"))
		_, _ = c.Tick(store)
		So(obs.count(EventProgress), ShouldEqual, 2)
		c.Close()
	})

	Convey("complete is sent at most once and stops both timers", t, func() {
		store := memstore.New(time.Minute)
		obs := newCountingObserver()
		store.Set("j1", status.Progress(3, 4, "rendering"))
		store.Set("j1", status.Succeeded(4, "X"))
		c, rec := openTestConn("j1", obs)

		terminal, err := c.Tick(store)
		So(err, ShouldBeNil)
		So(terminal, ShouldBeTrue)
		So(c.TerminalSent(), ShouldBeTrue)
		So(c.pollC(), ShouldBeNil)
		So(c.heartbeatC(), ShouldBeNil)
		So(rec.Body.String(), ShouldEndWith, "event: complete\ndata: {\"total\":4,\"outputUrl\":\"X\"}\n\n")

		size := rec.Body.Len()
		terminal, err = c.Tick(store)
		So(terminal, ShouldBeTrue)
		So(err, ShouldBeNil)
		So(c.Heartbeat(), ShouldBeNil)
		So(rec.Body.Len(), ShouldEqual, size)
		So(obs.count(EventComplete), ShouldEqual, 1)
		So(obs.count(EventHeartbeat), ShouldEqual, 0)
		c.Close()
	})

	Convey("failed records produce exactly one error frame", t, func() {
		store := memstore.New(time.Minute)
		store.Set("j3", status.Failed("UPSTREAM_UNREACHABLE", "pipeline unreachable"))
		c, rec := openTestConn("j3", nil)

		terminal, err := c.Tick(store)
		So(err, ShouldBeNil)
		So(terminal, ShouldBeTrue)
		_, _ = c.Tick(store)
		So(strings.Count(rec.Body.String(), "event: error"), ShouldEqual, 1)
		So(rec.Body.String(), ShouldContainSubstring, `{"code":"UPSTREAM_UNREACHABLE","message":"pipeline unreachable"}`)
		So(rec.Body.String(), ShouldNotContainSubstring, "event: progress")
		c.Close()
	})

	Convey("heartbeat writes a comment frame while streaming", t, func() {
		obs := newCountingObserver()
		c, rec := openTestConn("j2", obs)
		So(c.Heartbeat(), ShouldBeNil)
		So(rec.Body.String(), ShouldContainSubstring, ": heartbeat ")
		So(rec.Body.String(), ShouldNotContainSubstring, "event:")
		So(obs.count(EventHeartbeat), ShouldEqual, 1)
		c.Close()
	})
}

func TestConnClose(t *testing.T) {
	Convey("close is idempotent and releases the done channel", t, func() {
		obs := newCountingObserver()
		c, _ := openTestConn("j1", obs)
		c.Close()
		c.Close()
		So(c.State(), ShouldEqual, StateClosed)
		So(obs.closedCount(), ShouldEqual, 1)
		select {
		case <-c.Done():
		default:
			So("done not closed", ShouldBeEmpty)
		}
		So(c.pollC(), ShouldBeNil)
	})

	Convey("a closed connection writes nothing", t, func() {
		store := memstore.New(time.Minute)
		store.Set("j1", status.Succeeded(1, "X"))
		c, rec := openTestConn("j1", nil)
		c.Close()
		size := rec.Body.Len()
		terminal, err := c.Tick(store)
		So(err, ShouldBeNil)
		So(terminal, ShouldBeFalse)
		So(c.Heartbeat(), ShouldBeNil)
		So(rec.Body.Len(), ShouldEqual, size)
	})
}
