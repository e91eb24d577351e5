package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

const sampleYAML = `
server:
  host: 127.0.0.1
  port: 9090
  apiToken: s3cret
log:
  level: debug
  format: json
store:
  ttl: 30m
stream:
  pollInterval: 2s
  flushDelay: 250ms
pipeline:
  baseUrl: http://pipeline:5000
client:
  backoff: [500ms, 1s]
archive:
  dsn: postgres://u:p@db/jobs
`

func writeFile(t *testing.T, name, body string) string {
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad(t *testing.T) {
	Convey("yaml values are read and the rest defaulted", t, func() {
		c, err := Load(writeFile(t, "config.yaml", sampleYAML))
		So(err, ShouldBeNil)
		So(c.Server.Addr(), ShouldEqual, "127.0.0.1:9090")
		So(c.Server.APIToken, ShouldEqual, "s3cret")
		So(c.Log.Level, ShouldEqual, "debug")
		So(c.Log.Format, ShouldEqual, "json")
		So(c.Store.TTL, ShouldEqual, 30*time.Minute)
		So(c.Store.SweepEvery, ShouldEqual, 5*time.Minute)
		So(c.Stream.PollInterval, ShouldEqual, 2*time.Second)
		So(c.Stream.HeartbeatInterval, ShouldEqual, 15*time.Second)
		So(c.Stream.FlushDelay, ShouldEqual, 250*time.Millisecond)
		So(c.Pipeline.BaseURL, ShouldEqual, "http://pipeline:5000")
		So(c.Pipeline.NotFoundGrace, ShouldEqual, 2*time.Minute)
		So(c.Client.Backoff, ShouldResemble, []time.Duration{500 * time.Millisecond, time.Second})
		So(c.Client.SilenceTimeout, ShouldEqual, 20*time.Second)
		So(c.Archive.DSN, ShouldEqual, "postgres://u:p@db/jobs")
		So(c.Metrics.Disabled, ShouldBeFalse)
	})
}

func TestLoadEnvOverrides(t *testing.T) {
	Convey("environment overrides win over yaml", t, func() {
		t.Setenv(EnvPort, "7070")
		t.Setenv(EnvStoreTTL, "1h")
		t.Setenv(EnvMetricsDisable, "true")
		c, err := Load(writeFile(t, "config.yaml", sampleYAML))
		So(err, ShouldBeNil)
		So(c.Server.Port, ShouldEqual, 7070)
		So(c.Store.TTL, ShouldEqual, time.Hour)
		So(c.Metrics.Disabled, ShouldBeTrue)
	})
}

func TestLoadInvalidOverride(t *testing.T) {
	Convey("invalid overrides are reported", t, func() {
		t.Setenv(EnvPort, "eighty")
		_, err := Load("")
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, EnvPort)
	})
}

func TestLoadFailures(t *testing.T) {
	Convey("missing files and bad yaml fail", t, func() {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		So(err, ShouldNotBeNil)
		_, err = Load(writeFile(t, "bad.yaml", "server: [oops"))
		So(err, ShouldNotBeNil)
		So(func() { MustLoad(filepath.Join(t.TempDir(), "nope.yaml")) }, ShouldPanic)
	})

	Convey("an empty path yields defaults", t, func() {
		c, err := Load("")
		So(err, ShouldBeNil)
		So(c, ShouldResemble, Default())
		So(c.Server.Addr(), ShouldEqual, "0.0.0.0:8080")
	})
}

func TestLoadWithEnv(t *testing.T) {
	Convey(".env files feed the overrides", t, func() {
		env := writeFile(t, ".env", EnvAPIToken+"=from-dotenv\n"+EnvPipelineURL+"=http://p\n")
		t.Setenv(EnvAPIToken, "")
		t.Setenv(EnvPipelineURL, "")
		os.Unsetenv(EnvAPIToken)
		os.Unsetenv(EnvPipelineURL)
		c, err := LoadWithEnv("", env)
		So(err, ShouldBeNil)
		So(c.Server.APIToken, ShouldEqual, "from-dotenv")
		So(c.Pipeline.BaseURL, ShouldEqual, "http://p")
	})

	Convey("a missing .env file is ignored", t, func() {
		_, err := LoadWithEnv("", filepath.Join(t.TempDir(), ".env"))
		So(err, ShouldBeNil)
	})
}
