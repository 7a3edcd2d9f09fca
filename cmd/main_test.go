package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smartystreets/goconvey/convey"

	"github.com/Dan-Hightower/hirebot/internal/adapters/http/api"
	"github.com/Dan-Hightower/hirebot/internal/domain/dedupe"
	"github.com/Dan-Hightower/hirebot/internal/domain/model"
	"github.com/Dan-Hightower/hirebot/pkg/logger"
	"github.com/Dan-Hightower/hirebot/pkg/metrics"
)

// isolate keeps the developer's .env and config file out of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HIREBOT_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("HIREBOT_CONFIG", "")
	for _, k := range []string{"SLACK_BOT_TOKEN", "SLACK_SIGNING_SECRET", "OPENAI_API_KEY", "GOOGLE_SHEETS_ID",
		"GOOGLE_SHEETS_CREDENTIALS", "GOOGLE_SHEETS_CREDENTIALS_PATH", "DEEL_CLIENT_ID", "DEEL_CLIENT_SECRET", "PORT"} {
		t.Setenv(k, "")
	}
}

func run(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

type recordingQueue struct {
	dedupe.Deduper
	mu   sync.Mutex
	jobs []model.Job
}

func (q *recordingQueue) Enqueue(_ context.Context, job model.Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return true
}

type emptyStats struct{}

func (emptyStats) GetStats() map[string]interface{} { return map[string]interface{}{} }

func TestRootCommand(t *testing.T) {
	convey.Convey("Given the root command", t, func() {
		root := newRootCmd()

		convey.Convey("Then every tool is registered", func() {
			names := map[string]bool{}
			for _, c := range root.Commands() {
				names[c.Name()] = true
			}
			for _, n := range []string{"serve", "parse", "check", "smoke"} {
				convey.So(names[n], convey.ShouldBeTrue)
			}
		})
	})
}

func TestServeRequiresSecrets(t *testing.T) {
	isolate(t)
	convey.Convey("Given no credentials", t, func() {
		_, err := run("serve")

		convey.Convey("Then serve refuses to start", func() {
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "slack_bot_token")
		})
	})
}

func TestCheckRequiresSecrets(t *testing.T) {
	isolate(t)
	convey.Convey("Given no credentials", t, func() {
		_, err := run("check")
		convey.So(err, convey.ShouldNotBeNil)
	})
}

func TestParseNeedsText(t *testing.T) {
	isolate(t)
	convey.Convey("Given parse without text", t, func() {
		_, err := run("parse")
		convey.So(err, convey.ShouldNotBeNil)
	})
}

func TestSmokeCommand(t *testing.T) {
	isolate(t)
	t.Setenv("HIREBOT_SLACK_SIGNING_SECRET", "cmd-secret")

	convey.Convey("Given a running bot", t, func() {
		q := &recordingQueue{Deduper: dedupe.NewInMemoryDeduper()}
		mux := http.NewServeMux()
		api.NewServer(api.Config{SigningSecret: "cmd-secret", Command: "/hire"}, q, emptyStats{}, logger.Discard()).
			Register(context.Background(), mux)
		srv := httptest.NewServer(mux)
		defer srv.Close()

		convey.Convey("When smoke sends three commands", func() {
			out, err := run("smoke", "--url", srv.URL, "--requests", "3", "--workers", "2")

			convey.Convey("Then all of them are queued", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "queued=3")
				convey.So(q.jobs, convey.ShouldHaveLength, 3)
			})
		})

		convey.Convey("When the secret is wrong", func() {
			out, err := run("smoke", "--url", srv.URL, "--secret", "nope")
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(strings.Contains(out, "rejected=1"), convey.ShouldBeTrue)
		})
	})
}

func TestServiceMetricsUpdate(t *testing.T) {
	convey.Convey("Given workflow stats", t, func() {
		updateServiceMetrics(map[string]interface{}{
			"queueLength": 4,
			"offers":      map[string]int{"CONFIRMED": 2},
		})

		convey.Convey("Then the ledger gauges follow them", func() {
			n, err := testutil.GatherAndCount(metrics.GetRegistry(), "hirebot_ledger_records")
			convey.So(err, convey.ShouldBeNil)
			convey.So(n, convey.ShouldEqual, 6)
		})

		convey.Convey("And system metrics update without panicking", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		})
	})
}
