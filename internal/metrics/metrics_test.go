package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/benno1237/bennos-cogs/internal/autostats"
	"github.com/benno1237/bennos-cogs/internal/birthday"
	"github.com/benno1237/bennos-cogs/internal/hypixel"
	"github.com/benno1237/bennos-cogs/internal/transport/router"
)

var (
	_ autostats.Observer = (*Manager)(nil)
	_ birthday.Observer  = (*Manager)(nil)
	_ hypixel.Observer   = (*Manager)(nil)
	_ router.Observer    = (*Manager)(nil)
)

func TestManager(t *testing.T) {
	Convey("Given a metrics manager on a private registry", t, func() {
		m := New(WithNamespace("test"))

		Convey("When autostats reports polls and tasks", func() {
			m.ObservePoll(autostats.PollChanged)
			m.ObservePoll(autostats.PollChanged)
			m.ObservePoll(autostats.PollUnchanged)
			m.ObserveTasks("guild", 3)
			m.ObserveTasks("guild", 2)
			m.ObserveRefresh()

			Convey("Then the counters and gauges follow", func() {
				So(testutil.ToFloat64(m.polls.WithLabelValues("changed")), ShouldEqual, 2)
				So(testutil.ToFloat64(m.polls.WithLabelValues("unchanged")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.tasks.WithLabelValues("guild")), ShouldEqual, 2)
				So(testutil.ToFloat64(m.refreshes), ShouldEqual, 1)
			})
		})

		Convey("When commands finish", func() {
			m.ObserveCommand("stats", time.Second, nil)
			m.ObserveCommand("stats", time.Second, router.Userf("bad mode"))
			m.ObserveCommand("stats", time.Second, errors.New("boom"))

			Convey("Then results are split by kind", func() {
				So(testutil.ToFloat64(m.commands.WithLabelValues("stats", "ok")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.commands.WithLabelValues("stats", "user_error")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.commands.WithLabelValues("stats", "error")), ShouldEqual, 1)
			})
		})

		Convey("When the handler is scraped", func() {
			m.ObserveRequest("player", 200)
			m.ObserveBirthdayFire(2)
			rec := httptest.NewRecorder()
			m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
			body, _ := io.ReadAll(rec.Body)

			Convey("Then the exposition contains our series", func() {
				So(rec.Code, ShouldEqual, 200)
				So(strings.Contains(string(body), `test_hypixel_requests_total{code="200",endpoint="player"} 1`), ShouldBeTrue)
				So(strings.Contains(string(body), "test_birthday_announcements_total 2"), ShouldBeTrue)
			})
		})
	})
}
