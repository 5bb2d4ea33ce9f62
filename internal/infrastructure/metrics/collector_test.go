package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/bbscout/dbbackup/internal/domain"
)

func TestCollector(t *testing.T) {
	Convey("Given a Collector", t, func() {
		c := NewCollector()
		started := time.Date(2024, 1, 5, 3, 0, 0, 0, time.UTC)

		Convey("When a run succeeds", func() {
			c.RunStarted()
			So(testutil.ToFloat64(c.runInProgress), ShouldEqual, 1)

			c.RunFinished(&domain.RunResult{
				StartedAt:  started,
				FinishedAt: started.Add(42 * time.Second),
				Artifact:   &domain.BackupArtifact{Size: 2048},
				Uploaded:   true,
				Pruned:     []string{"a", "b"},
			})

			Convey("It should record the outcome and artifact", func() {
				So(testutil.ToFloat64(c.runInProgress), ShouldEqual, 0)
				So(testutil.ToFloat64(c.runsTotal.WithLabelValues(OutcomeSuccess)), ShouldEqual, 1)
				So(testutil.ToFloat64(c.artifactSize), ShouldEqual, 2048)
				So(testutil.ToFloat64(c.prunedTotal), ShouldEqual, 2)
				So(testutil.ToFloat64(c.lastSuccess), ShouldEqual, float64(started.Add(42*time.Second).Unix()))
			})
		})

		Convey("When a run fails in the dump stage", func() {
			c.RunStarted()
			c.RunFinished(&domain.RunResult{
				StartedAt:  started,
				FinishedAt: started.Add(time.Second),
				Err:        domain.NewStageError(domain.ErrDump, errors.New("exit status 2")),
			})

			Convey("It should count the failure by stage and keep the last success", func() {
				So(testutil.ToFloat64(c.runsTotal.WithLabelValues(OutcomeFailure)), ShouldEqual, 1)
				So(testutil.ToFloat64(c.stageFailures.WithLabelValues("dump")), ShouldEqual, 1)
				So(testutil.ToFloat64(c.lastSuccess), ShouldEqual, 0)
			})
		})

		Convey("When retention soft-fails", func() {
			c.RunFinished(&domain.RunResult{
				StartedAt:    started,
				FinishedAt:   started,
				Uploaded:     true,
				RetentionErr: domain.NewStageError(domain.ErrRetention, errors.New("list failed")),
			})

			Convey("The run should still count as a success with a retention failure", func() {
				So(testutil.ToFloat64(c.runsTotal.WithLabelValues(OutcomeRetentionFailed)), ShouldEqual, 1)
				So(testutil.ToFloat64(c.stageFailures.WithLabelValues("retention")), ShouldEqual, 1)
			})
		})

		Convey("When triggers are skipped", func() {
			c.TriggerSkipped()
			c.TriggerSkipped()
			So(testutil.ToFloat64(c.skippedTriggers), ShouldEqual, 2)
		})

		Convey("The handler should expose the backup metrics", func() {
			c.TriggerSkipped()
			rec := httptest.NewRecorder()
			c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

			body, _ := io.ReadAll(rec.Body)
			So(rec.Code, ShouldEqual, 200)
			So(string(body), ShouldContainSubstring, "backup_skipped_triggers_total 1")
			So(string(body), ShouldContainSubstring, "backup_run_in_progress 0")
			So(string(body), ShouldContainSubstring, "go_goroutines")
		})
	})
}
