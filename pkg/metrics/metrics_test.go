package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerCreation(t *testing.T) {
	Convey("Given a fresh registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("When creating a manager with custom options", func() {
			m := NewManager(
				WithNamespace("test"),
				WithSubsystem("decisions"),
				WithHistogramBuckets([]float64{1, 10}),
				WithConstLabels(map[string]string{"fleet": "north"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then collectors use the configured names and labels", func() {
				So(m, ShouldNotBeNil)
				m.pipelineRuns.WithLabelValues("ok").Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				var found bool
				for _, f := range families {
					if f.GetName() == "test_decisions_runs_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetValue(), ShouldEqual, "north")
					}
				}
				So(found, ShouldBeTrue)
			})
		})
	})
}

func TestRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("Pipeline counters move", func() {
			before := testutil.ToFloat64(globalManager.alertsTriggered.WithLabelValues("vibration_brake_combo", "high"))
			RecordAlert("vibration_brake_combo", "high")
			So(testutil.ToFloat64(globalManager.alertsTriggered.WithLabelValues("vibration_brake_combo", "high")), ShouldEqual, before+1)
		})

		Convey("Queue state sets utilization", func() {
			UpdateQueueState(5, 10)
			So(testutil.ToFloat64(globalManager.queueUtilization), ShouldEqual, 0.5)
		})

		Convey("Recording helpers never panic", func() {
			So(func() {
				RecordPipelineRun("ok", 3)
				RecordStageLatency("RiskStage", 1)
				RecordStageFailure("PredictionStage", "model_unavailable")
				RecordDegradedPrediction("feature_coercion")
				RecordPrediction("Hard Brake")
				RecordHealthState("warning")
				RecordRiskScore(0.4)
				RecordTelemetryIngested("csv")
				RecordTelemetryRejected("out_of_bounds")
				RecordStoreOperation("insert", "alerts", 2, true)
				RecordCacheMirrorError("publish")
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueRejected("full")
				UpdateWorkerCount(4)
				UpdateWorkerMessagesPerSecond(1.5)
				RecordWorkerProcessingLatency(2)
				RecordWorkerError()
				RecordHTTPRequest("/predict", "POST", "200", 12)
				RecordErrorByComponent("api", "bad_request")
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(8)
			}, ShouldNotPanic)
		})

		Convey("The registry exposes the families", func() {
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
			var names []string
			for _, f := range families {
				names = append(names, f.GetName())
			}
			So(strings.Join(names, ","), ShouldContainSubstring, "fleetguard_pipeline_alerts_triggered_total")
		})
	})
}
