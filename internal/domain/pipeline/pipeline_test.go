package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/okian/fleetguard/internal/adapters/repository"
	"github.com/okian/fleetguard/internal/domain/classifier"
	"github.com/okian/fleetguard/internal/domain/features"
	"github.com/okian/fleetguard/internal/domain/model"
	"github.com/okian/fleetguard/internal/domain/pipeline"
	"github.com/okian/fleetguard/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

var clock = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// stubModel returns a fixed distribution; the label is its arg max.
type stubModel struct {
	label   string
	dist    map[string]float64
	weights []float64
}

func (s stubModel) Predict([]float64) (string, error) { return s.label, nil }
func (s stubModel) FeatureNames() []string {
	return []string{"rpm", "braking", "vibration"}
}
func (s stubModel) PredictProba([]float64) (map[string]float64, error) { return s.dist, nil }
func (s stubModel) Importances() []float64                             { return s.weights }

func binary(label string, p float64) stubModel {
	return stubModel{label: label, dist: map[string]float64{label: p, "Normal": 1 - p}}
}

// failingStore fails every insert into one collection.
type failingStore struct {
	repository.Store
	collection string
}

func (f failingStore) Insert(ctx context.Context, collection string, record any) error {
	if collection == f.collection {
		return fmt.Errorf("%w: connection reset", repository.ErrStorageUnavailable)
	}
	return f.Store.Insert(ctx, collection, record)
}

func newPipeline(store repository.Store, opts ...pipeline.Option) *pipeline.Pipeline {
	So(logger.Init(), ShouldBeNil)
	opts = append([]pipeline.Option{pipeline.WithClock(func() time.Time { return clock })}, opts...)
	p, err := pipeline.New(store, opts...)
	So(err, ShouldBeNil)
	return p
}

func reading(vehicle string, fields map[string]any, sig model.Signals) model.Reading {
	if sig.AngularThreshold == 0 {
		sig.AngularThreshold = model.DefaultAngularThreshold
	}
	return model.Reading{
		VehicleID: vehicle,
		Timestamp: clock.Add(-time.Hour),
		Source:    "test",
		Signals:   sig,
		Fields:    fields,
	}
}

func TestProcess(t *testing.T) {
	Convey("Given a pipeline with a calibrated model", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		m := stubModel{label: "Hard Brake", dist: map[string]float64{"Hard Brake": 0.6, "Normal": 0.4}, weights: []float64{0.001, 2, 1}}
		p := newPipeline(store, pipeline.WithModel(classifier.NewModel(m)))

		Convey("A reading with one issue is urgent and persisted stage by stage", func() {
			fields := map[string]any{"rpm": 4500.0, "braking": 0.5, "vibration": 0.2}
			res, err := p.Process(ctx, reading("v1", fields, model.Signals{RPM: 4500, Braking: 0.5, Vibration: 0.2}))
			So(err, ShouldBeNil)

			So(res.Alerts, ShouldBeEmpty)
			So(res.Prediction.PredictedEvent, ShouldEqual, "Hard Brake")
			So(res.Prediction.Probability, ShouldEqual, 0.6)
			So(res.Prediction.Calibrated, ShouldBeTrue)
			So(res.Prediction.Explanation[0].Feature, ShouldEqual, "rpm")
			So(res.Prediction.Explanation[0].Impact, ShouldEqual, 4.5)
			So(res.Diagnostics.Issues, ShouldResemble, []string{"High RPM"})
			So(res.Risk.RiskScore, ShouldAlmostEqual, 0.7, 1e-9)
			So(res.Risk.Category, ShouldEqual, model.RiskHigh)
			So(res.Schedule.Priority, ShouldEqual, model.PriorityUrgent)
			So(res.Schedule.ScheduledDate, ShouldEqual, model.FormatTime(clock.Add(24*time.Hour)))
			So(res.Feedback.Status, ShouldEqual, model.FeedbackAwaiting)
			So(res.Feedback.Notes, ShouldEqual, "Prediction Hard Brake with risk 0.70")
			So(res.Recommendations[0].Component, ShouldEqual, pipeline.ComponentDrivetrain)
			So(res.Health.HealthState, ShouldEqual, model.HealthWarning)
			So(res.Degraded(), ShouldBeFalse)
			So(len(res.Outcomes), ShouldEqual, len(pipeline.Stages))

			So(store.Count(model.CollectionAlerts), ShouldEqual, 0)
			So(store.Count(model.CollectionPredictions), ShouldEqual, 1)
			So(store.Count(model.CollectionDiagnostics), ShouldEqual, 1)
			So(store.Count(model.CollectionRiskLogs), ShouldEqual, 1)
			So(store.Count(model.CollectionRecommendations), ShouldEqual, 1)
			So(store.Count(model.CollectionMaintenance), ShouldEqual, 1)
			So(store.Count(model.CollectionFeedback), ShouldEqual, 1)
			So(store.Count(model.CollectionActions), ShouldEqual, 5)
			So(store.Count(model.CollectionVehicles), ShouldEqual, 1)

			Convey("The prediction audit cites the top contributors", func() {
				doc, err := store.FindLatest(ctx, model.CollectionActions, repository.Filter{"source": pipeline.StagePrediction}, "")
				So(err, ShouldBeNil)
				So(doc["action"], ShouldEqual, "Predicted event")
				So(doc["reason"], ShouldEqual, "rpm (4.5), braking (1), vibration (0.2)")
			})

			Convey("Every stage logs a timeline entry and the health transition comes last", func() {
				entries, err := store.FindMany(ctx, model.CollectionTimeline, repository.Filter{"runId": res.RunID}, 0)
				So(err, ShouldBeNil)
				So(len(entries), ShouldEqual, 8)
				agents := map[string]int{}
				for _, e := range entries {
					agents[e["agent"].(string)]++
				}
				for _, stage := range pipeline.Stages {
					So(agents[stage], ShouldEqual, 1)
				}
			})

			Convey("Every record carries the run, the vehicle and the reading timestamp", func() {
				for _, c := range []string{model.CollectionPredictions, model.CollectionRiskLogs, model.CollectionActions, model.CollectionTimeline} {
					docs, err := store.FindMany(ctx, c, nil, 0)
					So(err, ShouldBeNil)
					for _, d := range docs {
						So(d["runId"], ShouldEqual, res.RunID)
						So(d["vehicleId"], ShouldEqual, "v1")
						So(d["timestamp"], ShouldEqual, model.FormatTime(clock.Add(-time.Hour)))
					}
				}
			})

			Convey("A second run recomputes the same values under a new trail", func() {
				again, err := p.Process(ctx, reading("v1", fields, model.Signals{RPM: 4500, Braking: 0.5, Vibration: 0.2}))
				So(err, ShouldBeNil)
				So(again.RunID, ShouldNotEqual, res.RunID)
				So(again.Prediction.Probability, ShouldEqual, res.Prediction.Probability)
				So(again.Risk.RiskScore, ShouldEqual, res.Risk.RiskScore)
				So(again.Diagnostics.Issues, ShouldResemble, res.Diagnostics.Issues)
				So(store.Count(model.CollectionPredictions), ShouldEqual, 2)
				So(store.Count(model.CollectionVehicles), ShouldEqual, 1)

				entry, err := store.FindLatest(ctx, model.CollectionTimeline,
					repository.Filter{"runId": again.RunID, "agent": pipeline.StageOrchestrator}, "")
				So(err, ShouldBeNil)
				So(entry["metadata"], ShouldResemble, map[string]any{"previous": "warning"})
			})
		})

		Convey("High vibration with a hard brake raises an alert before predicting", func() {
			sig := model.Signals{Vibration: 0.85, HardBrake: true}
			res, err := p.Process(ctx, reading("v2", map[string]any{"vibration": 0.85}, sig))
			So(err, ShouldBeNil)
			So(len(res.Alerts), ShouldEqual, 1)
			So(res.Alerts[0].Rule, ShouldEqual, pipeline.RuleVibrationBrake)
			So(store.Count(model.CollectionAlerts), ShouldEqual, 1)

			doc, err := store.FindLatest(ctx, model.CollectionTimeline, repository.Filter{"agent": pipeline.StageRules}, "")
			So(err, ShouldBeNil)
			So(doc["decision"], ShouldEqual, "Rule triggered (vibration_brake_combo) with severity high")
		})

		Convey("A reading without signals falls back to no maintenance", func() {
			res, err := p.Process(ctx, reading("v3", map[string]any{}, model.Signals{}))
			So(err, ShouldBeNil)
			So(res.Diagnostics.Issues, ShouldBeEmpty)
			So(res.Diagnostics.Summary, ShouldEqual, pipeline.NoIssuesSummary)
			So(len(res.Recommendations), ShouldEqual, 1)
			So(res.Recommendations[0].Recommendation, ShouldEqual, "No immediate maintenance required")
		})

		Convey("A reading without a vehicle id never runs", func() {
			_, err := p.Process(ctx, reading("", nil, model.Signals{}))
			So(errors.Is(err, model.ErrMissingRequiredField), ShouldBeTrue)
			So(store.Count(model.CollectionTimeline), ShouldEqual, 0)
		})
	})
}

func TestProcessHealthStates(t *testing.T) {
	Convey("Given a model certain of a failure", t, func() {
		store := repository.NewMemoryStore()
		p := newPipeline(store, pipeline.WithModel(classifier.NewModel(binary("Engine Failure", 0.9))))

		Convey("Probability 0.9 without issues grounds the vehicle", func() {
			res, err := p.Process(context.Background(), reading("g1", map[string]any{}, model.Signals{}))
			So(err, ShouldBeNil)
			So(res.Risk.RiskScore, ShouldEqual, 0.9)
			So(res.Risk.Category, ShouldEqual, model.RiskHigh)
			So(res.Health.HealthState, ShouldEqual, model.HealthGrounded)

			doc, err := store.FindLatest(context.Background(), model.CollectionVehicles, repository.Filter{"vehicleId": "g1"}, "")
			So(err, ShouldBeNil)
			So(doc["healthState"], ShouldEqual, "grounded")
		})
	})

	Convey("Given a model with a low, spread distribution", t, func() {
		store := repository.NewMemoryStore()
		m := stubModel{label: "Normal", dist: map[string]float64{"Normal": 0.35, "Hard Brake": 0.33, "Sharp Turn": 0.32}}
		p := newPipeline(store, pipeline.WithModel(classifier.NewModel(m)))

		res, err := p.Process(context.Background(), reading("h1", map[string]any{}, model.Signals{}))
		So(err, ShouldBeNil)
		So(res.Risk.Category, ShouldEqual, model.RiskLow)
		So(res.Schedule.Priority, ShouldEqual, model.PriorityLow)
		So(res.Health.HealthState, ShouldEqual, model.HealthHealthy)

		Convey("Without weights the audit falls back to the explanation text", func() {
			doc, err := store.FindLatest(context.Background(), model.CollectionActions, repository.Filter{"source": pipeline.StagePrediction}, "")
			So(err, ShouldBeNil)
			So(doc["reason"], ShouldStartWith, "Top signals:")
		})
	})
}

func TestProcessDegraded(t *testing.T) {
	Convey("Given no model", t, func() {
		store := repository.NewMemoryStore()
		p := newPipeline(store)
		sig := model.Signals{RPM: 5000}

		res, err := p.Process(context.Background(), reading("d1", map[string]any{"rpm": 5000.0}, sig))

		Convey("Rules and diagnostics still run and risk and health are unknown", func() {
			So(err, ShouldBeNil)
			So(p.ModelAvailable(), ShouldBeFalse)
			So(res.Prediction.Degraded, ShouldBeTrue)
			So(res.Prediction.PredictedEvent, ShouldEqual, pipeline.DegradedLabel)
			So(res.Diagnostics.Issues, ShouldResemble, []string{"High RPM"})
			So(res.Risk.Category, ShouldEqual, model.RiskUnknown)
			So(res.Health.HealthState, ShouldEqual, model.HealthUnknown)
			So(res.Feedback.Notes, ShouldEqual, "Prediction unknown with risk unknown")
			So(res.Degraded(), ShouldBeTrue)
			So(res.Outcomes[1].Stage, ShouldEqual, pipeline.StagePrediction)
			So(res.Outcomes[1].Status, ShouldEqual, pipeline.StatusDegraded)
			So(store.Count(model.CollectionPredictions), ShouldEqual, 1)

			doc, _ := store.FindLatest(context.Background(), model.CollectionPredictions, nil, "")
			So(doc["degraded"], ShouldEqual, true)
		})
	})

	Convey("Given a model and a reading with a malformed feature", t, func() {
		store := repository.NewMemoryStore()
		builder := features.New([]string{"rpm", "braking", "vibration"}, map[string]float64{"braking": 0.2})
		p := newPipeline(store,
			pipeline.WithModel(classifier.NewModel(binary("Hard Brake", 0.8))),
			pipeline.WithFeatureBuilder(builder))

		res, err := p.Process(context.Background(), reading("d2", map[string]any{"rpm": "fast"}, model.Signals{}))

		Convey("Only the prediction is degraded and the field is named", func() {
			So(err, ShouldBeNil)
			So(res.Prediction.Degraded, ShouldBeTrue)
			So(res.Prediction.DegradedReason, ShouldContainSubstring, `"rpm"`)
			So(res.Risk.Known(), ShouldBeFalse)
			So(len(res.Recommendations), ShouldBeGreaterThan, 0)
			So(store.Count(model.CollectionFeedback), ShouldEqual, 1)
		})
	})
}

func TestProcessStorageFailure(t *testing.T) {
	Convey("Given a store that cannot write risk logs", t, func() {
		mem := repository.NewMemoryStore()
		p := newPipeline(failingStore{Store: mem, collection: model.CollectionRiskLogs},
			pipeline.WithModel(classifier.NewModel(binary("Hard Brake", 0.8))))

		res, err := p.Process(context.Background(), reading("s1", map[string]any{}, model.Signals{}))

		Convey("The run fails with a retryable stage error", func() {
			So(res, ShouldBeNil)
			var se *pipeline.StageError
			So(errors.As(err, &se), ShouldBeTrue)
			So(se.Stage, ShouldEqual, pipeline.StageRisk)
			So(se.Retryable(), ShouldBeTrue)
			So(errors.Is(err, pipeline.ErrRunAborted), ShouldBeTrue)
			So(errors.Is(err, repository.ErrStorageUnavailable), ShouldBeTrue)

			Convey("Earlier records are tagged with the aborted run and later stages never ran", func() {
				docs, err := mem.FindMany(context.Background(), model.CollectionPredictions, repository.Filter{"runId": se.RunID}, 0)
				So(err, ShouldBeNil)
				So(len(docs), ShouldEqual, 1)
				So(mem.Count(model.CollectionMaintenance), ShouldEqual, 0)
				So(mem.Count(model.CollectionVehicles), ShouldEqual, 0)
			})
		})
	})

	Convey("Given a store that cannot write feedback", t, func() {
		mem := repository.NewMemoryStore()
		p := newPipeline(failingStore{Store: mem, collection: model.CollectionFeedback},
			pipeline.WithModel(classifier.NewModel(binary("Hard Brake", 0.8))))

		_, err := p.Process(context.Background(), reading("s2", map[string]any{}, model.Signals{}))

		Convey("The concurrent stage failure aborts before the health update", func() {
			var se *pipeline.StageError
			So(errors.As(err, &se), ShouldBeTrue)
			So(se.Stage, ShouldEqual, pipeline.StageFeedback)
			So(strings.Contains(err.Error(), "feedback"), ShouldBeTrue)
			So(mem.Count(model.CollectionVehicles), ShouldEqual, 0)
		})
	})

	Convey("A pipeline needs a store", t, func() {
		_, err := pipeline.New(nil)
		So(errors.Is(err, pipeline.ErrNotConfigured), ShouldBeTrue)
	})
}

func TestDecide(t *testing.T) {
	Convey("Given the failure policy", t, func() {
		coercion := &features.CoercionError{Field: "rpm", Value: "x"}
		So(pipeline.Decide(pipeline.StagePrediction, coercion), ShouldEqual, pipeline.ActionDegrade)
		So(pipeline.Decide(pipeline.StagePrediction, classifier.ErrModelUnavailable), ShouldEqual, pipeline.ActionDegrade)
		So(pipeline.Decide(pipeline.StageRisk, coercion), ShouldEqual, pipeline.ActionFatal)

		storage := fmt.Errorf("%w: %w", repository.ErrStorageUnavailable, classifier.ErrModelUnavailable)
		So(pipeline.Decide(pipeline.StagePrediction, storage), ShouldEqual, pipeline.ActionFatal)
	})
}

func TestReprocessRules(t *testing.T) {
	Convey("Given a stored reading that trips both rules", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		p := newPipeline(store)
		sig := model.Signals{Vibration: 0.9, HardBrake: true, Speed: 120, AngularAcceleration: 0.9}

		Convey("Only alerts are written", func() {
			alerts, err := p.ReprocessRules(ctx, reading("v9", nil, sig))
			So(err, ShouldBeNil)
			So(len(alerts), ShouldEqual, 2)
			So(alerts[0].RunID, ShouldEqual, alerts[1].RunID)
			So(store.Count(model.CollectionAlerts), ShouldEqual, 2)
			So(store.Count(model.CollectionPredictions), ShouldEqual, 0)
			So(store.Count(model.CollectionTimeline), ShouldEqual, 0)
		})

		Convey("A storage failure is reported against the rule stage", func() {
			p := newPipeline(failingStore{Store: store, collection: model.CollectionAlerts})
			_, err := p.ReprocessRules(ctx, reading("v9", nil, sig))
			var se *pipeline.StageError
			So(errors.As(err, &se), ShouldBeTrue)
			So(se.Stage, ShouldEqual, pipeline.StageRules)
			So(se.Retryable(), ShouldBeTrue)
		})

		Convey("A reading without a vehicle is rejected", func() {
			_, err := p.ReprocessRules(ctx, model.Reading{})
			So(errors.Is(err, model.ErrMissingRequiredField), ShouldBeTrue)
		})
	})
}
