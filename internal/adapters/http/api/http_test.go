package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okian/fleetguard/internal/adapters/http/api"
	"github.com/okian/fleetguard/internal/adapters/repository"
	service "github.com/okian/fleetguard/internal/app"
	"github.com/okian/fleetguard/internal/domain/model"
	"github.com/okian/fleetguard/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

// unavailable fails every risk lookup as if the store were down.
type unavailable struct {
	*service.Service
}

func (unavailable) LatestRisk(context.Context, string) (*model.RiskAssessment, error) {
	return nil, fmt.Errorf("find risk: %w", repository.ErrStorageUnavailable)
}

func newMux(deps api.Dependencies) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, nil).Register(context.Background(), mux)
	return mux
}

func do(mux *http.ServeMux, method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder, out any) {
	So(json.Unmarshal(w.Body.Bytes(), out), ShouldBeNil)
}

func TestAPI(t *testing.T) {
	Convey("Given an API over a started service", t, func() {
		So(logger.Init(), ShouldBeNil)
		store := repository.NewMemoryStore()
		svc := service.New(store, service.WithWorkerCount(1), service.WithQueueSize(4))
		So(svc.Start(context.Background()), ShouldBeNil)
		Reset(func() { _ = svc.Stop(context.Background()) })
		mux := newMux(svc)

		const reading = `{"vehicleId": 5, "timestamp": "2024-05-01T10:00:00Z", "vibration": 0.9, "hard_brake_event": true, "rpm": 4500}`

		Convey("JSON ingestion runs the pipeline synchronously", func() {
			w := do(mux, http.MethodPost, "/telemetry/ingest", "application/json", reading)
			So(w.Code, ShouldEqual, http.StatusOK)

			var res service.IngestResult
			decode(w, &res)
			So(res.Inserted, ShouldEqual, 1)
			So(len(res.Results), ShouldEqual, 1)
			So(res.Results[0].Alerts[0].Rule, ShouldEqual, "vibration_brake_combo")

			Convey("Read endpoints expose the decisions", func() {
				w := do(mux, http.MethodGet, "/predict/5", "", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var pred model.Prediction
				decode(w, &pred)
				So(pred.VehicleID, ShouldEqual, "5")
				So(pred.Degraded, ShouldBeTrue)

				w = do(mux, http.MethodGet, "/risk/5", "", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var risk model.RiskAssessment
				decode(w, &risk)
				So(risk.Category, ShouldEqual, model.RiskUnknown)

				w = do(mux, http.MethodGet, "/agent-timeline/5?limit=3", "", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var tl []model.TimelineEntry
				decode(w, &tl)
				So(len(tl), ShouldEqual, 3)

				w = do(mux, http.MethodGet, "/recommendations/5", "", "")
				So(w.Code, ShouldEqual, http.StatusOK)

				w = do(mux, http.MethodGet, "/vehicles/5", "", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var vh model.VehicleHealth
				decode(w, &vh)
				So(vh.HealthState, ShouldEqual, model.HealthUnknown)

				w = do(mux, http.MethodGet, "/vehicles/list", "", "")
				So(w.Body.String(), ShouldContainSubstring, `"count":1`)

				w = do(mux, http.MethodGet, "/telemetry/latest/5", "", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"source":"ingest_api"`)

				for _, path := range []string{"/alerts", "/fleet/overview", "/fleet/top-risk", "/fleet/agent-actions", "/stats"} {
					So(do(mux, http.MethodGet, path, "", "").Code, ShouldEqual, http.StatusOK)
				}
			})
		})

		Convey("CSV ingestion accepts a raw upload", func() {
			body := "deviceID,timeStamp,rpm,braking\n11,2024-05-01T10:00:00,3000,0.2\n12,2024-05-01T10:00:01,4200,0.9\n"
			w := do(mux, http.MethodPost, "/telemetry/ingest", "text/csv", body)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(store.Count(model.CollectionTelemetry), ShouldEqual, 2)
		})

		Convey("CSV ingestion accepts a multipart file", func() {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			part, err := mw.CreateFormFile("file", "telemetry.csv")
			So(err, ShouldBeNil)
			_, _ = part.Write([]byte("vehicleId,timestamp,speed\n1,2024-05-01T10:00:00,50\n"))
			So(mw.Close(), ShouldBeNil)

			w := do(mux, http.MethodPost, "/telemetry/ingest", mw.FormDataContentType(), buf.String())
			So(w.Code, ShouldEqual, http.StatusOK)
			So(store.Count(model.CollectionTelemetry), ShouldEqual, 1)
		})

		Convey("An invalid CSV is a bad request", func() {
			w := do(mux, http.MethodPost, "/telemetry/ingest", "text/csv", "vehicleId,timestamp,braking\n1,2024-05-01T10:00:00,3\n")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(w.Body.String(), ShouldContainSubstring, "bad_request")
			So(store.Count(model.CollectionTelemetry), ShouldEqual, 0)
		})

		Convey("Async ingestion is accepted and processed in the background", func() {
			w := do(mux, http.MethodPost, "/telemetry/ingest?async=true", "application/json", reading)
			So(w.Code, ShouldEqual, http.StatusAccepted)

			deadline := time.Now().Add(2 * time.Second)
			for store.Count(model.CollectionVehicles) == 0 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			So(store.Count(model.CollectionVehicles), ShouldEqual, 1)
		})

		Convey("A batch beyond the queue space is backpressure", func() {
			batch := make([]string, 5)
			for i := range batch {
				batch[i] = fmt.Sprintf(`{"vehicleId": %d, "timestamp": "2024-05-01T10:00:00Z"}`, i)
			}
			w := do(mux, http.MethodPost, "/telemetry/ingest?async=1", "application/json", "["+strings.Join(batch, ",")+"]")
			So(w.Code, ShouldEqual, http.StatusTooManyRequests)
		})

		Convey("Malformed requests are rejected", func() {
			So(do(mux, http.MethodPost, "/telemetry/ingest", "application/json", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodPost, "/telemetry/ingest?async=maybe", "application/json", reading).Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodPost, "/telemetry/ingest", "application/json", `{"vehicleId": 1}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodPost, "/predict", "application/json", `{"rpm": 1}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodPost, "/predict", "application/json", `null`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodGet, "/alerts?limit=0", "", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodPost, "/feedback", "application/json", `{"notes": "x"}`).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Predict runs without storing telemetry", func() {
			w := do(mux, http.MethodPost, "/predict", "application/json", `{"vehicleId": "p1", "speed": 120, "angular_acceleration": 0.7}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "speed_angular_combo")
			So(store.Count(model.CollectionTelemetry), ShouldEqual, 0)
		})

		Convey("Missing data maps to 404, except risk", func() {
			So(do(mux, http.MethodGet, "/predict/none", "", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(mux, http.MethodGet, "/vehicles/none", "", "").Code, ShouldEqual, http.StatusNotFound)

			w := do(mux, http.MethodGet, "/risk/none", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "no_risk_data")
		})

		Convey("Feedback is created", func() {
			w := do(mux, http.MethodPost, "/feedback", "application/json", `{"vehicleId": 5, "confirmed": false}`)
			So(w.Code, ShouldEqual, http.StatusCreated)
			So(store.Count(model.CollectionFeedback), ShouldEqual, 1)
		})

		Convey("Vehicles are registered, updated and deleted", func() {
			w := do(mux, http.MethodPost, "/vehicles", "application/json", `{"vehicleId": 30, "model": "T-1"}`)
			So(w.Code, ShouldEqual, http.StatusCreated)
			So(w.Body.String(), ShouldContainSubstring, `"status":"vehicle created"`)

			So(do(mux, http.MethodPost, "/vehicles", "application/json", `{"vehicleId": "30"}`).Code, ShouldEqual, http.StatusConflict)
			So(do(mux, http.MethodPost, "/vehicles", "application/json", `{"model": "T-1"}`).Code, ShouldEqual, http.StatusBadRequest)

			w = do(mux, http.MethodPut, "/vehicles/30", "application/json", `{"model": "T-2"}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"model":"T-2"`)
			So(do(mux, http.MethodPut, "/vehicles/31", "application/json", `{"model": "T-2"}`).Code, ShouldEqual, http.StatusNotFound)
			So(do(mux, http.MethodPut, "/vehicles/30", "application/json", `{}`).Code, ShouldEqual, http.StatusBadRequest)

			So(do(mux, http.MethodDelete, "/vehicles/30", "", "").Code, ShouldEqual, http.StatusOK)
			So(do(mux, http.MethodDelete, "/vehicles/30", "", "").Code, ShouldEqual, http.StatusNotFound)
			So(store.Count(model.CollectionVehicles), ShouldEqual, 0)
		})

		Convey("Chat answers from the stored decisions", func() {
			So(do(mux, http.MethodPost, "/telemetry/ingest", "application/json", reading).Code, ShouldEqual, http.StatusOK)

			w := do(mux, http.MethodPost, "/assistant/chat", "application/json", `{"vehicleId": 5, "question": "why is it risky?"}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			var reply struct {
				VehicleID string         `json:"vehicleId"`
				Answer    string         `json:"answer"`
				Sources   map[string]any `json:"sources"`
			}
			decode(w, &reply)
			So(reply.VehicleID, ShouldEqual, "5")
			So(reply.Answer, ShouldContainSubstring, "Key reasons: High RPM, High vibration.")
			So(reply.Sources["risk"], ShouldEqual, true)

			w = do(mux, http.MethodPost, "/bot/chat", "application/json", `{"vehicleId": "5", "message": "show sensor data"}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "RPM: 4500")

			So(do(mux, http.MethodPost, "/bot/chat", "application/json", `{"message": "hi"}`).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Storage outages are 503", func() {
			mux := newMux(unavailable{svc})
			w := do(mux, http.MethodGet, "/risk/5", "", "")
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(w.Body.String(), ShouldContainSubstring, "unavailable")
		})

		Convey("Metrics are served on /healthz", func() {
			w := do(mux, http.MethodGet, "/healthz", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "fleetguard_")
		})

		Convey("Unknown methods are rejected by the router", func() {
			So(do(mux, http.MethodDelete, "/alerts", "", "").Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestErrorKinds(t *testing.T) {
	Convey("Given API errors", t, func() {
		err := api.Wrap("api.op", fmt.Errorf("lookup: %w", repository.ErrNotFound))
		So(err.Error(), ShouldStartWith, "api.op: not found")

		var apiErr *api.Error
		So(errors.As(err, &apiErr), ShouldBeTrue)
		So(apiErr.Op, ShouldEqual, "api.op")
		So(errors.Is(err, api.ErrNotFound), ShouldBeTrue)
		So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)

		So(errors.Is(api.NewKind("api.op", api.ErrBadRequest), api.ErrBadRequest), ShouldBeTrue)
		So(errors.Is(api.Wrap("op", errors.New("boom")), api.ErrInternal), ShouldBeTrue)
		So(errors.Is(api.Wrap("op", service.ErrQueueFull), api.ErrBackpressure), ShouldBeTrue)
		So(errors.Is(api.Wrap("op", service.ErrVehicleExists), api.ErrConflict), ShouldBeTrue)
		So(errors.Is(api.Wrap("op", service.ErrInvalidVehicle), api.ErrBadRequest), ShouldBeTrue)
	})
}
