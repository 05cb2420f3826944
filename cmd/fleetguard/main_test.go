package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okian/fleetguard/internal/adapters/repository"
	app "github.com/okian/fleetguard/internal/app"
	"github.com/okian/fleetguard/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func TestNewHandler(t *testing.T) {
	convey.Convey("Given the server handler over a memory store", t, func() {
		convey.So(logger.Init(), convey.ShouldBeNil)
		ctx := context.Background()
		svc := app.New(repository.NewMemoryStore(), app.WithWorkerCount(1))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		h := newHandler(ctx, svc, logger.Get())

		convey.Convey("Docs and API routes are both registered", func() {
			for _, path := range []string{"/api-docs", "/openapi.yaml", "/stats", "/healthz", "/alerts"} {
				w := httptest.NewRecorder()
				h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, http.NoBody))
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			}
		})

		convey.Convey("A posted reading is processed end to end", func() {
			body := `{"vehicleId": "t1", "timestamp": "2024-05-01T10:00:00Z", "rpm": 4100}`
			req := httptest.NewRequest(http.MethodPost, "/telemetry/ingest", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Body.String(), convey.ShouldContainSubstring, "High RPM")
		})
	})

	convey.Convey("System metrics update without a running server", t, func() {
		convey.So(updateSystemMetrics, convey.ShouldNotPanic)
	})
}
