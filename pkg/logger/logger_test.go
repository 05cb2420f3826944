package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLogger(t *testing.T) {
	Convey("Given the global logger", t, func() {
		So(Init(), ShouldBeNil)
		defer func() { So(Sync(), ShouldBeNil) }()

		Convey("Get and Named return usable loggers", func() {
			So(Get(), ShouldNotBeNil)
			l := Named("pipeline")
			So(l, ShouldNotBeNil)
			l.Info(context.Background(), "started", String("k", "v"))
		})

		Convey("Unknown levels and formats are rejected", func() {
			So(SetLevelString("loud"), ShouldNotBeNil)
			So(SetFormat("xml"), ShouldNotBeNil)
			So(SetLevelString("WARNING"), ShouldBeNil)
			So(SetLevelString("info"), ShouldBeNil)
		})
	})
}

func TestJSONOutput(t *testing.T) {
	Convey("Given a JSON logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		SetLevel(slog.LevelInfo)
		l := New(&buf, FormatJSON).Named("risk").With(String("vehicleId", "7"))

		Convey("Fields, component and source are emitted", func() {
			l.Info(context.Background(), "classified", Float64("score", 0.7), Bool("degraded", false))
			var rec map[string]any
			So(json.Unmarshal(buf.Bytes(), &rec), ShouldBeNil)
			So(rec["msg"], ShouldEqual, "classified")
			So(rec["component"], ShouldEqual, "risk")
			So(rec["vehicleId"], ShouldEqual, "7")
			So(rec["score"], ShouldEqual, 0.7)
			So(rec["degraded"], ShouldEqual, false)
			So(strings.Contains(rec["source"].(string), "logger_test.go"), ShouldBeTrue)
		})

		Convey("Debug is dropped at info level", func() {
			l.Debug(context.Background(), "noise")
			So(buf.Len(), ShouldEqual, 0)
		})
	})
}
