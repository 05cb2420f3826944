package repository_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/okian/fleetguard/internal/adapters/repository"
	"github.com/okian/fleetguard/internal/domain/model"
	"github.com/okian/fleetguard/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func health(vehicle string, state model.HealthState, ts string) model.VehicleHealth {
	return model.VehicleHealth{VehicleID: vehicle, HealthState: state, Timestamp: ts}
}

func TestRedisMirror(t *testing.T) {
	convey.Convey("Given a memory store mirrored into Redis", t, func() {
		convey.So(logger.Init(), convey.ShouldBeNil)
		ctx := context.Background()
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()

		mem := repository.NewMemoryStore()
		m := repository.NewRedisMirror(mem, client, repository.WithKeyPrefix("fg"), repository.WithHealthTTL(time.Hour))
		byVehicle := repository.Filter{"vehicleId": "7"}

		convey.Convey("A health upsert is written to the vehicle hash with a TTL", func() {
			convey.So(m.Upsert(ctx, model.CollectionVehicles, byVehicle, health("7", model.HealthWarning, "2024-05-01T10:00:00.000000Z")), convey.ShouldBeNil)

			key := m.HealthKey("7")
			convey.So(key, convey.ShouldEqual, "fg:vehicle:7:health")
			convey.So(mr.HGet(key, "healthState"), convey.ShouldEqual, "warning")
			convey.So(mr.TTL(key), convey.ShouldEqual, time.Hour)

			doc, err := mem.FindLatest(ctx, model.CollectionVehicles, byVehicle, "")
			convey.So(err, convey.ShouldBeNil)
			convey.So(doc["healthState"], convey.ShouldEqual, "warning")
		})

		convey.Convey("Health reads are served from the hash", func() {
			convey.So(m.Upsert(ctx, model.CollectionVehicles, byVehicle, health("7", model.HealthCritical, "t1")), convey.ShouldBeNil)
			// Only the hash knows this state.
			mr.HSet(m.HealthKey("7"), "document", `{"vehicleId":"7","healthState":"grounded"}`)

			doc, err := m.FindLatest(ctx, model.CollectionVehicles, byVehicle, "")
			convey.So(err, convey.ShouldBeNil)
			convey.So(doc["healthState"], convey.ShouldEqual, "grounded")
		})

		convey.Convey("Other lookups go to the wrapped store", func() {
			_, err := m.FindLatest(ctx, model.CollectionVehicles, repository.Filter{"vehicleId": "nope"}, "")
			convey.So(err, convey.ShouldEqual, repository.ErrNotFound)

			convey.So(m.Insert(ctx, model.CollectionAlerts, alert("7", "t1", "a")), convey.ShouldBeNil)
			doc, err := m.FindLatest(ctx, model.CollectionAlerts, byVehicle, "timestamp")
			convey.So(err, convey.ShouldBeNil)
			convey.So(doc["rule"], convey.ShouldEqual, "a")
		})

		convey.Convey("Alerts and health changes are published", func() {
			sub := client.Subscribe(ctx, m.AlertsChannel(), m.HealthChannel())
			defer sub.Close()
			_, err := sub.Receive(ctx)
			convey.So(err, convey.ShouldBeNil)
			msgs := sub.Channel()

			convey.So(m.InsertMany(ctx, model.CollectionAlerts, []any{alert("7", "t1", "vibration_brake_combo")}), convey.ShouldBeNil)
			convey.So(m.Upsert(ctx, model.CollectionVehicles, byVehicle, health("7", model.HealthHealthy, "t1")), convey.ShouldBeNil)

			got := map[string]map[string]any{}
			for len(got) < 2 {
				select {
				case msg := <-msgs:
					var body map[string]any
					convey.So(json.Unmarshal([]byte(msg.Payload), &body), convey.ShouldBeNil)
					got[msg.Channel] = body
				case <-time.After(2 * time.Second):
					t.Fatal("timed out waiting for published messages")
				}
			}
			convey.So(got[m.AlertsChannel()]["rule"], convey.ShouldEqual, "vibration_brake_combo")
			convey.So(got[m.HealthChannel()]["healthState"], convey.ShouldEqual, "healthy")
		})

		convey.Convey("A failed mirror write never serves the older state", func() {
			convey.So(m.Upsert(ctx, model.CollectionVehicles, byVehicle, health("7", model.HealthGrounded, "t1")), convey.ShouldBeNil)

			mr.SetError("READONLY unavailable")
			convey.So(m.Upsert(ctx, model.CollectionVehicles, byVehicle, health("7", model.HealthHealthy, "t2")), convey.ShouldBeNil)
			mr.SetError("")

			doc, err := m.FindLatest(ctx, model.CollectionVehicles, byVehicle, "")
			convey.So(err, convey.ShouldBeNil)
			convey.So(doc["healthState"], convey.ShouldEqual, "healthy")

			convey.Convey("and the hash is used again after a successful write", func() {
				convey.So(m.Upsert(ctx, model.CollectionVehicles, byVehicle, health("7", model.HealthWarning, "t3")), convey.ShouldBeNil)
				mr.HSet(m.HealthKey("7"), "document", `{"vehicleId":"7","healthState":"critical"}`)

				doc, err := m.FindLatest(ctx, model.CollectionVehicles, byVehicle, "")
				convey.So(err, convey.ShouldBeNil)
				convey.So(doc["healthState"], convey.ShouldEqual, "critical")
			})
		})

		convey.Convey("A dropped hash falls back to the wrapped store", func() {
			convey.So(m.Upsert(ctx, model.CollectionVehicles, byVehicle, health("7", model.HealthGrounded, "t1")), convey.ShouldBeNil)
			mr.Del(m.HealthKey("7"))

			doc, err := m.FindLatest(ctx, model.CollectionVehicles, byVehicle, "")
			convey.So(err, convey.ShouldBeNil)
			convey.So(doc["healthState"], convey.ShouldEqual, "grounded")
		})

		convey.Convey("Redis read errors fall back to the wrapped store", func() {
			convey.So(m.Upsert(ctx, model.CollectionVehicles, byVehicle, health("7", model.HealthCritical, "t1")), convey.ShouldBeNil)
			mr.SetError("LOADING")
			defer mr.SetError("")

			doc, err := m.FindLatest(ctx, model.CollectionVehicles, byVehicle, "")
			convey.So(err, convey.ShouldBeNil)
			convey.So(doc["healthState"], convey.ShouldEqual, "critical")
		})

		convey.Convey("The hash holds the merged record", func() {
			convey.So(m.Upsert(ctx, model.CollectionVehicles, byVehicle, map[string]any{"vehicleId": "7", "model": "T-1"}), convey.ShouldBeNil)
			convey.So(m.Upsert(ctx, model.CollectionVehicles, byVehicle, health("7", model.HealthCritical, "t1")), convey.ShouldBeNil)

			doc, err := m.FindLatest(ctx, model.CollectionVehicles, byVehicle, "")
			convey.So(err, convey.ShouldBeNil)
			convey.So(doc["model"], convey.ShouldEqual, "T-1")
			convey.So(doc["healthState"], convey.ShouldEqual, "critical")
		})

		convey.Convey("Deleting a vehicle drops its hash", func() {
			convey.So(m.Upsert(ctx, model.CollectionVehicles, byVehicle, health("7", model.HealthGrounded, "t1")), convey.ShouldBeNil)
			n, err := repository.Delete(ctx, m, model.CollectionVehicles, byVehicle)
			convey.So(err, convey.ShouldBeNil)
			convey.So(n, convey.ShouldEqual, 1)
			convey.So(mr.Exists(m.HealthKey("7")), convey.ShouldBeFalse)

			_, err = m.FindLatest(ctx, model.CollectionVehicles, byVehicle, "")
			convey.So(err, convey.ShouldEqual, repository.ErrNotFound)
		})

		convey.Convey("Alert publish failures do not fail the insert", func() {
			mr.SetError("LOADING")
			defer mr.SetError("")
			convey.So(m.Insert(ctx, model.CollectionAlerts, alert("7", "t1", "a")), convey.ShouldBeNil)
			convey.So(mem.Count(model.CollectionAlerts), convey.ShouldEqual, 1)
		})
	})
}
