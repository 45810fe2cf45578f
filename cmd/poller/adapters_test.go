package main

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"siri-poller/internal/metrics"
	"siri-poller/internal/snapshot"
	"siri-poller/internal/vehicle"
)

func TestWrappersAreNilWithoutCollector(t *testing.T) {
	assert.Nil(t, wrapPublisherMetrics(nil))
	assert.Nil(t, wrapPollerMetrics(nil))
	assert.Nil(t, wrapSnapshotMetrics(nil))
}

func TestSnapshotMetricsAdapter(t *testing.T) {
	c := metrics.NewCollector(100, 4, 10)
	m := wrapSnapshotMetrics(c)

	m.ObservePass(snapshot.Snapshot{
		CompletedAt: time.Unix(1710064800, 0),
		Failed:      2,
		Lines: []snapshot.LineResult{
			{Line: "5", Vehicles: []vehicle.Record{{}, {}}},
			{Line: "42A", Vehicles: []vehicle.Record{{}}},
		},
	}, 3*time.Second)
	m.ObserveDropped("VehicleRef")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Passes))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.SnapshotLines))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.SnapshotVehicles))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.SnapshotFailed))
	assert.Equal(t, 1710064800.0, testutil.ToFloat64(c.LastPass))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.VehiclesDropped.WithLabelValues("VehicleRef")))

	pm := wrapPublisherMetrics(c)
	pm.NATSSetConnected(true)
	pm.NATSPublishedInc()
	pm.NATSPublishErrInc()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSPublished))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSPublishErrs))
}
