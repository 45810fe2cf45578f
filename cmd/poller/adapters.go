package main

import (
	"time"

	"siri-poller/internal/metrics"
	"siri-poller/internal/poller"
	"siri-poller/internal/publisher"
	"siri-poller/internal/snapshot"
)

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()  { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc() { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}

func wrapPollerMetrics(c *metrics.Collector) poller.Metrics {
	if c == nil {
		return nil
	}
	return c
}

func wrapSnapshotMetrics(c *metrics.Collector) snapshot.Metrics {
	if c == nil {
		return nil
	}
	return &snapMetrics{c: c}
}

type snapMetrics struct{ c *metrics.Collector }

func (s *snapMetrics) ObserveDropped(field string) { s.c.ObserveDropped(field) }
func (s *snapMetrics) ObservePass(snap snapshot.Snapshot, d time.Duration) {
	s.c.ObservePassTotals(len(snap.Lines), snap.Vehicles(), snap.Failed, snap.Incomplete, d, snap.CompletedAt)
}
