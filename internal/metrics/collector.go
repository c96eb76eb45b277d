// Package metrics exports scheduler statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/timeline/internal/engine"
)

const namespace = "timeline"

// StatsSource is satisfied by *engine.Scheduler.
type StatsSource interface {
	Stats() engine.Stats
}

// Collector reads a fresh Stats snapshot on every scrape.
type Collector struct {
	src StatsSource

	ticks          *prometheus.Desc
	sweeps         *prometheus.Desc
	actions        *prometheus.Desc
	frameCallbacks *prometheus.Desc
	updates        *prometheus.Desc
	drifts         *prometheus.Desc
	late           *prometheus.Desc
	failures       *prometheus.Desc

	frameInterval *prometheus.Desc
	tickQueueLen  *prometheus.Desc
	frameQueueLen *prometheus.Desc
}

// NewCollector creates a collector over src.
func NewCollector(src StatsSource) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &Collector{
		src:            src,
		ticks:          desc("ticks_total", "Driver ticks handled."),
		sweeps:         desc("sweeps_total", "Queue sweeps run."),
		actions:        desc("actions_total", "Actions dequeued and run."),
		frameCallbacks: desc("frame_callbacks_total", "Frame queue callbacks run."),
		updates:        desc("updates_total", "Cross-thread updates applied."),
		drifts:         desc("drift_corrections_total", "Master clock fast-forwards after a stall."),
		late:           desc("late_events_total", "Fires and delays that ran after their scheduled time."),
		failures:       desc("sweep_failures_total", "Aborted sweeps."),
		frameInterval:  desc("frame_interval_seconds", "Filtered estimate of the driver interval."),
		tickQueueLen:   desc("tick_queue_length", "Actions waiting in the tick queue."),
		frameQueueLen:  desc("frame_queue_length", "Callbacks waiting in the frame queue."),
	}
}

// Register creates a collector over src and registers it with reg.
func Register(reg prometheus.Registerer, src StatsSource) (*Collector, error) {
	c := NewCollector(src)
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.ticks, c.sweeps, c.actions, c.frameCallbacks, c.updates,
		c.drifts, c.late, c.failures,
		c.frameInterval, c.tickQueueLen, c.frameQueueLen,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Stats()

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	counter(c.ticks, st.Ticks)
	counter(c.sweeps, st.Sweeps)
	counter(c.actions, st.Actions)
	counter(c.frameCallbacks, st.FrameCallbacks)
	counter(c.updates, st.Updates)
	counter(c.drifts, st.DriftCorrections)
	counter(c.late, st.LateEvents)
	counter(c.failures, st.Failures)

	gauge(c.frameInterval, st.FrameInterval)
	gauge(c.tickQueueLen, float64(st.TickQueueLen))
	gauge(c.frameQueueLen, float64(st.FrameQueueLen))
}
