package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/DataExMachina-dev/perfcapture-go/internal/buffer"
)

const namespace = "perfcapture"

// Collector holds Prometheus metrics collectors
type Collector struct {
	drainedBytes  *prometheus.CounterVec
	drainsTotal   *prometheus.CounterVec
	drainErrors   *prometheus.CounterVec
	drainDuration prometheus.Histogram
}

// NewCollector creates the session metrics on reg. stats is called at scrape
// time to export the buffers' own counters.
func NewCollector(reg prometheus.Registerer, stats func() []buffer.Stats) *Collector {
	f := promauto.With(reg)
	c := &Collector{
		drainedBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drained_bytes_total",
				Help:      "Total number of bytes drained from capture buffers",
			},
			[]string{"core", "channel"},
		),
		drainsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drains_total",
				Help:      "Total number of drain calls that moved data",
			},
			[]string{"core", "channel"},
		),
		drainErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drain_errors_total",
				Help:      "Total number of drains that failed to send",
			},
			[]string{"core", "channel"},
		),
		drainDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "drain_pass_duration_seconds",
				Help:      "Duration of one pass draining every buffer",
				Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
			},
		),
	}
	if reg != nil && stats != nil {
		reg.MustRegister(newBufferCollector(stats))
	}
	return c
}

func labels(core, channel int32) []string {
	return []string{strconv.Itoa(int(core)), strconv.Itoa(int(channel))}
}

// ObserveDrain records one drain of the buffer for (core, channel).
func (c *Collector) ObserveDrain(core, channel int32, n int, err error) {
	l := labels(core, channel)
	if err != nil {
		c.drainErrors.WithLabelValues(l...).Inc()
	}
	if n > 0 {
		c.drainsTotal.WithLabelValues(l...).Inc()
		c.drainedBytes.WithLabelValues(l...).Add(float64(n))
	}
}

// ObserveDrainPass records the duration of a drain pass in seconds.
func (c *Collector) ObserveDrainPass(seconds float64) {
	c.drainDuration.Observe(seconds)
}

// bufferCollector exports buffer.Stats at scrape time.
type bufferCollector struct {
	stats    func() []buffer.Stats
	dropped  *prometheus.Desc
	waits    *prometheus.Desc
	used     *prometheus.Desc
	capacity *prometheus.Desc
}

func newBufferCollector(stats func() []buffer.Stats) *bufferCollector {
	l := []string{"core", "channel"}
	return &bufferCollector{
		stats: stats,
		dropped: prometheus.NewDesc(namespace+"_dropped_records_total",
			"Block counter records dropped for lack of buffer space", l, nil),
		waits: prometheus.NewDesc(namespace+"_producer_waits_total",
			"Times a producer waited for buffer space", l, nil),
		used: prometheus.NewDesc(namespace+"_buffer_used_bytes",
			"Bytes held in the buffer, committed or not", l, nil),
		capacity: prometheus.NewDesc(namespace+"_buffer_capacity_bytes",
			"Buffer capacity", l, nil),
	}
}

func (c *bufferCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.dropped
	ch <- c.waits
	ch <- c.used
	ch <- c.capacity
}

func (c *bufferCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.stats() {
		l := labels(s.Core, s.Channel)
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.Dropped), l...)
		ch <- prometheus.MustNewConstMetric(c.waits, prometheus.CounterValue, float64(s.Waits), l...)
		ch <- prometheus.MustNewConstMetric(c.used, prometheus.GaugeValue, float64(s.Ring.Used()), l...)
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(s.Ring.Capacity), l...)
	}
}
