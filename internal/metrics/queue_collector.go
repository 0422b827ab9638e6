package metrics

import "github.com/prometheus/client_golang/prometheus"

// QueueStats is the part of a queue adapter the collector reads.
type QueueStats interface {
	Len() int
	Capacity() int
}

// QueueCollector reports queue depth at scrape time.
type QueueCollector struct {
	queue QueueStats

	length   *prometheus.Desc
	capacity *prometheus.Desc
}

// NewQueueCollector creates a collector for q.
func NewQueueCollector(q QueueStats) *QueueCollector {
	return &QueueCollector{
		queue: q,
		length: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "length"),
			"Tasks waiting in the indexing queue",
			nil, nil,
		),
		capacity: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "capacity"),
			"Maximum number of tasks the indexing queue holds",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.length
	ch <- c.capacity
}

// Collect implements prometheus.Collector.
func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(
		c.length,
		prometheus.GaugeValue,
		float64(c.queue.Len()),
	)
	ch <- prometheus.MustNewConstMetric(
		c.capacity,
		prometheus.GaugeValue,
		float64(c.queue.Capacity()),
	)
}
