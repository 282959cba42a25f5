// Package metrics records store activity. The store reports through Collector;
// Noop is the default and Prometheus exports to a prometheus.Registerer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector receives one call per store operation.
type Collector interface {
	// RecordUpsert is called after each upsert; created is false for updates.
	RecordUpsert(created bool, duration time.Duration, err error)
	RecordDelete(duration time.Duration, err error)
	// RecordSearch is called after each search; mode is "semantic" or "keyword".
	RecordSearch(mode string, k int, duration time.Duration, err error)
	RecordRebuild(rows int, duration time.Duration, err error)
	// SetRows reports the committed row count.
	SetRows(n int)
}

// Noop discards everything.
type Noop struct{}

func (Noop) RecordUpsert(bool, time.Duration, error)        {}
func (Noop) RecordDelete(time.Duration, error)              {}
func (Noop) RecordSearch(string, int, time.Duration, error) {}
func (Noop) RecordRebuild(int, time.Duration, error)        {}
func (Noop) SetRows(int)                                    {}

// Prometheus exports store metrics under the kura_ namespace.
type Prometheus struct {
	opLatency  *prometheus.HistogramVec
	operations *prometheus.CounterVec
	rebuilt    prometheus.Counter
	rows       prometheus.Gauge
}

// NewPrometheus creates the collectors and registers them with reg.
// A nil reg registers with prometheus.DefaultRegisterer.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prometheus{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kura",
			Name:      "operation_duration_seconds",
			Help:      "Latency of store operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kura",
			Name:      "operations_total",
			Help:      "Store operations by kind and outcome",
		}, []string{"op", "status"}),
		rebuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kura",
			Name:      "rebuilt_rows_total",
			Help:      "Rows re-read from vector files by index rebuilds",
		}),
		rows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kura",
			Name:      "rows",
			Help:      "Committed rows in the index and mapping",
		}),
	}
	for _, c := range []prometheus.Collector{p.opLatency, p.operations, p.rebuilt, p.rows} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) observe(op string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.opLatency.WithLabelValues(op, status).Observe(d.Seconds())
	p.operations.WithLabelValues(op, status).Inc()
}

// RecordUpsert implements Collector.
func (p *Prometheus) RecordUpsert(created bool, d time.Duration, err error) {
	op := "update"
	if created {
		op = "create"
	}
	p.observe(op, d, err)
}

// RecordDelete implements Collector.
func (p *Prometheus) RecordDelete(d time.Duration, err error) {
	p.observe("delete", d, err)
}

// RecordSearch implements Collector.
func (p *Prometheus) RecordSearch(mode string, _ int, d time.Duration, err error) {
	p.observe("search_"+mode, d, err)
}

// RecordRebuild implements Collector.
func (p *Prometheus) RecordRebuild(rows int, d time.Duration, err error) {
	p.observe("rebuild", d, err)
	if err == nil {
		p.rebuilt.Add(float64(rows))
	}
}

// SetRows implements Collector.
func (p *Prometheus) SetRows(n int) {
	p.rows.Set(float64(n))
}
