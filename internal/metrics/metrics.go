// Package metrics exposes cycle health for node_exporter textfile collector.
// The agent has no listening socket; metrics are written to a file after each cycle.
package metrics

import (
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "logger_lora"

const (
	ResultSuccess = "success"
	ResultEmpty   = "empty"
	ResultSkip    = "skip"
	ResultFailure = "failure"
)

// Metrics methods are safe on nil receiver, which disables collection.
type Metrics struct {
	reg      *prometheus.Registry
	textfile string

	cycles        *prometheus.CounterVec
	committed     prometheus.Counter
	chunks        prometheus.Counter
	watermark     prometheus.Gauge
	failures      prometheus.Gauge
	rebootTally   prometheus.Gauge
	duration      prometheus.Histogram
	errorsLogged  prometheus.Counter
	lastSuccessTs prometheus.Gauge
}

func New(textfile string) *Metrics {
	self := &Metrics{
		reg:      prometheus.NewRegistry(),
		textfile: textfile,
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Acquisition cycles by result.",
		}, []string{"result"}),
		committed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_committed_total",
			Help:      "Readings durably stored.",
		}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uplink_chunks_total",
			Help:      "Uplink chunks sent.",
		}),
		watermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watermark_timestamp_seconds",
			Help:      "Timestamp of most recent committed reading.",
		}),
		failures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_failures",
			Help:      "Failed cycles since last success.",
		}),
		rebootTally: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reboot_tally",
			Help:      "Reboot requests since last reset.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one cycle including uplink pacing.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		errorsLogged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_logged_total",
			Help:      "Error level log lines.",
		}),
		lastSuccessTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Time of last successful cycle.",
		}),
	}
	self.reg.MustRegister(self.cycles, self.committed, self.chunks, self.watermark,
		self.failures, self.rebootTally, self.duration, self.errorsLogged, self.lastSuccessTs)
	return self
}

func (self *Metrics) Registry() *prometheus.Registry {
	if self == nil {
		return nil
	}
	return self.reg
}

type Cycle struct {
	Result    string
	Duration  time.Duration
	Committed int
	Chunks    int
	Watermark time.Time
	Failures  int
	Tally     int
	At        time.Time
}

func (self *Metrics) ObserveCycle(c Cycle) {
	if self == nil {
		return
	}
	self.cycles.WithLabelValues(c.Result).Inc()
	self.duration.Observe(c.Duration.Seconds())
	self.committed.Add(float64(c.Committed))
	self.chunks.Add(float64(c.Chunks))
	if !c.Watermark.IsZero() {
		self.watermark.Set(float64(c.Watermark.Unix()))
	}
	self.failures.Set(float64(c.Failures))
	self.rebootTally.Set(float64(c.Tally))
	if c.Result == ResultSuccess || c.Result == ResultEmpty {
		self.lastSuccessTs.Set(float64(c.At.Unix()))
	}
}

// ErrorFunc is log2.ErrorFunc compatible.
func (self *Metrics) ErrorFunc(error) {
	if self == nil {
		return
	}
	self.errorsLogged.Inc()
}

// Flush writes textfile atomically. No-op without configured path.
func (self *Metrics) Flush() error {
	if self == nil || self.textfile == "" {
		return nil
	}
	return errors.Annotatef(prometheus.WriteToTextfile(self.textfile, self.reg), "metrics textfile=%s", self.textfile)
}
