// Package metrics exposes pipeline counters and latencies to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "framestack"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	filesIngested   *prometheus.CounterVec
	ingestDuration  prometheus.Histogram
	blobWrites      *prometheus.CounterVec
	blobWriteBytes  *prometheus.CounterVec
	handlesSigned   *prometheus.CounterVec
	picturesHealed  *prometheus.CounterVec
	picturesReaped  *prometheus.CounterVec
	sweepReclaimed  *prometheus.CounterVec
	compensations   prometheus.Counter
	reclaimDuration prometheus.Histogram
	httpRequests    *prometheus.CounterVec
	httpPanics      prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		filesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_files_total",
			Help:      "Uploaded files by outcome (ingested, failed, healed).",
		}, []string{"outcome"}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_request_duration_seconds",
			Help:      "Wall time of one ingest request.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		blobWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_write_attempts_total",
			Help:      "Blob write attempts by bucket and result.",
		}, []string{"bucket", "result"}),
		blobWriteBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_write_bytes_total",
			Help:      "Bytes written per bucket.",
		}, []string{"bucket"}),
		handlesSigned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handles_signed_total",
			Help:      "Access handles issued by usability.",
		}, []string{"usable"}),
		picturesHealed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pictures_healed_total",
			Help:      "Pictures deleted because a handle was unusable, by path.",
		}, []string{"path"}),
		picturesReaped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pictures_reclaimed_total",
			Help:      "Pictures processed by the reaper by result.",
		}, []string{"result"}),
		sweepReclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_reclaimed_total",
			Help:      "Leftovers removed by the sweep by kind.",
		}, []string{"kind"}),
		compensations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_compensations_total",
			Help:      "Per-file sagas that were rolled back.",
		}),
		reclaimDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reclaim_duration_seconds",
			Help:      "Wall time of one reclaim call.",
			Buckets:   prometheus.DefBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status class.",
		}, []string{"route", "class"}),
		httpPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_panics_total",
			Help:      "Handler panics turned into 500 responses.",
		}),
	}
	reg.MustRegister(
		m.filesIngested,
		m.ingestDuration,
		m.blobWrites,
		m.blobWriteBytes,
		m.handlesSigned,
		m.picturesHealed,
		m.picturesReaped,
		m.sweepReclaimed,
		m.compensations,
		m.reclaimDuration,
		m.httpRequests,
		m.httpPanics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) FileIngested(outcome string) {
	if m == nil {
		return
	}
	m.filesIngested.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveIngest(start time.Time) {
	if m == nil {
		return
	}
	m.ingestDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) BlobWrite(bucket string, ok bool, size int64) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
		m.blobWriteBytes.WithLabelValues(bucket).Add(float64(size))
	}
	m.blobWrites.WithLabelValues(bucket, result).Inc()
}

func (m *Metrics) HandleSigned(usable bool) {
	if m == nil {
		return
	}
	if usable {
		m.handlesSigned.WithLabelValues("true").Inc()
		return
	}
	m.handlesSigned.WithLabelValues("false").Inc()
}

func (m *Metrics) PictureHealed(path string) {
	if m == nil {
		return
	}
	m.picturesHealed.WithLabelValues(path).Inc()
}

func (m *Metrics) PictureReclaimed(full bool) {
	if m == nil {
		return
	}
	if full {
		m.picturesReaped.WithLabelValues("full").Inc()
		return
	}
	m.picturesReaped.WithLabelValues("partial").Inc()
}

func (m *Metrics) SweepReclaimed(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.sweepReclaimed.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) Compensated() {
	if m == nil {
		return
	}
	m.compensations.Inc()
}

func (m *Metrics) ObserveReclaim(start time.Time) {
	if m == nil {
		return
	}
	m.reclaimDuration.Observe(time.Since(start).Seconds())
}

// HTTPRequest counts a finished request. Unmatched routes share one label so
// scanners cannot grow the series set.
func (m *Metrics) HTTPRequest(route string, status int) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status/100)+"xx").Inc()
}

func (m *Metrics) HTTPPanic() {
	if m == nil {
		return
	}
	m.httpPanics.Inc()
}
