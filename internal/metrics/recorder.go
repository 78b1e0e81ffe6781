package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage labels.
const (
	StageImport = "import"
	StageDiff   = "diff"
	StageExport = "export"
)

// Recorder holds the service's Prometheus collectors. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	reg              *prom.Registry
	duration         *prom.HistogramVec
	results          *prom.CounterVec
	tempFilesLive    prom.Gauge
	tempFilesRemoved prom.Counter
}

// NewRecorder registers the collectors on reg, or on a fresh registry when reg
// is nil.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		reg: reg,
		duration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "docdiff",
			Name:      "conversion_duration_seconds",
			Help:      "Duration of conversion stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage", "format", "result"}),
		results: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docdiff",
			Name:      "conversions_total",
			Help:      "Conversion stage outcomes",
		}, []string{"stage", "format", "result"}),
		tempFilesLive: prom.NewGauge(prom.GaugeOpts{
			Namespace: "docdiff",
			Name:      "temp_files_live",
			Help:      "Export temp files currently on disk",
		}),
		tempFilesRemoved: prom.NewCounter(prom.CounterOpts{
			Namespace: "docdiff",
			Name:      "temp_files_released_total",
			Help:      "Export temp files released",
		}),
	}
	reg.MustRegister(r.duration, r.results, r.tempFilesLive, r.tempFilesRemoved)
	reg.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	return r
}

// ObserveStage records the duration and outcome of one stage run.
func (r *Recorder) ObserveStage(stage, format string, d time.Duration, err error) {
	if r == nil {
		return
	}
	res := "success"
	if err != nil {
		res = "failed"
	}
	r.duration.WithLabelValues(stage, format, res).Observe(d.Seconds())
	r.results.WithLabelValues(stage, format, res).Inc()
}

// TempFileAcquired counts a new export temp file.
func (r *Recorder) TempFileAcquired() {
	if r == nil {
		return
	}
	r.tempFilesLive.Inc()
}

// TempFileReleased counts a deleted export temp file.
func (r *Recorder) TempFileReleased() {
	if r == nil {
		return
	}
	r.tempFilesLive.Dec()
	r.tempFilesRemoved.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.HandlerFor(prom.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
