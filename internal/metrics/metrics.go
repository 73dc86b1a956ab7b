package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "traffic"

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	framesCaptured *prometheus.CounterVec
	framesDropped  *prometheus.CounterVec
	readFailures   *prometheus.CounterVec
	reconnects     *prometheus.CounterVec
	sourceFPS      *prometheus.GaugeVec
	sourceUp       *prometheus.GaugeVec
	leakedLoops    prometheus.Counter

	crossings          *prometheus.CounterVec
	persistFailures    prometheus.Counter
	platesPersisted    *prometheus.CounterVec
	platesDeduplicated prometheus.Counter
	processingLatency  prometheus.Histogram
	detectorErrors     prometheus.Counter

	syncPasses          *prometheus.CounterVec
	syncUploaded        *prometheus.CounterVec
	syncDuration        prometheus.Histogram
	syncConsecutiveFail prometheus.Gauge
	unsynced            prometheus.Gauge
	retentionDeleted    *prometheus.CounterVec

	viewers prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesCaptured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_captured_total",
			Help: "Frames read from a source and published.",
		}, []string{"source"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_dropped_total",
			Help: "Unconsumed frames overwritten by a newer one.",
		}, []string{"source"}),
		readFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "read_failures_total",
			Help: "Failed or empty frame reads.",
		}, []string{"source"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "source_reconnects_total",
			Help: "Full reopen cycles after repeated read failures.",
		}, []string{"source"}),
		sourceFPS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "source_fps",
			Help: "Measured capture rate over the last second.",
		}, []string{"source"}),
		sourceUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "source_up",
			Help: "1 while the source is reading frames.",
		}, []string{"source"}),
		leakedLoops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "capture_loops_leaked_total",
			Help: "Capture loops still running after the stop timeout.",
		}),
		crossings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "line_crossings_total",
			Help: "Vehicles counted crossing the line.",
		}, []string{"source", "class", "direction"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "persistence_failures_total",
			Help: "Events dropped because the local write rolled back.",
		}),
		platesPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "plates_persisted_total",
			Help: "Plate reads stored after deduplication.",
		}, []string{"source"}),
		platesDeduplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "plates_deduplicated_total",
			Help: "Plate reads suppressed inside the dedup window.",
		}),
		processingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "frame_processing_seconds",
			Help:    "Detector, tracker and counter time per frame.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		detectorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "detector_errors_total",
			Help: "Frames the detector failed on.",
		}),
		syncPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_passes_total",
			Help: "Sync passes by outcome.",
		}, []string{"result"}),
		syncUploaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_uploaded_total",
			Help: "Records written to the remote store.",
		}, []string{"kind"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "sync_pass_seconds",
			Help:    "Duration of a sync pass.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		syncConsecutiveFail: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sync_consecutive_failures",
			Help: "Failed passes since the last clean one.",
		}),
		unsynced: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "unsynced_detections",
			Help: "Detections waiting for upload.",
		}),
		retentionDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "retention_deleted_total",
			Help: "Synced rows removed by retention.",
		}, []string{"kind"}),
		viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "websocket_viewers",
			Help: "Connected websocket viewers.",
		}),
	}

	reg.MustRegister(
		m.framesCaptured, m.framesDropped, m.readFailures, m.reconnects,
		m.sourceFPS, m.sourceUp, m.leakedLoops,
		m.crossings, m.persistFailures, m.platesPersisted, m.platesDeduplicated,
		m.processingLatency, m.detectorErrors,
		m.syncPasses, m.syncUploaded, m.syncDuration, m.syncConsecutiveFail,
		m.unsynced, m.retentionDeleted, m.viewers,
	)
	return m
}

func (m *Metrics) FrameCaptured(source string, dropped bool) {
	if m == nil {
		return
	}
	m.framesCaptured.WithLabelValues(source).Inc()
	if dropped {
		m.framesDropped.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) ReadFailed(source string) {
	if m == nil {
		return
	}
	m.readFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) Reconnected(source string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(source).Inc()
}

// SourceUp records whether a source is currently delivering frames.
func (m *Metrics) SourceUp(source string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.sourceUp.WithLabelValues(source).Set(v)
}

func (m *Metrics) SourceFPS(source string, fps float64) {
	if m == nil {
		return
	}
	m.sourceFPS.WithLabelValues(source).Set(fps)
}

// ForgetSource drops the per-source series of an unregistered source.
func (m *Metrics) ForgetSource(source string) {
	if m == nil {
		return
	}
	m.sourceFPS.DeleteLabelValues(source)
	m.sourceUp.DeleteLabelValues(source)
}

func (m *Metrics) LoopLeaked() {
	if m == nil {
		return
	}
	m.leakedLoops.Inc()
}

func (m *Metrics) Crossing(source, class, direction string) {
	if m == nil {
		return
	}
	m.crossings.WithLabelValues(source, class, direction).Inc()
}

func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func (m *Metrics) PlatePersisted(source string) {
	if m == nil {
		return
	}
	m.platesPersisted.WithLabelValues(source).Inc()
}

func (m *Metrics) PlateDeduplicated() {
	if m == nil {
		return
	}
	m.platesDeduplicated.Inc()
}

func (m *Metrics) FrameProcessed(d time.Duration) {
	if m == nil {
		return
	}
	m.processingLatency.Observe(d.Seconds())
}

func (m *Metrics) DetectorFailed() {
	if m == nil {
		return
	}
	m.detectorErrors.Inc()
}

// SyncPass records the outcome of one sync pass.
func (m *Metrics) SyncPass(ok bool, detections, plates, summaries int, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.syncPasses.WithLabelValues(result).Inc()
	m.syncUploaded.WithLabelValues("detection").Add(float64(detections))
	m.syncUploaded.WithLabelValues("plate").Add(float64(plates))
	m.syncUploaded.WithLabelValues("summary").Add(float64(summaries))
	m.syncDuration.Observe(d.Seconds())
}

func (m *Metrics) SyncConsecutiveFailures(n int) {
	if m == nil {
		return
	}
	m.syncConsecutiveFail.Set(float64(n))
}

func (m *Metrics) Unsynced(n int64) {
	if m == nil {
		return
	}
	m.unsynced.Set(float64(n))
}

func (m *Metrics) RetentionDeleted(kind string, n int64) {
	if m == nil {
		return
	}
	m.retentionDeleted.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) Viewers(n int) {
	if m == nil {
		return
	}
	m.viewers.Set(float64(n))
}
