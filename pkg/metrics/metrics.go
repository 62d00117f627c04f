package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the crawler.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	PagesDownloaded    prometheus.Counter
	FetchFailures      *prometheus.CounterVec
	Retries            prometheus.Counter
	DeadLetters        prometheus.Counter
	ExtractFailures    prometheus.Counter
	FrontierSize       prometheus.Gauge
	VisitedSize        prometheus.Gauge
	RenderDuration     prometheus.Histogram
	CheckpointDuration prometheus.Histogram
}

// New registers the crawler metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		PagesDownloaded: f.NewCounter(prometheus.CounterOpts{
			Name: "crawler_pages_downloaded_total",
			Help: "Pages rendered and archived.",
		}),
		FetchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_failures_total",
			Help: "Failed render attempts.",
		}, []string{"kind"}), // not_found, timeout, transport
		Retries: f.NewCounter(prometheus.CounterOpts{
			Name: "crawler_retries_total",
			Help: "URLs re-enqueued after a failed render.",
		}),
		DeadLetters: f.NewCounter(prometheus.CounterOpts{
			Name: "crawler_dead_letters_total",
			Help: "URLs abandoned after exhausting the retry budget.",
		}),
		ExtractFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "crawler_extract_failures_total",
			Help: "Pages whose links could not be extracted.",
		}),
		FrontierSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_frontier_size",
			Help: "URLs pending a visit.",
		}),
		VisitedSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_visited_size",
			Help: "URLs already downloaded.",
		}),
		RenderDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_render_duration_seconds",
			Help:    "Duration of page renders.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 15, 30, 60},
		}),
		CheckpointDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_checkpoint_save_duration_seconds",
			Help:    "Duration of checkpoint saves.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
}

func (m *Metrics) ObserveRender(d time.Duration) {
	m.RenderDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveCheckpoint(d time.Duration) {
	m.CheckpointDuration.Observe(d.Seconds())
}

// SetQueueSizes updates the frontier and visited gauges.
func (m *Metrics) SetQueueSizes(frontier, visited int) {
	m.FrontierSize.Set(float64(frontier))
	m.VisitedSize.Set(float64(visited))
}
