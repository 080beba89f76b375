package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type prometheusObserver struct{}

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealflow_jobs_processed_total",
		Help: "Jobs completed without error, per queue",
	}, []string{"queue"})
	jobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealflow_jobs_failed_total",
		Help: "Jobs that returned an error or panicked, per queue",
	}, []string{"queue"})
	jobDuration = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name: "dealflow_job_duration_seconds",
		Help: "Handler duration, per queue",
	}, []string{"queue"})
	emailsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dealflow_emails_sent_total",
		Help: "Outbound emails confirmed delivered",
	})
	dispatchDeferred = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealflow_dispatch_deferred_total",
		Help: "Dispatch attempts deferred without sending, by reason",
	}, []string{"reason"})
	classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealflow_classifications_total",
		Help: "Classification pipeline outcomes",
	}, []string{"outcome"})
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dealflow_queue_depth",
		Help: "Queue entries by status",
	}, []string{"status"})
)

func NewPrometheusObserver() Observer {
	return &prometheusObserver{}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (p *prometheusObserver) JobProcessed(queue string, elapsed time.Duration) {
	jobsProcessed.WithLabelValues(queue).Inc()
	jobDuration.WithLabelValues(queue).Observe(elapsed.Seconds())
}

func (p *prometheusObserver) JobFailed(queue string) {
	jobsFailed.WithLabelValues(queue).Inc()
}

func (p *prometheusObserver) EmailSent() {
	emailsSent.Inc()
}

func (p *prometheusObserver) DispatchDeferred(reason string) {
	dispatchDeferred.WithLabelValues(reason).Inc()
}

func (p *prometheusObserver) ClassificationResult(outcome string) {
	classifications.WithLabelValues(outcome).Inc()
}

func (p *prometheusObserver) SetQueueDepth(status string, n float64) {
	queueDepth.WithLabelValues(status).Set(n)
}
