package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/echobridge/alexaremote/internal/common/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry    *prometheus.Registry
	namespace   string
	reqCnt      *prometheus.CounterVec
	reqDur      *prometheus.HistogramVec
	reqRetries  prometheus.Counter
	redirects   prometheus.Counter
	queueDepth  prometheus.Gauge
	batchSize   *prometheus.HistogramVec
	batchDrains *prometheus.CounterVec
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	r := prometheus.NewRegistry()
	// Register standard process and Go collectors
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	reqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "requests_total"}, []string{"method", "status"})
	reqDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "request_duration_seconds", Buckets: cfg.Buckets}, []string{"method"})
	reqRetries := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "request_retries_total"})
	redirects := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "request_redirects_total"})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "request_queue_depth"})
	r.MustRegister(reqCnt, reqDur, reqRetries, redirects, queueDepth)

	batchSize := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "batch_devices", Buckets: []float64{1, 2, 3, 5, 8, 13}}, []string{"queue"})
	batchDrains := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "batch_drains_total"}, []string{"queue"})
	r.MustRegister(batchSize, batchDrains)

	return &Metrics{
		registry:    r,
		namespace:   ns,
		reqCnt:      reqCnt,
		reqDur:      reqDur,
		reqRetries:  reqRetries,
		redirects:   redirects,
		queueDepth:  queueDepth,
		batchSize:   batchSize,
		batchDrains: batchDrains,
	}
}

// ReqDone records one dispatched request, status 0 meaning a transport error.
func (m *Metrics) ReqDone(method string, status int, since time.Time) {
	m.reqCnt.WithLabelValues(method, httpStatus(status)).Inc()
	m.reqDur.WithLabelValues(method).Observe(time.Since(since).Seconds())
}

func (m *Metrics) ReqRetried()      { m.reqRetries.Inc() }
func (m *Metrics) Redirected()      { m.redirects.Inc() }
func (m *Metrics) QueueDepth(n int) { m.queueDepth.Set(float64(n)) }
func (m *Metrics) BatchDrained(queue string, devices int) {
	m.batchDrains.WithLabelValues(queue).Inc()
	m.batchSize.WithLabelValues(queue).Observe(float64(devices))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func httpStatus(code int) string { return strconv.Itoa(code) }
