// Package metrics collects Prometheus metrics for the session, the scheduler,
// searches, greetings and the HTTP transport.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zhipin_responder"

// Collector implements the recorder interfaces of session, scheduler,
// search, greeting and server.
type Collector struct {
	permits      *prometheus.CounterVec
	permitWait   *prometheus.HistogramVec
	transitions  *prometheus.CounterVec
	sessionState *prometheus.GaugeVec
	searchPages  prometheus.Counter
	postings     prometheus.Counter
	greetings    *prometheus.CounterVec
	requests     *prometheus.CounterVec
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		permits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permits_granted_total",
			Help:      "Scheduler permits granted by action class.",
		}, []string{"class"}),
		permitWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "permit_wait_seconds",
			Help:      "Time spent waiting for a scheduler permit, jitter included.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"class"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session state transitions.",
		}, []string{"from", "to"}),
		sessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current session state, 0 for the others.",
		}, []string{"state"}),
		searchPages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_pages_total",
			Help:      "Search result pages fetched.",
		}),
		postings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_postings_total",
			Help:      "Postings found on fetched search pages, duplicates included.",
		}),
		greetings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "greetings_total",
			Help:      "Greeting records by outcome.",
		}, []string{"outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served by route and status code.",
		}, []string{"route", "code"}),
	}

	reg.MustRegister(
		c.permits,
		c.permitWait,
		c.transitions,
		c.sessionState,
		c.searchPages,
		c.postings,
		c.greetings,
		c.requests,
	)

	return c
}

func (c *Collector) RecordPermit(class string, waited time.Duration) {
	c.permits.WithLabelValues(class).Inc()
	c.permitWait.WithLabelValues(class).Observe(waited.Seconds())
}

func (c *Collector) SessionTransition(from, to string) {
	c.transitions.WithLabelValues(from, to).Inc()
	c.sessionState.WithLabelValues(from).Set(0)
	c.sessionState.WithLabelValues(to).Set(1)
}

func (c *Collector) SearchPage(found int) {
	c.searchPages.Inc()
	c.postings.Add(float64(found))
}

func (c *Collector) GreetingOutcome(outcome string) {
	c.greetings.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordRequest(route string, status int) {
	c.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
