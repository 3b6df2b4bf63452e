package stats

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gochat"

const (
	ActiveConnections = "active_connections"
	OnlineUsers       = "online_users"
)

// Message outcomes recorded by RecordMessage.
const (
	OutcomeAccepted    = "accepted"
	OutcomeDirect      = "direct"
	OutcomeBlocked     = "blocked"
	OutcomeSpam        = "spam"
	OutcomeRateLimited = "rate_limited"
	OutcomeInvalid     = "invalid"
	OutcomeFailed      = "failed"
)

type StatsProvider interface {
	RegisterMetric(name, help string)
	Incr(name string)
	Decr(name string)
	RecordMessage(outcome string)
}

// StatsUpdater keeps its collectors on a private registry so several
// instances can coexist in one process.
type StatsUpdater struct {
	registry *prometheus.Registry
	messages *prometheus.CounterVec

	mu     sync.RWMutex
	gauges map[string]prometheus.Gauge
}

func NewStatsUpdater() *StatsUpdater {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	su := &StatsUpdater{
		registry: reg,
		gauges:   make(map[string]prometheus.Gauge),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound chat messages by outcome",
		}, []string{"outcome"}),
	}
	reg.MustRegister(su.messages)

	return su
}

// RegisterMetric creates a gauge. Registering the same name twice is a no-op.
func (su *StatsUpdater) RegisterMetric(name, help string) {
	su.mu.Lock()
	defer su.mu.Unlock()

	if _, ok := su.gauges[name]; ok {
		return
	}

	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
	su.registry.MustRegister(g)
	su.gauges[name] = g
}

func (su *StatsUpdater) Incr(name string) {
	su.gauge(name).Inc()
}

func (su *StatsUpdater) Decr(name string) {
	su.gauge(name).Dec()
}

func (su *StatsUpdater) RecordMessage(outcome string) {
	su.messages.WithLabelValues(outcome).Inc()
}

func (su *StatsUpdater) gauge(name string) prometheus.Gauge {
	su.mu.RLock()
	defer su.mu.RUnlock()

	g, ok := su.gauges[name]
	if !ok {
		panic("metric not found: " + name)
	}
	return g
}

// Handler serves the registry in the Prometheus exposition format.
func (su *StatsUpdater) Handler() http.Handler {
	return promhttp.HandlerFor(su.registry, promhttp.HandlerOpts{Registry: su.registry})
}
