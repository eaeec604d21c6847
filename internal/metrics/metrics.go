// Package metrics exposes the bot's Prometheus metrics. One Manager
// implements every observer interface the components accept.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/benno1237/bennos-cogs/internal/transport/router"
)

type Option func(*Manager)

func WithNamespace(ns string) Option { return func(m *Manager) { m.namespace = ns } }

// WithRegistry registers on reg instead of a fresh private registry.
func WithRegistry(reg *prometheus.Registry) Option { return func(m *Manager) { m.registry = reg } }

// WithRuntimeCollectors adds the Go and process collectors.
func WithRuntimeCollectors() Option { return func(m *Manager) { m.runtime = true } }

type Manager struct {
	namespace string
	registry  *prometheus.Registry
	runtime   bool

	tasks            *prometheus.GaugeVec
	polls            *prometheus.CounterVec
	refreshes        prometheus.Counter
	requests         *prometheus.CounterVec
	birthdayFires    prometheus.Counter
	birthdayAnnounce prometheus.Counter
	commands         *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	catalogKeys      prometheus.Gauge
}

func New(opts ...Option) *Manager {
	m := &Manager{namespace: "cogs"}
	for _, o := range opts {
		o(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}
	if m.runtime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m.init()
	return m
}

func (m *Manager) init() {
	auto := promauto.With(m.registry)
	m.tasks = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "autostats",
		Name:      "tasks",
		Help:      "Running autostats tasks by credential scope",
	}, []string{"scope"})
	m.polls = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "autostats",
		Name:      "polls_total",
		Help:      "Autostats polls by outcome",
	}, []string{"result"})
	m.refreshes = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "autostats",
		Name:      "refreshes_total",
		Help:      "Card batches re-posted after a change",
	})
	m.requests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "hypixel",
		Name:      "requests_total",
		Help:      "Remote API requests by endpoint and HTTP status (0 = no response)",
	}, []string{"endpoint", "code"})
	m.birthdayFires = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "birthday",
		Name:      "fires_total",
		Help:      "Guild midnight firings",
	})
	m.birthdayAnnounce = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "birthday",
		Name:      "announcements_total",
		Help:      "Birthdays announced",
	})
	m.commands = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "commands_total",
		Help:      "Chat commands by result",
	}, []string{"command", "result"})
	m.commandDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "command_duration_seconds",
		Help:      "Chat command latency",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"command"})
	m.catalogKeys = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "hypixel",
		Name:      "catalog_keys",
		Help:      "Known stats field keys across all modes",
	})
}

// Registry is the registry the metrics live on.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Manager) ObserveTasks(scope string, n int) { m.tasks.WithLabelValues(scope).Set(float64(n)) }
func (m *Manager) ObservePoll(result string)        { m.polls.WithLabelValues(result).Inc() }
func (m *Manager) ObserveRefresh()                  { m.refreshes.Inc() }
func (m *Manager) ObserveCatalog(keys int)          { m.catalogKeys.Set(float64(keys)) }

func (m *Manager) ObserveRequest(endpoint string, status int) {
	m.requests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

func (m *Manager) ObserveBirthdayFire(announced int) {
	m.birthdayFires.Inc()
	m.birthdayAnnounce.Add(float64(announced))
}

func (m *Manager) ObserveCommand(cmd string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		var ue *router.UserError
		if errors.As(err, &ue) {
			result = "user_error"
		}
	}
	m.commands.WithLabelValues(cmd, result).Inc()
	m.commandDuration.WithLabelValues(cmd).Observe(d.Seconds())
}
