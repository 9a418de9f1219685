package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Config represents metrics configuration
type Config struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Path    string `mapstructure:"path" yaml:"path" json:"path"`

	// Namespace prefixes every metric name
	Namespace string `mapstructure:"namespace" yaml:"namespace" json:"namespace"`

	// Service information, attached as constant labels
	ServiceName string `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" yaml:"environment" json:"environment"`

	CollectGoMetrics      bool `mapstructure:"collect_go_metrics" yaml:"collect_go_metrics" json:"collect_go_metrics"`
	CollectProcessMetrics bool `mapstructure:"collect_process_metrics" yaml:"collect_process_metrics" json:"collect_process_metrics"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:     true,
		Path:        "/metrics",
		Namespace:   "migration_guard",
		ServiceName: "migration-guard",
		Environment: "production",
	}
}

// Manager owns a private Prometheus registry and the vectors created on it.
// Vectors are created lazily and shared by name.
type Manager struct {
	config   *Config
	registry *prometheus.Registry
	logger   *zap.Logger

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewManager creates a new metrics manager
func NewManager(config *Config, logger *zap.Logger) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := prometheus.NewRegistry()
	if config.CollectGoMetrics {
		registry.MustRegister(collectors.NewGoCollector())
	}
	if config.CollectProcessMetrics {
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	return &Manager{
		config:     config,
		registry:   registry,
		logger:     logger,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (m *Manager) constLabels() prometheus.Labels {
	return prometheus.Labels{
		"service":     m.config.ServiceName,
		"environment": m.config.Environment,
	}
}

// Counter returns the counter vector registered under name, creating it on first use
func (m *Manager) Counter(name, help string, labelNames ...string) *prometheus.CounterVec {
	m.mu.Lock()
	defer m.mu.Unlock()

	if counter, ok := m.counters[name]; ok {
		return counter
	}

	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: m.constLabels(),
		},
		labelNames,
	)
	m.registry.MustRegister(counter)
	m.counters[name] = counter

	return counter
}

// Gauge returns the gauge vector registered under name, creating it on first use
func (m *Manager) Gauge(name, help string, labelNames ...string) *prometheus.GaugeVec {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gauge, ok := m.gauges[name]; ok {
		return gauge
	}

	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   m.config.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: m.constLabels(),
		},
		labelNames,
	)
	m.registry.MustRegister(gauge)
	m.gauges[name] = gauge

	return gauge
}

// Histogram returns the histogram vector registered under name, creating it on first use
func (m *Manager) Histogram(name, help string, buckets []float64, labelNames ...string) *prometheus.HistogramVec {
	m.mu.Lock()
	defer m.mu.Unlock()

	if histogram, ok := m.histograms[name]; ok {
		return histogram
	}
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.config.Namespace,
			Name:        name,
			Help:        help,
			Buckets:     buckets,
			ConstLabels: m.constLabels(),
		},
		labelNames,
	)
	m.registry.MustRegister(histogram)
	m.histograms[name] = histogram

	return histogram
}

// GetRegistry returns the Prometheus registry
func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the registry in the Prometheus text format
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(m.logger),
	})
}
