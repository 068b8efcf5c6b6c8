package database

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// poolMetrics 连接池指标
type poolMetrics struct {
	connections *prometheus.GaugeVec
	created     prometheus.Counter
	leases      prometheus.Counter
	leaks       prometheus.Counter
}

func newPoolMetrics(name string, registerer prometheus.Registerer) (*poolMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	metrics := &poolMetrics{
		connections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: name + "_pool_connections",
				Help: "Number of pooled connections by state",
			},
			[]string{"state"},
		),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Name: name + "_pool_created_total",
			Help: "Total number of physical connections opened by the pool",
		}),
		leases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: name + "_pool_leases_total",
			Help: "Total number of connection leases",
		}),
		leaks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: name + "_pool_leaks_total",
			Help: "Total number of leases held longer than the leak threshold",
		}),
	}

	var err error
	if metrics.connections, err = register(registerer, metrics.connections); err != nil {
		return nil, err
	}
	if metrics.created, err = register(registerer, metrics.created); err != nil {
		return nil, err
	}
	if metrics.leases, err = register(registerer, metrics.leases); err != nil {
		return nil, err
	}
	if metrics.leaks, err = register(registerer, metrics.leaks); err != nil {
		return nil, err
	}
	return metrics, nil
}

// register 注册指标，同名指标已存在时复用已注册的实例
func register[C prometheus.Collector](registerer prometheus.Registerer, c C) (C, error) {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, errors.Wrap(err, "prometheus register failed")
	}
	return c, nil
}

func (m *poolMetrics) setConnections(idle, leased int) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues("idle").Set(float64(idle))
	m.connections.WithLabelValues("leased").Set(float64(leased))
}

func (m *poolMetrics) incCreated() {
	if m != nil {
		m.created.Inc()
	}
}

func (m *poolMetrics) incLeases() {
	if m != nil {
		m.leases.Inc()
	}
}

func (m *poolMetrics) incLeaks() {
	if m != nil {
		m.leaks.Inc()
	}
}
