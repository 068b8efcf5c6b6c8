package orm

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// managerMetrics 管理器操作指标
type managerMetrics struct {
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	activeOperations  *prometheus.GaugeVec
	deniedRows        prometheus.Counter
}

func newManagerMetrics(name string, registerer prometheus.Registerer) (*managerMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	metrics := &managerMetrics{
		operationCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_orm_operations_total",
				Help: "Total number of orm operations",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_orm_operation_duration_seconds",
				Help:    "Duration of orm operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"operation"},
		),
		activeOperations: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: name + "_orm_active_operations",
				Help: "Number of active orm operations",
			},
			[]string{"operation"},
		),
		deniedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: name + "_orm_denied_rows_total",
			Help: "Total number of query rows skipped by the permission manager",
		}),
	}

	var err error
	if metrics.operationCounter, err = register(registerer, metrics.operationCounter); err != nil {
		return nil, err
	}
	if metrics.operationDuration, err = register(registerer, metrics.operationDuration); err != nil {
		return nil, err
	}
	if metrics.activeOperations, err = register(registerer, metrics.activeOperations); err != nil {
		return nil, err
	}
	if metrics.deniedRows, err = register(registerer, metrics.deniedRows); err != nil {
		return nil, err
	}
	return metrics, nil
}

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

func (m *managerMetrics) incDenied() {
	if m != nil {
		m.deniedRows.Inc()
	}
}

// observe 统一的操作观测：span、指标和日志
func (m *Manager) observe(ctx context.Context, operation string, fn func(context.Context) error) error {
	start := time.Now()

	var span trace.Span
	if m.tracer != nil {
		ctx, span = m.tracer.Start(ctx, "orm."+operation,
			trace.WithAttributes(
				attribute.String("component", m.options.Name),
				attribute.String("operation", operation),
			),
		)
		defer span.End()
	}

	if m.metrics != nil {
		m.metrics.activeOperations.WithLabelValues(operation).Inc()
		defer m.metrics.activeOperations.WithLabelValues(operation).Dec()
	}

	err := fn(ctx)
	duration := time.Since(start)

	if span != nil {
		span.SetAttributes(attribute.Int64("duration_ms", duration.Milliseconds()))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if m.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		m.metrics.operationCounter.WithLabelValues(operation, status).Inc()
		m.metrics.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	}

	if err != nil {
		m.logger.WarnContext(ctx, "operation failed", "operation", operation, "duration", duration.String(), "error", err.Error())
	} else {
		m.logger.DebugContext(ctx, "operation completed", "operation", operation, "duration", duration.String())
	}
	return err
}
