// Package metrics предоставляет систему метрик на основе OpenTelemetry.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics сборщик метрик соединения: запросы, ожидания мьютекса, ошибки.
type Metrics struct {
	meter             metric.Meter
	fetchTotal        metric.Int64Counter
	acquireTotal      metric.Int64Counter
	dispatchTotal     metric.Int64Counter
	fetchDuration     metric.Float64Histogram
	mutexWaitDuration metric.Float64Histogram
	errorsTotal       metric.Int64Counter
	inFlightRequests  metric.Int64UpDownCounter
	heldMutexes       metric.Int64UpDownCounter
	customMetrics     map[string]interface{}
	mu                sync.RWMutex
}

// NewMetrics создает новый сборщик метрик
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("amqpgate")

	fetchTotal, err := meter.Int64Counter(
		"fetch_total",
		metric.WithDescription("Total number of client fetch() calls issued"),
	)
	if err != nil {
		return nil, err
	}

	acquireTotal, err := meter.Int64Counter(
		"mutex_acquire_total",
		metric.WithDescription("Total number of critical_section() acquisitions issued"),
	)
	if err != nil {
		return nil, err
	}

	dispatchTotal, err := meter.Int64Counter(
		"dispatch_total",
		metric.WithDescription("Total number of server-side request dispatches"),
	)
	if err != nil {
		return nil, err
	}

	fetchDuration, err := meter.Float64Histogram(
		"fetch_duration_seconds",
		metric.WithDescription("Round-trip duration of a client fetch() call"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mutexWaitDuration, err := meter.Float64Histogram(
		"mutex_wait_duration_seconds",
		metric.WithDescription("Time spent waiting for a mutex grant"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errorsTotal, err := meter.Int64Counter(
		"errors_total",
		metric.WithDescription("Total number of errors by kind"),
	)
	if err != nil {
		return nil, err
	}

	inFlightRequests, err := meter.Int64UpDownCounter(
		"in_flight_requests",
		metric.WithDescription("Number of requests awaiting a correlated reply"),
	)
	if err != nil {
		return nil, err
	}

	heldMutexes, err := meter.Int64UpDownCounter(
		"held_mutexes",
		metric.WithDescription("Number of mutexes currently granted to a holder"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		meter:             meter,
		fetchTotal:        fetchTotal,
		acquireTotal:      acquireTotal,
		dispatchTotal:     dispatchTotal,
		fetchDuration:     fetchDuration,
		mutexWaitDuration: mutexWaitDuration,
		errorsTotal:       errorsTotal,
		inFlightRequests:  inFlightRequests,
		heldMutexes:       heldMutexes,
		customMetrics:     make(map[string]interface{}),
	}, nil
}

// RecordFetch записывает метрику client.fetch
func (m *Metrics) RecordFetch(ctx context.Context, path string, duration time.Duration, status int) {
	attrs := []attribute.KeyValue{
		attribute.String("path", path),
		attribute.Int("status", status),
	}

	m.fetchTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.fetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if status >= 400 {
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", "fetch"),
			attribute.String("path", path),
		))
	}
}

// RecordAcquire записывает метрику critical_section acquisition
func (m *Metrics) RecordAcquire(ctx context.Context, mutexName string, waited time.Duration, granted bool) {
	attrs := []attribute.KeyValue{
		attribute.String("mutex", mutexName),
		attribute.Bool("granted", granted),
	}

	m.acquireTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.mutexWaitDuration.Record(ctx, waited.Seconds(), metric.WithAttributes(attrs...))

	if !granted {
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", "mutex"),
			attribute.String("mutex", mutexName),
		))
	}
}

// RecordDispatch записывает метрику обработки входящего запроса сервером
func (m *Metrics) RecordDispatch(ctx context.Context, verb, path string, status int) {
	attrs := []attribute.KeyValue{
		attribute.String("verb", verb),
		attribute.String("path", path),
		attribute.Int("status", status),
	}

	m.dispatchTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if status >= 400 {
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", "dispatch"),
			attribute.String("path", path),
		))
	}
}

// IncrementInFlight увеличивает счетчик незавершенных запросов
func (m *Metrics) IncrementInFlight(ctx context.Context) {
	m.inFlightRequests.Add(ctx, 1)
}

// DecrementInFlight уменьшает счетчик незавершенных запросов
func (m *Metrics) DecrementInFlight(ctx context.Context) {
	m.inFlightRequests.Add(ctx, -1)
}

// IncrementHeldMutexes увеличивает счетчик удерживаемых мьютексов
func (m *Metrics) IncrementHeldMutexes(ctx context.Context) {
	m.heldMutexes.Add(ctx, 1)
}

// DecrementHeldMutexes уменьшает счетчик удерживаемых мьютексов
func (m *Metrics) DecrementHeldMutexes(ctx context.Context) {
	m.heldMutexes.Add(ctx, -1)
}

// Register регистрирует кастомную метрику
func (m *Metrics) Register(name string, metric interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customMetrics[name] = metric
	return nil
}

// Unregister удаляет кастомную метрику
func (m *Metrics) Unregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.customMetrics, name)
	return nil
}

// RecordTransport записывает метрику транспортного уровня (dial, link attach)
func (m *Metrics) RecordTransport(ctx context.Context, transportName string, duration time.Duration, success bool) {
	if !success {
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", "transport"),
			attribute.String("transport", transportName),
		))
	}
}

// RecordConnection записывает метрику уровня APIConnection (open/close)
func (m *Metrics) RecordConnection(ctx context.Context, operation string, duration time.Duration, success bool) {
	if !success {
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", "connection"),
			attribute.String("operation", operation),
		))
	}
}
