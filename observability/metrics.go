package observability

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName scopes the OpenTelemetry instruments exported by the engine.
const meterName = "dscengine/engine"

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics

	feedMetricsOnce sync.Once
	feedRegistry    *FeedMetrics
)

// ModuleMetrics returns the lazily-initialised metrics registry used to record
// HTTP API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dsc",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dsc",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dsc",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dsc",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// EngineMetrics tracks engine operations and system-wide debt. Operation and
// liquidation counts are exported both to Prometheus and through the global
// OpenTelemetry meter provider.
type EngineMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	liquidations *prometheus.CounterVec
	totalDebt    prometheus.Gauge
	candidates   prometheus.Gauge

	instruments engineInstruments
}

// engineInstruments are the OpenTelemetry counterparts of the Prometheus
// engine series. A zero value records nothing.
type engineInstruments struct {
	operations   metric.Int64Counter
	duration     metric.Float64Histogram
	liquidations metric.Int64Counter
}

func newEngineInstruments(meter metric.Meter) (engineInstruments, error) {
	var (
		inst engineInstruments
		err  error
	)
	inst.operations, err = meter.Int64Counter("dsc.engine.operations",
		metric.WithDescription("Engine operations by operation and outcome."))
	if err != nil {
		return engineInstruments{}, err
	}
	inst.duration, err = meter.Float64Histogram("dsc.engine.operation.duration",
		metric.WithDescription("Engine operation latency."),
		metric.WithUnit("s"))
	if err != nil {
		return engineInstruments{}, err
	}
	inst.liquidations, err = meter.Int64Counter("dsc.engine.liquidations",
		metric.WithDescription("Completed liquidations by collateral asset."))
	if err != nil {
		return engineInstruments{}, err
	}
	return inst, nil
}

func (i engineInstruments) observe(operation, outcome string, duration time.Duration) {
	if i.operations == nil {
		return
	}
	ctx := context.Background()
	i.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome)))
	i.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("operation", operation)))
}

func (i engineInstruments) liquidation(asset string) {
	if i.liquidations == nil {
		return
	}
	i.liquidations.Add(context.Background(), 1, metric.WithAttributes(attribute.String("asset", asset)))
}

// Engine returns the singleton engine metrics registry.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dsc",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Count of engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dsc",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dsc",
				Subsystem: "engine",
				Name:      "liquidations_total",
				Help:      "Count of completed liquidations segmented by collateral asset.",
			}, []string{"asset"}),
			totalDebt: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "dsc",
				Subsystem: "engine",
				Name:      "stablecoin_supply",
				Help:      "Outstanding stablecoin supply in whole units.",
			}),
			candidates: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "dsc",
				Subsystem: "engine",
				Name:      "liquidation_candidates",
				Help:      "Accounts below the minimum health factor at the last scan.",
			}),
		}
		if inst, err := newEngineInstruments(otel.Meter(meterName)); err == nil {
			engineRegistry.instruments = inst
		}
		prometheus.MustRegister(
			engineRegistry.operations,
			engineRegistry.latency,
			engineRegistry.liquidations,
			engineRegistry.totalDebt,
			engineRegistry.candidates,
		)
	})
	return engineRegistry
}

// Observe records the outcome of one engine operation. The outcome label is
// the reason extracted from err, or "success".
func (m *EngineMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := OutcomeLabel(err)
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
	m.instruments.observe(op, outcome, duration)
}

// RecordLiquidation increments the liquidation counter for asset.
func (m *EngineMetrics) RecordLiquidation(asset string) {
	if m == nil {
		return
	}
	label := labelAsset(asset)
	m.liquidations.WithLabelValues(label).Inc()
	m.instruments.liquidation(label)
}

// SetSupply publishes the outstanding stablecoin supply given in 18 decimal
// base units.
func (m *EngineMetrics) SetSupply(supply *big.Int) {
	if m == nil {
		return
	}
	m.totalDebt.Set(scaledFloat(supply, 18))
}

// SetCandidates publishes the size of the latest liquidation scan.
func (m *EngineMetrics) SetCandidates(n int) {
	if m == nil {
		return
	}
	m.candidates.Set(float64(n))
}

// FeedMetrics tracks price feed freshness.
type FeedMetrics struct {
	price   *prometheus.GaugeVec
	updated *prometheus.GaugeVec
	rounds  *prometheus.CounterVec
}

// Feeds returns the singleton feed metrics registry.
func Feeds() *FeedMetrics {
	feedMetricsOnce.Do(func() {
		feedRegistry = &FeedMetrics{
			price: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "dsc",
				Subsystem: "oracle",
				Name:      "price_usd",
				Help:      "Latest reported price per feed in USD.",
			}, []string{"feed"}),
			updated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "dsc",
				Subsystem: "oracle",
				Name:      "updated_at_seconds",
				Help:      "Unix timestamp of the latest round per feed.",
			}, []string{"feed"}),
			rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dsc",
				Subsystem: "oracle",
				Name:      "rounds_total",
				Help:      "Count of rounds accepted per feed.",
			}, []string{"feed"}),
		}
		prometheus.MustRegister(feedRegistry.price, feedRegistry.updated, feedRegistry.rounds)
	})
	return feedRegistry
}

// RecordRound publishes a new round. answer carries decimals fractional digits.
func (m *FeedMetrics) RecordRound(feed string, answer *big.Int, decimals int, updatedAt time.Time) {
	if m == nil {
		return
	}
	label := labelAsset(feed)
	m.price.WithLabelValues(label).Set(scaledFloat(answer, decimals))
	m.updated.WithLabelValues(label).Set(float64(updatedAt.Unix()))
	m.rounds.WithLabelValues(label).Inc()
}

// OutcomeLabel reduces err to a short stable label: the text after the last
// module prefix, with spaces replaced by underscores.
func OutcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	msg := strings.TrimSpace(err.Error())
	if idx := strings.LastIndex(msg, ": "); idx >= 0 {
		msg = msg[idx+2:]
	}
	if msg == "" {
		return "error"
	}
	return strings.ReplaceAll(msg, " ", "_")
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func scaledFloat(v *big.Int, decimals int) float64 {
	if v == nil {
		return 0
	}
	denom := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(v), denom).Float64()
	return out
}
