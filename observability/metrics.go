package observability

import (
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"slidingoracle/native/twap"
)

var (
	twapMetricsOnce sync.Once
	twapRegistry    *TWAPMetrics
)

// TWAPMetrics wraps collectors tracking oracle update and consult activity.
type TWAPMetrics struct {
	updates    *prometheus.CounterVec
	consults   *prometheus.CounterVec
	incentives *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	windowSpan *prometheus.GaugeVec
}

// TWAP returns the lazily-initialised metrics registry for the oracle.
func TWAP() *TWAPMetrics {
	twapMetricsOnce.Do(func() {
		twapRegistry = &TWAPMetrics{
			updates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "twap",
				Subsystem: "oracle",
				Name:      "updates_total",
				Help:      "Count of observation updates segmented by pair and outcome.",
			}, []string{"pair", "outcome"}),
			consults: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "twap",
				Subsystem: "oracle",
				Name:      "consults_total",
				Help:      "Count of average price queries segmented by outcome.",
			}, []string{"outcome"}),
			incentives: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "twap",
				Subsystem: "oracle",
				Name:      "incentive_payouts_total",
				Help:      "Count of update incentives transferred segmented by pair.",
			}, []string{"pair"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "twap",
				Subsystem: "oracle",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for oracle operations including upstream price reads.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			windowSpan: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "twap",
				Subsystem: "oracle",
				Name:      "window_span_seconds",
				Help:      "Age of the oldest retained observation per pair; zero when the window is incomplete.",
			}, []string{"pair"}),
		}
		prometheus.MustRegister(
			twapRegistry.updates,
			twapRegistry.consults,
			twapRegistry.incentives,
			twapRegistry.latency,
			twapRegistry.windowSpan,
		)
	})
	return twapRegistry
}

// ObserveUpdate records the result of an update attempt.
func (m *TWAPMetrics) ObserveUpdate(pair common.Address, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(pair.Hex(), Outcome(err)).Inc()
	m.latency.WithLabelValues("update").Observe(duration.Seconds())
}

// ObserveConsult records the result of an average price query.
func (m *TWAPMetrics) ObserveConsult(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.consults.WithLabelValues(Outcome(err)).Inc()
	m.latency.WithLabelValues("consult").Observe(duration.Seconds())
}

// RecordIncentive increments the payout counter for pair.
func (m *TWAPMetrics) RecordIncentive(pair common.Address) {
	if m == nil {
		return
	}
	m.incentives.WithLabelValues(pair.Hex()).Inc()
}

// SetWindowSpan publishes the window coverage for pair.
func (m *TWAPMetrics) SetWindowSpan(pair common.Address, span uint64, complete bool) {
	if m == nil {
		return
	}
	if !complete {
		span = 0
	}
	m.windowSpan.WithLabelValues(pair.Hex()).Set(float64(span))
}

// Outcome maps oracle errors onto stable metric labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, twap.ErrAlreadyUpdatedThisPeriod):
		return "already_updated"
	case errors.Is(err, twap.ErrMissingHistoricalObservation):
		return "missing_history"
	case errors.Is(err, twap.ErrUnexpectedTimeElapsed):
		return "unexpected_elapsed"
	case errors.Is(err, twap.ErrOverflow):
		return "overflow"
	case errors.Is(err, twap.ErrIncentiveTransfer):
		return "incentive_failed"
	default:
		return "error"
	}
}
