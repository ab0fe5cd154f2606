package ledger

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_ledger_operations_total",
		Help: "Ledger operations processed, labeled by outcome",
	}, []string{"op", "outcome"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_ledger_operation_duration_seconds",
		Help:    "Latency distribution of ledger operations",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"op"})
)

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrReceiverNotFound),
		errors.Is(err, ErrSameAccount):
		return "rejected"
	case errors.Is(err, ErrLockTimeout):
		return "lock_timeout"
	default:
		return "error"
	}
}
