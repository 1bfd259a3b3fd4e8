package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	saveConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "group_order_save_conflicts_total",
		Help: "Conditional writes lost to a version race and retried",
	})

	retryExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "group_order_retry_exhausted_total",
		Help: "Mutations that failed after exhausting version-conflict retries",
	})

	codeRegenerations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "group_order_code_regenerations_total",
		Help: "Invite codes regenerated after a uniqueness collision",
	})
)
