package retrysched

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var retryOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pn_ec_retry_outcomes_total",
	Help: "Error-queue evaluation outcomes by channel.",
}, []string{"channel", "outcome"})
