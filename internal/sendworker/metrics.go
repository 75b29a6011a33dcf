package sendworker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sendAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pn_ec_send_attempts_total",
		Help: "Gateway send attempts by channel and outcome.",
	}, []string{"channel", "outcome"})

	sendOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pn_ec_send_outcomes_total",
		Help: "Final per-message pipeline outcomes by channel.",
	}, []string{"channel", "outcome"})
)
