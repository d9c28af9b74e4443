package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sendChecks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "safety_chat_send_checks",
	Help: "Number of chat send checks by outcome",
}, []string{"outcome"})

var sendCheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "safety_chat_send_check_duration_sec",
	Help:    "Duration of chat send checks",
	Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
})

var mutesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "safety_chat_mutes",
	Help: "Number of chat mutes applied",
}, []string{"source"})
