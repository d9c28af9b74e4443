package classifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var classifierCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "safety_classifier_call_duration_sec",
	Help:    "Duration of classifier backend calls",
	Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
}, []string{"provider", "op"})

var classifierCallCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "safety_classifier_calls",
	Help: "Number of classifier backend calls by outcome",
}, []string{"provider", "op", "outcome"})

var classifierThrottledCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "safety_classifier_throttled",
	Help: "Number of classifier calls refused by the outbound throttle",
}, []string{"provider"})
