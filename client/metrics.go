package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "safety_decisions",
	Help: "Number of content decisions by content type and action",
}, []string{"content_type", "action"})

var classifierFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "safety_decision_classifier_failures",
	Help: "Number of evaluations denied because a classifier was unavailable",
}, []string{"content_type"})

var evaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "safety_evaluation_duration_sec",
	Help:    "Duration of content evaluations",
	Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
}, []string{"content_type"})

var sideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "safety_decision_side_effect_failures",
	Help: "Number of failed best-effort side effects of a denial",
}, []string{"kind"})
