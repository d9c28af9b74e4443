package report

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var reportsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "safety_reports_submitted",
	Help: "Number of reports accepted by priority",
}, []string{"priority"})

var reportsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
	Name: "safety_reports_duplicate",
	Help: "Number of submissions rejected because the reporter already has an open report on the target",
})

var reportsEscalated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "safety_reports_escalated",
	Help: "Number of times reports on one target collapsed onto a primary",
})

var reportsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "safety_reports_closed",
	Help: "Number of reports resolved or dismissed by action",
}, []string{"action"})
