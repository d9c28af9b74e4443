package report

import (
	safety "github.com/heibot/safety"
	"github.com/heibot/safety/store"
)

func storeFilter(target string) store.ReportFilter {
	return store.ReportFilter{TargetUserID: target}
}

func storeFilterAll(target string) store.ReportFilter {
	return store.ReportFilter{
		TargetUserID: target,
		Statuses: []safety.ReportStatus{
			safety.ReportPending, safety.ReportReviewing, safety.ReportResolved, safety.ReportDismissed,
		},
	}
}
