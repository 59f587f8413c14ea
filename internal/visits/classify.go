package visits

import "time"

// DefaultReturningWindow is the inactivity gap after which a known session counts as returning.
const DefaultReturningWindow = 24 * time.Hour

// Classification is the visitor status assigned to a new record.
type Classification struct {
	IsNew       bool
	IsReturning bool
	FirstVisit  time.Time
}

// Classify derives the visitor status from the most recent prior record of the
// same (session, ip) pair. A gap of exactly window is not yet returning.
func Classify(prior *Visit, now time.Time, window time.Duration) Classification {
	if prior == nil {
		return Classification{IsNew: true, FirstVisit: now}
	}

	first := prior.FirstVisit
	if first.IsZero() {
		first = prior.VisitDate
	}

	return Classification{
		IsReturning: now.Sub(prior.LastVisit) > window,
		FirstVisit:  first,
	}
}

// Apply copies the classification onto v.
func (c Classification) Apply(v *Visit) {
	v.IsNewVisitor = c.IsNew
	v.IsReturningVisitor = c.IsReturning
	v.FirstVisit = c.FirstVisit
}
