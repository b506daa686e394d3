// Package compliance scores how closely each agency's planning matches the
// number of terminals it must staff every day.
package compliance

import (
	"math"
	"time"

	"github.com/pmuci/pointage/internal/domain/model"
)

// Threshold is the minimum percentage an agency needs to be compliant.
const Threshold = 90.0

// Report is the staffing score of one agency over a date range.
type Report struct {
	AgencyID    string `json:"agency_id"`
	CoveredDays int    `json:"covered_days"`
	TotalDays   int    `json:"total_days"`
	// Percent is RawPercent rounded for display.
	Percent    int     `json:"percent"`
	RawPercent float64 `json:"raw_percent"`
	Compliant  bool    `json:"compliant"`
}

// Compute scores agencyID over r from the given assignments. Assignments for
// other agencies or outside r are ignored. A day is covered only when its
// distinct staff count equals required exactly; the percentage instead sums
// the daily distinct counts, so partially staffed days still earn credit.
func Compute(agencyID string, r model.DateRange, assignments []model.Assignment, required int) Report {
	rep := Report{AgencyID: agencyID, TotalDays: r.Len()}
	if rep.TotalDays == 0 {
		return rep
	}
	required = max(required, 0)

	perDay := make(map[time.Time]map[string]struct{}, rep.TotalDays)
	for _, a := range assignments {
		if a.AgencyID != agencyID || !r.Contains(a.Date) {
			continue
		}
		d := model.Day(a.Date)
		if perDay[d] == nil {
			perDay[d] = make(map[string]struct{})
		}
		perDay[d][a.EmployeeID] = struct{}{}
	}

	staffed := 0
	for _, d := range r.Days() {
		n := len(perDay[d])
		staffed += n
		if n == required {
			rep.CoveredDays++
		}
	}

	if required == 0 {
		rep.RawPercent = 100
	} else {
		rep.RawPercent = math.Min(100, float64(staffed)/float64(required*rep.TotalDays)*100)
	}
	rep.Percent = int(math.Round(rep.RawPercent))
	rep.Compliant = rep.RawPercent >= Threshold && (required == 0 || rep.CoveredDays > 0)
	return rep
}
