package model

import (
	"time"

	"github.com/Tiliavir/t2r/internal/timecalc"
)

// FilterSelection is the active report filter.
type FilterSelection struct {
	Date           string                  `json:"date"`
	WorkspaceID    *int64                  `json:"workspace_id,omitempty"`
	ActivityID     *int64                  `json:"activity_id,omitempty"`
	RoundingStep   int                     `json:"rounding_value"`
	RoundingPolicy timecalc.RoundingPolicy `json:"rounding_direction,omitempty"`
}

// Day parses Date in the given location.
func (s FilterSelection) Day(loc *time.Location) (time.Time, error) {
	return timecalc.ParseDay(s.Date, loc)
}

// Round applies the selection's rounding to d. A zero step only trims d to
// the nearest whole minute.
func (s FilterSelection) Round(d timecalc.Duration) (timecalc.Duration, error) {
	if s.RoundingStep <= 0 {
		return d.RoundTo(1, timecalc.RoundRegular)
	}
	return d.RoundTo(s.RoundingStep, s.RoundingPolicy)
}
