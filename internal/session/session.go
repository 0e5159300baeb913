// Package session answers whether the NYSE cash session is open.
package session

import (
	"time"
	_ "time/tzdata"
)

const (
	openMinute  = 9*60 + 30
	closeMinute = 16 * 60
)

const (
	Active      Status = "SESSION_ACTIVE"
	WeekendHalt Status = "WEEKEND_HALT"
	Holiday     Status = "HOLIDAY"
	PostMarket  Status = "POST_MARKET_MONITORING"
)

type Status string

var newYork = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// IsOpen reports whether t falls inside 09:30-16:00 New York time on a
// weekday that is not one of the fixed-date holidays.
func IsOpen(t time.Time) bool {
	return StatusAt(t) == Active
}

func StatusAt(t time.Time) Status {
	ny := t.In(newYork)

	switch ny.Weekday() {
	case time.Saturday, time.Sunday:
		return WeekendHalt
	}
	if isHoliday(ny) {
		return Holiday
	}

	minutes := ny.Hour()*60 + ny.Minute()
	if minutes >= openMinute && minutes < closeMinute {
		return Active
	}
	return PostMarket
}

func isHoliday(ny time.Time) bool {
	switch {
	case ny.Month() == time.January && ny.Day() == 1,
		ny.Month() == time.July && ny.Day() == 4,
		ny.Month() == time.December && ny.Day() == 25:
		return true
	}
	return false
}
