package util

import "time"

// TradingCalendar models the regular US equity session, 9:30 to 16:00
// Eastern on weekdays. Exchange holidays are not modeled; the simulated
// venue trades every weekday.
type TradingCalendar struct {
	loc *time.Location
}

// NewTradingCalendar creates a TradingCalendar. It falls back to a fixed
// UTC-5 zone when the tz database is unavailable.
func NewTradingCalendar() *TradingCalendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*60*60)
	}
	return &TradingCalendar{loc: loc}
}

func (tc *TradingCalendar) sessionBounds(t time.Time) (open, close time.Time) {
	local := t.In(tc.loc)
	y, m, d := local.Date()
	open = time.Date(y, m, d, 9, 30, 0, 0, tc.loc)
	close = time.Date(y, m, d, 16, 0, 0, 0, tc.loc)
	return open, close
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// IsMarketOpen returns whether the regular session is open at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	local := t.In(tc.loc)
	if isWeekend(local) {
		return false
	}
	open, close := tc.sessionBounds(local)
	return !local.Before(open) && local.Before(close)
}

// NextOpen returns the next session open at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	local := t.In(tc.loc)
	for {
		open, _ := tc.sessionBounds(local)
		if !isWeekend(local) && !open.Before(local) {
			return open
		}
		local = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tc.loc).AddDate(0, 0, 1)
	}
}

// NextClose returns the next session close at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	local := t.In(tc.loc)
	for {
		_, close := tc.sessionBounds(local)
		if !isWeekend(local) && !close.Before(local) {
			return close
		}
		local = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tc.loc).AddDate(0, 0, 1)
	}
}
