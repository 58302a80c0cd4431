// Package schedule decides when an automatic decision refresh is due.
//
// The check is level-triggered: it only licenses the caller to fetch and has
// no side effects, so evaluating it repeatedly is always safe.
package schedule

import (
	"time"
	_ "time/tzdata" // exchange zone must resolve on hosts without zoneinfo

	"github.com/atmx/portfolio-sync/internal/model"
)

// ExchangeTimezone is the US equities market zone.
const ExchangeTimezone = "America/New_York"

// Close plus a settlement buffer, exchange-local wall clock.
const (
	CloseHour   = 16
	CloseMinute = 5
)

// DefaultInterval is how often the runner re-evaluates the schedule.
const DefaultInterval = 5 * time.Minute

var exchangeLoc = mustLoadLocation(ExchangeTimezone)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic("schedule: load exchange timezone: " + err.Error())
	}
	return loc
}

// ExchangeLocation returns the exchange timezone.
func ExchangeLocation() *time.Location {
	return exchangeLoc
}

// ExchangeDate returns the exchange-local calendar date of now (YYYY-MM-DD).
func ExchangeDate(now time.Time) string {
	return now.In(exchangeLoc).Format(model.DateFormat)
}

// AfterClose reports whether now is at or after 16:05 exchange-local.
// Holidays and early closes are not considered.
func AfterClose(now time.Time) bool {
	local := now.In(exchangeLoc)
	h, m := local.Hour(), local.Minute()
	return h > CloseHour || (h == CloseHour && m >= CloseMinute)
}

// AlreadyFetchedToday reports whether the last applied decision date is the
// exchange-local date of now.
func AlreadyFetchedToday(state model.PortfolioState, now time.Time) bool {
	return state.LastDecisionDate == ExchangeDate(now)
}

// ShouldAutoFetch reports whether an automatic decision fetch is due: a
// portfolio is selected, the market has closed for the day and today's
// decisions have not been applied yet.
func ShouldAutoFetch(state model.PortfolioState, now time.Time) bool {
	if state.PortfolioID == "" {
		return false
	}
	return AfterClose(now) && !AlreadyFetchedToday(state, now)
}
