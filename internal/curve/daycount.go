// Package curve bootstraps continuously compounded zero-coupon curves from
// fixed-rate treasury bond prices and samples them on a maturity ladder.
//
// Conventions follow the Polish treasury market: Warsaw settlement calendar,
// T+2 settlement, annual coupons, Act/Act (ISDA) accrual and curve time.
package curve

import (
	"math"
	"time"

	"github.com/seenimoa/termstructure/pkg/utils"
)

// YearFraction returns the Act/Act (ISDA) year fraction between two dates.
// Days falling in a leap year count 1/366, all others 1/365.
func YearFraction(start, end time.Time) float64 {
	start, end = utils.DateOf(start), utils.DateOf(end)
	if end.Before(start) {
		return -YearFraction(end, start)
	}
	y1, y2 := start.Year(), end.Year()
	if y1 == y2 {
		return daysBetween(start, end) / yearBasis(y1)
	}
	first := daysBetween(start, time.Date(y1+1, 1, 1, 0, 0, 0, 0, time.UTC)) / yearBasis(y1)
	last := daysBetween(time.Date(y2, 1, 1, 0, 0, 0, 0, time.UTC), end) / yearBasis(y2)
	return first + float64(y2-y1-1) + last
}

func daysBetween(start, end time.Time) float64 {
	return math.Round(end.Sub(start).Hours() / 24)
}

func yearBasis(year int) float64 {
	if utils.IsLeapYear(year) {
		return 366
	}
	return 365
}
