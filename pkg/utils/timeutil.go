package utils

import (
	"time"
)

// Warsaw is the Europe/Warsaw location used for fixing dates and the run gate.
var Warsaw *time.Location

func init() {
	var err error
	Warsaw, err = time.LoadLocation("Europe/Warsaw")
	if err != nil {
		// Fallback: create fixed zone if tz database is not available
		Warsaw = time.FixedZone("CET", 60*60)
	}
}

// DateLayout is the ISO date layout used across stores and config.
const DateLayout = "2006-01-02"

// FixingDateLayout is the date format the fixing source expects as a query parameter.
const FixingDateLayout = "20060102"

// NowWarsaw returns the current time in Warsaw.
func NowWarsaw() time.Time {
	return time.Now().In(Warsaw)
}

// DateOf truncates t to its calendar date, expressed at midnight UTC.
// All stored dates use this representation so they compare with ==.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a "2006-01-02" date.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// FormatDate formats a date as "2006-01-02".
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// IsBusinessDay reports whether the date is a Warsaw settlement business day
// (not a weekend, not a Polish public holiday).
func IsBusinessDay(t time.Time) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !IsHoliday(t)
}

// NextBusinessDay returns the first business day strictly after the given date.
func NextBusinessDay(from time.Time) time.Time {
	next := DateOf(from).AddDate(0, 0, 1)
	for !IsBusinessDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// AddBusinessDays advances n business days (n can be negative).
func AddBusinessDays(t time.Time, n int) time.Time {
	t = DateOf(t)
	step := 1
	if n < 0 {
		step = -1
	}
	for n != 0 {
		t = t.AddDate(0, 0, step)
		if IsBusinessDay(t) {
			n -= step
		}
	}
	return t
}

// BusinessDaysBetween returns every business day in [start, end], in order.
func BusinessDaysBetween(start, end time.Time) []time.Time {
	start, end = DateOf(start), DateOf(end)
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if IsBusinessDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// AdjustFollowing rolls a non-business day forward.
func AdjustFollowing(t time.Time) time.Time {
	for !IsBusinessDay(t) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// AdjustModifiedFollowing rolls forward unless that crosses into the next month,
// in which case it rolls backward.
func AdjustModifiedFollowing(t time.Time) time.Time {
	adjusted := AdjustFollowing(t)
	if adjusted.Month() != t.Month() {
		adjusted = t
		for !IsBusinessDay(adjusted) {
			adjusted = adjusted.AddDate(0, 0, -1)
		}
	}
	return adjusted
}

// AddMonths adds n calendar months and clamps the day to the end of the target
// month (Jan 31 + 1M = Feb 28), unlike time.AddDate which normalises into March.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if last := DaysInMonth(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, t.Location())
}

// DaysInMonth returns the number of days in the month.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// IsLeapYear reports whether year is a Gregorian leap year.
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// IsHoliday checks if the date is a Polish settlement holiday.
func IsHoliday(t time.Time) bool {
	_, ok := HolidayName(t)
	return ok
}

// HolidayName returns the name of the Polish public holiday falling on t.
func HolidayName(t time.Time) (string, bool) {
	y, m, d := t.Date()

	switch {
	case m == time.January && d == 1:
		return "New Year's Day", true
	case m == time.January && d == 6 && y >= 2011:
		return "Epiphany", true
	case m == time.May && d == 1:
		return "Labour Day", true
	case m == time.May && d == 3:
		return "Constitution Day", true
	case m == time.August && d == 15:
		return "Assumption Day", true
	case m == time.November && d == 1:
		return "All Saints' Day", true
	case m == time.November && d == 11:
		return "Independence Day", true
	case m == time.December && d == 24 && y >= 2025:
		return "Christmas Eve", true
	case m == time.December && d == 25:
		return "Christmas Day", true
	case m == time.December && d == 26:
		return "Second Day of Christmas", true
	}

	easter := EasterSunday(y)
	date := DateOf(t)
	switch {
	case date.Equal(easter.AddDate(0, 0, 1)):
		return "Easter Monday", true
	case date.Equal(easter.AddDate(0, 0, 60)):
		return "Corpus Christi", true
	}
	return "", false
}

// EasterSunday returns Western Easter Sunday for the year (anonymous Gregorian algorithm).
func EasterSunday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// YearBeginsBack returns January 1st of the year n-1 years before t's year.
// With n=4 on 2026-10-19 this is 2023-01-01.
func YearBeginsBack(t time.Time, n int) time.Time {
	if n <= 0 {
		return DateOf(t)
	}
	y := t.Year() - (n - 1)
	if t.Month() == time.January && t.Day() == 1 {
		y--
	}
	return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
}
