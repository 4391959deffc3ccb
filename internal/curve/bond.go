package curve

import (
	"fmt"
	"time"

	"github.com/seenimoa/termstructure/pkg/models"
	"github.com/seenimoa/termstructure/pkg/utils"
)

const faceValue = 100.0

// Schedule generates the annual coupon dates of a bond backward from maturity,
// stopping at the start of the current coupon period. The first date is the
// start itself (a short front stub when it is off-cycle). Every date is
// adjusted Modified Following on the Warsaw calendar.
func Schedule(start, maturity time.Time) []time.Time {
	start, maturity = utils.DateOf(start), utils.DateOf(maturity)
	if !maturity.After(start) {
		return nil
	}

	var unadjusted []time.Time
	for n := 0; ; n++ {
		d := utils.AddMonths(maturity, -12*n)
		if !d.After(start) {
			break
		}
		unadjusted = append(unadjusted, d)
	}
	unadjusted = append(unadjusted, start)

	dates := make([]time.Time, 0, len(unadjusted))
	for i := len(unadjusted) - 1; i >= 0; i-- {
		d := utils.AdjustModifiedFollowing(unadjusted[i])
		if len(dates) > 0 && !d.After(dates[len(dates)-1]) {
			continue
		}
		dates = append(dates, d)
	}
	return dates
}

// Cashflow is one payment of a bond per 100 face.
type Cashflow struct {
	AccrualStart time.Time
	AccrualEnd   time.Time
	Date         time.Time
	Amount       float64
}

// Bond is the calibration instrument built from one quote: an annual
// fixed-coupon bond with redemption at par.
type Bond struct {
	Series     string
	CleanPrice float64
	Coupon     float64
	Settlement time.Time
	Cashflows  []Cashflow // payments after settlement only
	Accrued    float64
}

// NewBond builds the instrument for a quote, settling settlementDays business
// days after evalDate.
func NewBond(q models.BondQuote, evalDate time.Time, settlementDays int) (*Bond, error) {
	schedule := Schedule(q.PeriodStart, q.Maturity)
	if len(schedule) < 2 {
		return nil, fmt.Errorf("bond %s: empty schedule from %s to %s", q.Series, utils.FormatDate(q.PeriodStart), utils.FormatDate(q.Maturity))
	}
	settle := utils.AddBusinessDays(evalDate, settlementDays)

	b := &Bond{
		Series:     q.Series,
		CleanPrice: q.CleanPrice,
		Coupon:     q.CouponRate,
		Settlement: settle,
	}
	accrued := false
	for i := 1; i < len(schedule); i++ {
		start, end := schedule[i-1], schedule[i]
		if !end.After(settle) {
			continue
		}
		amount := faceValue * q.CouponRate * YearFraction(start, end)
		if i == len(schedule)-1 {
			amount += faceValue
		}
		b.Cashflows = append(b.Cashflows, Cashflow{AccrualStart: start, AccrualEnd: end, Date: end, Amount: amount})

		if !accrued {
			if settle.After(start) {
				b.Accrued = faceValue * q.CouponRate * YearFraction(start, settle)
			}
			accrued = true
		}
	}
	if len(b.Cashflows) == 0 {
		return nil, fmt.Errorf("bond %s: no cashflows after settlement %s", q.Series, utils.FormatDate(settle))
	}
	return b, nil
}

// DirtyPrice returns the invoice price the market pays at settlement.
func (b *Bond) DirtyPrice() float64 {
	return b.CleanPrice + b.Accrued
}

// Maturity returns the date of the final payment, which is the bond's pillar.
func (b *Bond) Maturity() time.Time {
	return b.Cashflows[len(b.Cashflows)-1].Date
}

// ModelPrice discounts the remaining cashflows to the settlement date.
func (b *Bond) ModelPrice(discount func(time.Time) float64) float64 {
	var pv float64
	for _, cf := range b.Cashflows {
		pv += cf.Amount * discount(cf.Date)
	}
	return pv / discount(b.Settlement)
}
