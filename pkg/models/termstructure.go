package models

import (
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// --- Bond coupon calendar ---

// BondCoupon is one coupon period of a fixed-rate treasury bond, as published
// in the official coupon calendar. Unique per (Series, PeriodNumber).
type BondCoupon struct {
	Series         string          `json:"series"`          // e.g., "PS0527"
	ISIN           string          `json:"isin"`            // e.g., "PL0000114393"
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
	RightsDate     time.Time       `json:"rights_date"`     // record date for the coupon
	PaymentDate    time.Time       `json:"payment_date"`
	CouponRate     decimal.Decimal `json:"coupon_rate"`     // annual rate as a fraction, 0.0575 = 5.75%
	CouponAmount   decimal.Decimal `json:"coupon_amount"`   // PLN per bond
	RedemptionDate time.Time       `json:"redemption_date"`
	PeriodNumber   int16           `json:"period_number"`
}

// Accruing reports whether the coupon period strictly contains the date:
// PeriodStart < date <= PeriodEnd.
func (c BondCoupon) Accruing(date time.Time) bool {
	return date.After(c.PeriodStart) && !date.After(c.PeriodEnd)
}

// CouponCalendar is the full coupon-calendar snapshot.
type CouponCalendar []BondCoupon

// Sort orders the calendar by (Series, PeriodNumber).
func (cc CouponCalendar) Sort() {
	sort.Slice(cc, func(i, j int) bool {
		if cc[i].Series != cc[j].Series {
			return cc[i].Series < cc[j].Series
		}
		return cc[i].PeriodNumber < cc[j].PeriodNumber
	})
}

// --- Fixing prices ---

// FixingSession identifies one of the two daily fixing sessions.
type FixingSession int

const (
	FixingAM FixingSession = 1
	FixingPM FixingSession = 2
)

// FixingSessions lists both sessions in daily order.
var FixingSessions = []FixingSession{FixingAM, FixingPM}

func (s FixingSession) String() string {
	switch s {
	case FixingAM:
		return "AM"
	case FixingPM:
		return "PM"
	default:
		return "session(" + strconv.Itoa(int(s)) + ")"
	}
}

// Valid reports whether s is a known session.
func (s FixingSession) Valid() bool {
	return s == FixingAM || s == FixingPM
}

// FixingPrice is a clean price quote (% of par) from one fixing session.
// Price is nil when the session produced no price for the bond.
type FixingPrice struct {
	Series  string           `json:"series"`
	ISIN    string           `json:"isin"`
	Session FixingSession    `json:"session"`
	Price   *decimal.Decimal `json:"price,omitempty"`
	Date    time.Time        `json:"date"`
}

// FixingKey is the append-only identity of a fixing price row.
type FixingKey struct {
	Series  string
	Date    time.Time
	Session FixingSession
}

// Key returns the row identity.
func (p FixingPrice) Key() FixingKey {
	return FixingKey{Series: p.Series, Date: p.Date, Session: p.Session}
}

// PricePanel is the cumulative fixing-price panel.
type PricePanel []FixingPrice

// MaxDate returns the latest date in the panel, or the zero time when empty.
func (pp PricePanel) MaxDate() time.Time {
	var max time.Time
	for _, p := range pp {
		if p.Date.After(max) {
			max = p.Date
		}
	}
	return max
}

// Sort orders the panel by (Date, Session, Series).
func (pp PricePanel) Sort() {
	sort.SliceStable(pp, func(i, j int) bool {
		if !pp[i].Date.Equal(pp[j].Date) {
			return pp[i].Date.Before(pp[j].Date)
		}
		if pp[i].Session != pp[j].Session {
			return pp[i].Session < pp[j].Session
		}
		return pp[i].Series < pp[j].Series
	})
}

// --- Zero curve ---

// ZeroRate is one continuously compounded zero rate sampled from a curve.
type ZeroRate struct {
	EvalDate       time.Time `json:"eval_date"`
	TargetDate     time.Time `json:"target_date"`
	MaturityMonths int       `json:"maturity_months"`
	Rate           float64   `json:"rate"`
}

// BondQuote is one bond's calibration input for a single evaluation date.
type BondQuote struct {
	Series      string    `json:"series"`
	ISIN        string    `json:"isin"`
	Date        time.Time `json:"date"`
	CleanPrice  float64   `json:"clean_price"` // % of par
	CouponRate  float64   `json:"coupon_rate"` // fraction
	PeriodStart time.Time `json:"period_start"`
	Maturity    time.Time `json:"maturity"`
}

// --- Nelson-Siegel-Svensson ---

// NSSParams is the fitted parameter vector of one evaluation date.
type NSSParams struct {
	Beta0 float64 `json:"beta0"`
	Beta1 float64 `json:"beta1"`
	Beta2 float64 `json:"beta2"`
	Beta3 float64 `json:"beta3"`
	Tau1  float64 `json:"tau1"`
	Tau2  float64 `json:"tau2"`
}

// Vector returns the parameters in (β0, β1, β2, β3, τ1, τ2) order.
func (p NSSParams) Vector() []float64 {
	return []float64{p.Beta0, p.Beta1, p.Beta2, p.Beta3, p.Tau1, p.Tau2}
}

// NSSCurve is one row of the NSS panel: parameters plus the implied monthly
// curve, where Rates[i] is the rate for maturity month i+1.
type NSSCurve struct {
	Date   time.Time `json:"date"`
	Params NSSParams `json:"params"`
	Rates  []float64 `json:"rates"`
}

// Rate returns the implied rate for a maturity in months (1-based).
func (c NSSCurve) Rate(month int) (float64, bool) {
	if month < 1 || month > len(c.Rates) {
		return 0, false
	}
	return c.Rates[month-1], true
}

// --- Term structure decomposition ---

// CurvePoint is the decomposition of one (date, maturity) zero rate.
type CurvePoint struct {
	Date           time.Time `json:"date"`
	MaturityMonths int       `json:"maturity_months"`
	Observed       float64   `json:"observed"`
	Fitted         float64   `json:"fitted"`
	RiskNeutral    float64   `json:"risk_neutral"`
	TermPremium    float64   `json:"term_premium"`
}
