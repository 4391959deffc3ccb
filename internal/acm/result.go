package acm

import (
	"time"

	"github.com/seenimoa/termstructure/pkg/models"
)

func (r *Result) column(maturity int) (int, bool) {
	for j, n := range r.Maturities {
		if n == maturity {
			return j, true
		}
	}
	return 0, false
}

// Point returns the decomposition at date index t for one maturity.
func (r *Result) Point(t, maturity int) (models.CurvePoint, bool) {
	j, ok := r.column(maturity)
	if !ok || t < 0 || t >= len(r.Dates) {
		return models.CurvePoint{}, false
	}
	return models.CurvePoint{
		Date:           r.Dates[t],
		MaturityMonths: maturity,
		Observed:       r.Observed.At(t, j),
		Fitted:         r.Fitted.At(t, j),
		RiskNeutral:    r.RiskNeutral.At(t, j),
		TermPremium:    r.TermPremium.At(t, j),
	}, true
}

// Latest returns the most recent decomposition for one maturity.
func (r *Result) Latest(maturity int) (models.CurvePoint, bool) {
	return r.Point(len(r.Dates)-1, maturity)
}

// Points returns the decomposition of every date for the given maturities,
// date-major. Unknown maturities are left out.
func (r *Result) Points(maturities []int) []models.CurvePoint {
	out := make([]models.CurvePoint, 0, len(r.Dates)*len(maturities))
	for t := range r.Dates {
		for _, n := range maturities {
			if p, ok := r.Point(t, n); ok {
				out = append(out, p)
			}
		}
	}
	return out
}

// Series returns the risk-neutral and term-premium history of one maturity
// from the given date onward.
func (r *Result) Series(maturity int, from time.Time) (dates []time.Time, riskNeutral, termPremium []float64, ok bool) {
	j, ok := r.column(maturity)
	if !ok {
		return nil, nil, nil, false
	}
	for t, d := range r.Dates {
		if d.Before(from) {
			continue
		}
		dates = append(dates, d)
		riskNeutral = append(riskNeutral, r.RiskNeutral.At(t, j))
		termPremium = append(termPremium, r.TermPremium.At(t, j))
	}
	return dates, riskNeutral, termPremium, true
}
