// Package nss fits Nelson-Siegel-Svensson curves to zero-rate cross-sections
// and keeps the append-only panel of fitted parameters and implied curves.
//
// Maturities are measured in months throughout, so τ1 and τ2 are in months.
package nss

import (
	"math"

	"github.com/seenimoa/termstructure/pkg/models"
)

// Loadings returns the level, slope and two curvature loadings at maturity m.
// At m = 0 the limits 1, 1, 0, 0 are used.
func Loadings(m, tau1, tau2 float64) [4]float64 {
	slope1, curv1 := shape(m, tau1)
	_, curv2 := shape(m, tau2)
	return [4]float64{1, slope1, curv1, curv2}
}

func shape(m, tau float64) (slope, curvature float64) {
	x := m / tau
	if math.Abs(x) < 1e-12 {
		return 1, 0
	}
	slope = -math.Expm1(-x) / x
	return slope, slope - math.Exp(-x)
}

// Yield evaluates the NSS curve at maturity m.
func Yield(p models.NSSParams, m float64) float64 {
	l := Loadings(m, p.Tau1, p.Tau2)
	return p.Beta0*l[0] + p.Beta1*l[1] + p.Beta2*l[2] + p.Beta3*l[3]
}

// ImpliedCurve evaluates the curve at every whole month 1..maxMaturity.
func ImpliedCurve(p models.NSSParams, maxMaturity int) []float64 {
	rates := make([]float64, maxMaturity)
	for m := 1; m <= maxMaturity; m++ {
		rates[m-1] = Yield(p, float64(m))
	}
	return rates
}
