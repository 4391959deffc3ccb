package acm

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/seenimoa/termstructure/pkg/models"
)

// syntheticCurve builds a T×N month-end panel driven by three persistent
// factors with Nelson-Siegel loadings plus small measurement noise.
func syntheticCurve(T, N int) Curve {
	rng := rand.New(rand.NewSource(7))
	level, slope, curv := 0.05, -0.01, 0.005

	dates := make([]time.Time, T)
	maturities := make([]int, N)
	for j := range maturities {
		maturities[j] = j + 1
	}
	yields := mat.NewDense(T, N, nil)
	for t := 0; t < T; t++ {
		dates[t] = time.Date(2020, time.Month(t+2), 0, 0, 0, 0, 0, time.UTC)
		level = 0.05 + 0.9*(level-0.05) + 0.002*rng.NormFloat64()
		slope = -0.01 + 0.8*(slope+0.01) + 0.003*rng.NormFloat64()
		curv = 0.005 + 0.7*(curv-0.005) + 0.003*rng.NormFloat64()
		for j, n := range maturities {
			x := float64(n) / 24
			l1 := -math.Expm1(-x) / x
			l2 := l1 - math.Exp(-x)
			yields.Set(t, j, level+slope*l1+curv*l2+1e-5*rng.NormFloat64())
		}
	}
	return Curve{Dates: dates, Maturities: maturities, Yields: yields}
}

func TestDecomposeIdentity(t *testing.T) {
	curve := syntheticCurve(48, 60)
	res, err := Decompose(curve, 3)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	T, N := res.Observed.Dims()
	if T != 48 || N != 60 {
		t.Fatalf("dims = %d×%d, want 48×60", T, N)
	}
	for i := 0; i < T; i++ {
		for j := 0; j < N; j++ {
			obs := curve.Yields.At(i, j)
			sum := res.RiskNeutral.At(i, j) + res.TermPremium.At(i, j)
			if math.Abs(sum-obs) > 1e-9 {
				t.Fatalf("t=%d n=%d: risk-neutral + term premium = %g, observed %g", i, j+1, sum, obs)
			}
			if math.IsNaN(res.Fitted.At(i, j)) {
				t.Fatalf("fitted yield NaN at t=%d n=%d", i, j+1)
			}
		}
	}
}

func TestDecomposeShortEnd(t *testing.T) {
	curve := syntheticCurve(48, 60)
	res, err := Decompose(curve, 3)
	if err != nil {
		t.Fatal(err)
	}
	var mae float64
	for i := range res.Dates {
		// One-month loadings do not depend on the prices of risk.
		if res.Fitted.At(i, 0) != res.RiskNeutral.At(i, 0) {
			t.Errorf("t=%d: fitted and risk-neutral 1m yields differ", i)
		}
		mae += math.Abs(res.Fitted.At(i, 0) - curve.Yields.At(i, 0))
	}
	mae /= float64(len(res.Dates))
	if mae > 1e-3 {
		t.Errorf("1m fitting error = %g, want < 1e-3", mae)
	}
	if got := len(res.Model.Explained); got != 3 {
		t.Errorf("explained shares = %d, want 3", got)
	}
	var total float64
	for i, s := range res.Model.Explained {
		total += s
		if i > 0 && s > res.Model.Explained[i-1] {
			t.Errorf("explained shares not descending: %v", res.Model.Explained)
		}
	}
	if total <= 0 || total > 1+1e-12 {
		t.Errorf("explained share total = %g", total)
	}
}

func TestDecomposeAccessors(t *testing.T) {
	curve := syntheticCurve(30, 36)
	res, err := Decompose(curve, 2)
	if err != nil {
		t.Fatal(err)
	}

	p, ok := res.Latest(12)
	if !ok {
		t.Fatal("Latest(12) missing")
	}
	if !p.Date.Equal(curve.Dates[29]) || p.MaturityMonths != 12 {
		t.Errorf("latest = %v/%d", p.Date, p.MaturityMonths)
	}
	if math.Abs(p.RiskNeutral+p.TermPremium-p.Observed) > 1e-9 {
		t.Errorf("latest point does not decompose: %+v", p)
	}
	if _, ok := res.Latest(400); ok {
		t.Error("unknown maturity should not be found")
	}

	pts := res.Points([]int{12, 24, 999})
	if len(pts) != 30*2 {
		t.Errorf("points = %d, want 60", len(pts))
	}

	dates, rn, tp, ok := res.Series(24, curve.Dates[20])
	if !ok || len(dates) != 10 || len(rn) != 10 || len(tp) != 10 {
		t.Errorf("series lengths = %d/%d/%d, ok=%v", len(dates), len(rn), len(tp), ok)
	}
}

func TestDecomposeInsufficientHistory(t *testing.T) {
	_, err := Decompose(syntheticCurve(8, 36), 3)
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("expected ErrInsufficientHistory, got %v", err)
	}
	if _, err := Decompose(Curve{}, 3); !errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("empty panel: expected ErrInsufficientHistory, got %v", err)
	}
}

func TestDecomposeBadInput(t *testing.T) {
	curve := syntheticCurve(30, 36)
	if _, err := Decompose(curve, 0); err == nil {
		t.Error("expected error for zero factors")
	}
	if _, err := Decompose(curve, 40); err == nil {
		t.Error("expected error for more factors than maturities")
	}

	noShort := Curve{
		Dates:      curve.Dates,
		Maturities: curve.Maturities[1:],
		Yields:     mat.DenseCopyOf(curve.Yields.Slice(0, 30, 1, 36)),
	}
	if _, err := Decompose(noShort, 2); err == nil {
		t.Error("expected error without the 1-month maturity")
	}
}

func TestMonthEnd(t *testing.T) {
	d := func(y int, m time.Month, day int) time.Time { return time.Date(y, m, day, 0, 0, 0, 0, time.UTC) }
	curves := []models.NSSCurve{
		{Date: d(2026, 2, 27), Rates: []float64{0.3, 0.31, 0.32}},
		{Date: d(2026, 1, 15), Rates: []float64{0.1, 0.11, 0.12}},
		{Date: d(2026, 1, 30), Rates: []float64{0.2, 0.21, 0.22}},
		{Date: d(2026, 4, 1), Rates: []float64{0.4, 0.41, 0.42}},
	}
	c := MonthEnd(curves)
	want := []time.Time{d(2026, 1, 31), d(2026, 2, 28), d(2026, 4, 30)}
	if len(c.Dates) != len(want) {
		t.Fatalf("dates = %v, want %v", c.Dates, want)
	}
	for i := range want {
		if !c.Dates[i].Equal(want[i]) {
			t.Errorf("date[%d] = %v, want %v", i, c.Dates[i], want[i])
		}
	}
	if c.Yields.At(0, 0) != 0.2 {
		t.Errorf("January row should be the last curve of the month, got %g", c.Yields.At(0, 0))
	}
	if len(c.Maturities) != 3 || c.Maturities[2] != 3 {
		t.Errorf("maturities = %v, want [1 2 3]", c.Maturities)
	}

	if empty := MonthEnd(nil); empty.Yields != nil {
		t.Error("empty input should give an empty curve")
	}
}
