// Package acm decomposes a panel of zero-coupon yields into risk-neutral
// yields and term premia with a Gaussian affine term structure model
// estimated by the three-step regression approach of Adrian, Crump and
// Moench (2013).
//
// Yields are annual decimals; the model runs at a monthly frequency, so
// maturities are in months and log prices are -n/12·y.
package acm

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/seenimoa/termstructure/pkg/models"
)

// rxStep is the spacing, in months, of the maturities whose excess returns
// identify the prices of risk.
const rxStep = 6

// ErrInsufficientHistory is returned when the panel has too few month-ends
// for the regressions: at least 2K+3 are needed for K factors.
var ErrInsufficientHistory = errors.New("insufficient history for term structure model")

// Curve is a month-end yield panel. Yields has one row per date and one
// column per maturity.
type Curve struct {
	Dates      []time.Time
	Maturities []int
	Yields     *mat.Dense
}

// MonthEnd keeps the last curve of every calendar month, labelled with the
// month's final calendar day, and maps implied-curve positions to integer
// maturities 1..n. Months without data produce no row.
func MonthEnd(curves []models.NSSCurve) Curve {
	sorted := append([]models.NSSCurve(nil), curves...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	var (
		dates []time.Time
		rows  [][]float64
	)
	for _, c := range sorted {
		end := monthEnd(c.Date)
		if n := len(dates); n > 0 && dates[n-1].Equal(end) {
			rows[n-1] = c.Rates
			continue
		}
		dates = append(dates, end)
		rows = append(rows, c.Rates)
	}
	if len(rows) == 0 {
		return Curve{}
	}

	width := len(rows[0])
	for _, r := range rows {
		width = min(width, len(r))
	}
	if width == 0 {
		return Curve{}
	}
	maturities := make([]int, width)
	for i := range maturities {
		maturities[i] = i + 1
	}
	yields := mat.NewDense(len(rows), width, nil)
	for i, r := range rows {
		yields.SetRow(i, r[:width])
	}
	return Curve{Dates: dates, Maturities: maturities, Yields: yields}
}

func monthEnd(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC)
}

// Model holds the estimated parameters. Vectors have length K, matrices are
// K×K.
type Model struct {
	Factors   int
	Loadings  *mat.Dense // N×K principal component directions
	Means     []float64  // yield means removed before projection
	Mu        *mat.VecDense
	Phi       *mat.Dense
	Sigma     *mat.Dense
	Lambda0   *mat.VecDense
	Lambda1   *mat.Dense
	Delta0    float64
	Delta1    *mat.VecDense
	Sigma2    float64   // pricing error variance of excess returns
	Explained []float64 // variance share of each retained component
}

// Result is the decomposition of every (date, maturity) yield.
// TermPremium = Observed - RiskNeutral.
type Result struct {
	Dates       []time.Time
	Maturities  []int
	Observed    *mat.Dense
	Fitted      *mat.Dense
	RiskNeutral *mat.Dense
	TermPremium *mat.Dense
	Model       Model
}

// Decompose estimates the model with the given number of factors and
// returns the observed, fitted, risk-neutral and term-premium panels.
func Decompose(curve Curve, factors int) (*Result, error) {
	if curve.Yields == nil {
		return nil, fmt.Errorf("%w: empty panel", ErrInsufficientHistory)
	}
	T, N := curve.Yields.Dims()
	K := factors
	switch {
	case K < 1:
		return nil, fmt.Errorf("factor count must be positive, got %d", K)
	case K > N:
		return nil, fmt.Errorf("factor count %d exceeds %d maturities", K, N)
	case T < 2*K+3:
		return nil, fmt.Errorf("%w: %d month-ends, need %d for %d factors", ErrInsufficientHistory, T, 2*K+3, K)
	}
	col := make(map[int]int, N)
	for j, n := range curve.Maturities {
		col[n] = j
	}
	if _, ok := col[1]; !ok {
		return nil, errors.New("panel must contain the 1-month maturity")
	}
	Y := curve.Yields

	// Step 0: pricing factors are the first K principal components.
	var pc stat.PC
	if !pc.PrincipalComponents(Y, nil) {
		return nil, errors.New("principal components analysis failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	W := mat.DenseCopyOf(vecs.Slice(0, N, 0, K))
	vars := pc.VarsTo(nil)

	means := make([]float64, N)
	for j := range means {
		means[j] = stat.Mean(mat.Col(nil, j, Y), nil)
	}
	centered := mat.NewDense(T, N, nil)
	centered.Apply(func(_, j int, v float64) float64 { return v - means[j] }, Y)
	var X mat.Dense
	X.Mul(centered, W)

	// Step 1: VAR(1) for the factors.
	lagged := withIntercept(X.Slice(0, T-1, 0, K))
	lead := X.Slice(1, T, 0, K)
	coef, err := lstsq(lagged, lead)
	if err != nil {
		return nil, fmt.Errorf("factor VAR: %w", err)
	}
	mu := mat.NewVecDense(K, mat.Row(nil, 0, coef))
	phi := mat.DenseCopyOf(coef.Slice(1, K+1, 0, K).T())

	var predicted, V mat.Dense
	predicted.Mul(lagged, coef)
	V.Sub(lead, &predicted)
	sigma := mat.NewDense(K, K, nil)
	sigma.Mul(V.T(), &V)
	sigma.Scale(1/float64(T-1), sigma)

	// Step 2: excess returns on [1, innovations, lagged factors].
	var rxMats []int
	for _, n := range curve.Maturities {
		if n%rxStep != 0 {
			continue
		}
		if _, ok := col[n-1]; ok {
			rxMats = append(rxMats, n)
		}
	}
	if len(rxMats) < K {
		return nil, fmt.Errorf("need at least %d excess-return maturities, have %d", K, len(rxMats))
	}
	logPrice := func(t, n int) float64 { return -float64(n) / 12 * Y.At(t, col[n]) }
	shortRate := func(t int) float64 { return Y.At(t, col[1]) / 12 }

	rx := mat.NewDense(T-1, len(rxMats), nil)
	for t := 0; t < T-1; t++ {
		for i, n := range rxMats {
			rx.Set(t, i, logPrice(t+1, n-1)-logPrice(t, n)-shortRate(t))
		}
	}

	Z := mat.NewDense(T-1, 1+2*K, nil)
	for t := 0; t < T-1; t++ {
		Z.Set(t, 0, 1)
		for k := 0; k < K; k++ {
			Z.Set(t, 1+k, V.At(t, k))
			Z.Set(t, 1+K+k, X.At(t, k))
		}
	}
	D, err := lstsq(Z, rx)
	if err != nil {
		return nil, fmt.Errorf("excess return regression: %w", err)
	}
	a := mat.Row(nil, 0, D)
	beta := mat.DenseCopyOf(D.Slice(1, 1+K, 0, len(rxMats)))      // K×Nrx
	c := mat.DenseCopyOf(D.Slice(1+K, 1+2*K, 0, len(rxMats)).T()) // Nrx×K

	var rxFit, resid mat.Dense
	rxFit.Mul(Z, D)
	resid.Sub(rx, &rxFit)
	sigma2 := mat.Norm(&resid, 2) // Frobenius norm
	sigma2 = sigma2 * sigma2 / float64((T-1)*len(rxMats))

	// Step 3: prices of risk from the cross-section of loadings.
	target := mat.NewVecDense(len(rxMats), nil)
	for i := range rxMats {
		b := mat.Col(nil, i, beta)
		var convexity float64
		for p := 0; p < K; p++ {
			for q := 0; q < K; q++ {
				convexity += b[p] * b[q] * sigma.At(p, q)
			}
		}
		target.SetVec(i, a[i]+0.5*(convexity+sigma2))
	}
	betaT := beta.T()
	l0, err := lstsq(betaT, target)
	if err != nil {
		return nil, fmt.Errorf("lambda0: %w", err)
	}
	lambda1, err := lstsq(betaT, c)
	if err != nil {
		return nil, fmt.Errorf("lambda1: %w", err)
	}
	lambda0 := mat.NewVecDense(K, mat.Col(nil, 0, l0))

	// Short rate loadings.
	short := mat.NewVecDense(T, nil)
	for t := 0; t < T; t++ {
		short.SetVec(t, shortRate(t))
	}
	d, err := lstsq(withIntercept(&X), short)
	if err != nil {
		return nil, fmt.Errorf("short rate regression: %w", err)
	}
	delta0 := d.At(0, 0)
	delta1 := mat.NewVecDense(K, mat.Col(nil, 0, d)[1:])

	model := Model{
		Factors:   K,
		Loadings:  W,
		Means:     means,
		Mu:        mu,
		Phi:       phi,
		Sigma:     sigma,
		Lambda0:   lambda0,
		Lambda1:   lambda1,
		Delta0:    delta0,
		Delta1:    delta1,
		Sigma2:    sigma2,
		Explained: explainedShare(vars, K),
	}

	maxN := curve.Maturities[0]
	for _, n := range curve.Maturities {
		maxN = max(maxN, n)
	}
	priced := model.recursions(lambda0, lambda1, maxN)
	neutral := model.recursions(mat.NewVecDense(K, nil), mat.NewDense(K, K, nil), maxN)

	fitted := mat.NewDense(T, N, nil)
	riskNeutral := mat.NewDense(T, N, nil)
	premium := mat.NewDense(T, N, nil)
	for t := 0; t < T; t++ {
		x := X.RawRowView(t)
		for j, n := range curve.Maturities {
			fitted.Set(t, j, priced.yield(n, x))
			rn := neutral.yield(n, x)
			riskNeutral.Set(t, j, rn)
			premium.Set(t, j, Y.At(t, j)-rn)
		}
	}

	return &Result{
		Dates:       curve.Dates,
		Maturities:  curve.Maturities,
		Observed:    mat.DenseCopyOf(Y),
		Fitted:      fitted,
		RiskNeutral: riskNeutral,
		TermPremium: premium,
		Model:       model,
	}, nil
}

// loadings are the affine bond-price coefficients: log P(n) = A[n] + B[n]·X.
type loadings struct {
	A []float64
	B [][]float64
}

// yield converts the price loadings of maturity n into an annual yield.
func (l loadings) yield(n int, x []float64) float64 {
	v := l.A[n]
	for k, b := range l.B[n] {
		v += b * x[k]
	}
	return -12 * v / float64(n)
}

// recursions runs the no-arbitrage recursions for maturities 1..maxN under
// the given prices of risk. Zero prices of risk give the risk-neutral curve.
func (m Model) recursions(lambda0 *mat.VecDense, lambda1 *mat.Dense, maxN int) loadings {
	K := m.Factors
	var muQ mat.VecDense
	muQ.SubVec(m.Mu, lambda0)
	var phiQ mat.Dense
	phiQ.Sub(m.Phi, lambda1)

	out := loadings{A: make([]float64, maxN+1), B: make([][]float64, maxN+1)}
	out.A[1] = -m.Delta0
	b := mat.NewVecDense(K, nil)
	b.ScaleVec(-1, m.Delta1)
	out.B[1] = append([]float64(nil), b.RawVector().Data...)

	for n := 1; n < maxN; n++ {
		convexity := mat.Inner(b, m.Sigma, b) + m.Sigma2
		out.A[n+1] = out.A[n] + mat.Dot(b, &muQ) + 0.5*convexity - m.Delta0

		next := mat.NewVecDense(K, nil)
		next.MulVec(phiQ.T(), b)
		next.SubVec(next, m.Delta1)
		b = next
		out.B[n+1] = append([]float64(nil), b.RawVector().Data...)
	}
	return out
}

func withIntercept(x mat.Matrix) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c+1, nil)
	for i := 0; i < r; i++ {
		out.Set(i, 0, 1)
		for j := 0; j < c; j++ {
			out.Set(i, j+1, x.At(i, j))
		}
	}
	return out
}

// lstsq returns the minimum-norm least-squares solution of a·x = b.
func lstsq(a, b mat.Matrix) (*mat.Dense, error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, errors.New("svd factorization failed")
	}
	rank := svd.Rank(1e-12)
	if rank == 0 {
		return nil, errors.New("design matrix has rank zero")
	}
	var x mat.Dense
	svd.SolveTo(&x, b, rank)
	return &x, nil
}

func explainedShare(vars []float64, k int) []float64 {
	var total float64
	for _, v := range vars {
		total += v
	}
	out := make([]float64, k)
	if total == 0 {
		return out
	}
	for i := 0; i < k && i < len(vars); i++ {
		out[i] = vars[i] / total
	}
	return out
}
