package nss

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/seenimoa/termstructure/internal/config"
	"github.com/seenimoa/termstructure/internal/infra"
	"github.com/seenimoa/termstructure/pkg/models"
	"github.com/seenimoa/termstructure/pkg/utils"
)

var (
	// ErrNotConverged marks a date where no start produced a finite,
	// non-degenerate fit. The date is skipped.
	ErrNotConverged = errors.New("nss fit did not converge")
	// ErrNoObservations is returned for a date without zero rates.
	ErrNoObservations = errors.New("no zero rates to fit")
)

// Fitter fits one NSS parameter vector per evaluation date.
//
// τ1 and τ2 are searched in log space by Nelder-Mead, so they stay positive
// and ordered. For each τ pair the four β's enter linearly and are solved by
// least squares.
type Fitter struct {
	maxMaturity   int
	initialTau    float64
	maxIterations int
	workers       int
	logger        *slog.Logger
}

// NewFitter creates a fitter from config. Zero values fall back to 180
// months, τ = 1, 2000 iterations and four workers.
func NewFitter(cfg config.NSSConfig, logger *slog.Logger) *Fitter {
	f := &Fitter{
		maxMaturity:   cfg.MaxMaturity,
		initialTau:    cfg.InitialTau,
		maxIterations: cfg.MaxIterations,
		workers:       cfg.Workers,
		logger:        infra.OrDiscard(logger).With("component", "nss"),
	}
	if f.maxMaturity <= 0 {
		f.maxMaturity = 180
	}
	if f.initialTau <= 0 {
		f.initialTau = 1
	}
	if f.maxIterations <= 0 {
		f.maxIterations = 2000
	}
	if f.workers <= 0 {
		f.workers = 4
	}
	return f
}

// MaxMaturity returns the longest month of the implied curve.
func (f *Fitter) MaxMaturity() int { return f.maxMaturity }

// Fit minimises the squared residuals between the observed zero rates and
// the NSS curve. Nelder-Mead is restarted from a grid of τ pairs and the
// best admissible fit wins.
func (f *Fitter) Fit(rates []models.ZeroRate) (models.NSSParams, error) {
	if len(rates) == 0 {
		return models.NSSParams{}, ErrNoObservations
	}
	ms := make([]float64, len(rates))
	ys := make([]float64, len(rates))
	for i, r := range rates {
		ms[i] = float64(r.MaturityMonths)
		ys[i] = r.Rate
	}

	// x = (log τ1, log(τ2-τ1)) keeps 0 < τ1 < τ2.
	taus := func(x []float64) (float64, float64) {
		tau1 := math.Exp(x[0])
		return tau1, tau1 + math.Exp(x[1])
	}
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			tau1, tau2 := taus(x)
			_, ssr := solveBetas(ms, ys, tau1, tau2)
			return ssr
		},
	}

	var (
		best    models.NSSParams
		bestSSR = math.Inf(1)
		lastErr error
	)
	for _, st := range f.starts() {
		settings := &optimize.Settings{
			MajorIterations: f.maxIterations,
			Converger:       &optimize.FunctionConverge{Absolute: 1e-14, Iterations: 50},
		}
		x0 := []float64{math.Log(st[0]), math.Log(st[1] - st[0])}
		res, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
		if err != nil {
			lastErr = err
			continue
		}
		if res.Status.Early() {
			lastErr = fmt.Errorf("status %s", res.Status)
			continue
		}

		tau1, tau2 := taus(res.X)
		beta, ssr := solveBetas(ms, ys, tau1, tau2)
		p := models.NSSParams{Beta0: beta[0], Beta1: beta[1], Beta2: beta[2], Beta3: beta[3], Tau1: tau1, Tau2: tau2}
		if err := admissible(p); err != nil {
			lastErr = err
			continue
		}
		if ssr < bestSSR {
			best, bestSSR = p, ssr
		}
	}
	if math.IsInf(bestSSR, 1) {
		return models.NSSParams{}, fmt.Errorf("%w: %v", ErrNotConverged, lastErr)
	}
	return best, nil
}

// Fits whose τ's merge or whose β's leave this band are collinear
// artefacts, not curves.
const (
	minTauRatio = 1.01
	maxAbsBeta  = 1.0
)

// admissible rejects non-finite and degenerate parameter vectors.
func admissible(p models.NSSParams) error {
	for _, v := range p.Vector() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite parameters %v", p.Vector())
		}
	}
	if p.Tau2/p.Tau1 < minTauRatio {
		return fmt.Errorf("τ1 %.4g and τ2 %.4g coincide", p.Tau1, p.Tau2)
	}
	for _, b := range []float64{p.Beta0, p.Beta1, p.Beta2, p.Beta3} {
		if math.Abs(b) > maxAbsBeta {
			return fmt.Errorf("β out of range %v", p.Vector())
		}
	}
	return nil
}

// starts returns the (τ1, τ2) starting pairs, spread geometrically from the
// configured initial τ.
func (f *Fitter) starts() [][2]float64 {
	var out [][2]float64
	for _, k := range []float64{1, 4, 16, 64} {
		tau1 := f.initialTau * k
		for _, ratio := range []float64{4, 16} {
			out = append(out, [2]float64{tau1, tau1 * ratio})
		}
	}
	return out
}

// solveBetas returns the least-squares β's for fixed τ's and the residual
// sum of squares.
func solveBetas(ms, ys []float64, tau1, tau2 float64) ([4]float64, float64) {
	n := len(ms)
	a := mat.NewDense(n, 4, nil)
	for i, m := range ms {
		l := Loadings(m, tau1, tau2)
		a.SetRow(i, l[:])
	}
	y := mat.NewVecDense(n, append([]float64(nil), ys...))

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return [4]float64{}, math.Inf(1)
	}
	rank := svd.Rank(1e-12)
	if rank == 0 {
		return [4]float64{}, math.Inf(1)
	}
	var b mat.VecDense
	svd.SolveVecTo(&b, y, rank)

	var beta [4]float64
	for i := range beta {
		beta[i] = b.AtVec(i)
	}
	var ssr float64
	for i, m := range ms {
		l := Loadings(m, tau1, tau2)
		fit := beta[0]*l[0] + beta[1]*l[1] + beta[2]*l[2] + beta[3]*l[3]
		ssr += (ys[i] - fit) * (ys[i] - fit)
	}
	return beta, ssr
}

// FitDates fits every date concurrently and returns the curves in date
// order. Dates that fail to fit are logged and left out.
func (f *Fitter) FitDates(ctx context.Context, rates []models.ZeroRate, dates []time.Time) ([]models.NSSCurve, error) {
	byDate := make(map[time.Time][]models.ZeroRate)
	for _, r := range rates {
		byDate[r.EvalDate] = append(byDate[r.EvalDate], r)
	}

	results := make([]*models.NSSCurve, len(dates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for i, d := range dates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := f.Fit(byDate[utils.DateOf(d)])
			if err != nil {
				f.logger.Warn("skipping nss fit", "date", utils.FormatDate(d), "error", err)
				return nil
			}
			results[i] = &models.NSSCurve{Date: utils.DateOf(d), Params: p, Rates: ImpliedCurve(p, f.maxMaturity)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	curves := make([]models.NSSCurve, 0, len(results))
	for _, c := range results {
		if c != nil {
			curves = append(curves, *c)
		}
	}
	sort.Slice(curves, func(i, j int) bool { return curves[i].Date.Before(curves[j].Date) })
	return curves, nil
}

// Update fits the given dates and appends them to the panel. With no dates
// the panel is returned unchanged.
func (f *Fitter) Update(ctx context.Context, panel Panel, rates []models.ZeroRate, dates []time.Time) (Panel, int, error) {
	if len(dates) == 0 {
		f.logger.Warn("no new data for nss")
		return panel, 0, nil
	}
	curves, err := f.FitDates(ctx, rates, dates)
	if err != nil {
		return panel, 0, err
	}
	merged, added := panel.Append(curves)
	return merged, added, nil
}
