package curve

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/seenimoa/termstructure/internal/config"
	"github.com/seenimoa/termstructure/internal/infra"
	"github.com/seenimoa/termstructure/pkg/models"
	"github.com/seenimoa/termstructure/pkg/utils"
)

// ErrNotConverged is returned when the bootstrap sweeps do not settle.
var ErrNotConverged = errors.New("bootstrap did not converge")

// Root bracket for a single pillar's zero rate.
const (
	minZeroRate  = -0.5
	maxZeroRate  = 1.0
	maxRootSteps = 200
)

// DefaultLadder is the maturity ladder (months) sampled from every curve.
var DefaultLadder = []int{0, 1, 2, 3, 6, 12, 24, 36, 60, 84, 120, 180}

// Builder bootstraps zero curves and samples them on a maturity ladder.
type Builder struct {
	settlementDays int
	accuracy       float64
	maxIterations  int
	ladder         []int
	logger         *slog.Logger
}

// NewBuilder creates a curve builder. Zero values in cfg fall back to T+2
// settlement, 1e-10 accuracy, 100 sweeps and the default ladder.
func NewBuilder(cfg config.CurveConfig, logger *slog.Logger) *Builder {
	b := &Builder{
		settlementDays: cfg.SettlementDays,
		accuracy:       cfg.Accuracy,
		maxIterations:  cfg.MaxIterations,
		ladder:         cfg.MaturityLadder,
		logger:         infra.OrDiscard(logger).With("component", "zero_curve"),
	}
	if b.settlementDays <= 0 {
		b.settlementDays = 2
	}
	if b.accuracy <= 0 {
		b.accuracy = 1e-10
	}
	if b.maxIterations <= 0 {
		b.maxIterations = 100
	}
	if len(b.ladder) == 0 {
		b.ladder = DefaultLadder
	}
	return b
}

// Ladder returns the maturities sampled by ZeroRates.
func (b *Builder) Ladder() []int { return b.ladder }

// Build bootstraps the zero curve anchored at evalDate so that every bond
// reprices to its quoted clean price plus accrued interest.
func (b *Builder) Build(evalDate time.Time, quotes []models.BondQuote) (*ZeroCurve, error) {
	evalDate = utils.DateOf(evalDate)

	bonds := make([]*Bond, 0, len(quotes))
	for _, q := range quotes {
		bond, err := NewBond(q, evalDate, b.settlementDays)
		if err != nil {
			b.logger.Debug("skipping bond", "date", utils.FormatDate(evalDate), "error", err)
			continue
		}
		bonds = append(bonds, bond)
	}
	bonds = uniquePillars(bonds)
	if len(bonds) == 0 {
		return nil, fmt.Errorf("%s: %w", utils.FormatDate(evalDate), ErrNoInstruments)
	}

	pillars := make([]time.Time, len(bonds))
	times := make([]float64, len(bonds))
	zeros := make([]float64, len(bonds))
	for i, bond := range bonds {
		pillars[i] = bond.Maturity()
		times[i] = YearFraction(evalDate, pillars[i])
		zeros[i] = bond.Coupon
	}

	converged := false
	for sweep := 0; sweep < b.maxIterations && !converged; sweep++ {
		var change float64
		for i, bond := range bonds {
			// The first sweep only sees the pillars solved so far.
			n := len(bonds)
			if sweep == 0 {
				n = i + 1
			}
			prev := zeros[i]
			z, err := b.solvePillar(evalDate, bond, i, times[:n], zeros[:n])
			if err != nil {
				return nil, fmt.Errorf("%s: pillar %s: %w", utils.FormatDate(evalDate), bond.Series, err)
			}
			zeros[i] = z
			change = math.Max(change, math.Abs(z-prev))
		}
		converged = sweep > 0 && change < b.accuracy
		if len(bonds) == 1 {
			converged = true
		}
	}
	if !converged {
		return nil, fmt.Errorf("%s: %w after %d sweeps", utils.FormatDate(evalDate), ErrNotConverged, b.maxIterations)
	}
	return newZeroCurve(evalDate, pillars, times, zeros)
}

// uniquePillars orders bonds by maturity and keeps the first bond per pillar
// date so node times are strictly increasing.
func uniquePillars(bonds []*Bond) []*Bond {
	sort.SliceStable(bonds, func(i, j int) bool {
		mi, mj := bonds[i].Maturity(), bonds[j].Maturity()
		if !mi.Equal(mj) {
			return mi.Before(mj)
		}
		return bonds[i].Series < bonds[j].Series
	})
	out := bonds[:0]
	for _, bond := range bonds {
		if len(out) > 0 && !bond.Maturity().After(out[len(out)-1].Maturity()) {
			continue
		}
		out = append(out, bond)
	}
	return out
}

// solvePillar finds the zero rate at node i that reprices the bond, holding
// the other nodes fixed. It uses Illinois false position inside a fixed
// bracket.
func (b *Builder) solvePillar(evalDate time.Time, bond *Bond, i int, times, zeros []float64) (float64, error) {
	target := bond.DirtyPrice()
	work := append([]float64(nil), zeros...)

	f := func(z float64) (float64, error) {
		work[i] = z
		spline, err := fitSpline(append([]float64{0}, times...), append([]float64{work[0]}, work...))
		if err != nil {
			return 0, err
		}
		discount := func(d time.Time) float64 {
			t := YearFraction(evalDate, d)
			return math.Exp(-spline.Predict(t) * t)
		}
		return bond.ModelPrice(discount) - target, nil
	}

	lo, hi := minZeroRate, maxZeroRate
	flo, err := f(lo)
	if err != nil {
		return 0, err
	}
	fhi, err := f(hi)
	if err != nil {
		return 0, err
	}
	if flo*fhi > 0 {
		return 0, fmt.Errorf("root not bracketed in [%g, %g]: price errors %g, %g", lo, hi, flo, fhi)
	}

	side := 0
	for step := 0; step < maxRootSteps; step++ {
		z := (lo*fhi - hi*flo) / (fhi - flo)
		fz, err := f(z)
		if err != nil {
			return 0, err
		}
		if math.Abs(fz) < b.accuracy || hi-lo < 1e-15 {
			return z, nil
		}
		if fz*fhi > 0 {
			hi, fhi = z, fz
			if side == -1 {
				flo /= 2
			}
			side = -1
		} else {
			lo, flo = z, fz
			if side == 1 {
				fhi /= 2
			}
			side = 1
		}
	}
	return 0, fmt.Errorf("root search exhausted %d steps", maxRootSteps)
}

// ZeroRates samples the curve at evalDate plus each ladder maturity. A
// maturity outside the curve domain is skipped and logged at debug level.
func (b *Builder) ZeroRates(c *ZeroCurve, ladder []int) []models.ZeroRate {
	if ladder == nil {
		ladder = b.ladder
	}
	seen := make(map[int]struct{}, len(ladder))
	rates := make([]models.ZeroRate, 0, len(ladder))
	for _, months := range ladder {
		if _, dup := seen[months]; dup {
			continue
		}
		seen[months] = struct{}{}

		target := utils.AddMonths(c.EvalDate(), months)
		rate, err := c.ZeroRate(target)
		if err != nil {
			b.logger.Debug("failed to calculate zero-rate",
				"eval_date", utils.FormatDate(c.EvalDate()), "period", months, "error", err)
			continue
		}
		rates = append(rates, models.ZeroRate{
			EvalDate:       c.EvalDate(),
			TargetDate:     target,
			MaturityMonths: months,
			Rate:           rate,
		})
	}
	return rates
}

// Calculate builds one curve per date, in ascending order, and returns the
// sampled zero rates of all of them. Dates whose curve cannot be built are
// logged and skipped.
func (b *Builder) Calculate(quotes []models.BondQuote, dates []time.Time) []models.ZeroRate {
	byDate := GroupByDate(quotes)

	sorted := append([]time.Time(nil), dates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	var rates []models.ZeroRate
	for _, d := range sorted {
		c, err := b.Build(d, byDate[utils.DateOf(d)])
		if err != nil {
			b.logger.Warn("skipping curve", "date", utils.FormatDate(d), "error", err)
			continue
		}
		rates = append(rates, b.ZeroRates(c, nil)...)
	}
	return rates
}
