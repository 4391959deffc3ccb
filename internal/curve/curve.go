package curve

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/interp"

	"github.com/seenimoa/termstructure/pkg/utils"
)

var (
	// ErrOutsideDomain is returned when a date lies before the evaluation date
	// or after the last pillar of the curve.
	ErrOutsideDomain = errors.New("date outside curve domain")
	// ErrNoInstruments is returned when a date has no usable bond quotes.
	ErrNoInstruments = errors.New("no calibration instruments")
)

// ZeroCurve is a bootstrapped curve of continuously compounded zero rates,
// interpolated by a natural cubic spline in curve time.
type ZeroCurve struct {
	evalDate time.Time
	maxDate  time.Time
	times    []float64 // times[0] = 0 is the reference node
	zeros    []float64
	spline   interp.Predictor
}

// newZeroCurve fits the interpolant through the nodes. The reference node at
// t=0 is tied to the first pillar.
func newZeroCurve(evalDate time.Time, pillars []time.Time, times, zeros []float64) (*ZeroCurve, error) {
	ts := append([]float64{0}, times...)
	zs := append([]float64{zeros[0]}, zeros...)
	spline, err := fitSpline(ts, zs)
	if err != nil {
		return nil, err
	}
	return &ZeroCurve{
		evalDate: evalDate,
		maxDate:  pillars[len(pillars)-1],
		times:    ts,
		zeros:    zs,
		spline:   spline,
	}, nil
}

// fitSpline uses a natural cubic through three or more nodes and falls back
// to linear for two, where the curve is flat anyway.
func fitSpline(ts, zs []float64) (interp.Predictor, error) {
	switch {
	case len(ts) < 2:
		return nil, fmt.Errorf("curve needs at least one pillar, got %d nodes", len(ts))
	case len(ts) == 2:
		var pl interp.PiecewiseLinear
		if err := pl.Fit(ts, zs); err != nil {
			return nil, err
		}
		return &pl, nil
	default:
		var nc interp.NaturalCubic
		if err := nc.Fit(ts, zs); err != nil {
			return nil, fmt.Errorf("fit cubic spline: %w", err)
		}
		return &nc, nil
	}
}

// EvalDate returns the curve's reference date.
func (c *ZeroCurve) EvalDate() time.Time { return c.evalDate }

// MaxDate returns the last date the curve is defined for.
func (c *ZeroCurve) MaxDate() time.Time { return c.maxDate }

// Nodes returns copies of the node times and zero rates, reference node first.
func (c *ZeroCurve) Nodes() (times, zeros []float64) {
	return append([]float64(nil), c.times...), append([]float64(nil), c.zeros...)
}

// TimeOf converts a date to curve time.
func (c *ZeroCurve) TimeOf(d time.Time) float64 {
	return YearFraction(c.evalDate, d)
}

// ZeroRate returns the continuously compounded zero rate to the date.
func (c *ZeroCurve) ZeroRate(d time.Time) (float64, error) {
	d = utils.DateOf(d)
	if d.Before(c.evalDate) || d.After(c.maxDate) {
		return 0, fmt.Errorf("%w: %s not in [%s, %s]", ErrOutsideDomain,
			utils.FormatDate(d), utils.FormatDate(c.evalDate), utils.FormatDate(c.maxDate))
	}
	return c.zeroAt(c.TimeOf(d)), nil
}

// Discount returns the discount factor to the date.
func (c *ZeroCurve) Discount(d time.Time) (float64, error) {
	z, err := c.ZeroRate(d)
	if err != nil {
		return 0, err
	}
	return math.Exp(-z * c.TimeOf(d)), nil
}

func (c *ZeroCurve) zeroAt(t float64) float64 {
	return c.spline.Predict(t)
}
