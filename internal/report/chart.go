// Package report renders the term-structure decomposition for publication:
// two PNG chart grids (risk-neutral rates and term premium) and a short text
// summary of the latest values.
package report

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/font"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/seenimoa/termstructure/internal/acm"
	"github.com/seenimoa/termstructure/internal/config"
	"github.com/seenimoa/termstructure/pkg/utils"
)

// Output file names inside the charts directory.
const (
	RiskNeutralFile = "risk_neutral.png"
	TermPremiumFile = "term_premium.png"
)

const dpi = 96

var (
	bgColor        = color.Black
	fgColor        = color.White
	gridColor      = color.NRGBA{R: 255, G: 255, B: 255, A: 26}
	aboveColor     = color.NRGBA{G: 128, A: 128}
	belowColor     = color.NRGBA{R: 255, A: 128}
	watermarkColor = color.NRGBA{R: 128, G: 128, B: 128, A: 128}
)

// ════════════════════════════════════════════════════════════════════
// Chart configuration
// ════════════════════════════════════════════════════════════════════

// ChartConfig holds rendering parameters for the chart grids.
type ChartConfig struct {
	Dir           string // output directory
	Maturities    []int  // months, one tile each, row-major
	LookbackYears int    // history starts on Jan 1 of (year - LookbackYears + 1)
	Watermark     string
	WidthPx       int
	HeightPx      int
}

// DefaultChartConfig returns the defaults used by the published charts.
func DefaultChartConfig() ChartConfig {
	return ChartConfig{
		Dir:           ".",
		Maturities:    []int{12, 24, 60, 120},
		LookbackYears: 4,
		Watermark:     "@PLTermPremium",
		WidthPx:       1600,
		HeightPx:      1000,
	}
}

// NewChartConfig builds a ChartConfig from the report settings, keeping
// defaults for anything unset.
func NewChartConfig(cfg config.ReportConfig, dir string) ChartConfig {
	c := DefaultChartConfig()
	if dir != "" {
		c.Dir = dir
	}
	if len(cfg.Maturities) > 0 {
		c.Maturities = cfg.Maturities
	}
	if cfg.LookbackYears > 0 {
		c.LookbackYears = cfg.LookbackYears
	}
	if cfg.Watermark != "" {
		c.Watermark = cfg.Watermark
	}
	if cfg.WidthPx > 0 {
		c.WidthPx = cfg.WidthPx
	}
	if cfg.HeightPx > 0 {
		c.HeightPx = cfg.HeightPx
	}
	return c
}

// grid returns the rows and columns of the tile layout.
func (c ChartConfig) grid() (rows, cols int) {
	n := len(c.Maturities)
	if n <= 1 {
		return 1, 1
	}
	cols = 2
	rows = (n + cols - 1) / cols
	return rows, cols
}

// ════════════════════════════════════════════════════════════════════
// Risk-neutral and term-premium charts
// ════════════════════════════════════════════════════════════════════

// RiskNeutralChart draws the fitted zero-coupon rate against the
// risk-neutral rate for each configured maturity, shading the gap between
// them by sign, and returns the PNG path.
func RiskNeutralChart(res *acm.Result, today time.Time, cfg ChartConfig) (string, error) {
	from := utils.YearBeginsBack(today, cfg.LookbackYears)
	plots := make([]*plot.Plot, 0, len(cfg.Maturities))
	for i, m := range cfg.Maturities {
		dates, rn, tp, ok := res.Series(m, from)
		if !ok || len(dates) == 0 {
			return "", fmt.Errorf("risk-neutral chart: no data for %d months", m)
		}
		xs := unixSeconds(dates)
		fitted := make([]float64, len(rn))
		for j := range rn {
			fitted[j] = rn[j] + tp[j]
		}

		p := newTile(fmt.Sprintf("%d year rny", m/12))
		if err := addFills(p, xs, fitted, rn, "Term Premium"); err != nil {
			return "", err
		}
		zl, err := newSeriesLine(xs, fitted, nil)
		if err != nil {
			return "", err
		}
		rl, err := newSeriesLine(xs, rn, []vg.Length{vg.Points(1), vg.Points(3)})
		if err != nil {
			return "", err
		}
		p.Add(zl, rl)
		if i == len(cfg.Maturities)-1 {
			p.Legend.Add("Fitted zero-coupon rate", zl)
			p.Legend.Add("Risk-Neutral rate", rl)
		}
		plots = append(plots, p)
	}

	path := filepath.Join(cfg.Dir, RiskNeutralFile)
	if err := render(plots, "PLN Sovereign curve - Risk-Neutral rates", path, cfg); err != nil {
		return "", err
	}
	return path, nil
}

// TermPremiumChart draws the term premium for each configured maturity,
// green above zero and red below, and returns the PNG path.
func TermPremiumChart(res *acm.Result, today time.Time, cfg ChartConfig) (string, error) {
	from := utils.YearBeginsBack(today, cfg.LookbackYears)
	plots := make([]*plot.Plot, 0, len(cfg.Maturities))
	for i, m := range cfg.Maturities {
		dates, _, tp, ok := res.Series(m, from)
		if !ok || len(dates) == 0 {
			return "", fmt.Errorf("term premium chart: no data for %d months", m)
		}
		xs := unixSeconds(dates)

		p := newTile(fmt.Sprintf("%d year term premium", m/12))
		if err := addFills(p, xs, tp, make([]float64, len(tp)), ""); err != nil {
			return "", err
		}
		l, err := newSeriesLine(xs, tp, nil)
		if err != nil {
			return "", err
		}
		p.Add(l)
		if i == len(cfg.Maturities)-1 {
			p.Legend.Add("Term Premium", l)
		}
		plots = append(plots, p)
	}

	path := filepath.Join(cfg.Dir, TermPremiumFile)
	if err := render(plots, "PLN Sovereign Curve - Term Premium", path, cfg); err != nil {
		return "", err
	}
	return path, nil
}

// ════════════════════════════════════════════════════════════════════
// Plot building blocks
// ════════════════════════════════════════════════════════════════════

func textStyle(size vg.Length, c color.Color) draw.TextStyle {
	return draw.TextStyle{
		Color:   c,
		Font:    font.Font{Typeface: "Liberation", Variant: "Sans", Size: size},
		Handler: plot.DefaultTextHandler,
	}
}

// newTile returns an empty plot styled for the dark background.
func newTile(title string) *plot.Plot {
	p := plot.New()
	p.BackgroundColor = bgColor
	p.Title.Text = title
	p.Title.TextStyle = textStyle(vg.Points(14), fgColor)
	p.Title.TextStyle.XAlign = draw.XCenter
	p.Title.TextStyle.YAlign = draw.YTop

	for _, ax := range []*plot.Axis{&p.X, &p.Y} {
		ax.Color = fgColor
		ax.Tick.Color = fgColor
		ax.Tick.Label = textStyle(vg.Points(10), fgColor)
	}
	p.X.Tick.Marker = yearTicks{}
	p.Y.Tick.Marker = percentTicks{Decimals: 1}
	p.Y.Tick.Label.XAlign = draw.XRight
	p.Y.Tick.Label.YAlign = draw.YCenter
	p.X.Tick.Label.XAlign = draw.XCenter
	p.X.Tick.Label.YAlign = draw.YTop

	p.Legend.TextStyle = textStyle(vg.Points(10), fgColor)
	p.Legend.Top = true
	p.Legend.Left = true

	g := plotter.NewGrid()
	g.Vertical.Color = gridColor
	g.Horizontal.Color = gridColor
	p.Add(g)
	return p
}

func newSeriesLine(xs, ys []float64, dashes []vg.Length) (*plotter.Line, error) {
	pts := make(plotter.XYs, len(xs))
	for i := range xs {
		pts[i].X, pts[i].Y = xs[i], ys[i]
	}
	l, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("build line: %w", err)
	}
	l.Color = fgColor
	l.Width = vg.Points(1.5)
	l.Dashes = dashes
	return l, nil
}

// addFills shades the area between hi and lo, green where hi is above lo and
// red where it is below. A non-empty label names the first green region in
// the legend.
func addFills(p *plot.Plot, xs, hi, lo []float64, label string) error {
	above, below := signFills(xs, hi, lo)
	labelled := label == ""
	for _, set := range []struct {
		rings []plotter.XYs
		c     color.Color
	}{{above, aboveColor}, {below, belowColor}} {
		for _, ring := range set.rings {
			poly, err := plotter.NewPolygon(ring)
			if err != nil {
				return fmt.Errorf("build fill: %w", err)
			}
			poly.Color = set.c
			poly.LineStyle.Width = 0
			poly.LineStyle.Color = color.Transparent
			p.Add(poly)
			if !labelled {
				p.Legend.Add(label, poly)
				labelled = true
			}
		}
	}
	return nil
}

// signFills splits the band between hi and lo into closed rings that do not
// change sign, inserting the interpolated crossing point wherever hi-lo
// changes sign between two samples.
func signFills(xs, hi, lo []float64) (above, below []plotter.XYs) {
	var top, bot plotter.XYs
	sign := 0
	flush := func() {
		if len(top) >= 2 && sign != 0 {
			ring := make(plotter.XYs, 0, len(top)+len(bot))
			ring = append(ring, top...)
			for i := len(bot) - 1; i >= 0; i-- {
				ring = append(ring, bot[i])
			}
			if sign > 0 {
				above = append(above, ring)
			} else {
				below = append(below, ring)
			}
		}
		top, bot = nil, nil
	}

	for i := range xs {
		d := hi[i] - lo[i]
		s := signOf(d)
		if i > 0 && s != 0 && sign != 0 && s != sign {
			d0 := hi[i-1] - lo[i-1]
			w := d0 / (d0 - d)
			pt := plotter.XY{
				X: xs[i-1] + w*(xs[i]-xs[i-1]),
				Y: lo[i-1] + w*(lo[i]-lo[i-1]),
			}
			top = append(top, pt)
			bot = append(bot, pt)
			flush()
			top = append(top, pt)
			bot = append(bot, pt)
		}
		if s != 0 {
			sign = s
		}
		top = append(top, plotter.XY{X: xs[i], Y: hi[i]})
		bot = append(bot, plotter.XY{X: xs[i], Y: lo[i]})
	}
	flush()
	return above, below
}

func signOf(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func unixSeconds(dates []time.Time) []float64 {
	xs := make([]float64, len(dates))
	for i, d := range dates {
		xs[i] = float64(d.Unix())
	}
	return xs
}

// ════════════════════════════════════════════════════════════════════
// Axis tickers
// ════════════════════════════════════════════════════════════════════

// yearTicks marks January 1st of every year on a Unix-seconds axis.
type yearTicks struct{}

func (yearTicks) Ticks(min, max float64) []plot.Tick {
	lo := time.Unix(int64(min), 0).UTC()
	hi := time.Unix(int64(max), 0).UTC()
	var ticks []plot.Tick
	for y := lo.Year(); y <= hi.Year()+1; y++ {
		t := time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
		v := float64(t.Unix())
		if v < min || v > max {
			continue
		}
		ticks = append(ticks, plot.Tick{Value: v, Label: t.Format("2006")})
	}
	if len(ticks) < 2 {
		// Short histories fall back to the default spacing, labelled by month.
		return plot.TimeTicks{Format: "2006-01"}.Ticks(min, max)
	}
	return ticks
}

// percentTicks labels a rate axis as percentages.
type percentTicks struct {
	Decimals int
}

func (t percentTicks) Ticks(min, max float64) []plot.Tick {
	ticks := plot.DefaultTicks{}.Ticks(min, max)
	for i := range ticks {
		if ticks[i].IsMinor() {
			continue
		}
		ticks[i].Label = fmt.Sprintf("%.*f%%", t.Decimals, ticks[i].Value*100)
	}
	return ticks
}

// ════════════════════════════════════════════════════════════════════
// Rendering
// ════════════════════════════════════════════════════════════════════

// render lays the plots out on a grid under a common title, stamps the
// watermark and writes a PNG to path.
func render(plots []*plot.Plot, title, path string, cfg ChartConfig) error {
	if cfg.WidthPx <= 0 || cfg.HeightPx <= 0 {
		return fmt.Errorf("render %s: invalid size %dx%d", path, cfg.WidthPx, cfg.HeightPx)
	}
	w := vg.Length(cfg.WidthPx) * vg.Inch / dpi
	h := vg.Length(cfg.HeightPx) * vg.Inch / dpi

	img := vgimg.NewWith(vgimg.UseWH(w, h), vgimg.UseDPI(dpi), vgimg.UseBackgroundColor(bgColor))
	dc := draw.New(img)

	titleStyle := textStyle(vg.Points(20), fgColor)
	titleStyle.XAlign = draw.XCenter
	titleStyle.YAlign = draw.YTop
	dc.FillText(titleStyle, vg.Point{X: w / 2, Y: h - vg.Points(8)}, title)

	if cfg.Watermark != "" {
		ws := textStyle(vg.Points(10), watermarkColor)
		ws.XAlign = draw.XRight
		ws.YAlign = draw.YBottom
		dc.FillText(ws, vg.Point{X: w * 0.98, Y: h * 0.95}, cfg.Watermark)
	}

	rows, cols := cfg.grid()
	grid := make([][]*plot.Plot, rows)
	for r := range grid {
		grid[r] = make([]*plot.Plot, cols)
		for c := range grid[r] {
			if k := r*cols + c; k < len(plots) {
				grid[r][c] = plots[k]
			}
		}
	}
	tiles := draw.Tiles{
		Rows:      rows,
		Cols:      cols,
		PadX:      vg.Points(18),
		PadY:      vg.Points(18),
		PadTop:    vg.Points(48),
		PadBottom: vg.Points(8),
		PadLeft:   vg.Points(8),
		PadRight:  vg.Points(12),
	}
	canvases := plot.Align(grid, tiles, dc)
	for r := range grid {
		for c, p := range grid[r] {
			if p != nil {
				p.Draw(canvases[r][c])
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create charts dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
