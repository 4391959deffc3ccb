package report

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/seenimoa/termstructure/internal/acm"
	"github.com/seenimoa/termstructure/internal/config"
	"github.com/seenimoa/termstructure/pkg/utils"
)

// ════════════════════════════════════════════════════════════════════
// Test Helpers
// ════════════════════════════════════════════════════════════════════

var testMaturities = []int{12, 24, 60, 120}

// sampleResult builds a decomposition with monthly dates from January 2022
// whose term premium oscillates around zero.
func sampleResult(months int) *acm.Result {
	dates := make([]time.Time, months)
	obs := mat.NewDense(months, len(testMaturities), nil)
	rn := mat.NewDense(months, len(testMaturities), nil)
	tp := mat.NewDense(months, len(testMaturities), nil)
	for t := 0; t < months; t++ {
		dates[t] = time.Date(2022, time.Month(t+2), 0, 0, 0, 0, 0, time.UTC)
		for j, m := range testMaturities {
			r := 0.04 + 0.001*float64(j) + 0.002*math.Sin(float64(t)/5)
			p := 0.003 * math.Sin(float64(t)/4+float64(m)/60)
			rn.Set(t, j, r)
			tp.Set(t, j, p)
			obs.Set(t, j, r+p)
		}
	}
	return &acm.Result{
		Dates:       dates,
		Maturities:  testMaturities,
		Observed:    obs,
		Fitted:      mat.DenseCopyOf(obs),
		RiskNeutral: rn,
		TermPremium: tp,
	}
}

func smallConfig(dir string) ChartConfig {
	cfg := DefaultChartConfig()
	cfg.Dir = dir
	cfg.WidthPx = 640
	cfg.HeightPx = 400
	return cfg
}

func assertPNG(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")) {
		t.Errorf("%s is not a PNG", path)
	}
}

// ════════════════════════════════════════════════════════════════════
// Summary
// ════════════════════════════════════════════════════════════════════

func TestSummary(t *testing.T) {
	res := sampleResult(36)
	text := Summary(res, testMaturities)

	if !strings.HasPrefix(text, summaryHeader) {
		t.Errorf("summary should start with the header, got %q", text)
	}
	if !strings.Contains(text, "⚖️ Risk-Neutral rates\n") || !strings.Contains(text, "⏳ Term Premium\n") {
		t.Errorf("missing section headers:\n%s", text)
	}

	last := len(res.Dates) - 1
	rn := res.RiskNeutral.At(last, 3)
	want := "10y " + utils.FormatRatePct(rn)
	if !strings.Contains(text, want) {
		t.Errorf("summary missing %q:\n%s", want, text)
	}

	sections := strings.Split(text, "\n\n")
	if len(sections) != 3 {
		t.Fatalf("sections = %d, want 3", len(sections))
	}
	for _, s := range sections[1:] {
		if lines := strings.Split(s, "\n"); len(lines) != 1+len(testMaturities) {
			t.Errorf("section %q has %d lines", lines[0], len(lines))
		}
	}
}

func TestSummarySkipsUnknownMaturity(t *testing.T) {
	text := Summary(sampleResult(12), []int{12, 999})
	if strings.Contains(text, "999") || strings.Contains(text, "83y") {
		t.Errorf("unknown maturity should be skipped:\n%s", text)
	}
	if !strings.Contains(text, "1y ") {
		t.Errorf("known maturity missing:\n%s", text)
	}
}

// ════════════════════════════════════════════════════════════════════
// Sign fills
// ════════════════════════════════════════════════════════════════════

func TestSignFillsCrossing(t *testing.T) {
	xs := []float64{0, 1, 2, 3}
	hi := []float64{1, 1, -1, -1}
	lo := []float64{0, 0, 0, 0}

	above, below := signFills(xs, hi, lo)
	if len(above) != 1 || len(below) != 1 {
		t.Fatalf("rings = %d above, %d below; want 1, 1", len(above), len(below))
	}
	if len(above[0]) != 6 || len(below[0]) != 6 {
		t.Errorf("ring sizes = %d, %d; want 6, 6", len(above[0]), len(below[0]))
	}
	cross := above[0][2]
	if cross.X != 1.5 || cross.Y != 0 {
		t.Errorf("crossing = %+v, want (1.5, 0)", cross)
	}
	if below[0][0] != cross {
		t.Errorf("below ring should start at the crossing, got %+v", below[0][0])
	}
}

func TestSignFillsTouchingZero(t *testing.T) {
	xs := []float64{0, 1, 2}
	hi := []float64{0, 0, 0}
	above, below := signFills(xs, hi, []float64{0, 0, 0})
	if len(above) != 0 || len(below) != 0 {
		t.Errorf("flat band should produce no fill, got %d/%d", len(above), len(below))
	}

	// A zero sample between two positive ones stays in one ring.
	above, below = signFills(xs, []float64{1, 0, 2}, []float64{0, 0, 0})
	if len(above) != 1 || len(below) != 0 {
		t.Errorf("rings = %d/%d, want 1/0", len(above), len(below))
	}
}

// ════════════════════════════════════════════════════════════════════
// Tickers and config
// ════════════════════════════════════════════════════════════════════

func TestYearTicks(t *testing.T) {
	min := float64(time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC).Unix())
	max := float64(time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC).Unix())
	ticks := yearTicks{}.Ticks(min, max)
	if len(ticks) != 3 {
		t.Fatalf("ticks = %d, want 3", len(ticks))
	}
	for i, want := range []string{"2024", "2025", "2026"} {
		if ticks[i].Label != want {
			t.Errorf("tick %d = %q, want %q", i, ticks[i].Label, want)
		}
	}
}

func TestPercentTicks(t *testing.T) {
	for _, tk := range (percentTicks{Decimals: 1}).Ticks(0, 0.05) {
		if tk.IsMinor() {
			continue
		}
		if !strings.HasSuffix(tk.Label, "%") {
			t.Errorf("label %q should be a percentage", tk.Label)
		}
	}
}

func TestNewChartConfig(t *testing.T) {
	c := NewChartConfig(config.ReportConfig{Watermark: "@x", WidthPx: 800}, "/tmp/charts")
	if c.Dir != "/tmp/charts" || c.Watermark != "@x" || c.WidthPx != 800 {
		t.Errorf("overrides not applied: %+v", c)
	}
	if c.HeightPx != 1000 || c.LookbackYears != 4 || len(c.Maturities) != 4 {
		t.Errorf("defaults not kept: %+v", c)
	}
	if r, cols := c.grid(); r != 2 || cols != 2 {
		t.Errorf("grid = %d×%d, want 2×2", r, cols)
	}
}

// ════════════════════════════════════════════════════════════════════
// Charts
// ════════════════════════════════════════════════════════════════════

func TestCharts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "charts")
	res := sampleResult(60)
	today := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	paths, err := Charts(res, today, smallConfig(dir))
	if err != nil {
		t.Fatalf("Charts: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("paths = %v", paths)
	}
	if filepath.Base(paths[0]) != RiskNeutralFile || filepath.Base(paths[1]) != TermPremiumFile {
		t.Errorf("unexpected names: %v", paths)
	}
	for _, p := range paths {
		assertPNG(t, p)
	}
}

func TestChartMissingMaturity(t *testing.T) {
	cfg := smallConfig(t.TempDir())
	cfg.Maturities = []int{12, 36}
	today := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	if _, err := TermPremiumChart(sampleResult(60), today, cfg); err == nil {
		t.Error("expected error for a maturity the model does not carry")
	}
}

func TestChartNoRecentData(t *testing.T) {
	// Sample ends in 2022; a 2030 run with a one-year lookback sees nothing.
	cfg := smallConfig(t.TempDir())
	cfg.LookbackYears = 1
	today := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	if _, err := RiskNeutralChart(sampleResult(12), today, cfg); err == nil {
		t.Error("expected error when the lookback window is empty")
	}
}
