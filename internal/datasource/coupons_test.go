package datasource

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/seenimoa/termstructure/internal/config"
	"github.com/seenimoa/termstructure/internal/infra"
	"github.com/seenimoa/termstructure/pkg/models"
)

const testSheet = "ObligacjeStałoprocentowe"

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// buildWorkbook writes a two-bond, two-period coupon sheet in the published layout.
func buildWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", testSheet); err != nil {
		t.Fatal(err)
	}

	set := func(cell string, v any) {
		if err := f.SetCellValue(testSheet, cell, v); err != nil {
			t.Fatal(err)
		}
	}

	// Group header row with merged "Kupon Nr N" labels.
	set("E1", "Kupon Nr 1")
	set("J1", "Kupon Nr 2")
	f.MergeCell(testSheet, "E1", "I1")
	f.MergeCell(testSheet, "J1", "N1")

	fields := []string{colPeriodStart, colPeriodEnd, colRightsDate, colPaymentDate, colInterest}
	for i, h := range []string{colSeries, colISIN, colCoupon, colRedemption} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		set(cell, h)
	}
	for g := 0; g < 2; g++ {
		for i, h := range fields {
			cell, _ := excelize.CoordinatesToCellName(5+g*5+i, 2)
			set(cell, h)
		}
	}

	// PS0527: fractional coupon, second period has no interest yet.
	set("A3", "PS0527")
	set("B3", "PL0000114393")
	set("C3", 0.0575)
	set("D3", day(2027, 5, 25))
	set("E3", day(2025, 5, 25))
	set("F3", day(2026, 5, 25))
	set("G3", day(2026, 5, 20))
	set("H3", day(2026, 5, 25))
	set("I3", 57.5)
	set("J3", day(2026, 5, 25))
	set("K3", day(2027, 5, 25))
	set("L3", day(2027, 5, 20))
	set("M3", day(2027, 5, 25))
	set("N3", "-")

	// DS1030: coupon in percent, dates as text.
	set("A4", "DS1030")
	set("B4", "PL0000112165")
	set("C4", "5,25")
	set("D4", "2030-10-25")
	set("E4", "25.10.2025")
	set("F4", "25.10.2026")
	set("G4", "20.10.2026")
	set("H4", "26.10.2026")
	set("I4", 52.5)

	// Missing ISIN drops every record of the row.
	set("A5", "OK0128")
	set("B5", "-")
	set("C5", 0)
	set("D5", day(2028, 1, 25))

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestParseCouponWorkbook(t *testing.T) {
	cal, err := ParseCouponWorkbook(buildWorkbook(t), testSheet)
	if err != nil {
		t.Fatalf("ParseCouponWorkbook: %v", err)
	}
	if len(cal) != 3 {
		t.Fatalf("got %d records, want 3: %+v", len(cal), cal)
	}

	// Sorted by (series, period).
	ds, ps1, ps2 := cal[0], cal[1], cal[2]
	if ds.Series != "DS1030" || ds.PeriodNumber != 1 {
		t.Errorf("first record = %s/%d, want DS1030/1", ds.Series, ds.PeriodNumber)
	}
	if ds.CouponRate.String() != "0.0525" {
		t.Errorf("DS1030 coupon = %s, want 0.0525", ds.CouponRate)
	}
	if !ds.PeriodStart.Equal(day(2025, 10, 25)) || !ds.RedemptionDate.Equal(day(2030, 10, 25)) {
		t.Errorf("DS1030 dates = %v / %v", ds.PeriodStart, ds.RedemptionDate)
	}

	if ps1.Series != "PS0527" || ps1.PeriodNumber != 1 {
		t.Errorf("second record = %s/%d, want PS0527/1", ps1.Series, ps1.PeriodNumber)
	}
	if ps1.CouponRate.String() != "0.0575" {
		t.Errorf("PS0527 coupon = %s, want 0.0575", ps1.CouponRate)
	}
	if !ps1.PeriodEnd.Equal(day(2026, 5, 25)) || !ps1.RightsDate.Equal(day(2026, 5, 20)) {
		t.Errorf("PS0527 period 1 dates = %v / %v", ps1.PeriodEnd, ps1.RightsDate)
	}
	if ps1.CouponAmount.String() != "57.5" {
		t.Errorf("PS0527 interest = %s, want 57.5", ps1.CouponAmount)
	}
	if ps2.PeriodNumber != 2 {
		t.Errorf("third record period = %d, want 2", ps2.PeriodNumber)
	}
	if !ps2.PeriodStart.Equal(day(2026, 5, 25)) {
		t.Errorf("PS0527 period 2 start = %v", ps2.PeriodStart)
	}
}

func TestParseCouponWorkbookCouponCellTypes(t *testing.T) {
	f, err := excelize.OpenReader(bytes.NewReader(buildWorkbook(t)))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	// A sub-one percentage as text, and a fraction as a number.
	if err := f.SetCellValue(testSheet, "C3", "0.75"); err != nil {
		t.Fatal(err)
	}
	if err := f.SetCellValue(testSheet, "C4", 0.0075); err != nil {
		t.Fatal(err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}

	cal, err := ParseCouponWorkbook(buf.Bytes(), testSheet)
	if err != nil {
		t.Fatalf("ParseCouponWorkbook: %v", err)
	}
	want := decimal.RequireFromString("0.0075")
	for _, c := range cal {
		if !c.CouponRate.Equal(want) {
			t.Errorf("%s coupon = %s, want %s", c.Series, c.CouponRate, want)
		}
	}
}

func TestParseCouponRate(t *testing.T) {
	tests := []struct {
		in   string
		text bool
		want string
	}{
		{"0.0575", false, "0.0575"},
		{"1.5", false, "1.5"},
		{"5,25", true, "0.0525"},
		{"0.75", true, "0.0075"},
		{"0,75%", true, "0.0075"},
		{"6.5%", false, "0.065"},
	}
	for _, tt := range tests {
		got, err := parseCouponRate(tt.in, tt.text)
		if err != nil {
			t.Errorf("parseCouponRate(%q, %v) error: %v", tt.in, tt.text, err)
			continue
		}
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("parseCouponRate(%q, %v) = %s, want %s", tt.in, tt.text, got, tt.want)
		}
	}
	if _, err := parseCouponRate("-", true); err == nil {
		t.Error("expected error for a non-number")
	}
}

func TestParseCouponWorkbookMissingSheet(t *testing.T) {
	_, err := ParseCouponWorkbook(buildWorkbook(t), "Other")
	if !errors.Is(err, ErrSheetNotFound) {
		t.Errorf("expected ErrSheetNotFound, got %v", err)
	}
}

func TestParseSheetDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"46167", day(2026, 5, 25)},
		{"2026-05-25", day(2026, 5, 25)},
		{"25.05.2026", day(2026, 5, 25)},
	}
	for _, tt := range tests {
		got, err := parseSheetDate(tt.in)
		if err != nil {
			t.Errorf("parseSheetDate(%q) error: %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseSheetDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := parseSheetDate("soon"); err == nil {
		t.Error("expected error for non-date text")
	}
}

// couponServer serves a landing page and the workbook attachment.
type couponServer struct {
	*httptest.Server
	downloads atomic.Int32
}

func newCouponServer(t *testing.T, landing string, workbook []byte) *couponServer {
	cs := &couponServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/web/finanse/kupony", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, landing)
	})
	mux.HandleFunc("/attachment/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/attachment/3f2a-77bc" {
			http.NotFound(w, r)
			return
		}
		cs.downloads.Add(1)
		w.Write(workbook)
	})
	cs.Server = httptest.NewServer(mux)
	t.Cleanup(cs.Close)
	return cs
}

func sourcesFor(url string) config.SourcesConfig {
	return config.SourcesConfig{
		CouponLandingURL:  url + "/web/finanse/kupony",
		AttachmentBaseURL: url + "/attachment/",
		CouponLinkRegex:   `^/attachment/([\w-]+)$`,
		CouponSheet:       testSheet,
		FixingURL:         url + "/fixing_obligacji",
		TimeoutSec:        5,
		MaxRequestsPerSec: 100,
		BackfillStart:     "2026-02-18",
	}
}

const landingPage = `<html><body>
<a href="/web/finanse/obligacje">Obligacje</a>
<a href="/attachment/3f2a-77bc">Kalendarz kuponów (xlsx)</a>
<a href="/attachment/ffff-0000">Older</a>
</body></html>`

func TestScheduleStoreRefreshIdempotent(t *testing.T) {
	srv := newCouponServer(t, landingPage, buildWorkbook(t))
	path := filepath.Join(t.TempDir(), "coupon_calendar.parquet")

	s, err := NewScheduleStore(path, sourcesFor(srv.URL), infra.NewCache(time.Hour), time.Hour, nil)
	if err != nil {
		t.Fatalf("NewScheduleStore: %v", err)
	}

	first, err := s.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	second, err := s.Refresh(context.Background())
	if err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if got := srv.downloads.Load(); got != 1 {
		t.Errorf("workbook downloads = %d, want 1 (cached)", got)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(first) != 3 || len(second) != len(first) || len(loaded) != len(first) {
		t.Fatalf("sizes first=%d second=%d loaded=%d, want 3", len(first), len(second), len(loaded))
	}
	for i := range first {
		if !sameCoupon(first[i], loaded[i]) {
			t.Errorf("record %d differs after reload:\n got %+v\nwant %+v", i, loaded[i], first[i])
		}
		if !sameCoupon(first[i], second[i]) {
			t.Errorf("record %d differs between refreshes", i)
		}
	}
}

func sameCoupon(a, b models.BondCoupon) bool {
	return a.Series == b.Series && a.ISIN == b.ISIN && a.PeriodNumber == b.PeriodNumber &&
		a.PeriodStart.Equal(b.PeriodStart) && a.PeriodEnd.Equal(b.PeriodEnd) &&
		a.RightsDate.Equal(b.RightsDate) && a.PaymentDate.Equal(b.PaymentDate) &&
		a.RedemptionDate.Equal(b.RedemptionDate) &&
		a.CouponRate.Equal(b.CouponRate) && a.CouponAmount.Equal(b.CouponAmount)
}

func TestScheduleStoreLinkNotFound(t *testing.T) {
	srv := newCouponServer(t, `<html><a href="/web/other">nothing</a></html>`, nil)
	path := filepath.Join(t.TempDir(), "coupon_calendar.parquet")

	s, err := NewScheduleStore(path, sourcesFor(srv.URL), nil, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Refresh(context.Background())
	if !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}
	if _, statErr := s.Load(); statErr != nil {
		t.Errorf("Load after failed refresh: %v", statErr)
	}
}

func TestNewScheduleStoreBadRegex(t *testing.T) {
	src := sourcesFor("http://localhost")
	src.CouponLinkRegex = "(["
	if _, err := NewScheduleStore("x.parquet", src, nil, 0, nil); err == nil {
		t.Error("expected error for invalid regex")
	}
}
