package store

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

type testRow struct {
	Date   int32     `parquet:"name=date, type=INT32, convertedtype=DATE"`
	Series string    `parquet:"name=series, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price  *float64  `parquet:"name=price, type=DOUBLE, repetitiontype=OPTIONAL"`
	Rates  []float64 `parquet:"name=rates, type=DOUBLE, repetitiontype=REPEATED"`
}

func TestReadMissingFile(t *testing.T) {
	rows, err := Read[testRow](filepath.Join(t.TempDir(), "absent.parquet"))
	if err != nil {
		t.Fatalf("Read missing: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d rows, want 0", len(rows))
	}
}

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rows.parquet")
	price := 99.85
	in := []testRow{
		{Date: DateToDays(time.Date(2026, 2, 18, 0, 0, 0, 0, time.UTC)), Series: "PS0527", Price: &price, Rates: []float64{0.05, 0.051}},
		{Date: DateToDays(time.Date(2026, 2, 19, 0, 0, 0, 0, time.UTC)), Series: "DS1030", Price: nil, Rates: []float64{0.052}},
	}
	if err := Write(path, in); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file should exist after Write: %v", err)
	}

	out, err := Read[testRow](path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d rows, want 2", len(out))
	}
	if out[0].Series != "PS0527" || out[1].Series != "DS1030" {
		t.Errorf("series = %q, %q", out[0].Series, out[1].Series)
	}
	if out[0].Price == nil || *out[0].Price != 99.85 {
		t.Errorf("price[0] = %v, want 99.85", out[0].Price)
	}
	if out[1].Price != nil {
		t.Errorf("price[1] = %v, want nil", *out[1].Price)
	}
	if len(out[0].Rates) != 2 || out[0].Rates[1] != 0.051 {
		t.Errorf("rates[0] = %v", out[0].Rates)
	}
	if got := DaysToDate(out[1].Date); !got.Equal(time.Date(2026, 2, 19, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date[1] = %v", got)
	}
}

func TestWriteReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.parquet")
	if err := Write(path, []testRow{{Series: "A"}, {Series: "B"}}); err != nil {
		t.Fatal(err)
	}
	if err := Write(path, []testRow{{Series: "C"}}); err != nil {
		t.Fatal(err)
	}
	out, err := Read[testRow](path)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Series != "C" {
		t.Errorf("after replace got %+v", out)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}

func TestDateDays(t *testing.T) {
	d := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := DateToDays(d); got != 10957 {
		t.Errorf("DateToDays(2000-01-01) = %d, want 10957", got)
	}
	if got := DaysToDate(10957); !got.Equal(d) {
		t.Errorf("DaysToDate(10957) = %v", got)
	}
}

const wideSchema = `{
  "Tag": "name=parquet_go_root, repetitiontype=REQUIRED",
  "Fields": [
    {"Tag": "name=date, type=INT32, convertedtype=DATE"},
    {"Tag": "name=1, type=DOUBLE"},
    {"Tag": "name=2, type=DOUBLE"}
  ]
}`

func TestWriteJSONReadColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wide.parquet")
	d := DateToDays(time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC))
	rows := []string{
		fmt.Sprintf(`{"date":%d,"1":0.0412,"2":0.0425}`, d),
		fmt.Sprintf(`{"date":%d,"1":0.0415,"2":0.0431}`, d+1),
	}
	if err := WriteJSON(path, wideSchema, rows); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	cols, err := Columns(path)
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	if want := []string{"date", "1", "2"}; !reflect.DeepEqual(cols, want) {
		t.Errorf("columns = %v, want %v", cols, want)
	}

	values, n, err := ReadColumns(path, []string{"date", "2"})
	if err != nil {
		t.Fatalf("ReadColumns: %v", err)
	}
	if n != 2 {
		t.Fatalf("rows = %d, want 2", n)
	}
	if got := values["date"][1].(int32); got != d+1 {
		t.Errorf("date[1] = %d, want %d", got, d+1)
	}
	if got := values["2"][1].(float64); got != 0.0431 {
		t.Errorf("2[1] = %v, want 0.0431", got)
	}

	if _, _, err := ReadColumns(path, []string{"3"}); err == nil {
		t.Error("reading an absent column should fail")
	}
}

func TestReadColumnsMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.parquet")
	values, n, err := ReadColumns(path, []string{"date"})
	if err != nil || n != 0 || len(values) != 0 {
		t.Errorf("ReadColumns missing = %v, %d, %v", values, n, err)
	}
	cols, err := Columns(path)
	if err != nil || cols != nil {
		t.Errorf("Columns missing = %v, %v", cols, err)
	}
}
