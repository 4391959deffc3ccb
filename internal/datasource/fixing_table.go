package datasource

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/seenimoa/termstructure/pkg/models"
	"github.com/seenimoa/termstructure/pkg/utils"
)

// Canonical column names of the fixing price schema.
const (
	FieldSeries  = "series"
	FieldISIN    = "isin"
	FieldPrice   = "price"
	FieldDate    = "date"
	FieldSession = "fixing"
)

// ColumnType names a conversion applied to a renamed column.
type ColumnType string

const (
	TypeString  ColumnType = "string"
	TypeDecimal ColumnType = "decimal"
	TypeDate    ColumnType = "date"
	TypeSession ColumnType = "session"
)

// ColumnSchema maps scraped source-language headers onto the canonical
// schema. Changing the upstream page layout only requires editing the
// rename and type maps.
type ColumnSchema struct {
	Renames   map[string]string     `json:"renames"`
	Types     map[string]ColumnType `json:"types"`
	Sentinels []string              `json:"sentinels"`
}

// DefaultColumnSchema returns the built-in mapping for the fixing page.
func DefaultColumnSchema() ColumnSchema {
	return ColumnSchema{
		Renames: map[string]string{
			"Seria":          FieldSeries,
			"Kod ISIN":       FieldISIN,
			"Kurs fixingowy": FieldPrice,
			"date":           FieldDate,
			"fixing":         FieldSession,
		},
		Types: map[string]ColumnType{
			FieldSeries:  TypeString,
			FieldISIN:    TypeString,
			FieldSession: TypeSession,
			FieldPrice:   TypeDecimal,
			FieldDate:    TypeDate,
		},
		Sentinels: []string{"-", "KURS NIEOKREŚLONY"},
	}
}

// LoadColumnSchema reads the rename and type maps from JSON object files.
// An empty path keeps the built-in map for that part.
func LoadColumnSchema(renamesPath, typesPath string, sentinels []string) (ColumnSchema, error) {
	schema := DefaultColumnSchema()
	if renamesPath != "" {
		renames := map[string]string{}
		if err := readJSON(renamesPath, &renames); err != nil {
			return schema, err
		}
		schema.Renames = renames
	}
	if typesPath != "" {
		types := map[string]ColumnType{}
		if err := readJSON(typesPath, &types); err != nil {
			return schema, err
		}
		schema.Types = types
	}
	if len(sentinels) > 0 {
		schema.Sentinels = sentinels
	}
	return schema, schema.Validate()
}

// Validate checks that every canonical field is produced with the type the
// price panel needs, and by at most one source column.
func (s ColumnSchema) Validate() error {
	sources := make(map[string]string, len(s.Renames))
	for src, field := range s.Renames {
		if prev, dup := sources[field]; dup {
			a, b := min(prev, src), max(prev, src)
			return fmt.Errorf("column schema: %q and %q both rename to %q", a, b, field)
		}
		sources[field] = src
	}
	want := map[string]ColumnType{
		FieldSeries:  TypeString,
		FieldISIN:    TypeString,
		FieldPrice:   TypeDecimal,
		FieldDate:    TypeDate,
		FieldSession: TypeSession,
	}
	for field, typ := range want {
		if got, ok := s.Types[field]; !ok || got != typ {
			return fmt.Errorf("column schema: field %q must have type %q, got %q", field, typ, got)
		}
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// ParseFixingTable extracts the price rows of one (date, session) page.
// The date and session are added as the "date" and "fixing" source columns
// before the rename so they flow through the same schema.
func ParseFixingTable(r io.Reader, tableIndex int, date time.Time, session models.FixingSession, schema ColumnSchema) ([]models.FixingPrice, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse fixing page: %w", err)
	}

	tables := doc.Find("table")
	if tableIndex < 0 || tableIndex >= tables.Length() {
		return nil, fmt.Errorf("%w: index %d, page has %d tables", ErrTableNotFound, tableIndex, tables.Length())
	}
	raw := tableRecords(tables.Eq(tableIndex))

	var prices []models.FixingPrice
	for _, rec := range raw {
		rec["date"] = date.Format(utils.FixingDateLayout)
		rec["fixing"] = strconv.Itoa(int(session))

		p, ok, err := schema.convert(rec)
		if err != nil {
			return nil, err
		}
		if ok {
			prices = append(prices, p)
		}
	}
	return prices, nil
}

// tableRecords turns an HTML table into header → cell maps. Headers come from
// thead th cells, or from the first row when the table has no thead.
func tableRecords(table *goquery.Selection) []map[string]string {
	var headers []string
	table.Find("thead th").Each(func(_ int, th *goquery.Selection) {
		headers = append(headers, cleanText(th.Text()))
	})

	rows := table.Find("tr")
	start := 0
	if len(headers) == 0 {
		rows.First().Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			headers = append(headers, cleanText(cell.Text()))
		})
		start = 1
	}

	var records []map[string]string
	rows.Each(func(i int, row *goquery.Selection) {
		if i < start || row.ParentsFiltered("thead").Length() > 0 {
			return
		}
		cells := row.Find("td")
		if cells.Length() == 0 {
			return
		}
		rec := make(map[string]string, len(headers))
		cells.Each(func(j int, cell *goquery.Selection) {
			if j < len(headers) && headers[j] != "" {
				rec[headers[j]] = cleanText(cell.Text())
			}
		})
		records = append(records, rec)
	})
	return records
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// convert renames a raw record, drops unknown columns and types the rest.
// A renamed column owns its field: an unmapped header spelled like the
// canonical name is ignored. ok is false for rows without a series code.
func (s ColumnSchema) convert(raw map[string]string) (models.FixingPrice, bool, error) {
	targets := make(map[string]bool, len(s.Renames))
	for _, field := range s.Renames {
		targets[field] = true
	}

	var p models.FixingPrice
	for src, val := range raw {
		name, ok := s.Renames[src]
		if !ok {
			if targets[src] {
				continue
			}
			name = src
		}
		typ, ok := s.Types[name]
		if !ok {
			continue
		}

		switch name {
		case FieldSeries:
			p.Series = val
		case FieldISIN:
			p.ISIN = val
		case FieldPrice:
			if typ != TypeDecimal || utils.IsSentinel(val, s.Sentinels) {
				continue
			}
			d, err := utils.ParseDecimal(val)
			if err != nil {
				continue
			}
			p.Price = &d
		case FieldDate:
			t, err := parseFixingDate(val)
			if err != nil {
				return p, false, err
			}
			p.Date = t
		case FieldSession:
			n, err := strconv.Atoi(val)
			if err != nil || !models.FixingSession(n).Valid() {
				return p, false, fmt.Errorf("invalid fixing session %q", val)
			}
			p.Session = models.FixingSession(n)
		}
	}
	if p.Series == "" || utils.IsSentinel(p.Series, s.Sentinels) {
		return p, false, nil
	}
	return p, true, nil
}

func parseFixingDate(s string) (time.Time, error) {
	for _, layout := range []string{utils.FixingDateLayout, utils.DateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid fixing date %q", s)
}
