package nss

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/seenimoa/termstructure/internal/store"
	"github.com/seenimoa/termstructure/pkg/models"
)

// Panel is the NSS panel: one fitted curve per evaluation date, ascending.
type Panel []models.NSSCurve

// LastDate returns the latest fitted date, or the zero time when empty.
func (p Panel) LastDate() time.Time {
	if len(p) == 0 {
		return time.Time{}
	}
	return p[len(p)-1].Date
}

// Dates returns the evaluation dates of the panel.
func (p Panel) Dates() []time.Time {
	dates := make([]time.Time, len(p))
	for i, c := range p {
		dates[i] = c.Date
	}
	return dates
}

// Column returns the implied rate for one maturity month across all dates.
// ok is false when any row lacks the month.
func (p Panel) Column(month int) ([]float64, bool) {
	out := make([]float64, len(p))
	for i, c := range p {
		r, ok := c.Rate(month)
		if !ok {
			return nil, false
		}
		out[i] = r
	}
	return out, true
}

// Append adds curves dated after the panel's last date, in date order, and
// returns the new panel with the number of rows added. Existing rows are
// never modified.
func (p Panel) Append(curves []models.NSSCurve) (Panel, int) {
	last := p.LastDate()
	fresh := make([]models.NSSCurve, 0, len(curves))
	for _, c := range curves {
		if !last.IsZero() && !c.Date.After(last) {
			continue
		}
		fresh = append(fresh, c)
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].Date.Before(fresh[j].Date) })

	out := make(Panel, len(p), len(p)+len(fresh))
	copy(out, p)
	for _, c := range fresh {
		if n := len(out); n > 0 && !c.Date.After(out[n-1].Date) {
			continue
		}
		out = append(out, c)
	}
	return out, len(out) - len(p)
}

var paramColumns = []string{"beta0", "beta1", "beta2", "beta3", "tau1", "tau2"}

// panelSchema is the parquet JSON schema of a panel whose curves run to
// months: date, the six parameters, then one DOUBLE column per month named
// "1".."months".
func panelSchema(months int) string {
	var b strings.Builder
	b.WriteString(`{"Tag":"name=parquet_go_root, repetitiontype=REQUIRED","Fields":[`)
	b.WriteString(`{"Tag":"name=date, type=INT32, convertedtype=DATE"}`)
	for _, name := range paramColumns {
		fmt.Fprintf(&b, `,{"Tag":"name=%s, type=DOUBLE"}`, name)
	}
	for m := 1; m <= months; m++ {
		fmt.Fprintf(&b, `,{"Tag":"name=%d, type=DOUBLE"}`, m)
	}
	b.WriteString(`]}`)
	return b.String()
}

// PanelStore persists the NSS panel as a parquet file.
type PanelStore struct {
	path string
}

// NewPanelStore creates a store backed by the file at path.
func NewPanelStore(path string) *PanelStore {
	return &PanelStore{path: path}
}

// Path returns the panel location.
func (s *PanelStore) Path() string { return s.path }

// Load reads the panel. A missing file yields an empty panel.
func (s *PanelStore) Load() (Panel, error) {
	cols, err := store.Columns(s.path)
	if err != nil {
		return nil, fmt.Errorf("load nss panel: %w", err)
	}
	if cols == nil {
		return nil, nil
	}
	months := 0
	for _, c := range cols {
		if m, err := strconv.Atoi(c); err == nil && m > months {
			months = m
		}
	}

	names := append([]string{"date"}, paramColumns...)
	for m := 1; m <= months; m++ {
		names = append(names, strconv.Itoa(m))
	}
	values, n, err := store.ReadColumns(s.path, names)
	if err != nil {
		return nil, fmt.Errorf("load nss panel: %w", err)
	}

	panel := make(Panel, n)
	for i := range panel {
		date, ok := values["date"][i].(int32)
		if !ok {
			return nil, fmt.Errorf("load nss panel: row %d: bad date %v", i, values["date"][i])
		}
		var params [6]float64
		for j, name := range paramColumns {
			if params[j], err = doubleAt(values[name], i); err != nil {
				return nil, fmt.Errorf("load nss panel: row %d: %s: %w", i, name, err)
			}
		}
		rates := make([]float64, months)
		for m := range rates {
			if rates[m], err = doubleAt(values[strconv.Itoa(m+1)], i); err != nil {
				return nil, fmt.Errorf("load nss panel: row %d: month %d: %w", i, m+1, err)
			}
		}
		panel[i] = models.NSSCurve{
			Date: store.DaysToDate(date),
			Params: models.NSSParams{
				Beta0: params[0], Beta1: params[1], Beta2: params[2], Beta3: params[3],
				Tau1: params[4], Tau2: params[5],
			},
			Rates: rates,
		}
	}
	sort.SliceStable(panel, func(i, j int) bool { return panel[i].Date.Before(panel[j].Date) })
	return panel, nil
}

func doubleAt(col []any, i int) (float64, error) {
	v, ok := col[i].(float64)
	if !ok {
		return 0, fmt.Errorf("not a double: %v", col[i])
	}
	return v, nil
}

// Save overwrites the file with the panel. Every curve must cover the same
// months.
func (s *PanelStore) Save(panel Panel) error {
	months := 0
	if len(panel) > 0 {
		months = len(panel[0].Rates)
	}
	rows := make([]string, len(panel))
	for i, c := range panel {
		if len(c.Rates) != months {
			return fmt.Errorf("save nss panel: %s has %d months, want %d", c.Date.Format("2006-01-02"), len(c.Rates), months)
		}
		row := make(map[string]any, 7+months)
		row["date"] = store.DateToDays(c.Date)
		for j, v := range c.Params.Vector() {
			row[paramColumns[j]] = v
		}
		for m, r := range c.Rates {
			row[strconv.Itoa(m+1)] = r
		}
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("save nss panel: %s: %w", c.Date.Format("2006-01-02"), err)
		}
		rows[i] = string(data)
	}
	if err := store.WriteJSON(s.path, panelSchema(months), rows); err != nil {
		return fmt.Errorf("save nss panel: %w", err)
	}
	return nil
}
