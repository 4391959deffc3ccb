package datasource

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/seenimoa/termstructure/pkg/models"
	"github.com/seenimoa/termstructure/pkg/utils"
)

// Column labels of the coupon workbook. The sheet has two header rows: the
// first holds group labels ("Kupon Nr N", merged across the group), the
// second the field label within the group.
const (
	colSeries      = "Seria"
	colISIN        = "Kod ISIN"
	colCoupon      = "Kupon"
	colRedemption  = "Data wykupu"
	colPeriodStart = "Początek okresu"
	colPeriodEnd   = "Koniec okresu"
	colRightsDate  = "Dzień ustalenia praw"
	colPaymentDate = "Data wymagalności"
	colInterest    = "Odsetki (PLN)"
)

// maxCouponPeriods is the number of coupon groups the workbook publishes.
const maxCouponPeriods = 31

var couponGroupRe = regexp.MustCompile(`^Kupon Nr\s*(\d+)$`)

// dateLayouts are the textual date forms accepted besides Excel serials.
var dateLayouts = []string{"2006-01-02", "02.01.2006", "2006-01-02 15:04:05", "2006-01-02T15:04:05", "01-02-06"}

// ParseCouponWorkbook converts the wide coupon sheet into one record per
// (bond, coupon period). Records with any missing required field are dropped.
func ParseCouponWorkbook(data []byte, sheet string) (models.CouponCalendar, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrSheetNotFound, sheet)
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("sheet %q has no header rows", sheet)
	}

	layout := newCouponLayout(rows[0], rows[1])
	if err := layout.validate(); err != nil {
		return nil, err
	}

	var cal models.CouponCalendar
	for i, row := range rows[2:] {
		cell, err := excelize.CoordinatesToCellName(layout.info[colCoupon]+1, i+3)
		if err != nil {
			return nil, err
		}
		typ, err := f.GetCellType(sheet, cell)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", cell, err)
		}
		text := typ == excelize.CellTypeSharedString || typ == excelize.CellTypeInlineString || typ == excelize.CellTypeFormula
		cal = append(cal, layout.records(row, text)...)
	}
	cal.Sort()
	return cal, nil
}

// couponLayout maps field labels to column indexes: info fields once per row,
// coupon fields once per period number.
type couponLayout struct {
	info    map[string]int
	periods map[int]map[string]int
}

func newCouponLayout(groupRow, fieldRow []string) couponLayout {
	l := couponLayout{info: map[string]int{}, periods: map[int]map[string]int{}}

	group := ""
	for i, field := range fieldRow {
		// Merged group cells only carry the label in their first column.
		if i < len(groupRow) && strings.TrimSpace(groupRow[i]) != "" {
			group = strings.TrimSpace(groupRow[i])
		}
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}

		m := couponGroupRe.FindStringSubmatch(group)
		if m == nil {
			l.info[field] = i
			continue
		}
		n, _ := strconv.Atoi(m[1])
		if n < 1 || n > maxCouponPeriods {
			continue
		}
		if l.periods[n] == nil {
			l.periods[n] = map[string]int{}
		}
		l.periods[n][field] = i
	}
	return l
}

func (l couponLayout) validate() error {
	for _, f := range []string{colSeries, colISIN, colCoupon, colRedemption} {
		if _, ok := l.info[f]; !ok {
			return fmt.Errorf("coupon workbook missing column %q", f)
		}
	}
	if len(l.periods) == 0 {
		return fmt.Errorf("coupon workbook has no %q column groups", "Kupon Nr N")
	}
	return nil
}

// records expands one bond row. textCoupon reports whether the coupon cell
// holds text rather than a number.
func (l couponLayout) records(row []string, textCoupon bool) []models.BondCoupon {
	cell := func(idx int) string {
		if idx < 0 || idx >= len(row) {
			return ""
		}
		v := strings.TrimSpace(row[idx])
		if v == "-" {
			return ""
		}
		return v
	}

	series := cell(l.info[colSeries])
	isin := cell(l.info[colISIN])
	if series == "" || isin == "" {
		return nil
	}
	rate, err := parseCouponRate(cell(l.info[colCoupon]), textCoupon)
	if err != nil {
		return nil
	}
	redemption, err := parseSheetDate(cell(l.info[colRedemption]))
	if err != nil {
		return nil
	}

	var out []models.BondCoupon
	for n := 1; n <= maxCouponPeriods; n++ {
		cols, ok := l.periods[n]
		if !ok {
			continue
		}
		get := func(field string) string {
			idx, ok := cols[field]
			if !ok {
				return ""
			}
			return cell(idx)
		}

		start, err1 := parseSheetDate(get(colPeriodStart))
		end, err2 := parseSheetDate(get(colPeriodEnd))
		rights, err3 := parseSheetDate(get(colRightsDate))
		payment, err4 := parseSheetDate(get(colPaymentDate))
		amount, err5 := utils.ParseDecimal(get(colInterest))
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			continue
		}

		out = append(out, models.BondCoupon{
			Series:         series,
			ISIN:           isin,
			PeriodStart:    start,
			PeriodEnd:      end,
			RightsDate:     rights,
			PaymentDate:    payment,
			CouponRate:     rate,
			CouponAmount:   amount,
			RedemptionDate: redemption,
			PeriodNumber:   int16(n),
		})
	}
	return out
}

var hundred = decimal.NewFromInt(100)

// parseCouponRate reads the annual coupon as a fraction. Numeric cells
// already hold the fraction; text cells are percentages, with or without a
// trailing "%".
func parseCouponRate(s string, text bool) (decimal.Decimal, error) {
	d, err := utils.ParseDecimal(s)
	if err != nil {
		return decimal.Zero, err
	}
	if text || strings.HasSuffix(s, "%") {
		d = d.Div(hundred)
	}
	return d, nil
}

// parseSheetDate accepts an Excel serial date or one of dateLayouts.
func parseSheetDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, utils.ErrEmptyNumber
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, fmt.Errorf("excel date %q: %w", s, err)
		}
		return utils.DateOf(t), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return utils.DateOf(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}
