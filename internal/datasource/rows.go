package datasource

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/seenimoa/termstructure/internal/store"
	"github.com/seenimoa/termstructure/pkg/models"
)

// couponRow is the parquet shape of a BondCoupon. Decimals are kept as text
// so no precision is lost on the way through the file.
type couponRow struct {
	Series         string `parquet:"name=series, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	ISIN           string `parquet:"name=isin, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	PeriodStart    int32  `parquet:"name=period_start, type=INT32, convertedtype=DATE"`
	PeriodEnd      int32  `parquet:"name=period_end, type=INT32, convertedtype=DATE"`
	RightsDate     int32  `parquet:"name=rights_date, type=INT32, convertedtype=DATE"`
	PaymentDate    int32  `parquet:"name=payment_date, type=INT32, convertedtype=DATE"`
	CouponRate     string `parquet:"name=coupon_rate, type=BYTE_ARRAY, convertedtype=UTF8"`
	CouponAmount   string `parquet:"name=coupon_amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	RedemptionDate int32  `parquet:"name=redemption_date, type=INT32, convertedtype=DATE"`
	PeriodNumber   int32  `parquet:"name=period_number, type=INT32"`
}

func couponRowsFrom(cal models.CouponCalendar) []couponRow {
	rows := make([]couponRow, len(cal))
	for i, c := range cal {
		rows[i] = couponRow{
			Series:         c.Series,
			ISIN:           c.ISIN,
			PeriodStart:    store.DateToDays(c.PeriodStart),
			PeriodEnd:      store.DateToDays(c.PeriodEnd),
			RightsDate:     store.DateToDays(c.RightsDate),
			PaymentDate:    store.DateToDays(c.PaymentDate),
			CouponRate:     c.CouponRate.String(),
			CouponAmount:   c.CouponAmount.String(),
			RedemptionDate: store.DateToDays(c.RedemptionDate),
			PeriodNumber:   int32(c.PeriodNumber),
		}
	}
	return rows
}

func couponCalendarFrom(rows []couponRow) (models.CouponCalendar, error) {
	cal := make(models.CouponCalendar, len(rows))
	for i, r := range rows {
		rate, err := decimal.NewFromString(r.CouponRate)
		if err != nil {
			return nil, fmt.Errorf("row %d coupon rate: %w", i, err)
		}
		amount, err := decimal.NewFromString(r.CouponAmount)
		if err != nil {
			return nil, fmt.Errorf("row %d coupon amount: %w", i, err)
		}
		cal[i] = models.BondCoupon{
			Series:         r.Series,
			ISIN:           r.ISIN,
			PeriodStart:    store.DaysToDate(r.PeriodStart),
			PeriodEnd:      store.DaysToDate(r.PeriodEnd),
			RightsDate:     store.DaysToDate(r.RightsDate),
			PaymentDate:    store.DaysToDate(r.PaymentDate),
			CouponRate:     rate,
			CouponAmount:   amount,
			RedemptionDate: store.DaysToDate(r.RedemptionDate),
			PeriodNumber:   int16(r.PeriodNumber),
		}
	}
	return cal, nil
}

// priceRow is the parquet shape of a FixingPrice. A null price is stored as
// an absent optional value.
type priceRow struct {
	Series  string  `parquet:"name=series, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	ISIN    string  `parquet:"name=isin, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Session int32   `parquet:"name=fixing, type=INT32"`
	Price   *string `parquet:"name=price, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Date    int32   `parquet:"name=date, type=INT32, convertedtype=DATE"`
}

func priceRowsFrom(panel models.PricePanel) []priceRow {
	rows := make([]priceRow, len(panel))
	for i, p := range panel {
		rows[i] = priceRow{
			Series:  p.Series,
			ISIN:    p.ISIN,
			Session: int32(p.Session),
			Date:    store.DateToDays(p.Date),
		}
		if p.Price != nil {
			s := p.Price.String()
			rows[i].Price = &s
		}
	}
	return rows
}

func pricePanelFrom(rows []priceRow) (models.PricePanel, error) {
	panel := make(models.PricePanel, len(rows))
	for i, r := range rows {
		panel[i] = models.FixingPrice{
			Series:  r.Series,
			ISIN:    r.ISIN,
			Session: models.FixingSession(r.Session),
			Date:    store.DaysToDate(r.Date),
		}
		if r.Price != nil {
			d, err := decimal.NewFromString(*r.Price)
			if err != nil {
				return nil, fmt.Errorf("row %d price: %w", i, err)
			}
			panel[i].Price = &d
		}
	}
	return panel, nil
}
