package pipeline

import "time"

// Status summarises the persisted stores.
type Status struct {
	CouponRecords int
	CouponSeries  int
	PriceRows     int
	LastPriceDate time.Time
	NSSRows       int
	LastNSSDate   time.Time
}

// Status reads every store and reports its size and latest date.
func (p *Pipeline) Status() (Status, error) {
	var st Status
	cal, err := p.schedule.Load()
	if err != nil {
		return st, err
	}
	series := make(map[string]struct{})
	for _, c := range cal {
		series[c.Series] = struct{}{}
	}
	st.CouponRecords, st.CouponSeries = len(cal), len(series)

	prices, err := p.prices.Load()
	if err != nil {
		return st, err
	}
	st.PriceRows, st.LastPriceDate = len(prices), prices.MaxDate()

	panel, err := p.panel.Load()
	if err != nil {
		return st, err
	}
	st.NSSRows, st.LastNSSDate = len(panel), panel.LastDate()
	return st, nil
}
