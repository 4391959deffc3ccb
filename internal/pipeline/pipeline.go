// Package pipeline wires the stores, the curve builder, the NSS fitter, the
// affine decomposition and the reporting layer into one monthly run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/seenimoa/termstructure/internal/acm"
	"github.com/seenimoa/termstructure/internal/config"
	"github.com/seenimoa/termstructure/internal/curve"
	"github.com/seenimoa/termstructure/internal/datasource"
	"github.com/seenimoa/termstructure/internal/infra"
	"github.com/seenimoa/termstructure/internal/nss"
	"github.com/seenimoa/termstructure/internal/report"
	"github.com/seenimoa/termstructure/internal/social"
	"github.com/seenimoa/termstructure/pkg/models"
	"github.com/seenimoa/termstructure/pkg/utils"
)

// CalendarSource provides the coupon calendar snapshot.
type CalendarSource interface {
	Refresh(ctx context.Context) (models.CouponCalendar, error)
	Load() (models.CouponCalendar, error)
}

// PriceSource provides the cumulative fixing price panel.
type PriceSource interface {
	Refresh(ctx context.Context, today time.Time) (models.PricePanel, error)
	Load() (models.PricePanel, error)
}

// Deps holds everything a Pipeline needs. Now defaults to Warsaw wall time.
type Deps struct {
	Schedule   CalendarSource
	Prices     PriceSource
	Panel      *nss.PanelStore
	Builder    *curve.Builder
	Fitter     *nss.Fitter
	Factors    int
	Charts     report.ChartConfig
	Maturities []int
	Poster     social.Poster
	Logger     *slog.Logger
	Now        func() time.Time
}

// Pipeline runs the term-structure update and publication steps.
type Pipeline struct {
	schedule   CalendarSource
	prices     PriceSource
	panel      *nss.PanelStore
	builder    *curve.Builder
	fitter     *nss.Fitter
	factors    int
	charts     report.ChartConfig
	maturities []int
	poster     social.Poster
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Pipeline from its dependencies.
func New(d Deps) *Pipeline {
	p := &Pipeline{
		schedule:   d.Schedule,
		prices:     d.Prices,
		panel:      d.Panel,
		builder:    d.Builder,
		fitter:     d.Fitter,
		factors:    d.Factors,
		charts:     d.Charts,
		maturities: d.Maturities,
		poster:     d.Poster,
		logger:     infra.OrDiscard(d.Logger).With("component", "pipeline"),
		now:        d.Now,
	}
	if p.now == nil {
		p.now = utils.NowWarsaw
	}
	if p.factors <= 0 {
		p.factors = 5
	}
	if len(p.maturities) == 0 {
		p.maturities = p.charts.Maturities
	}
	return p
}

// FromConfig builds the production pipeline: remote-backed stores under the
// configured data directory and the given workbook cache and poster. poster
// may be nil for commands that never publish.
func FromConfig(cfg *config.Config, cache infra.BlobCache, poster social.Poster, logger *slog.Logger) (*Pipeline, error) {
	schedule, err := datasource.NewScheduleStore(cfg.Data.CouponCalendarFile, cfg.Sources, cache, cfg.Cache.CacheTTL(), logger)
	if err != nil {
		return nil, fmt.Errorf("coupon calendar store: %w", err)
	}
	prices, err := datasource.NewFixingStore(cfg.Data.BondPricesFile, cfg.Sources, cfg.Fixing, logger)
	if err != nil {
		return nil, fmt.Errorf("bond price store: %w", err)
	}
	return New(Deps{
		Schedule:   schedule,
		Prices:     prices,
		Panel:      nss.NewPanelStore(cfg.Data.NSSCurveFile),
		Builder:    curve.NewBuilder(cfg.Curve, logger),
		Fitter:     nss.NewFitter(cfg.NSS, logger),
		Factors:    cfg.Model.Factors,
		Charts:     report.NewChartConfig(cfg.Report, cfg.Data.ChartsDir),
		Maturities: cfg.Report.Maturities,
		Poster:     poster,
		Logger:     logger,
	}), nil
}

// ShouldRun reports whether a scheduled run may proceed: always when forced,
// otherwise only on the configured day of the month.
func ShouldRun(now time.Time, runDay int, force bool) bool {
	return force || now.Day() == runDay
}

// UpdateData refreshes the coupon calendar, then the price panel, then fits
// NSS curves for every new quote date.
func (p *Pipeline) UpdateData(ctx context.Context) (nss.Panel, error) {
	cal, err := p.schedule.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh coupon calendar: %w", err)
	}
	prices, err := p.prices.Refresh(ctx, p.now())
	if err != nil {
		return nil, fmt.Errorf("refresh bond prices: %w", err)
	}
	panel, _, err := p.UpdateNSS(ctx, cal, prices)
	return panel, err
}

// UpdateNSS builds zero curves for the quote dates after the panel's last
// date, fits them and persists the extended panel. It returns the panel and
// the number of rows added.
func (p *Pipeline) UpdateNSS(ctx context.Context, cal models.CouponCalendar, prices models.PricePanel) (nss.Panel, int, error) {
	panel, err := p.panel.Load()
	if err != nil {
		return nil, 0, err
	}

	quotes := curve.PrepareQuotes(cal, prices)
	dates := curve.QuoteDates(quotes, panel.LastDate())
	p.logger.Info("updating nss curve", "last_date", utils.FormatDate(panel.LastDate()), "new_dates", len(dates))

	var rates []models.ZeroRate
	if len(dates) > 0 {
		rates = p.builder.Calculate(quotes, dates)
	}
	merged, added, err := p.fitter.Update(ctx, panel, rates, dates)
	if err != nil {
		return nil, 0, fmt.Errorf("fit nss curves: %w", err)
	}
	if added == 0 {
		return panel, 0, nil
	}
	if err := p.panel.Save(merged); err != nil {
		return nil, 0, err
	}
	p.logger.Info("nss curve saved", "added", added, "rows", len(merged), "last_date", utils.FormatDate(merged.LastDate()))
	return merged, added, nil
}

// RebuildNSS recomputes the NSS curves from the stored calendar and prices
// without touching the network.
func (p *Pipeline) RebuildNSS(ctx context.Context) (nss.Panel, int, error) {
	cal, err := p.schedule.Load()
	if err != nil {
		return nil, 0, err
	}
	prices, err := p.prices.Load()
	if err != nil {
		return nil, 0, err
	}
	return p.UpdateNSS(ctx, cal, prices)
}

// Decompose estimates the affine model on the month-end NSS panel.
func (p *Pipeline) Decompose() (*acm.Result, error) {
	panel, err := p.panel.Load()
	if err != nil {
		return nil, err
	}
	monthly := acm.MonthEnd(panel)
	res, err := acm.Decompose(monthly, p.factors)
	if err != nil {
		return nil, fmt.Errorf("decompose term structure: %w", err)
	}
	p.logger.Info("term structure decomposed",
		"months", len(res.Dates),
		"factors", p.factors,
		"last_date", utils.FormatDate(res.Dates[len(res.Dates)-1]))
	return res, nil
}

// Publish renders the charts and summary for res and hands them to the
// poster.
func (p *Pipeline) Publish(ctx context.Context, res *acm.Result) error {
	if p.poster == nil {
		return fmt.Errorf("publish: no poster configured")
	}
	paths, err := report.Charts(res, p.now(), p.charts)
	if err != nil {
		return fmt.Errorf("render charts: %w", err)
	}
	text := report.Summary(res, p.maturities)
	if err := p.poster.Post(ctx, text, paths); err != nil {
		return fmt.Errorf("post summary: %w", err)
	}
	return nil
}

// Run performs the full monthly cycle: update, decompose, chart and post.
func (p *Pipeline) Run(ctx context.Context) error {
	start := time.Now()
	if _, err := p.UpdateData(ctx); err != nil {
		return err
	}
	res, err := p.Decompose()
	if err != nil {
		return err
	}
	if err := p.Publish(ctx, res); err != nil {
		return err
	}
	p.logger.Info("run complete", "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}
