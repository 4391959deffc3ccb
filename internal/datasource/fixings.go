package datasource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/termstructure/internal/config"
	"github.com/seenimoa/termstructure/internal/infra"
	"github.com/seenimoa/termstructure/internal/store"
	"github.com/seenimoa/termstructure/pkg/models"
	"github.com/seenimoa/termstructure/pkg/utils"
)

// FixingStore keeps the cumulative, append-only panel of fixing prices.
type FixingStore struct {
	path          string
	fixingURL     string
	tableIndex    int
	schema        ColumnSchema
	headers       map[string]string
	backfillStart time.Time

	client  *http.Client
	limiter *infra.RateLimiter
	logger  *slog.Logger
}

// NewFixingStore creates the fixing price store persisted at path.
func NewFixingStore(path string, src config.SourcesConfig, fx config.FixingConfig, logger *slog.Logger) (*FixingStore, error) {
	schema, err := LoadColumnSchema(fx.ColumnRenamesFile, fx.ColumnTypesFile, fx.NullSentinels)
	if err != nil {
		return nil, err
	}
	headers, err := infra.LoadHeaders(src.RequestHeadersFile)
	if err != nil {
		return nil, err
	}
	start, err := utils.ParseDate(src.BackfillStart)
	if err != nil {
		return nil, fmt.Errorf("backfill start: %w", err)
	}
	return &FixingStore{
		path:          path,
		fixingURL:     src.FixingURL,
		tableIndex:    fx.TableIndex,
		schema:        schema,
		headers:       headers,
		backfillStart: start,
		client:        infra.NewHTTPClient(src.Timeout()),
		limiter:       infra.NewPerSecond(src.MaxRequestsPerSec),
		logger:        infra.OrDiscard(logger).With("store", "bond_prices"),
	}, nil
}

// Path returns the panel location.
func (s *FixingStore) Path() string { return s.path }

// Load reads the stored panel. A missing file yields an empty panel.
func (s *FixingStore) Load() (models.PricePanel, error) {
	rows, err := store.Read[priceRow](s.path)
	if err != nil {
		return nil, fmt.Errorf("load bond prices: %w", err)
	}
	return pricePanelFrom(rows)
}

// Window returns the business days still missing from the panel, from the
// day after its last date (or the backfill start) through today.
func (s *FixingStore) Window(panel models.PricePanel, today time.Time) []time.Time {
	start := s.backfillStart
	if last := panel.MaxDate(); !last.IsZero() {
		start = utils.NextBusinessDay(last)
	}
	return utils.BusinessDaysBetween(start, today)
}

// Refresh fetches every missing (date, session) page, appends the new rows
// and persists the panel. Failed requests are logged and skipped; only
// context cancellation aborts the batch.
func (s *FixingStore) Refresh(ctx context.Context, today time.Time) (models.PricePanel, error) {
	current, err := s.Load()
	if err != nil {
		return nil, err
	}

	days := s.Window(current, utils.DateOf(today))
	if len(days) == 0 {
		s.logger.Info("bond prices up to date", "last_date", utils.FormatDate(current.MaxDate()))
		return current, nil
	}
	s.logger.Info("fetching bond prices", "from", utils.FormatDate(days[0]), "to", utils.FormatDate(days[len(days)-1]), "requests", 2*len(days))

	results, err := s.FetchAll(ctx, days)
	if err != nil {
		return nil, err
	}

	var fresh []models.FixingPrice
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			s.logger.Warn("bad response", "date", utils.FormatDate(r.Date), "fixing", int(r.Session), "error", r.Err.Err)
			continue
		}
		fresh = append(fresh, r.Prices...)
	}
	if failed > 0 {
		s.logger.Warn("some fixing requests failed", "failed", failed, "total", len(results))
	}

	merged, added := AppendPrices(current, fresh)
	if added == 0 {
		s.logger.Warn("no new bond prices data was downloaded")
		return current, nil
	}
	if err := store.Write(s.path, priceRowsFrom(merged)); err != nil {
		return nil, fmt.Errorf("save bond prices: %w", err)
	}
	s.logger.Info("bond prices saved", "added", added, "rows", len(merged))
	return merged, nil
}

// FetchAll requests both sessions of every day concurrently behind the
// shared rate limiter. Results are returned in (date, session) order.
func (s *FixingStore) FetchAll(ctx context.Context, days []time.Time) ([]FetchResult, error) {
	results := make([]FetchResult, 0, 2*len(days))
	for _, d := range days {
		for _, session := range models.FixingSessions {
			results = append(results, FetchResult{Date: d, Session: session})
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i := range results {
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return err
			}
			prices, err := s.fetchOne(gctx, results[i].Date, results[i].Session)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				results[i].Err = &FetchError{Date: results[i].Date, Session: results[i].Session, Err: err}
				return nil // non-fatal
			}
			results[i].Prices = prices
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch bond prices: %w", err)
	}
	return results, nil
}

func (s *FixingStore) fetchOne(ctx context.Context, date time.Time, session models.FixingSession) ([]models.FixingPrice, error) {
	params := url.Values{}
	params.Set("date", date.Format(utils.FixingDateLayout))
	params.Set("type", strconv.Itoa(int(session)))

	s.logger.Debug("making request to bondspot", "date", params.Get("date"), "fixing", int(session))
	body, _, err := infra.DoGet(ctx, s.client, s.fixingURL+"?"+params.Encode(), s.headers)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	prices, err := ParseFixingTable(body, s.tableIndex, date, session, s.schema)
	if err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, errors.New("fixing table has no rows")
	}
	return prices, nil
}

// AppendPrices appends rows whose key is not yet present and whose date is
// after the panel's last date. It returns the merged panel and the number of
// rows added; the existing rows are never modified.
func AppendPrices(panel models.PricePanel, fresh []models.FixingPrice) (models.PricePanel, int) {
	last := panel.MaxDate()
	seen := make(map[models.FixingKey]struct{}, len(panel)+len(fresh))
	for _, p := range panel {
		seen[p.Key()] = struct{}{}
	}

	merged := make(models.PricePanel, len(panel), len(panel)+len(fresh))
	copy(merged, panel)

	var added models.PricePanel
	for _, p := range fresh {
		if !last.IsZero() && !p.Date.After(last) {
			continue
		}
		if _, dup := seen[p.Key()]; dup {
			continue
		}
		seen[p.Key()] = struct{}{}
		added = append(added, p)
	}
	added.Sort()
	return append(merged, added...), len(added)
}
