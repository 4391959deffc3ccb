package datasource

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/seenimoa/termstructure/internal/config"
	"github.com/seenimoa/termstructure/internal/infra"
	"github.com/seenimoa/termstructure/internal/store"
	"github.com/seenimoa/termstructure/pkg/models"
)

// workbookCachePrefix namespaces downloaded workbooks in the blob cache.
const workbookCachePrefix = "coupon-workbook:"

// ScheduleStore downloads the official coupon calendar and keeps the latest
// snapshot on disk. Every Refresh fully replaces the stored snapshot.
type ScheduleStore struct {
	path           string
	landingURL     string
	attachmentBase string
	linkRe         *regexp.Regexp
	sheet          string
	headers        map[string]string

	client   *http.Client
	cache    infra.BlobCache
	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewScheduleStore creates the coupon calendar store persisted at path.
// cache may be nil, in which case every Refresh downloads the workbook.
func NewScheduleStore(path string, src config.SourcesConfig, cache infra.BlobCache, cacheTTL time.Duration, logger *slog.Logger) (*ScheduleStore, error) {
	re, err := regexp.Compile(src.CouponLinkRegex)
	if err != nil {
		return nil, fmt.Errorf("compile coupon link regex %q: %w", src.CouponLinkRegex, err)
	}
	headers, err := infra.LoadHeaders(src.RequestHeadersFile)
	if err != nil {
		return nil, err
	}
	return &ScheduleStore{
		path:           path,
		landingURL:     src.CouponLandingURL,
		attachmentBase: src.AttachmentBaseURL,
		linkRe:         re,
		sheet:          src.CouponSheet,
		headers:        headers,
		client:         infra.NewHTTPClient(src.Timeout()),
		cache:          cache,
		cacheTTL:       cacheTTL,
		logger:         infra.OrDiscard(logger).With("store", "coupon_calendar"),
	}, nil
}

// Path returns the snapshot location.
func (s *ScheduleStore) Path() string { return s.path }

// Refresh fetches the current workbook, parses it into the long record
// shape and overwrites the stored snapshot.
func (s *ScheduleStore) Refresh(ctx context.Context) (models.CouponCalendar, error) {
	id, err := s.findAttachment(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("coupon calendar attachment found", "attachment", id)

	data, err := s.workbook(ctx, id)
	if err != nil {
		return nil, err
	}

	cal, err := ParseCouponWorkbook(data, s.sheet)
	if err != nil {
		return nil, fmt.Errorf("parse coupon workbook %s: %w", id, err)
	}
	if err := store.Write(s.path, couponRowsFrom(cal)); err != nil {
		return nil, fmt.Errorf("save coupon calendar: %w", err)
	}
	s.logger.Info("coupon calendar saved", "records", len(cal), "path", s.path)
	return cal, nil
}

// Load reads the stored snapshot. A missing file yields an empty calendar.
func (s *ScheduleStore) Load() (models.CouponCalendar, error) {
	rows, err := store.Read[couponRow](s.path)
	if err != nil {
		return nil, fmt.Errorf("load coupon calendar: %w", err)
	}
	return couponCalendarFrom(rows)
}

// findAttachment scans the landing page anchors for the first href matching
// the link pattern and returns its captured attachment id.
func (s *ScheduleStore) findAttachment(ctx context.Context) (string, error) {
	body, _, err := infra.DoGet(ctx, s.client, s.landingURL, s.headers)
	if err != nil {
		return "", fmt.Errorf("fetch coupon landing page: %w", err)
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", fmt.Errorf("parse coupon landing page: %w", err)
	}

	var id string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		m := s.linkRe.FindStringSubmatch(href)
		if m == nil {
			return true
		}
		id = m[0]
		if len(m) > 1 && m[1] != "" {
			id = m[1]
		}
		return false
	})
	if id == "" {
		return "", fmt.Errorf("%w: pattern %q at %s", ErrLinkNotFound, s.linkRe.String(), s.landingURL)
	}
	return id, nil
}

// workbook returns the attachment bytes, from the cache when possible.
func (s *ScheduleStore) workbook(ctx context.Context, id string) ([]byte, error) {
	key := workbookCachePrefix + id
	if s.cache != nil {
		data, ok, err := s.cache.Load(ctx, key)
		if err != nil {
			s.logger.Warn("workbook cache read failed", "error", err)
		} else if ok {
			s.logger.Debug("workbook served from cache", "attachment", id)
			return data, nil
		}
	}

	body, _, err := infra.DoGet(ctx, s.client, s.attachmentBase+id, s.headers)
	if err != nil {
		return nil, fmt.Errorf("download coupon workbook: %w", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read coupon workbook: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Store(ctx, key, data, s.cacheTTL); err != nil {
			s.logger.Warn("workbook cache write failed", "error", err)
		}
	}
	return data, nil
}
