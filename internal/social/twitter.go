// Package social publishes the summary text and chart images.
package social

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dghubble/oauth1"

	"github.com/seenimoa/termstructure/internal/config"
	"github.com/seenimoa/termstructure/internal/infra"
)

// ErrMissingCredentials is returned when any posting credential is unset.
var ErrMissingCredentials = errors.New("missing posting credentials")

// Poster publishes a message with optional images.
type Poster interface {
	Post(ctx context.Context, text string, imagePaths []string) error
}

// Twitter posts through the v1.1 media upload and v2 tweet endpoints with an
// OAuth1 user-context client.
type Twitter struct {
	client    *http.Client
	uploadURL string
	tweetURL  string
	logger    *slog.Logger
}

// NewTwitter builds a Twitter poster. Every credential must be present.
func NewTwitter(cfg config.TwitterConfig, logger *slog.Logger) (*Twitter, error) {
	for _, v := range []string{cfg.BearerToken, cfg.APIKey, cfg.APISecret, cfg.AccessToken, cfg.AccessTokenSecret} {
		if v == "" {
			return nil, ErrMissingCredentials
		}
	}
	client := oauth1.NewConfig(cfg.APIKey, cfg.APISecret).
		Client(oauth1.NoContext, oauth1.NewToken(cfg.AccessToken, cfg.AccessTokenSecret))
	client.Timeout = 60 * time.Second

	return &Twitter{
		client:    client,
		uploadURL: cfg.UploadURL,
		tweetURL:  cfg.TweetURL,
		logger:    infra.OrDiscard(logger).With("component", "twitter"),
	}, nil
}

type mediaResponse struct {
	MediaIDString string `json:"media_id_string"`
}

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type tweetRequest struct {
	Text  string      `json:"text"`
	Media *tweetMedia `json:"media,omitempty"`
}

type tweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Post uploads each image, posts one tweet carrying every media id and
// removes the local images once the tweet is accepted. Without images the
// tweet is text only.
func (t *Twitter) Post(ctx context.Context, text string, imagePaths []string) error {
	req := tweetRequest{Text: text}
	if len(imagePaths) > 0 {
		ids := make([]string, 0, len(imagePaths))
		for _, p := range imagePaths {
			id, err := t.upload(ctx, p)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		req.Media = &tweetMedia{MediaIDs: ids}
	}

	id, err := t.tweet(ctx, req)
	if err != nil {
		return err
	}
	t.logger.Info("tweet posted", "id", id, "media", len(imagePaths))

	for _, p := range imagePaths {
		if err := os.Remove(p); err != nil {
			t.logger.Warn("failed to remove posted image", "path", p, "error", err)
		}
	}
	return nil
}

func (t *Twitter) upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open media %s: %w", path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("media", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("build media form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read media %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build media form: %w", err)
	}

	var out mediaResponse
	if err := t.do(ctx, t.uploadURL, mw.FormDataContentType(), &body, &out); err != nil {
		return "", fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	if out.MediaIDString == "" {
		return "", fmt.Errorf("upload %s: empty media id", filepath.Base(path))
	}
	t.logger.Debug("media uploaded", "path", path, "media_id", out.MediaIDString)
	return out.MediaIDString, nil
}

func (t *Twitter) tweet(ctx context.Context, req tweetRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode tweet: %w", err)
	}
	var out tweetResponse
	if err := t.do(ctx, t.tweetURL, "application/json", bytes.NewReader(payload), &out); err != nil {
		return "", fmt.Errorf("post tweet: %w", err)
	}
	return out.Data.ID, nil
}

// do POSTs body and decodes a JSON response into out.
func (t *Twitter) do(ctx context.Context, url, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &infra.ErrHTTP{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// LogPoster logs the message instead of publishing it and leaves the images
// in place. Used for dry runs.
type LogPoster struct {
	logger *slog.Logger
}

// NewLogPoster creates a LogPoster.
func NewLogPoster(logger *slog.Logger) *LogPoster {
	return &LogPoster{logger: infra.OrDiscard(logger)}
}

func (p *LogPoster) Post(_ context.Context, text string, imagePaths []string) error {
	p.logger.Info("dry run: post skipped", "text", text, "images", imagePaths)
	return nil
}
