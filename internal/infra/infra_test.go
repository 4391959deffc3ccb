package infra

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/seenimoa/termstructure/internal/config"
)

func TestCacheSetGet(t *testing.T) {
	c := NewCache(1 * time.Second)

	c.Set("key1", "value1")
	v, ok := c.Get("key1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if v != "value1" {
		t.Fatalf("got %v, want value1", v)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(1 * time.Millisecond)
	c.Set("key", "val")

	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("key"); ok {
		t.Fatal("expected cache miss after TTL expiry")
	}
}

func TestCacheInvalidateAndCleanup(t *testing.T) {
	c := NewCache(1 * time.Hour)
	c.Set("key", "val")
	c.Invalidate("key")
	if _, ok := c.Get("key"); ok {
		t.Fatal("expected cache miss after invalidation")
	}

	c.SetWithTTL("expired", "val", time.Millisecond)
	c.Set("fresh", "val2")
	time.Sleep(5 * time.Millisecond)
	c.Cleanup()
	if _, ok := c.Get("expired"); ok {
		t.Fatal("expected expired entry to be cleaned up")
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Fatal("expected fresh entry to survive cleanup")
	}
}

func TestCacheBlobRoundTrip(t *testing.T) {
	var bc BlobCache = NewCache(time.Hour)
	ctx := context.Background()

	if _, ok, err := bc.Load(ctx, "wb"); ok || err != nil {
		t.Fatalf("Load on empty cache = (%v, %v), want miss", ok, err)
	}
	if err := bc.Store(ctx, "wb", []byte("xlsx"), 0); err != nil {
		t.Fatalf("Store: %v", err)
	}
	data, ok, err := bc.Load(ctx, "wb")
	if err != nil || !ok {
		t.Fatalf("Load = (%v, %v), want hit", ok, err)
	}
	if string(data) != "xlsx" {
		t.Errorf("Load data = %q, want xlsx", data)
	}
}

func TestCacheLoadWrongType(t *testing.T) {
	c := NewCache(time.Hour)
	c.Set("k", 42)
	if _, ok, _ := c.Load(context.Background(), "k"); ok {
		t.Error("non-byte value should be a miss")
	}
}

func TestRateLimiterAllowsBurst(t *testing.T) {
	rl := NewPerSecond(3)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Wait() #%d failed: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("burst took %v, want immediate", elapsed)
	}
}

func TestRateLimiterCancelledContext(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	ctx := context.Background()

	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first Wait() failed: %v", err)
	}

	ctx2, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx2); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestErrHTTPError(t *testing.T) {
	e := &ErrHTTP{StatusCode: 404, Status: "404 Not Found", Body: "page not found"}
	if msg := e.Error(); msg != "HTTP 404 404 Not Found: page not found" {
		t.Fatalf("unexpected error message: %s", msg)
	}
}

func TestDoGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		if got := r.Header.Get("X-Test"); got != "yes" {
			t.Errorf("X-Test header = %q, want yes", got)
		}
		if got := r.Header.Get("User-Agent"); got != DefaultUserAgent {
			t.Errorf("User-Agent = %q", got)
		}
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	client := NewHTTPClient(5 * time.Second)
	body, status, err := DoGet(context.Background(), client, srv.URL+"/page", map[string]string{"X-Test": "yes"})
	if err != nil {
		t.Fatalf("DoGet: %v", err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if status != 200 || string(data) != "ok" {
		t.Errorf("DoGet = (%d, %q), want (200, ok)", status, data)
	}

	_, status, err = DoGet(context.Background(), client, srv.URL+"/missing", nil)
	var httpErr *ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *ErrHTTP, got %v", err)
	}
	if status != http.StatusNotFound || httpErr.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d / %d, want 404", status, httpErr.StatusCode)
	}
}

func TestLoadHeaders(t *testing.T) {
	if h, err := LoadHeaders(""); err != nil || h != nil {
		t.Errorf("LoadHeaders(\"\") = (%v, %v), want (nil, nil)", h, err)
	}

	path := filepath.Join(t.TempDir(), "headers.json")
	if err := os.WriteFile(path, []byte(`{"Referer": "https://example.pl"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	h, err := LoadHeaders(path)
	if err != nil {
		t.Fatalf("LoadHeaders: %v", err)
	}
	if h["Referer"] != "https://example.pl" {
		t.Errorf("Referer = %q", h["Referer"])
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(bad, []byte(`[1,2]`), 0o644)
	if _, err := LoadHeaders(bad); err == nil {
		t.Error("expected error for non-object JSON")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.log")
	logger, err := NewLogger(config.LoggingConfig{
		Level: "info", Format: "json", Output: "file", FilePath: path, MaxSize: 1,
	})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("curve built", "date", "2026-10-19")
	logger.Debug("hidden")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !bytes.Contains(data, []byte(`"msg":"curve built"`)) {
		t.Errorf("log file missing record: %s", data)
	}
	if bytes.Contains(data, []byte("hidden")) {
		t.Error("debug record should be filtered at info level")
	}
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("TERMSTRUCTURE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TERMSTRUCTURE_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := DialRedis(ctx, addr, 0)
	if err != nil {
		t.Fatalf("DialRedis: %v", err)
	}
	defer client.Close()

	rc := NewRedisCache(client, "termstructure-test:")
	defer rc.Invalidate(ctx, "blob")

	if err := rc.Store(ctx, "blob", []byte("payload"), time.Minute); err != nil {
		t.Fatalf("Store: %v", err)
	}
	data, ok, err := rc.Load(ctx, "blob")
	if err != nil || !ok || string(data) != "payload" {
		t.Errorf("Load = (%q, %v, %v), want payload", data, ok, err)
	}
	if _, ok, _ := rc.Load(ctx, "absent"); ok {
		t.Error("absent key should miss")
	}
}
