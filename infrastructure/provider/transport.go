package provider

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"gorm.io/gorm/clause"

	"github.com/rephole/rephole/internal/database"
)

// cacheEntry is the GORM row backing one cached POST request/response pair,
// keyed on the SHA-256 of method + URL + request body.
type cacheEntry struct {
	Key        string `gorm:"primaryKey"`
	StatusCode int
	Header     []byte `gorm:"type:jsonb"`
	Body       []byte
	CreatedAt  time.Time
}

// TableName pins the table name explicitly, matching the rest of this
// module's persistence models.
func (cacheEntry) TableName() string { return "provider_response_cache" }

// CachingTransport is an http.RoundTripper that caches POST request/response
// pairs in a local SQLite database under dir, so repeated embedding/chat
// calls with identical bodies (e.g. a re-run ingestion job, or tests) don't
// re-hit the upstream API. Only 2xx responses are cached; cache read/write
// failures are non-fatal and fall through to the inner transport.
type CachingTransport struct {
	inner http.RoundTripper
	db    database.Database
}

// NewCachingTransport creates a CachingTransport backed by a SQLite database
// under dir. If inner is nil, http.DefaultTransport is used.
func NewCachingTransport(dir string, inner http.RoundTripper) (*CachingTransport, error) {
	if inner == nil {
		inner = http.DefaultTransport
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	dbPath := filepath.Join(dir, "response_cache.db")
	db, err := database.NewDatabase(context.Background(), "sqlite:///"+dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if err := db.GORM().AutoMigrate(&cacheEntry{}); err != nil {
		return nil, fmt.Errorf("migrate cache schema: %w", err)
	}

	return &CachingTransport{inner: inner, db: db}, nil
}

// Close closes the underlying cache database.
func (t *CachingTransport) Close() error {
	return t.db.Close()
}

// RoundTrip implements http.RoundTripper.
func (t *CachingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodPost {
		return t.inner.RoundTrip(req)
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(body))

	key := cacheKey(req.Method, req.URL.String(), body)

	if resp, ok := t.readCache(req.Context(), key, req); ok {
		return resp, nil
	}

	resp, err := t.inner.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	_ = resp.Body.Close()

	t.writeCache(req.Context(), key, resp.StatusCode, resp.Header, respBody)

	resp.Body = io.NopCloser(bytes.NewReader(respBody))
	return resp, nil
}

func (t *CachingTransport) readCache(ctx context.Context, key string, req *http.Request) (*http.Response, bool) {
	var entry cacheEntry
	if err := t.db.Session(ctx).Where("key = ?", key).First(&entry).Error; err != nil {
		return nil, false
	}

	var header http.Header
	if err := json.Unmarshal(entry.Header, &header); err != nil {
		return nil, false
	}

	return &http.Response{
		StatusCode: entry.StatusCode,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(entry.Body)),
		Request:    req,
	}, true
}

func (t *CachingTransport) writeCache(ctx context.Context, key string, statusCode int, header http.Header, body []byte) {
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return
	}

	entry := cacheEntry{
		Key:        key,
		StatusCode: statusCode,
		Header:     headerJSON,
		Body:       body,
		CreatedAt:  time.Now().UTC(),
	}

	_ = t.db.Session(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"status_code", "header", "body", "created_at"}),
	}).Create(&entry).Error
}

func cacheKey(method, url string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte("\n"))
	h.Write([]byte(url))
	h.Write([]byte("\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
