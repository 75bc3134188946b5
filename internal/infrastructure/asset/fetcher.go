package asset

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"CatalogEnricher/internal/domain"
	"CatalogEnricher/internal/ports"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultMaxBytes = 4 << 20
	userAgent       = "CatalogEnricher/1.0"
)

// Fetcher downloads thumbnails. Any failure yields an absent asset so the
// caller can continue text-only.
type Fetcher struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	logger   *slog.Logger
}

var _ ports.AssetFetcher = (*Fetcher)(nil)

// NewFetcher wires an HTTP client; zero timeout and maxBytes fall back to
// 10s and 4 MiB.
func NewFetcher(client *http.Client, timeout time.Duration, maxBytes int64, logger *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Fetcher{client: client, timeout: timeout, maxBytes: maxBytes, logger: logger}
}

// Fetch retrieves ref as an image. When ref serves an HTML page, its og:image
// (or twitter:image) is followed once.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (domain.Asset, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Asset{}, false
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	asset, html, err := f.get(ctx, ref)
	if err == nil && html != nil {
		var imageRef string
		imageRef, err = resolveImageRef(ref, html)
		if err == nil {
			asset, _, err = f.get(ctx, imageRef)
			if err == nil && asset.Data == nil {
				err = fmt.Errorf("%s is not an image", imageRef)
			}
		}
	}
	if err != nil {
		f.warn("asset fetch failed, continuing text-only", "ref", ref, "error", err)
		return domain.Asset{}, false
	}
	return asset, true
}

// get returns either an image asset or, for HTML responses, the page body.
func (f *Fetcher) get(ctx context.Context, ref string) (domain.Asset, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return domain.Asset{}, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.Asset{}, nil, fmt.Errorf("request asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Asset{}, nil, fmt.Errorf("asset returned %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return domain.Asset{}, nil, fmt.Errorf("read asset: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return domain.Asset{}, nil, fmt.Errorf("asset exceeds %d bytes", f.maxBytes)
	}
	if len(data) == 0 {
		return domain.Asset{}, nil, fmt.Errorf("asset is empty")
	}

	mimeType := contentType(resp.Header.Get("Content-Type"), data)
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return domain.Asset{Data: data, MIMEType: mimeType}, nil, nil
	case mimeType == "text/html":
		return domain.Asset{}, data, nil
	default:
		return domain.Asset{}, nil, fmt.Errorf("unsupported asset type %q", mimeType)
	}
}

func contentType(header string, data []byte) string {
	if header != "" {
		if parsed, _, err := mime.ParseMediaType(header); err == nil && parsed != "application/octet-stream" {
			return parsed
		}
	}
	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return sniffed
}

func resolveImageRef(pageRef string, html []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}

	var found string
	for _, selector := range []string{
		`meta[property="og:image"]`,
		`meta[name="og:image"]`,
		`meta[name="twitter:image"]`,
		`link[rel="image_src"]`,
	} {
		sel := doc.Find(selector).First()
		if v, ok := sel.Attr("content"); ok && strings.TrimSpace(v) != "" {
			found = strings.TrimSpace(v)
			break
		}
		if v, ok := sel.Attr("href"); ok && strings.TrimSpace(v) != "" {
			found = strings.TrimSpace(v)
			break
		}
	}
	if found == "" {
		return "", fmt.Errorf("page %s has no preview image", pageRef)
	}

	base, err := url.Parse(pageRef)
	if err != nil {
		return "", fmt.Errorf("invalid page url %s: %w", pageRef, err)
	}
	target, err := url.Parse(found)
	if err != nil {
		return "", fmt.Errorf("invalid image url %s: %w", found, err)
	}
	return base.ResolveReference(target).String(), nil
}

func (f *Fetcher) warn(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Warn(msg, args...)
	}
}
