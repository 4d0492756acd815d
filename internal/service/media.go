package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	_ "golang.org/x/image/webp"
)

// MediaFetcher downloads media bytes from a provider CDN URL.
type MediaFetcher interface {
	Fetch(ctx context.Context, url string) (data []byte, contentType string, err error)
}

// HTTPMediaFetcher fetches media over plain HTTP.
type HTTPMediaFetcher struct {
	client *resty.Client
}

// NewHTTPMediaFetcher creates a new HTTPMediaFetcher.
func NewHTTPMediaFetcher(timeout time.Duration) *HTTPMediaFetcher {
	client := resty.New()
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client.SetTimeout(timeout)
	return &HTTPMediaFetcher{client: client}
}

// Fetch downloads the media at url and reports its content type.
func (f *HTTPMediaFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch media: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, "", fmt.Errorf("media fetch failed: HTTP %d", resp.StatusCode())
	}
	return resp.Body(), resp.Header().Get("Content-Type"), nil
}

// sniffImageFormat detects the actual image format from the bytes. CDN
// content-type headers lie often enough that the blob extension is derived from
// the decoded header instead.
func sniffImageFormat(data []byte) (string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("media is not a decodable image: %w", err)
	}
	return format, nil
}

func extensionForFormat(format string) string {
	switch format {
	case "png":
		return ".png"
	case "webp":
		return ".webp"
	case "gif":
		return ".gif"
	default:
		return ".jpg"
	}
}

// extensionForContentType is the fallback mapping when the bytes do not decode,
// e.g. a CDN error page; the upload still proceeds with what the header claims.
func extensionForContentType(contentType string) string {
	switch {
	case strings.Contains(contentType, "png"):
		return ".png"
	case strings.Contains(contentType, "webp"):
		return ".webp"
	case strings.Contains(contentType, "gif"):
		return ".gif"
	default:
		return ".jpg"
	}
}

func contentTypeForFormat(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}
