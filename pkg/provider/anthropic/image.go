package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// ErrImageUnavailable is returned when an image reference cannot be turned
// into inline bytes. The request mapper omits such images.
var ErrImageUnavailable = errors.New("image unavailable")

var dataURLPattern = regexp.MustCompile(`^data:(image/[^;,]+);base64,(.*)$`)

var supportedMediaTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// ImageResolver turns an image_url reference into base64 data and a media
// type accepted upstream.
type ImageResolver interface {
	Resolve(ctx context.Context, url string) (mediaType, data string, err error)
}

// ImageResolverFunc adapts a function to ImageResolver.
type ImageResolverFunc func(ctx context.Context, url string) (string, string, error)

// Resolve calls f.
func (f ImageResolverFunc) Resolve(ctx context.Context, url string) (string, string, error) {
	return f(ctx, url)
}

// ImageConfig controls the default resolver.
type ImageConfig struct {
	// FetchRemote enables downloading http(s) image URLs.
	FetchRemote bool

	// MaxBytes bounds decoded and downloaded image size. Defaults to 5 MiB.
	MaxBytes int64

	// Timeout bounds one download. Defaults to 10s.
	Timeout time.Duration
}

// DefaultImageResolver decodes data URLs and, when enabled, fetches remote
// images.
type DefaultImageResolver struct {
	cfg    ImageConfig
	client *http.Client
}

// NewImageResolver creates a DefaultImageResolver.
func NewImageResolver(cfg ImageConfig) *DefaultImageResolver {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 5 << 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &DefaultImageResolver{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Resolve implements ImageResolver. Every failure wraps ErrImageUnavailable.
func (r *DefaultImageResolver) Resolve(ctx context.Context, url string) (string, string, error) {
	switch {
	case strings.HasPrefix(url, "data:"):
		return r.resolveDataURL(url)
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		if !r.cfg.FetchRemote {
			return "", "", fmt.Errorf("%w: remote image fetching is disabled", ErrImageUnavailable)
		}
		return r.fetch(ctx, url)
	default:
		return "", "", fmt.Errorf("%w: unsupported image reference", ErrImageUnavailable)
	}
}

func (r *DefaultImageResolver) resolveDataURL(url string) (string, string, error) {
	m := dataURLPattern.FindStringSubmatch(url)
	if m == nil {
		return "", "", fmt.Errorf("%w: not a base64 image data URL", ErrImageUnavailable)
	}
	mediaType, payload := strings.ToLower(m[1]), m[2]
	if mediaType == "image/jpg" {
		mediaType = "image/jpeg"
	}
	if !supportedMediaTypes[mediaType] {
		return "", "", fmt.Errorf("%w: unsupported media type %s", ErrImageUnavailable, mediaType)
	}
	if int64(base64.StdEncoding.DecodedLen(len(payload))) > r.cfg.MaxBytes {
		return "", "", fmt.Errorf("%w: image exceeds %d bytes", ErrImageUnavailable, r.cfg.MaxBytes)
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return "", "", fmt.Errorf("%w: invalid base64 payload: %v", ErrImageUnavailable, err)
	}
	return mediaType, payload, nil
}

func (r *DefaultImageResolver) fetch(ctx context.Context, url string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrImageUnavailable, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrImageUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("%w: fetch returned status %d", ErrImageUnavailable, resp.StatusCode)
	}
	if resp.ContentLength > r.cfg.MaxBytes {
		return "", "", fmt.Errorf("%w: image exceeds %d bytes", ErrImageUnavailable, r.cfg.MaxBytes)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.cfg.MaxBytes+1))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrImageUnavailable, err)
	}
	if int64(len(body)) > r.cfg.MaxBytes {
		return "", "", fmt.Errorf("%w: image exceeds %d bytes", ErrImageUnavailable, r.cfg.MaxBytes)
	}

	mediaType := headerMediaType(resp.Header.Get("Content-Type"))
	if !supportedMediaTypes[mediaType] {
		mediaType = mimetype.Detect(body).String()
	}
	if !supportedMediaTypes[mediaType] {
		return "", "", fmt.Errorf("%w: unsupported media type %s", ErrImageUnavailable, mediaType)
	}
	return mediaType, base64.StdEncoding.EncodeToString(body), nil
}

func headerMediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}
