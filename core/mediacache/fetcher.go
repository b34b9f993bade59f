package mediacache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"ReelForge/logger"
)

// Response is a byte stream plus what the cache needs to label it.
// Size is -1 when the upstream does not announce a length.
type Response struct {
	Body     io.ReadCloser
	MimeType string
	Size     int64
}

// Fetcher retrieves the bytes of a remote URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Response, error)
}

// FetcherFunc 函数适配器
type FetcherFunc func(ctx context.Context, rawURL string) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	return f(ctx, rawURL)
}

// HTTPFetcher fetches over HTTP, optionally through the byte proxy at
// ProxyURL (the remote URL is passed as the "url" query parameter).
type HTTPFetcher struct {
	Client     *http.Client
	ProxyURL   string
	UserAgent  string
	MaxRetries int
	RetryDelay time.Duration
}

// NewHTTPFetcher 创建 HTTP 下载器
func NewHTTPFetcher(proxyURL string) *HTTPFetcher {
	return &HTTPFetcher{
		Client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		ProxyURL:   proxyURL,
		UserAgent:  "ReelForge/1.0",
		MaxRetries: 3,
		RetryDelay: 200 * time.Millisecond,
	}
}

// Fetch 发起请求；连接失败和 5xx 会重试，开始读取响应体之后不再重试
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	target, err := f.target(rawURL)
	if err != nil {
		return nil, err
	}
	retries := f.MaxRetries
	if retries <= 0 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		resp, err := f.do(ctx, target)
		if err == nil {
			return f.response(resp, rawURL), nil
		}
		lastErr = err
		var se *statusError
		if ctx.Err() != nil || (errors.As(err, &se) && se.code < 500) {
			break
		}
		logger.Warn("媒体下载失败，准备重试",
			logger.String("url", rawURL),
			logger.Int("attempt", attempt),
			logger.ErrorField(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.RetryDelay):
		}
	}
	return nil, fmt.Errorf("fetch %s: %w", rawURL, lastErr)
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

func (f *HTTPFetcher) do(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &statusError{code: resp.StatusCode}
	}
	return resp, nil
}

func (f *HTTPFetcher) target(rawURL string) (string, error) {
	if f.ProxyURL == "" {
		return rawURL, nil
	}
	u, err := url.Parse(f.ProxyURL)
	if err != nil {
		return "", fmt.Errorf("parse proxy url: %w", err)
	}
	q := u.Query()
	q.Set("url", rawURL)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (f *HTTPFetcher) response(resp *http.Response, rawURL string) *Response {
	mimeType := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = GuessMimeType(rawURL)
	}
	return &Response{Body: resp.Body, MimeType: mimeType, Size: resp.ContentLength}
}

// 系统 mime 表不一定包含的常见媒体类型
var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// GuessMimeType 根据扩展名推断类型
func GuessMimeType(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if mt, ok := mediaTypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		if parsed, _, err := mime.ParseMediaType(mt); err == nil {
			return parsed
		}
		return mt
	}
	return "application/octet-stream"
}
