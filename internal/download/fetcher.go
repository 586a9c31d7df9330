// Package download persists pin assets to disk through a concurrent
// worker pool with per-URL fallback and classified retries.
package download

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/jfaulkner/pinharvest/internal/pin"
)

// CollyFetcher retrieves single URLs through a pooled Colly collector.
// Each Fetch clones the base collector, so one Fetcher is safe for
// concurrent use.
type CollyFetcher struct {
	base    *colly.Collector
	timeout time.Duration
}

// NewCollyFetcher builds a fetcher. proxy may be empty.
func NewCollyFetcher(timeout time.Duration, proxy string) (*CollyFetcher, error) {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	if proxy != "" {
		if err := c.SetProxy(proxy); err != nil {
			return nil, fmt.Errorf("set proxy: %w", err)
		}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CollyFetcher{base: c, timeout: timeout}, nil
}

// Fetch executes a single GET and returns the raw response. HTTP error
// statuses are returned as results, not errors; transport failures are
// errors.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string, headers http.Header) (*pin.FetchResult, error) {
	collector := f.base.Clone()
	collector.SetRequestTimeout(f.timeout)

	var (
		result   *pin.FetchResult
		fetchErr error
	)
	start := time.Now()

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			fetchErr = ctx.Err()
			r.Abort()
			return
		}
		for k, vals := range headers {
			if len(vals) > 0 {
				r.Headers.Set(k, vals[0])
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = resultFromResponse(rawURL, r, start)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			result = resultFromResponse(rawURL, r, start)
			return
		}
		fetchErr = err
	})

	visitErr := collector.Visit(rawURL)
	collector.Wait()

	if fetchErr != nil {
		return nil, fetchErr
	}
	if result == nil {
		if visitErr != nil {
			return nil, visitErr
		}
		return nil, fmt.Errorf("fetch %s: no response", rawURL)
	}
	return result, nil
}

func resultFromResponse(rawURL string, r *colly.Response, start time.Time) *pin.FetchResult {
	hdr := http.Header{}
	if r.Headers != nil {
		hdr = r.Headers.Clone()
	}
	return &pin.FetchResult{
		URL:         rawURL,
		StatusCode:  r.StatusCode,
		ContentType: hdr.Get("Content-Type"),
		Headers:     hdr,
		Body:        r.Body,
		Duration:    time.Since(start),
	}
}

// SessionFetcher decorates another fetcher with the headers and cookies
// captured from a real rendered page load. It is the second line of
// attack when anonymous requests get blocked.
type SessionFetcher struct {
	inner pin.Fetcher
	creds *pin.Credentials
}

// NewSessionFetcher wraps inner with captured credentials.
func NewSessionFetcher(inner pin.Fetcher, creds *pin.Credentials) *SessionFetcher {
	return &SessionFetcher{inner: inner, creds: creds}
}

// Fetch merges the captured session headers and cookie jar into the
// request before delegating. Caller-supplied headers win on conflict.
func (f *SessionFetcher) Fetch(ctx context.Context, rawURL string, headers http.Header) (*pin.FetchResult, error) {
	merged := http.Header{}
	if f.creds != nil {
		for k, vals := range f.creds.Headers {
			for _, v := range vals {
				merged.Add(k, v)
			}
		}
		if len(f.creds.Cookies) > 0 {
			pairs := make([]string, 0, len(f.creds.Cookies))
			for name, value := range f.creds.Cookies {
				pairs = append(pairs, name+"="+value)
			}
			merged.Set("Cookie", strings.Join(pairs, "; "))
		}
	}
	for k, vals := range headers {
		merged.Del(k)
		for _, v := range vals {
			merged.Add(k, v)
		}
	}
	return f.inner.Fetch(ctx, rawURL, merged)
}

// classify maps a fetch outcome onto a retry class. A nil return means
// the body is a usable image of at least minSize bytes.
func classify(rawURL string, res *pin.FetchResult, err error, minSize int64) *pin.DownloadError {
	if err != nil {
		kind := pin.DownloadConnectionFailed
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			kind = pin.DownloadTimeout
		}
		return &pin.DownloadError{Kind: kind, URL: rawURL, Err: err}
	}
	if res.StatusCode != http.StatusOK {
		return &pin.DownloadError{Kind: pin.DownloadHTTPStatus, Status: res.StatusCode, URL: rawURL}
	}
	if !res.IsImage() {
		return &pin.DownloadError{
			Kind: pin.DownloadInvalidContent,
			URL:  rawURL,
			Err:  fmt.Errorf("content type %q is not an image", res.ContentType),
		}
	}
	if int64(len(res.Body)) < minSize {
		return &pin.DownloadError{
			Kind: pin.DownloadInvalidContent,
			URL:  rawURL,
			Err:  fmt.Errorf("body of %d bytes is below the %d byte floor", len(res.Body), minSize),
		}
	}
	if _, ok := detectImageExt(res.Body); !ok {
		return &pin.DownloadError{
			Kind: pin.DownloadInvalidContent,
			URL:  rawURL,
			Err:  errors.New("body does not start with a known image signature"),
		}
	}
	return nil
}
