package download

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jfaulkner/pinharvest/internal/pin"
)

func jpegBody() []byte {
	return append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0xAB}, 60)...)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	url := "https://i.pinimg.com/originals/aa/bb/p1.jpg"
	ok := &pin.FetchResult{URL: url, StatusCode: 200, ContentType: "image/jpeg", Body: jpegBody()}

	require.Nil(t, classify(url, ok, nil, 32))

	derr := classify(url, nil, errors.New("connection refused"), 32)
	require.Equal(t, pin.DownloadConnectionFailed, derr.Kind)

	derr = classify(url, nil, context.DeadlineExceeded, 32)
	require.Equal(t, pin.DownloadTimeout, derr.Kind)

	derr = classify(url, &pin.FetchResult{URL: url, StatusCode: 404}, nil, 32)
	require.Equal(t, pin.DownloadHTTPStatus, derr.Kind)
	require.True(t, derr.Permanent())

	derr = classify(url, &pin.FetchResult{URL: url, StatusCode: 403}, nil, 32)
	require.Equal(t, pin.DownloadHTTPStatus, derr.Kind)
	require.False(t, derr.Permanent())

	derr = classify(url, &pin.FetchResult{URL: url, StatusCode: 200, ContentType: "text/html", Body: jpegBody()}, nil, 32)
	require.Equal(t, pin.DownloadInvalidContent, derr.Kind)

	derr = classify(url, &pin.FetchResult{URL: url, StatusCode: 200, ContentType: "image/jpeg", Body: jpegBody()[:8]}, nil, 32)
	require.Equal(t, pin.DownloadInvalidContent, derr.Kind)

	html := append([]byte("<html>"), bytes.Repeat([]byte{' '}, 60)...)
	derr = classify(url, &pin.FetchResult{URL: url, StatusCode: 200, ContentType: "image/jpeg", Body: html}, nil, 32)
	require.Equal(t, pin.DownloadInvalidContent, derr.Kind)
}

type recordingFetcher struct {
	lastURL     string
	lastHeaders http.Header
}

func (f *recordingFetcher) Fetch(_ context.Context, rawURL string, headers http.Header) (*pin.FetchResult, error) {
	f.lastURL = rawURL
	f.lastHeaders = headers
	return &pin.FetchResult{URL: rawURL, StatusCode: 200, ContentType: "image/jpeg", Body: jpegBody()}, nil
}

func TestSessionFetcherMergesCredentials(t *testing.T) {
	t.Parallel()

	inner := &recordingFetcher{}
	creds := &pin.Credentials{
		Headers: http.Header{
			"X-Pinterest-Appstate": []string{"active"},
			"User-Agent":           []string{"session-agent"},
		},
		Cookies: map[string]string{"_auth": "1"},
	}
	f := NewSessionFetcher(inner, creds)

	caller := http.Header{}
	caller.Set("User-Agent", "caller-agent")
	_, err := f.Fetch(context.Background(), "https://i.pinimg.com/originals/x.jpg", caller)
	require.NoError(t, err)

	require.Equal(t, "active", inner.lastHeaders.Get("X-Pinterest-Appstate"))
	require.Equal(t, "caller-agent", inner.lastHeaders.Get("User-Agent"))
	require.Equal(t, "_auth=1", inner.lastHeaders.Get("Cookie"))
}

func TestRandomHeadersShape(t *testing.T) {
	t.Parallel()

	h := RandomHeaders()
	require.NotEmpty(t, h.Get("User-Agent"))
	require.Contains(t, h.Get("Accept"), "image/")
	require.Equal(t, "https://www.pinterest.com/", h.Get("Referer"))
	require.Equal(t, "image", h.Get("sec-fetch-dest"))
}
