package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jfaulkner/pinharvest/internal/clock/system"
	"github.com/jfaulkner/pinharvest/internal/config"
	"github.com/jfaulkner/pinharvest/internal/id/uuid"
	"github.com/jfaulkner/pinharvest/internal/pin"
	"github.com/jfaulkner/pinharvest/internal/storage/sqlite"
)

func gridPage(ids ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, id := range ids {
		fmt.Fprintf(&b, `<div data-test-id="pin"><a href="/pin/%s/"><img src="https://i.pinimg.com/236x/%s.jpg" alt="pin %s"/></a></div>`, id, id, id)
	}
	b.WriteString("</body></html>")
	return b.String()
}

// stubBrowser serves one canned page for every navigation. onPageSource,
// when set, runs before each read with the 1-based call number.
type stubBrowser struct {
	mu           sync.Mutex
	page         string
	sourceCalls  int
	onPageSource func(call int)
	scrollErr    error
}

func (b *stubBrowser) Start(context.Context) error            { return nil }
func (b *stubBrowser) Navigate(context.Context, string) error { return nil }
func (b *stubBrowser) Scroll(context.Context, int) error      { return b.scrollErr }
func (b *stubBrowser) Close() error                           { return nil }

func (b *stubBrowser) PageSource(context.Context) (string, error) {
	b.mu.Lock()
	b.sourceCalls++
	call := b.sourceCalls
	hook := b.onPageSource
	page := b.page
	b.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	return page, nil
}

func (b *stubBrowser) WaitForSelector(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

func (b *stubBrowser) CaptureCredentials(context.Context, string) (*pin.Credentials, error) {
	return nil, fmt.Errorf("capture unavailable")
}

// imageFetcher answers every URL with a small valid JPEG.
type imageFetcher struct{}

func (imageFetcher) Fetch(_ context.Context, rawURL string, _ http.Header) (*pin.FetchResult, error) {
	body := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0xCD}, 60)...)
	return &pin.FetchResult{URL: rawURL, StatusCode: 200, ContentType: "image/jpeg", Body: body}, nil
}

func testScraper(t *testing.T, br pin.Browser) (*Scraper, config.Config) {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Output.Dir = t.TempDir()
	cfg.Browser.SelectorTimeoutSec = 1
	cfg.Download.Workers = 2
	cfg.Download.PollTimeoutMs = 20
	cfg.Download.MinFileSize = 32
	cfg.Download.BackoffInitialMs = 1
	cfg.Download.BackoffMaxMs = 2
	cfg.Download.ForbiddenBackoffMinMs = 1
	cfg.Download.ForbiddenBackoffMaxMs = 2

	s := New(cfg, zap.NewNop())
	s.newBrowser = func() pin.Browser { return br }
	s.newFetcher = func() (pin.Fetcher, error) { return imageFetcher{}, nil }
	return s, cfg
}

func openStore(t *testing.T, cfg config.Config, keyword string) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(cfg.Output.Dir, keyword, system.New(), uuid.New(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestScrapeEndToEnd(t *testing.T) {
	t.Parallel()

	br := &stubBrowser{page: gridPage("101", "102", "103", "104", "105")}
	s, cfg := testScraper(t, br)

	pins, report, err := s.Scrape(context.Background(), "Vintage Posters", 5)
	require.NoError(t, err)

	require.Equal(t, "vintage_posters", report.Keyword)
	require.Equal(t, pin.SessionStatusCompleted, report.Status)
	require.Equal(t, 5, report.Added)
	require.Equal(t, 5, report.TotalCached)
	require.Len(t, pins, 5)
	require.Equal(t, 5, report.Downloads.Completed)
	require.Zero(t, report.Downloads.Failed)

	imagesDir := filepath.Join(cfg.Output.Dir, "vintage_posters", "images")
	entries, err := os.ReadDir(imagesDir)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	store := openStore(t, cfg, "vintage_posters")
	ctx := context.Background()
	tasks, err := store.GetPendingDownloadTasks(ctx, 100)
	require.NoError(t, err)
	require.Empty(t, tasks)

	sessions, err := store.GetIncompleteSessions(ctx, "vintage_posters")
	require.NoError(t, err)
	require.Empty(t, sessions)

	for _, p := range pins {
		require.True(t, p.Downloaded)
	}
}

func TestScrapeReturnsPartialHarvestOnBrowserFailure(t *testing.T) {
	t.Parallel()

	// Two pins land before the browser dies mid-scroll. The run still
	// completes the session, downloads the assets and returns the rows.
	br := &stubBrowser{
		page:      gridPage("501", "502"),
		scrollErr: fmt.Errorf("browser crashed"),
	}
	s, cfg := testScraper(t, br)

	pins, report, err := s.Scrape(context.Background(), "cats", 5)
	require.NoError(t, err)
	require.Equal(t, pin.SessionStatusCompleted, report.Status)
	require.Equal(t, 2, report.Added)
	require.Len(t, pins, 2)
	require.Equal(t, 2, report.Downloads.Completed)

	store := openStore(t, cfg, "cats")
	sessions, err := store.GetIncompleteSessions(context.Background(), "cats")
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestScrapeInterruptRecordsDurableCount(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	br := &stubBrowser{page: gridPage("201", "202")}
	br.onPageSource = func(call int) {
		if call >= 2 {
			cancel()
		}
	}
	s, cfg := testScraper(t, br)

	_, report, err := s.Scrape(ctx, "cats", 5)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, pin.SessionStatusInterrupted, report.Status)

	store := openStore(t, cfg, "cats")
	sessions, err := store.GetIncompleteSessions(context.Background(), "cats")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, pin.SessionStatusInterrupted, sessions[0].Status)
	require.Equal(t, 2, sessions[0].SavedCount)
}

func TestScrapeResumePicksUpInterruptedSession(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	br := &stubBrowser{page: gridPage("301", "302")}
	br.onPageSource = func(call int) {
		if call >= 2 {
			cancel()
		}
	}
	s, cfg := testScraper(t, br)

	_, first, err := s.Scrape(ctx, "dogs", 4)
	require.ErrorIs(t, err, context.Canceled)

	br2 := &stubBrowser{page: gridPage("301", "302", "303", "304")}
	s2, _ := testScraper(t, br2)
	s2.cfg.Output.Dir = cfg.Output.Dir
	s2.openRepo = s.openRepo
	s2.lock = s.lock

	pins, second, err := s2.Scrape(context.Background(), "dogs", 4)
	require.NoError(t, err)
	require.True(t, second.Resumed)
	require.Equal(t, first.SessionID, second.SessionID)
	require.Equal(t, 4, second.TotalCached)
	require.Len(t, pins, 4)
}

func TestScrapeRefusesConcurrentRunForKeyword(t *testing.T) {
	t.Parallel()

	br := &stubBrowser{page: gridPage("401")}
	s, _ := testScraper(t, br)

	held, err := s.lock.Acquire("cats")
	require.NoError(t, err)
	require.True(t, held)
	defer s.lock.Release("cats")

	_, _, err = s.Scrape(context.Background(), "cats", 1)
	require.ErrorIs(t, err, pin.ErrLockContention)
}

func TestNormalizeKeyword(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in        string
		wantQuery string
		wantKey   string
	}{
		{"Vintage Posters", "Vintage Posters", "vintage_posters"},
		{"https://www.pinterest.com/search/pins/?q=retro%20cars&rs=typed", "retro cars", "retro_cars"},
		{"https://www.pinterest.com/ideas/cats/", "cats", "cats"},
	}
	for _, tc := range cases {
		query, key, err := NormalizeKeyword(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.wantQuery, query, tc.in)
		require.Equal(t, tc.wantKey, key, tc.in)
	}

	_, _, err := NormalizeKeyword("   ")
	require.Error(t, err)
}
