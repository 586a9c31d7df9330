package pin

import (
	"context"
	"net/http"
	"time"
)

// Repository persists pins, sessions and download tasks for one keyword
// partition. It is the single source of truth for dedup and resumability;
// every other component treats it as authoritative.
type Repository interface {
	CreateSession(ctx context.Context, keyword string, targetCount int, outputDir string, downloadImages bool) (string, error)
	GetIncompleteSessions(ctx context.Context, keyword string) ([]Session, error)
	ResumeSession(ctx context.Context, sessionID string) (bool, error)
	UpdateSessionStatus(ctx context.Context, sessionID string, status SessionStatus, savedCount int) error

	// SavePin is an idempotent upsert keyed by pin ID. It returns false on
	// duplicate or validation failure and never errors for "already exists".
	SavePin(ctx context.Context, p Pin, keyword, sessionID string) (bool, error)
	CountPins(ctx context.Context, keyword string) (int, error)
	PinIDs(ctx context.Context, keyword string) ([]string, error)
	LoadPinsByQuery(ctx context.Context, keyword string, limit, offset int) ([]Pin, error)
	LoadPinsWithImages(ctx context.Context, keyword string, limit, offset int) ([]Pin, error)
	MarkPinDownloaded(ctx context.Context, pinID, localPath string) error

	CreateDownloadTask(ctx context.Context, pinID, imageURL string) (int64, error)
	GetDownloadTaskByPinAndURL(ctx context.Context, pinID, imageURL string) (*DownloadTask, error)
	// UpdateDownloadTaskStatus writes status, path, size and error as one
	// atomic update; a task is never observable as completed without a path.
	UpdateDownloadTaskStatus(ctx context.Context, taskID int64, status TaskStatus, localPath string, fileSize int64, errMsg string) error
	GetPendingDownloadTasks(ctx context.Context, limit int) ([]DownloadTask, error)

	Close() error
}

// Browser abstracts the automation primitives used to render pages, scroll
// and read the DOM. Implementations own the underlying browser lifetime.
type Browser interface {
	Start(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	Scroll(ctx context.Context, pixels int) error
	PageSource(ctx context.Context) (string, error)
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	// CaptureCredentials loads one real search page and records the request
	// template, headers and cookies the frontend used, for API-mode paging.
	CaptureCredentials(ctx context.Context, searchURL string) (*Credentials, error)
	Close() error
}

// Fetcher retrieves one URL and returns the raw response. Implementations
// differ in how hard they try to look like a real browser.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers http.Header) (*FetchResult, error)
}

// ProcessLock serializes acquisition runs per keyword across OS processes.
type ProcessLock interface {
	Acquire(name string) (bool, error)
	Release(name string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs.
type IDGenerator interface {
	NewID() (string, error)
}
