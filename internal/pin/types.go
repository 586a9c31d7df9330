// Package pin defines core types shared across subsystems.
package pin

import (
	"net/http"
	"time"
)

// SessionStatus represents the lifecycle state of a scraping session.
type SessionStatus string

// Session status values persisted in the session store. Running is the only
// resumable state.
const (
	SessionStatusRunning     SessionStatus = "running"
	SessionStatusCompleted   SessionStatus = "completed"
	SessionStatusInterrupted SessionStatus = "interrupted"
	SessionStatusFailed      SessionStatus = "failed"
)

// TaskStatus represents the lifecycle state of a download task.
type TaskStatus string

// Task status values persisted in the download_tasks table.
const (
	TaskStatusPending     TaskStatus = "pending"
	TaskStatusDownloading TaskStatus = "downloading"
	TaskStatusCompleted   TaskStatus = "completed"
	TaskStatusFailed      TaskStatus = "failed"
)

// Creator identifies the account that published a pin.
type Creator struct {
	Name          string `json:"name,omitempty"`
	Username      string `json:"username,omitempty"`
	ID            string `json:"id,omitempty"`
	FollowerCount int    `json:"follower_count,omitempty"`
	AvatarURL     string `json:"avatar_url,omitempty"`
}

// Board identifies the board a pin was saved to.
type Board struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Stats carries engagement counts for a pin.
type Stats struct {
	Likes    int `json:"likes,omitempty"`
	Saves    int `json:"saves,omitempty"`
	Comments int `json:"comments,omitempty"`
}

// Pin is one harvested content record. ID is the only business key and is
// unique within a keyword partition; a second write for the same ID is an
// update-or-noop, never a duplicate row.
type Pin struct {
	ID              string            `json:"id"`
	Title           string            `json:"title,omitempty"`
	Description     string            `json:"description,omitempty"`
	ImageURLs       map[string]string `json:"image_urls,omitempty"`
	LargestImageURL string            `json:"largest_image_url,omitempty"`
	Creator         Creator           `json:"creator,omitempty"`
	Board           Board             `json:"board,omitempty"`
	Categories      []string          `json:"categories,omitempty"`
	Stats           Stats             `json:"stats,omitempty"`
	URL             string            `json:"url,omitempty"`
	SourceLink      string            `json:"source_link,omitempty"`
	Downloaded      bool              `json:"downloaded"`
	DownloadPath    string            `json:"download_path,omitempty"`
	RawData         map[string]any    `json:"raw_data,omitempty"`
	CreatedAt       time.Time         `json:"created_at,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at,omitempty"`
}

// HasImage reports whether the pin carries at least one resolvable image URL.
func (p Pin) HasImage() bool {
	return p.LargestImageURL != "" || len(p.ImageURLs) > 0
}

// Session is one acquisition run's bookkeeping record.
type Session struct {
	ID             string        `json:"id"`
	Keyword        string        `json:"keyword"`
	TargetCount    int           `json:"target_count"`
	SavedCount     int           `json:"saved_count"`
	OutputDir      string        `json:"output_dir"`
	DownloadImages bool          `json:"download_images"`
	Status         SessionStatus `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

// Terminal reports whether the session can no longer be resumed.
func (s Session) Terminal() bool {
	switch s.Status {
	case SessionStatusCompleted, SessionStatusInterrupted, SessionStatusFailed:
		return true
	default:
		return false
	}
}

// DownloadTask is one persisted fetch obligation, independent of the Pin
// record. At most one task exists per (pin_id, image_url) pair; tasks are
// never deleted, only superseded by status transitions.
type DownloadTask struct {
	ID           int64      `json:"id"`
	PinID        string     `json:"pin_id"`
	ImageURL     string     `json:"image_url"`
	Status       TaskStatus `json:"status"`
	LocalPath    string     `json:"local_path,omitempty"`
	FileSize     int64      `json:"file_size,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	RetryCount   int        `json:"retry_count"`
	CreatedAt    time.Time  `json:"created_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at,omitempty"`
}

// FetchResult is returned by a Fetcher implementation.
type FetchResult struct {
	URL         string
	StatusCode  int
	ContentType string
	Headers     http.Header
	Body        []byte
	Duration    time.Duration
}

// IsImage reports whether the response carries image content. Upstream
// anti-automation interstitials answer 200 with text/html bodies, so a
// success status alone is not enough.
func (r *FetchResult) IsImage() bool {
	if r == nil {
		return false
	}
	ct := r.ContentType
	if ct == "" {
		ct = r.Headers.Get("Content-Type")
	}
	return len(ct) >= 6 && ct[:6] == "image/"
}

// Credentials is the request template captured from one real rendered page
// load: endpoint, headers, cookies and the JSON data payload the site's own
// frontend sends. The bookmark slot inside DataTemplate is filled per call.
type Credentials struct {
	APIURL       string
	Headers      http.Header
	Cookies      map[string]string
	DataTemplate map[string]any
}
