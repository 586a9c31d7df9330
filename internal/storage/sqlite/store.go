// Package sqlite implements pin.Repository on a per-keyword SQLite file.
// Each keyword partition owns its own database; nothing here ever reaches
// across partitions.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"go.uber.org/zap"

	"github.com/jfaulkner/pinharvest/internal/pin"
)

// DBFileName is the database file inside each keyword partition.
const DBFileName = "pinterest.db"

// Store implements pin.Repository backed by one SQLite database file.
type Store struct {
	db     *sqlx.DB
	clock  pin.Clock
	idGen  pin.IDGenerator
	logger *zap.Logger
}

// Open creates (or reopens) the partition database at
// <baseDir>/<keyword>/pinterest.db and applies the schema.
func Open(baseDir, keyword string, clock pin.Clock, idGen pin.IDGenerator, logger *zap.Logger) (*Store, error) {
	dir := filepath.Join(baseDir, keyword)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create partition dir: %w", err)
	}
	path := filepath.Join(dir, DBFileName)
	return OpenPath(path, clock, idGen, logger)
}

// OpenPath opens the database at an explicit path. The merge tool uses this
// to open source and destination partitions directly.
func OpenPath(path string, clock pin.Clock, idGen pin.IDGenerator, logger *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer connection keeps SQLITE_BUSY out of the worker pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, clock: clock, idGen: idGen, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite db: %w", err)
	}
	return nil
}

// --- sessions ---

// CreateSession inserts a new running session and returns its ID.
func (s *Store) CreateSession(ctx context.Context, keyword string, targetCount int, outputDir string, downloadImages bool) (string, error) {
	id, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("new session id: %w", err)
	}
	now := s.clock.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scraping_sessions (id, query, target_count, actual_count, status, output_dir, download_images, started_at)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?)`,
		id, keyword, targetCount, pin.SessionStatusRunning, outputDir, boolToInt(downloadImages), now,
	)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// GetIncompleteSessions returns running and interrupted sessions for the
// keyword, newest first.
func (s *Store) GetIncompleteSessions(ctx context.Context, keyword string) ([]pin.Session, error) {
	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM scraping_sessions
		WHERE query = ? AND status IN (?, ?)
		ORDER BY started_at DESC`,
		keyword, pin.SessionStatusRunning, pin.SessionStatusInterrupted,
	)
	if err != nil {
		return nil, fmt.Errorf("select incomplete sessions: %w", err)
	}
	out := make([]pin.Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toSession())
	}
	return out, nil
}

// ResumeSession flips an incomplete session back to running. It returns
// false when the session is unknown or already terminal.
func (s *Store) ResumeSession(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scraping_sessions SET status = ?, completed_at = NULL
		WHERE id = ? AND status IN (?, ?)`,
		pin.SessionStatusRunning, sessionID, pin.SessionStatusRunning, pin.SessionStatusInterrupted,
	)
	if err != nil {
		return false, fmt.Errorf("resume session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resume session rows: %w", err)
	}
	return n > 0, nil
}

// UpdateSessionStatus records the session's state and durable saved count.
// Terminal states also stamp completed_at.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID string, status pin.SessionStatus, savedCount int) error {
	now := s.clock.Now()
	var completedAt any
	if status != pin.SessionStatusRunning {
		completedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE scraping_sessions SET status = ?, actual_count = ?, completed_at = ?
		WHERE id = ?`,
		status, savedCount, completedAt, sessionID,
	)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

// --- pins ---

// SavePin inserts a pin if its ID is new. A duplicate ID refreshes mutable
// fields and returns false; an empty ID returns false without touching the
// database.
func (s *Store) SavePin(ctx context.Context, p pin.Pin, keyword, sessionID string) (bool, error) {
	if p.ID == "" {
		return false, nil
	}
	now := s.clock.Now()
	row, err := newPinRow(p, keyword, sessionID, now)
	if err != nil {
		return false, &pin.PersistenceError{Op: "encode pin", Err: err}
	}

	res, err := s.db.NamedExecContext(ctx, `
		INSERT OR IGNORE INTO pins (
			id, query, title, description,
			creator_name, creator_username, creator_id, creator_followers, creator_avatar,
			board_id, board_name, board_url,
			categories, image_urls, largest_image_url, stats,
			url, source_link, downloaded, download_path, raw_data, session_id,
			created_at, updated_at
		) VALUES (
			:id, :query, :title, :description,
			:creator_name, :creator_username, :creator_id, :creator_followers, :creator_avatar,
			:board_id, :board_name, :board_url,
			:categories, :image_urls, :largest_image_url, :stats,
			:url, :source_link, :downloaded, :download_path, :raw_data, :session_id,
			:created_at, :updated_at
		)`, row)
	if err != nil {
		return false, &pin.PersistenceError{Op: "insert pin", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &pin.PersistenceError{Op: "insert pin rows", Err: err}
	}
	if n > 0 {
		return true, nil
	}

	// Existing pin: refresh metadata so later scrolls with richer data win.
	_, err = s.db.NamedExecContext(ctx, `
		UPDATE pins SET
			title = :title, description = :description,
			creator_name = :creator_name, creator_username = :creator_username,
			creator_id = :creator_id, creator_followers = :creator_followers,
			creator_avatar = :creator_avatar,
			board_id = :board_id, board_name = :board_name, board_url = :board_url,
			categories = :categories, image_urls = :image_urls,
			largest_image_url = :largest_image_url, stats = :stats,
			url = :url, source_link = :source_link, raw_data = :raw_data,
			updated_at = :updated_at
		WHERE id = :id`, row)
	if err != nil {
		return false, &pin.PersistenceError{Op: "update pin", Err: err}
	}
	return false, nil
}

// CountPins returns the number of pins stored for the keyword.
func (s *Store) CountPins(ctx context.Context, keyword string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM pins WHERE query = ?`, keyword); err != nil {
		return 0, fmt.Errorf("count pins: %w", err)
	}
	return n, nil
}

// PinIDs returns all stored pin IDs for the keyword, for seeding dedup sets.
func (s *Store) PinIDs(ctx context.Context, keyword string) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM pins WHERE query = ?`, keyword); err != nil {
		return nil, fmt.Errorf("select pin ids: %w", err)
	}
	return ids, nil
}

// LoadPinsByQuery pages stored pins in insertion order.
func (s *Store) LoadPinsByQuery(ctx context.Context, keyword string, limit, offset int) ([]pin.Pin, error) {
	var rows []pinRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM pins WHERE query = ?
		ORDER BY created_at, id LIMIT ? OFFSET ?`,
		keyword, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("select pins: %w", err)
	}
	return rowsToPins(rows)
}

// LoadPinsWithImages pages pins that carry at least one image URL, in
// insertion order.
func (s *Store) LoadPinsWithImages(ctx context.Context, keyword string, limit, offset int) ([]pin.Pin, error) {
	var rows []pinRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM pins
		WHERE query = ?
		  AND (COALESCE(largest_image_url, '') != ''
		       OR COALESCE(image_urls, '') NOT IN ('', '{}', 'null'))
		ORDER BY created_at, id LIMIT ? OFFSET ?`,
		keyword, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("select pins with images: %w", err)
	}
	return rowsToPins(rows)
}

// MarkPinDownloaded records a completed asset fetch on the pin row.
func (s *Store) MarkPinDownloaded(ctx context.Context, pinID, localPath string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pins SET downloaded = 1, download_path = ?, updated_at = ?
		WHERE id = ?`,
		localPath, s.clock.Now(), pinID,
	)
	if err != nil {
		return fmt.Errorf("mark pin downloaded: %w", err)
	}
	return nil
}

// --- download tasks ---

// CreateDownloadTask returns the task ID for (pinID, imageURL), creating a
// pending task only when none exists.
func (s *Store) CreateDownloadTask(ctx context.Context, pinID, imageURL string) (int64, error) {
	now := s.clock.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO download_tasks (pin_id, image_url, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		pinID, imageURL, pin.TaskStatusPending, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert download task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("download task id: %w", err)
		}
		return id, nil
	}

	var id int64
	err = s.db.GetContext(ctx, &id, `
		SELECT id FROM download_tasks WHERE pin_id = ? AND image_url = ?`,
		pinID, imageURL,
	)
	if err != nil {
		return 0, fmt.Errorf("select existing download task: %w", err)
	}
	return id, nil
}

// GetDownloadTaskByPinAndURL returns the task for (pinID, imageURL), or nil
// when none exists.
func (s *Store) GetDownloadTaskByPinAndURL(ctx context.Context, pinID, imageURL string) (*pin.DownloadTask, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM download_tasks WHERE pin_id = ? AND image_url = ?`,
		pinID, imageURL,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select download task: %w", err)
	}
	t := row.toTask()
	return &t, nil
}

// UpdateDownloadTaskStatus writes status, path, size and error message in a
// single statement. Failed transitions increment the retry counter.
func (s *Store) UpdateDownloadTaskStatus(ctx context.Context, taskID int64, status pin.TaskStatus, localPath string, fileSize int64, errMsg string) error {
	retryBump := 0
	if status == pin.TaskStatusFailed {
		retryBump = 1
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE download_tasks SET
			status = ?, local_path = ?, file_size = ?, error_message = ?,
			retry_count = retry_count + ?, updated_at = ?
		WHERE id = ?`,
		status, localPath, fileSize, errMsg, retryBump, s.clock.Now(), taskID,
	)
	if err != nil {
		return fmt.Errorf("update download task: %w", err)
	}
	return nil
}

// GetPendingDownloadTasks returns pending tasks, oldest first.
func (s *Store) GetPendingDownloadTasks(ctx context.Context, limit int) ([]pin.DownloadTask, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM download_tasks WHERE status = ?
		ORDER BY created_at, id LIMIT ?`,
		pin.TaskStatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending tasks: %w", err)
	}
	out := make([]pin.DownloadTask, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toTask())
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalJSON(v any) (sql.NullString, error) {
	switch t := v.(type) {
	case map[string]string:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	case map[string]any:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	case []string:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
