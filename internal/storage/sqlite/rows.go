package sqlite

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jfaulkner/pinharvest/internal/pin"
)

// pinRow mirrors the pins table. Map-valued fields are stored as JSON text.
type pinRow struct {
	ID               string         `db:"id"`
	Query            string         `db:"query"`
	Title            sql.NullString `db:"title"`
	Description      sql.NullString `db:"description"`
	CreatorName      sql.NullString `db:"creator_name"`
	CreatorUsername  sql.NullString `db:"creator_username"`
	CreatorID        sql.NullString `db:"creator_id"`
	CreatorFollowers int            `db:"creator_followers"`
	CreatorAvatar    sql.NullString `db:"creator_avatar"`
	BoardID          sql.NullString `db:"board_id"`
	BoardName        sql.NullString `db:"board_name"`
	BoardURL         sql.NullString `db:"board_url"`
	Categories       sql.NullString `db:"categories"`
	ImageURLs        sql.NullString `db:"image_urls"`
	LargestImageURL  sql.NullString `db:"largest_image_url"`
	Stats            sql.NullString `db:"stats"`
	URL              sql.NullString `db:"url"`
	SourceLink       sql.NullString `db:"source_link"`
	Downloaded       int            `db:"downloaded"`
	DownloadPath     sql.NullString `db:"download_path"`
	RawData          sql.NullString `db:"raw_data"`
	SessionID        sql.NullString `db:"session_id"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func newPinRow(p pin.Pin, keyword, sessionID string, now time.Time) (pinRow, error) {
	categories, err := marshalJSON(p.Categories)
	if err != nil {
		return pinRow{}, err
	}
	imageURLs, err := marshalJSON(p.ImageURLs)
	if err != nil {
		return pinRow{}, err
	}
	var stats sql.NullString
	if p.Stats != (pin.Stats{}) {
		b, err := json.Marshal(p.Stats)
		if err != nil {
			return pinRow{}, err
		}
		stats = sql.NullString{String: string(b), Valid: true}
	}
	rawData, err := marshalJSON(p.RawData)
	if err != nil {
		return pinRow{}, err
	}
	return pinRow{
		ID:               p.ID,
		Query:            keyword,
		Title:            nullString(p.Title),
		Description:      nullString(p.Description),
		CreatorName:      nullString(p.Creator.Name),
		CreatorUsername:  nullString(p.Creator.Username),
		CreatorID:        nullString(p.Creator.ID),
		CreatorFollowers: p.Creator.FollowerCount,
		CreatorAvatar:    nullString(p.Creator.AvatarURL),
		BoardID:          nullString(p.Board.ID),
		BoardName:        nullString(p.Board.Name),
		BoardURL:         nullString(p.Board.URL),
		Categories:       categories,
		ImageURLs:        imageURLs,
		LargestImageURL:  nullString(p.LargestImageURL),
		Stats:            stats,
		URL:              nullString(p.URL),
		SourceLink:       nullString(p.SourceLink),
		Downloaded:       boolToInt(p.Downloaded),
		DownloadPath:     nullString(p.DownloadPath),
		RawData:          rawData,
		SessionID:        nullString(sessionID),
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (r pinRow) toPin() (pin.Pin, error) {
	p := pin.Pin{
		ID:              r.ID,
		Title:           r.Title.String,
		Description:     r.Description.String,
		LargestImageURL: r.LargestImageURL.String,
		Creator: pin.Creator{
			Name:          r.CreatorName.String,
			Username:      r.CreatorUsername.String,
			ID:            r.CreatorID.String,
			FollowerCount: r.CreatorFollowers,
			AvatarURL:     r.CreatorAvatar.String,
		},
		Board: pin.Board{
			ID:   r.BoardID.String,
			Name: r.BoardName.String,
			URL:  r.BoardURL.String,
		},
		URL:          r.URL.String,
		SourceLink:   r.SourceLink.String,
		Downloaded:   r.Downloaded != 0,
		DownloadPath: r.DownloadPath.String,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.Categories.Valid && r.Categories.String != "" {
		if err := json.Unmarshal([]byte(r.Categories.String), &p.Categories); err != nil {
			return pin.Pin{}, err
		}
	}
	if r.ImageURLs.Valid && r.ImageURLs.String != "" {
		if err := json.Unmarshal([]byte(r.ImageURLs.String), &p.ImageURLs); err != nil {
			return pin.Pin{}, err
		}
	}
	if r.Stats.Valid && r.Stats.String != "" {
		if err := json.Unmarshal([]byte(r.Stats.String), &p.Stats); err != nil {
			return pin.Pin{}, err
		}
	}
	if r.RawData.Valid && r.RawData.String != "" {
		if err := json.Unmarshal([]byte(r.RawData.String), &p.RawData); err != nil {
			return pin.Pin{}, err
		}
	}
	return p, nil
}

func rowsToPins(rows []pinRow) ([]pin.Pin, error) {
	out := make([]pin.Pin, 0, len(rows))
	for _, r := range rows {
		p, err := r.toPin()
		if err != nil {
			return nil, &pin.PersistenceError{Op: "decode pin", Err: err}
		}
		out = append(out, p)
	}
	return out, nil
}

// sessionRow mirrors the scraping_sessions table.
type sessionRow struct {
	ID             string       `db:"id"`
	Query          string       `db:"query"`
	TargetCount    int          `db:"target_count"`
	ActualCount    int          `db:"actual_count"`
	Status         string       `db:"status"`
	OutputDir      sql.NullString `db:"output_dir"`
	DownloadImages int          `db:"download_images"`
	StartedAt      time.Time    `db:"started_at"`
	CompletedAt    sql.NullTime `db:"completed_at"`
}

func (r sessionRow) toSession() pin.Session {
	s := pin.Session{
		ID:             r.ID,
		Keyword:        r.Query,
		TargetCount:    r.TargetCount,
		SavedCount:     r.ActualCount,
		OutputDir:      r.OutputDir.String,
		DownloadImages: r.DownloadImages != 0,
		Status:         pin.SessionStatus(r.Status),
		StartedAt:      r.StartedAt,
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		s.CompletedAt = &t
	}
	return s
}

// taskRow mirrors the download_tasks table.
type taskRow struct {
	ID           int64          `db:"id"`
	PinID        string         `db:"pin_id"`
	ImageURL     string         `db:"image_url"`
	Status       string         `db:"status"`
	LocalPath    sql.NullString `db:"local_path"`
	FileSize     int64          `db:"file_size"`
	ErrorMessage sql.NullString `db:"error_message"`
	RetryCount   int            `db:"retry_count"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r taskRow) toTask() pin.DownloadTask {
	return pin.DownloadTask{
		ID:           r.ID,
		PinID:        r.PinID,
		ImageURL:     r.ImageURL,
		Status:       pin.TaskStatus(r.Status),
		LocalPath:    r.LocalPath.String,
		FileSize:     r.FileSize,
		ErrorMessage: r.ErrorMessage.String,
		RetryCount:   r.RetryCount,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
