// Package merge combines two output trees keyword by keyword. The primary
// tree wins on conflicting pin IDs; the donor tree is never modified.
package merge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/jfaulkner/pinharvest/internal/clock/system"
	"github.com/jfaulkner/pinharvest/internal/id/uuid"
	"github.com/jfaulkner/pinharvest/internal/pin"
	"github.com/jfaulkner/pinharvest/internal/storage/sqlite"
)

const dbFileName = "pinterest.db"

// loadPageSize bounds memory while walking large donor partitions.
const loadPageSize = 200

// Stats summarizes one merge run.
type Stats struct {
	Keywords  int
	Processed int
	Merged    int
	Skipped   int
	Errors    []string
}

// Merger copies pins from every partition under donorDir into the matching
// partition under primaryDir, creating partitions that do not exist yet.
type Merger struct {
	primaryDir string
	donorDir   string
	dryRun     bool
	logger     *zap.Logger
}

// New builds a Merger. With dryRun set, Run only counts what would change.
func New(primaryDir, donorDir string, dryRun bool, logger *zap.Logger) *Merger {
	return &Merger{primaryDir: primaryDir, donorDir: donorDir, dryRun: dryRun, logger: logger}
}

// Run walks the donor tree and merges each discovered partition.
func (m *Merger) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	keywords, err := discoverPartitions(m.donorDir)
	if err != nil {
		return stats, err
	}
	if len(keywords) == 0 {
		m.logger.Warn("no partitions found in donor tree", zap.String("dir", m.donorDir))
		return stats, nil
	}

	for _, keyword := range keywords {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := m.mergeKeyword(ctx, keyword, &stats); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", keyword, err))
			m.logger.Error("partition merge failed", zap.String("keyword", keyword), zap.Error(err))
			continue
		}
		stats.Keywords++
	}

	m.logger.Info("merge finished",
		zap.Int("keywords", stats.Keywords),
		zap.Int("merged", stats.Merged),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errors", len(stats.Errors)))
	return stats, nil
}

func (m *Merger) mergeKeyword(ctx context.Context, keyword string, stats *Stats) error {
	donor, err := sqlite.OpenPath(filepath.Join(m.donorDir, keyword, dbFileName), system.New(), uuid.New(), m.logger)
	if err != nil {
		return fmt.Errorf("open donor store: %w", err)
	}
	defer donor.Close()

	if m.dryRun {
		return m.previewKeyword(ctx, keyword, donor, stats)
	}

	primary, err := sqlite.Open(m.primaryDir, keyword, system.New(), uuid.New(), m.logger)
	if err != nil {
		return fmt.Errorf("open primary store: %w", err)
	}
	defer primary.Close()

	existingIDs, err := primary.PinIDs(ctx, keyword)
	if err != nil {
		return err
	}
	existing := make(map[string]struct{}, len(existingIDs))
	for _, id := range existingIDs {
		existing[id] = struct{}{}
	}

	// Imported pins get their own terminal session so a later resume never
	// mistakes the merge for unfinished acquisition work.
	sessionID, err := primary.CreateSession(ctx, keyword, 0, m.primaryDir, false)
	if err != nil {
		return err
	}

	merged := 0
	for offset := 0; ; offset += loadPageSize {
		pins, err := donor.LoadPinsByQuery(ctx, keyword, loadPageSize, offset)
		if err != nil {
			return err
		}
		if len(pins) == 0 {
			break
		}
		for _, p := range pins {
			if p.ID == "" {
				continue
			}
			stats.Processed++
			if _, dup := existing[p.ID]; dup {
				stats.Skipped++
				continue
			}
			saved, err := primary.SavePin(ctx, p, keyword, sessionID)
			if err != nil {
				stats.Errors = append(stats.Errors, fmt.Sprintf("%s/%s: %v", keyword, p.ID, err))
				continue
			}
			if saved {
				existing[p.ID] = struct{}{}
				stats.Merged++
				merged++
			} else {
				stats.Skipped++
			}
		}
		if len(pins) < loadPageSize {
			break
		}
	}

	if err := primary.UpdateSessionStatus(ctx, sessionID, pin.SessionStatusCompleted, merged); err != nil {
		return err
	}

	m.logger.Info("partition merged",
		zap.String("keyword", keyword),
		zap.Int("merged", merged))
	return nil
}

func (m *Merger) previewKeyword(ctx context.Context, keyword string, donor pin.Repository, stats *Stats) error {
	donorCount, err := donor.CountPins(ctx, keyword)
	if err != nil {
		return err
	}
	stats.Processed += donorCount

	primaryCount := 0
	if _, err := os.Stat(filepath.Join(m.primaryDir, keyword, dbFileName)); err == nil {
		primary, err := sqlite.Open(m.primaryDir, keyword, system.New(), uuid.New(), m.logger)
		if err != nil {
			return err
		}
		defer primary.Close()
		primaryCount, err = primary.CountPins(ctx, keyword)
		if err != nil {
			return err
		}
	}

	m.logger.Info("would merge partition",
		zap.String("keyword", keyword),
		zap.Int("donor_pins", donorCount),
		zap.Int("primary_pins", primaryCount))
	return nil
}

// discoverPartitions lists keyword directories that hold a database file.
func discoverPartitions(baseDir string) ([]string, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("donor directory %s does not exist", baseDir)
		}
		return nil, err
	}
	var keywords []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(baseDir, entry.Name(), dbFileName)); err != nil {
			continue
		}
		keywords = append(keywords, entry.Name())
	}
	return keywords, nil
}
