// Package session owns the lifecycle of one acquisition run per keyword:
// new-vs-resume-vs-already-satisfied, and the terminal transitions.
package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jfaulkner/pinharvest/internal/pin"
)

// Decision is the outcome of StartOrResume.
type Decision struct {
	// SessionID is empty when Satisfied is true.
	SessionID string
	// Remaining is how many additional records acquisition must produce.
	Remaining int
	// Resumed reports whether an incomplete session was picked up.
	Resumed bool
	// Satisfied means the store already holds at least targetCount pins and
	// no acquisition work is needed.
	Satisfied bool
}

// Manager drives session state through the repository.
type Manager struct {
	repo   pin.Repository
	logger *zap.Logger
}

// New creates a Manager.
func New(repo pin.Repository, logger *zap.Logger) *Manager {
	return &Manager{repo: repo, logger: logger}
}

// StartOrResume decides how this run proceeds. Cached pins at or above the
// target short-circuit with no session work. An incomplete session whose
// stored keyword and target match the request is resumed; a disagreeing one
// is marked failed and replaced.
func (m *Manager) StartOrResume(ctx context.Context, keyword string, targetCount int, outputDir string, downloadImages bool) (Decision, error) {
	cached, err := m.repo.CountPins(ctx, keyword)
	if err != nil {
		return Decision{}, fmt.Errorf("count cached pins: %w", err)
	}
	if cached >= targetCount {
		m.logger.Info("target already satisfied from cache",
			zap.Int("cached", cached), zap.Int("target", targetCount))
		return Decision{Satisfied: true}, nil
	}

	incomplete, err := m.repo.GetIncompleteSessions(ctx, keyword)
	if err != nil {
		return Decision{}, fmt.Errorf("list incomplete sessions: %w", err)
	}
	for _, s := range incomplete {
		if s.Keyword != keyword || s.TargetCount != targetCount {
			m.logger.Warn("discarding mismatched session",
				zap.String("session_id", s.ID),
				zap.String("stored_keyword", s.Keyword),
				zap.Int("stored_target", s.TargetCount),
				zap.Int("requested_target", targetCount),
				zap.Error(pin.ErrSessionMismatch))
			if err := m.repo.UpdateSessionStatus(ctx, s.ID, pin.SessionStatusFailed, s.SavedCount); err != nil {
				return Decision{}, fmt.Errorf("fail mismatched session: %w", err)
			}
			continue
		}
		ok, err := m.repo.ResumeSession(ctx, s.ID)
		if err != nil {
			return Decision{}, fmt.Errorf("resume session: %w", err)
		}
		if !ok {
			continue
		}
		m.logger.Info("resuming session",
			zap.String("session_id", s.ID),
			zap.Int("cached", cached),
			zap.Int("remaining", targetCount-cached))
		return Decision{
			SessionID: s.ID,
			Remaining: targetCount - cached,
			Resumed:   true,
		}, nil
	}

	id, err := m.repo.CreateSession(ctx, keyword, targetCount, outputDir, downloadImages)
	if err != nil {
		return Decision{}, fmt.Errorf("create session: %w", err)
	}
	m.logger.Info("created session",
		zap.String("session_id", id), zap.Int("remaining", targetCount-cached))
	return Decision{SessionID: id, Remaining: targetCount - cached}, nil
}

// Complete marks the session completed with the durable pin count.
func (m *Manager) Complete(ctx context.Context, sessionID, keyword string) error {
	return m.finish(ctx, sessionID, keyword, pin.SessionStatusCompleted)
}

// Interrupt marks the session interrupted. The recorded count always comes
// from the repository, never from in-memory totals.
func (m *Manager) Interrupt(ctx context.Context, sessionID, keyword string) error {
	return m.finish(ctx, sessionID, keyword, pin.SessionStatusInterrupted)
}

// Fail marks the session failed, preserving whatever count is durable.
func (m *Manager) Fail(ctx context.Context, sessionID, keyword string) error {
	return m.finish(ctx, sessionID, keyword, pin.SessionStatusFailed)
}

func (m *Manager) finish(ctx context.Context, sessionID, keyword string, status pin.SessionStatus) error {
	count, err := m.repo.CountPins(ctx, keyword)
	if err != nil {
		return fmt.Errorf("count pins for %s: %w", status, err)
	}
	if err := m.repo.UpdateSessionStatus(ctx, sessionID, status, count); err != nil {
		return fmt.Errorf("update session to %s: %w", status, err)
	}
	m.logger.Info("session finished",
		zap.String("session_id", sessionID),
		zap.String("status", string(status)),
		zap.Int("saved_count", count))
	return nil
}
