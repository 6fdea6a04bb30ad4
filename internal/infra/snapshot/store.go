// Package snapshot gives the engine restart durability: active sessions are
// serialized to one JSON file per user on an interval and restored (minus
// expired ones) at startup. This is crash recovery, not a session store.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"history-quiz-engine/internal/domain"
)

const (
	formatVersion = 1
	manifestName  = "manifest.json"
	filePrefix    = "user_"
	fileSuffix    = ".json"
)

// SessionSource is the view of the session store the adapter needs: torn-free
// copies for saving, and a restore hook used only before serving starts.
type SessionSource interface {
	Snapshot() map[int64]*domain.QuizSession
	Restore(userID int64, session *domain.QuizSession)
}

// Store persists session snapshots under one directory.
type Store struct {
	dir      string
	sessions SessionSource
	log      *zap.Logger
	interval time.Duration
	clock    func() time.Time
}

func NewStore(dir string, sessions SessionSource, interval time.Duration, log *zap.Logger) *Store {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Store{
		dir:      dir,
		sessions: sessions,
		log:      log,
		interval: interval,
		clock:    time.Now,
	}
}

type manifest struct {
	Version     int       `json:"version"`
	SavedAt     time.Time `json:"savedAt"`
	ActiveCount int       `json:"activeCount"`
}

// Run saves on the configured interval until ctx is canceled, then performs
// one final save so an orderly shutdown loses nothing.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := s.Save(); err != nil {
				s.log.Error("final session snapshot failed", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := s.Save(); err != nil {
				s.log.Error("session snapshot failed", zap.Error(err))
			}
		}
	}
}

// Save writes every active session to its own file, then the manifest, then
// removes files for users no longer active. A single bad session is logged
// and skipped; the rest of the pass proceeds.
func (s *Store) Save() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	sessions := s.sessions.Snapshot()
	savedAt := s.clock().UTC()

	for userID, session := range sessions {
		if err := s.writeSession(userID, session, savedAt); err != nil {
			s.log.Error("skipping session snapshot",
				zap.Int64("user", userID), zap.Error(err))
		}
	}

	if err := s.writeManifest(manifest{
		Version:     formatVersion,
		SavedAt:     savedAt,
		ActiveCount: len(sessions),
	}); err != nil {
		return err
	}

	s.cleanupStale(sessions)

	s.log.Debug("session snapshot saved", zap.Int("active", len(sessions)))
	return nil
}

// Restore loads persisted sessions back into the store, deleting files whose
// deadline already passed: expired sessions are never resurrected. Returns
// the number of sessions restored.
func (s *Store) Restore() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read snapshot dir: %w", err)
	}

	now := s.clock()
	restored := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		userID, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix), 10, 64)
		if err != nil {
			s.log.Warn("ignoring unrecognized snapshot file", zap.String("file", name))
			continue
		}

		path := filepath.Join(s.dir, name)
		session, err := s.readSession(path)
		if err != nil {
			// A corrupt file must not abort the whole restore; drop it.
			s.log.Error("discarding unreadable session snapshot",
				zap.String("file", name), zap.Error(err))
			_ = os.Remove(path)
			continue
		}
		if session.Expired(now) {
			s.log.Info("discarding expired session snapshot", zap.Int64("user", userID))
			_ = os.Remove(path)
			continue
		}

		s.sessions.Restore(userID, session)
		restored++
	}

	if restored > 0 {
		s.log.Info("sessions restored from snapshot", zap.Int("count", restored))
	}
	return restored, nil
}

func (s *Store) writeSession(userID int64, session *domain.QuizSession, savedAt time.Time) error {
	data, err := json.Marshal(encodeSession(session, savedAt))
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.atomicWrite(s.sessionPath(userID), data)
}

func (s *Store) readSession(path string) (*domain.QuizSession, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p persistedSession
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return decodeSession(&p)
}

func (s *Store) writeManifest(m manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := s.atomicWrite(filepath.Join(s.dir, manifestName), data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// atomicWrite never leaves a half-written file visible: write to a temp file
// in the same directory, then rename over the target.
func (s *Store) atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// cleanupStale removes per-user files left behind by sessions that have
// since completed or expired.
func (s *Store) cleanupStale(active map[int64]*domain.QuizSession) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn("stale snapshot cleanup skipped", zap.Error(err))
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		userID, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix), 10, 64)
		if err != nil {
			continue
		}
		if _, ok := active[userID]; !ok {
			_ = os.Remove(filepath.Join(s.dir, name))
		}
	}
}

func (s *Store) sessionPath(userID int64) string {
	return filepath.Join(s.dir, filePrefix+strconv.FormatInt(userID, 10)+fileSuffix)
}
