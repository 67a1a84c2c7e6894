// Package store owns the on-disk session logs: one append-only JSONL file
// per session under {baseDir}/sessions, atomic creation at session start,
// integrity checks at finalize, and age-based retention sweeps.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agenttrace-ai/agenttrace/pkg/jsonl"
)

// ErrNoSessionFile is returned when a session has no registered log file.
var ErrNoSessionFile = errors.New("store: no log file for session")

// ErrSessionFileExists is returned when Create is called twice for one
// session. A session's file is created once and never reopened elsewhere.
var ErrSessionFileExists = errors.New("store: session log file already exists")

const sessionsDir = "sessions"

// Store manages per-session JSONL log files.
type Store struct {
	baseDir string
	logger  *zap.Logger

	mu    sync.Mutex
	paths map[string]string
}

// New creates a Store rooted at baseDir and bootstraps the directory layout.
func New(baseDir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		baseDir: baseDir,
		logger:  logger,
		paths:   make(map[string]string),
	}
	if err := s.EnsureDirectoryStructure(); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureDirectoryStructure creates the output directories. Idempotent.
func (s *Store) EnsureDirectoryStructure() error {
	dir := filepath.Join(s.baseDir, sessionsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create %s: %w", dir, err)
	}
	return nil
}

// Create reserves and creates the empty log file for a session before any
// event is written. The path embeds the session start time and ID.
func (s *Store) Create(sessionID string, start time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.paths[sessionID]; ok {
		return existing, ErrSessionFileExists
	}

	name := fmt.Sprintf("%s_session-%s.jsonl", start.UTC().Format("2006-01-02_15-04-05"), sessionID)
	path := filepath.Join(s.baseDir, sessionsDir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("store: create session file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("store: close session file: %w", err)
	}

	s.paths[sessionID] = path
	return path, nil
}

// Path returns the registered log file path for a session.
func (s *Store) Path(sessionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.paths[sessionID]
	return p, ok
}

// Append writes a batch of pre-encoded JSON lines to a session's file in a
// single write call. Lines are joined with newlines and newline-terminated.
func (s *Store) Append(sessionID string, lines [][]byte) error {
	if len(lines) == 0 {
		return nil
	}

	path, ok := s.Path(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSessionFile, sessionID)
	}

	buf := append(bytes.Join(lines, []byte("\n")), '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("store: append to %s: %w", path, err)
	}
	return nil
}

// Finalize re-reads a session's whole file and validates every line. A
// corrupt file is reported through the returned error but never deleted;
// preserving data wins over cleanliness. The session's path registration is
// released either way.
func (s *Store) Finalize(sessionID string) error {
	s.mu.Lock()
	path, ok := s.paths[sessionID]
	delete(s.paths, sessionID)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSessionFile, sessionID)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("store: read %s: %w", path, err)
	}

	if errs := jsonl.ValidateJSONL(content); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return fmt.Errorf("store: %s failed validation: %s", path, strings.Join(msgs, "; "))
	}
	return nil
}

// Forget drops the path registration for a session without touching its
// file. Used when the registry evicts a session's in-memory record.
func (s *Store) Forget(sessionID string) {
	s.mu.Lock()
	delete(s.paths, sessionID)
	s.mu.Unlock()
}

// CleanupResult reports a retention sweep's outcome.
type CleanupResult struct {
	Deleted int
	Failed  int
}

// Cleanup deletes session files whose modification time is older than the
// retention window. One file's delete failure never aborts the sweep.
func (s *Store) Cleanup(retentionDays int) (CleanupResult, error) {
	var res CleanupResult

	dir := filepath.Join(s.baseDir, sessionsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return res, fmt.Errorf("store: read %s: %w", dir, err)
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			res.Failed++
			s.logger.Warn("stat session file failed", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			res.Failed++
			s.logger.Warn("delete session file failed", zap.String("file", path), zap.Error(err))
			continue
		}
		res.Deleted++
	}

	s.logger.Info("retention sweep finished",
		zap.Int("deleted", res.Deleted),
		zap.Int("failed", res.Failed),
		zap.Int("retention_days", retentionDays))
	return res, nil
}
