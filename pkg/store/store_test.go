package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func line(eventType, ts string) []byte {
	return []byte(`{"type":"` + eventType + `","timestamp":"` + ts + `","session_id":"s1"}`)
}

func TestCreateNamesFileAfterSession(t *testing.T) {
	s := newTestStore(t)

	start := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	path, err := s.Create("abc-123", start)
	require.NoError(t, err)

	assert.Equal(t, "2026-03-14_09-26-53_session-abc-123.jsonl", filepath.Base(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestCreateTwiceFails(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Create("abc", time.Now())
	require.NoError(t, err)

	again, err := s.Create("abc", time.Now())
	require.ErrorIs(t, err, ErrSessionFileExists)
	assert.Equal(t, first, again)
}

func TestAppendAndFinalize(t *testing.T) {
	s := newTestStore(t)

	path, err := s.Create("s1", time.Now())
	require.NoError(t, err)

	batch := [][]byte{
		line("session_start", "2026-03-14T09:26:53Z"),
		line("ai_request", "2026-03-14T09:26:54Z"),
	}
	require.NoError(t, s.Append("s1", batch))
	require.NoError(t, s.Append("s1", [][]byte{line("session_end", "2026-03-14T09:26:55Z")}))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	assert.Len(t, lines, 3)
	assert.True(t, strings.HasSuffix(string(content), "\n"))

	require.NoError(t, s.Finalize("s1"))

	// Finalize releases the registration; further appends fail.
	err = s.Append("s1", batch)
	assert.ErrorIs(t, err, ErrNoSessionFile)
	// The file itself survives.
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestAppendEmptyBatchIsNoop(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Append("unknown", nil))
}

func TestAppendUnknownSession(t *testing.T) {
	s := newTestStore(t)
	err := s.Append("nope", [][]byte{line("error", "2026-03-14T09:26:53Z")})
	assert.ErrorIs(t, err, ErrNoSessionFile)
}

func TestFinalizeFlagsCorruptFileWithoutDeleting(t *testing.T) {
	s := newTestStore(t)

	path, err := s.Create("s1", time.Now())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("not json\n"), 0o644))

	err = s.Finalize("s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed validation")

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestForgetReleasesRegistration(t *testing.T) {
	s := newTestStore(t)

	path, err := s.Create("s1", time.Now())
	require.NoError(t, err)

	s.Forget("s1")
	_, ok := s.Path("s1")
	assert.False(t, ok)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestCleanupDeletesOnlyOldFiles(t *testing.T) {
	s := newTestStore(t)

	oldPath, err := s.Create("old", time.Now().AddDate(0, 0, -60))
	require.NoError(t, err)
	ancient := time.Now().AddDate(0, 0, -60)
	require.NoError(t, os.Chtimes(oldPath, ancient, ancient))

	freshPath, err := s.Create("fresh", time.Now())
	require.NoError(t, err)

	res, err := s.Cleanup(30)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 0, res.Failed)

	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(freshPath)
	assert.NoError(t, err)
}

func TestCleanupIgnoresForeignFiles(t *testing.T) {
	s := newTestStore(t)

	foreign := filepath.Join(s.baseDir, "sessions", "notes.txt")
	require.NoError(t, os.WriteFile(foreign, []byte("keep"), 0o644))
	ancient := time.Now().AddDate(0, 0, -90)
	require.NoError(t, os.Chtimes(foreign, ancient, ancient))

	res, err := s.Cleanup(30)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Deleted)

	_, err = os.Stat(foreign)
	assert.NoError(t, err)
}
