package memory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeArchive(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("zip"), 0o600))
	return path
}

func TestArchiveIndexPutGetRemove(t *testing.T) {
	t.Parallel()

	idx := NewArchiveIndex(time.Minute, zap.NewNop())
	path := writeArchive(t, "job.zip")
	idx.Put(ArchiveRecord{JobID: "job", Path: path, Entries: 2})

	rec, err := idx.Get("job")
	require.NoError(t, err)
	require.Equal(t, 2, rec.Entries)
	require.Equal(t, 1, idx.Len())

	require.NoError(t, idx.Remove("job"))
	require.NoFileExists(t, path)
	_, err = idx.Get("job")
	require.ErrorIs(t, err, ErrArchiveNotFound)
	require.ErrorIs(t, idx.Remove("job"), ErrArchiveNotFound)
}

func TestArchiveIndexScheduledRemoval(t *testing.T) {
	t.Parallel()

	idx := NewArchiveIndex(20*time.Millisecond, zap.NewNop())
	path := writeArchive(t, "job.zip")
	idx.Put(ArchiveRecord{JobID: "job", Path: path})

	idx.ScheduleRemoval("job")
	idx.ScheduleRemoval("job")
	idx.ScheduleRemoval("unknown")

	require.Eventually(t, func() bool {
		_, err := idx.Get("job")
		return err != nil
	}, time.Second, 5*time.Millisecond)
	require.NoFileExists(t, path)
}

func TestArchiveIndexCloseStopsRemovals(t *testing.T) {
	t.Parallel()

	idx := NewArchiveIndex(30*time.Millisecond, nil)
	path := writeArchive(t, "job.zip")
	idx.Put(ArchiveRecord{JobID: "job", Path: path})
	idx.ScheduleRemoval("job")
	idx.Close()

	time.Sleep(80 * time.Millisecond)
	_, err := idx.Get("job")
	require.NoError(t, err)
	require.FileExists(t, path)
}

func TestArchiveIndexMissingFileIsNotAnError(t *testing.T) {
	t.Parallel()

	idx := NewArchiveIndex(0, nil)
	idx.Put(ArchiveRecord{JobID: "gone", Path: filepath.Join(t.TempDir(), "missing.zip")})
	require.NoError(t, idx.Remove("gone"))
}
