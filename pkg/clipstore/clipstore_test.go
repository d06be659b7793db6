package clipstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replaykit/stitch/pkg/errors"
)

func writeSource(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestSavePreservesOrder(t *testing.T) {
	srcDir := t.TempDir()
	store := New(filepath.Join(t.TempDir(), "comp"), nil)

	for i := 0; i < 3; i++ {
		src := writeSource(t, srcDir, fmt.Sprintf("replay%d.mp4", i), fmt.Sprintf("video-%d", i))
		clip, err := store.Save(src)
		require.NoError(t, err)
		assert.Equal(t, i+1, clip.Index)

		// Source is consumed by the ingest.
		_, statErr := os.Stat(src)
		assert.True(t, os.IsNotExist(statErr))
	}

	clips, err := store.List()
	require.NoError(t, err)
	require.Len(t, clips, 3)
	for i, clip := range clips {
		assert.Equal(t, i+1, clip.Index)
		data, readErr := os.ReadFile(clip.Path)
		require.NoError(t, readErr)
		assert.Equal(t, fmt.Sprintf("video-%d", i), string(data))
	}

	// Order is reproducible across repeated calls.
	again, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, clips, again)
}

func TestSaveMissingSource(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "comp"), nil)

	_, err := store.Save(filepath.Join(t.TempDir(), "missing.mp4"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.IOFailure))
}

func TestSaveResumesAfterGaps(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "comp")
	require.NoError(t, os.MkdirAll(folder, 0o755))

	// Simulate an existing folder with a hole where a clip was hand-deleted.
	require.NoError(t, os.WriteFile(filepath.Join(folder, "clip_000002.mp4"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "clip_000005.mp4"), []byte("e"), 0o644))

	store := New(folder, nil)
	src := writeSource(t, t.TempDir(), "replay.mp4", "f")
	clip, err := store.Save(src)
	require.NoError(t, err)
	assert.Equal(t, 6, clip.Index)
}

func TestListIgnoresForeignAndStagingFiles(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "comp")
	require.NoError(t, os.MkdirAll(folder, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(folder, "clip_000001.mp4"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(folder, stagingPrefix+"clip_000002.mp4"), []byte("half"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(folder, lockFileName), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "notes.txt"), []byte("x"), 0o644))

	clips, err := New(folder, nil).List()
	require.NoError(t, err)
	require.Len(t, clips, 1)
	assert.Equal(t, 1, clips[0].Index)
}

func TestListAbsentFolder(t *testing.T) {
	clips, err := New(filepath.Join(t.TempDir(), "never-created"), nil).List()
	require.NoError(t, err)
	assert.Empty(t, clips)
}

func TestClear(t *testing.T) {
	srcDir := t.TempDir()
	folder := filepath.Join(t.TempDir(), "comp")
	store := New(folder, nil)

	for i := 0; i < 4; i++ {
		src := writeSource(t, srcDir, fmt.Sprintf("r%d.mp4", i), "v")
		_, err := store.Save(src)
		require.NoError(t, err)
	}
	// A stale staging file from an interrupted save is swept too.
	require.NoError(t, os.WriteFile(filepath.Join(folder, stagingPrefix+"clip_000009.mp4"), []byte("half"), 0o644))

	removed, failed, err := store.Clear()
	require.NoError(t, err)
	assert.Equal(t, 5, removed)
	assert.Zero(t, failed)

	clips, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, clips)
}

func TestClearAbsentFolder(t *testing.T) {
	removed, failed, err := New(filepath.Join(t.TempDir(), "gone"), nil).Clear()
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Zero(t, failed)
}

func TestConcurrentSaves(t *testing.T) {
	srcDir := t.TempDir()
	store := New(filepath.Join(t.TempDir(), "comp"), nil)

	const n = 8
	sources := make([]string, n)
	for i := range sources {
		sources[i] = writeSource(t, srcDir, fmt.Sprintf("r%d.mp4", i), "v")
	}

	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(src string) {
			defer wg.Done()
			if _, err := store.Save(src); err != nil {
				errCh <- err
			}
		}(sources[i])
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent save failed: %v", err)
	}

	clips, err := store.List()
	require.NoError(t, err)
	require.Len(t, clips, n)
	for i, clip := range clips {
		assert.Equal(t, i+1, clip.Index, "indices must be gapless and strictly increasing")
	}
}
