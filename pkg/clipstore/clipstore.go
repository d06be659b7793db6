package clipstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/gofrs/flock"

	"github.com/replaykit/stitch/pkg/errors"
	"github.com/replaykit/stitch/pkg/logger"
)

const (
	lockFileName  = ".stitch.lock"
	stagingPrefix = ".staging-"
)

// Clip filenames carry a zero-padded save-order index so ordering survives
// restarts and is immune to clock skew.
var clipNameRe = regexp.MustCompile(`^clip_(\d{6})(\.[A-Za-z0-9]+)?$`)

// Clip is one saved replay file inside a compilation's folder.
type Clip struct {
	// Path is the clip's absolute location on disk.
	Path string
	// Index is the clip's save-order position, strictly increasing per folder.
	Index int
}

// Store manages a single compilation's clip folder: ingesting new clips,
// enumerating them in save order, and clearing them out.
type Store struct {
	folder string
	log    logger.Logger
}

// New creates a Store for the given folder. The folder is created lazily on
// the first Save. A nil log discards all events.
func New(folder string, log logger.Logger) *Store {
	if log == nil {
		log = logger.Discard{}
	}
	return &Store{folder: folder, log: log}
}

// Folder returns the directory this store manages.
func (s *Store) Folder() string {
	return s.folder
}

// Save moves an externally produced clip file into the folder under the next
// save-order index. The clip is staged to a hidden temp name in the same
// directory and promoted with a rename, so a half-copied file is never
// visible as a completed clip. The index computation and rename run under a
// file lock shared with any other process saving into the same folder.
func (s *Store) Save(sourcePath string) (Clip, error) {
	if _, err := os.Stat(sourcePath); err != nil {
		return Clip{}, errors.Wrap(err, errors.IOFailure, "Source clip does not exist", errors.ErrClipSourceMissing)
	}

	if err := os.MkdirAll(s.folder, 0o755); err != nil {
		return Clip{}, errors.Wrap(err, errors.IOFailure, "Failed to create clip folder", errors.ErrFolderUnwritable)
	}

	lock := flock.New(filepath.Join(s.folder, lockFileName))
	if err := lock.Lock(); err != nil {
		return Clip{}, errors.Wrap(err, errors.IOFailure, "Failed to lock clip folder", errors.ErrFolderUnwritable)
	}
	defer func() { _ = lock.Unlock() }()

	next, err := s.nextIndex()
	if err != nil {
		return Clip{}, err
	}

	ext := filepath.Ext(sourcePath)
	if ext == "" {
		ext = ".mp4"
	}
	name := fmt.Sprintf("clip_%06d%s", next, ext)
	stagingPath := filepath.Join(s.folder, stagingPrefix+name)
	finalPath := filepath.Join(s.folder, name)

	if err := copyFile(sourcePath, stagingPath); err != nil {
		_ = os.Remove(stagingPath)
		return Clip{}, errors.Wrap(err, errors.IOFailure, "Failed to stage clip", errors.ErrClipStageFailed)
	}

	if err := os.Rename(stagingPath, finalPath); err != nil {
		_ = os.Remove(stagingPath)
		return Clip{}, errors.Wrap(err, errors.IOFailure, "Failed to promote staged clip", errors.ErrClipStageFailed)
	}

	// The source belongs to the capture collaborator; once the clip is in
	// place the original is redundant.
	if err := os.Remove(sourcePath); err != nil {
		s.log.Warn("Failed to remove source clip after ingest", "clipstore", map[string]interface{}{
			"source": sourcePath,
			"error":  err.Error(),
		})
	}

	s.log.Info("Saved clip", "clipstore", map[string]interface{}{
		"clip":  finalPath,
		"index": next,
	})

	return Clip{Path: finalPath, Index: next}, nil
}

// List enumerates the folder and returns clips sorted by save order.
// Staging files, the lock file, and unrelated files are skipped, so a clip
// concurrently being saved is never observed half-written. An absent folder
// yields an empty list.
func (s *Store) List() ([]Clip, error) {
	entries, err := os.ReadDir(s.folder)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.IOFailure, "Failed to read clip folder", errors.ErrFolderUnreadable)
	}

	clips := make([]Clip, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := clipNameRe.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		clips = append(clips, Clip{
			Path:  filepath.Join(s.folder, entry.Name()),
			Index: idx,
		})
	}

	sort.Slice(clips, func(i, j int) bool { return clips[i].Index < clips[j].Index })
	return clips, nil
}

// Count returns the number of clips currently in the folder.
func (s *Store) Count() (int, error) {
	clips, err := s.List()
	if err != nil {
		return 0, err
	}
	return len(clips), nil
}

// Clear deletes every clip in the folder, best effort: an undeletable clip is
// counted and skipped rather than aborting the sweep. Stale staging files are
// swept as well. The returned error is non-nil only when the folder itself
// cannot be read.
func (s *Store) Clear() (removed, failed int, err error) {
	entries, readErr := os.ReadDir(s.folder)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return 0, 0, nil
		}
		return 0, 0, errors.Wrap(readErr, errors.IOFailure, "Failed to read clip folder", errors.ErrFolderUnreadable)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !clipNameRe.MatchString(name) && !strings.HasPrefix(name, stagingPrefix) {
			continue
		}
		if rmErr := os.Remove(filepath.Join(s.folder, name)); rmErr != nil {
			failed++
			s.log.Error("Failed to delete clip", "clipstore", map[string]interface{}{
				"clip":  name,
				"error": rmErr.Error(),
			})
			continue
		}
		removed++
	}

	s.log.Info("Cleared clip folder", "clipstore", map[string]interface{}{
		"folder":  s.folder,
		"removed": removed,
		"failed":  failed,
	})

	return removed, failed, nil
}

// nextIndex returns the save-order index the next clip should take.
// Caller holds the folder lock.
func (s *Store) nextIndex() (int, error) {
	clips, err := s.List()
	if err != nil {
		return 0, err
	}
	if len(clips) == 0 {
		return 1, nil
	}
	return clips[len(clips)-1].Index + 1, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
