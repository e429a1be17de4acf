// Package workdir manages the scoped filesystem area a single run uses to
// stage split-phase output, subtask inputs/outputs, and merge-phase input.
package workdir

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// SplitDirName is the split-phase output sub-directory name.
	SplitDirName = "split"
	// MergeDirName is the merge-phase input sub-directory name.
	MergeDirName = "merge"
	taskPrefix   = "tsk-"
)

// Dir is a single run's scoped filesystem area, rooted under a per-user
// cache directory and keyed by a fresh UUID so concurrent runs never
// collide.
type Dir struct {
	// Base is the absolute path to the run's root directory.
	Base string
}

// New creates a fresh directory under the per-user cache root, named
// "<kind>-<uuid>". kind groups runs for the same backend/purpose together
// for easier manual cleanup; it is not otherwise interpreted.
func New(kind string) (*Dir, error) {
	root, err := cacheRoot()
	if err != nil {
		return nil, errors.Wrap(err, "resolving cache root")
	}
	base := filepath.Join(root, kind+"-"+uuid.NewString())
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating workdir %s", base)
	}
	return &Dir{Base: base}, nil
}

func cacheRoot() (string, error) {
	cache, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cache, "gwasm-runner"), nil
}

// SplitOutput returns the split-phase output directory, creating it if
// necessary. It is populated exactly once by one split-phase invocation.
func (d *Dir) SplitOutput() (string, error) {
	return ensureDir(filepath.Join(d.Base, SplitDirName))
}

// MergePath returns the merge-phase input directory, creating it if
// necessary. It is populated by the coordinator before the final
// merge-phase invocation.
func (d *Dir) MergePath() (string, error) {
	return ensureDir(filepath.Join(d.Base, MergeDirName))
}

// NewTask returns a fresh "tsk-<uuid>" subdirectory, used by the local
// backend as a subtask's disjoint staging area (with in/ and out/ children).
func (d *Dir) NewTask() (string, error) {
	return ensureDir(filepath.Join(d.Base, taskPrefix+uuid.NewString()))
}

// SubtaskResultDir returns the directory into which a remote subtask's
// outputs are downloaded, named after the subtask so each subtask owns a
// disjoint result directory.
func (d *Dir) SubtaskResultDir(name string) (string, error) {
	return ensureDir(filepath.Join(d.Base, name))
}

func ensureDir(path string) (string, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", errors.Wrapf(err, "creating directory %s", path)
	}
	return path, nil
}
