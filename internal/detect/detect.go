// Package detect computes a folder's local diff against its stored
// baseline: walk the tree once, compare against listFileMetadata, and
// classify each path as created, modified, unchanged, or deleted. Uses
// an mtime+size fast path with a SHA-256 tiebreak and a 2s tolerance for
// filesystem-granularity drift.
package detect

import (
	"io/fs"
	"path/filepath"
	"time"

	"github.com/baludesk/baludesk-core/internal/hashutil"
	"github.com/baludesk/baludesk-core/internal/ignore"
	"github.com/baludesk/baludesk-core/internal/model"
)

// mtimeTolerance absorbs filesystem-granularity mtime drift.
const mtimeTolerance = 2 * time.Second

// Diff is the result of one detection pass over a folder.
type Diff struct {
	Created    []Entry
	Modified   []Entry
	Unchanged  []Entry
	Deleted    []model.RelPath
	Unreadable []Unreadable
}

// Entry is one path currently on disk, with enough information for the
// reconciler to decide an action without re-statting.
type Entry struct {
	RelPath     model.RelPath
	AbsPath     string
	Size        int64
	ModTime     time.Time
	Fingerprint string // empty for created entries and for fast-path unchanged entries
}

// Unreadable is a path that failed to hash; excluded from the diff,
// logged, and surfaced via the notifier.
type Unreadable struct {
	RelPath model.RelPath
	Err     error
}

// Baseline is the subset of the store's file metadata the detector needs.
type Baseline struct {
	RelPath     model.RelPath
	Size        int64
	ModTime     time.Time
	Fingerprint string
}

// Detector walks a folder tree and classifies it against a baseline set.
type Detector struct {
	hasher hashutil.Hasher
}

// New returns a Detector that hashes file contents with hasher.
func New(hasher hashutil.Hasher) *Detector {
	return &Detector{hasher: hasher}
}

// Diff walks root, skipping paths ignore filters out, and compares each
// file found against baseline (indexed by relative path).
func (d *Detector) Diff(root string, baseline []Baseline, ignoreList *ignore.List) (*Diff, error) {
	byPath := make(map[model.RelPath]Baseline, len(baseline))
	for _, b := range baseline {
		byPath[b.RelPath] = b
	}

	seen := make(map[model.RelPath]struct{}, len(baseline))
	result := &Diff{}

	err := filepath.WalkDir(root, func(absPath string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			return nil
		}

		relPath, relErr := filepath.Rel(root, absPath)
		if relErr != nil {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if ignoreList != nil && ignoreList.ShouldIgnore(relPath) {
			return nil
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			result.Unreadable = append(result.Unreadable, Unreadable{
				RelPath: model.RelPath(relPath),
				Err:     infoErr,
			})
			return nil
		}

		rp := model.RelPath(relPath)
		seen[rp] = struct{}{}

		current := Entry{
			RelPath: rp,
			AbsPath: absPath,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}

		base, known := byPath[rp]
		switch {
		case !known:
			result.Created = append(result.Created, current)

		case base.Size == current.Size && absDuration(base.ModTime.Sub(current.ModTime)) <= mtimeTolerance:
			result.Unchanged = append(result.Unchanged, current)

		default:
			fp, hashErr := d.hasher.HashFile(absPath)
			if hashErr != nil {
				result.Unreadable = append(result.Unreadable, Unreadable{RelPath: rp, Err: hashErr})
				return nil
			}
			current.Fingerprint = fp
			if fp == base.Fingerprint {
				result.Unchanged = append(result.Unchanged, current)
			} else {
				result.Modified = append(result.Modified, current)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, b := range baseline {
		if _, ok := seen[b.RelPath]; !ok {
			result.Deleted = append(result.Deleted, b.RelPath)
		}
	}

	return result, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
