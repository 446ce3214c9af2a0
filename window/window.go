// Package window provides a rollover Policy that keeps a fixed window of
// indexed archive files. Rotated archives are named <base>.<index>.gz
// (or <base>.<index> with compression disabled), lowest index most
// recent. On each rollover the slots shift up by one, the slot that
// would reach MaxIndex is evicted, and the freed lowest slot is filled
// by compressing the just-closed log file in the background.
package window

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/archiverr/archiverr"
	"github.com/archiverr/archiverr/compressor"
	"github.com/archiverr/archiverr/filer"
	"github.com/archiverr/archiverr/status"
)

// Joiner sits between the file name and the slot index.
const Joiner = "."

// DefaultMinIndex is the most recent archive slot.
const DefaultMinIndex = 1

// ErrBadWindow is returned by Start when the index window is empty.
var ErrBadWindow = errors.New("window needs MaxIndex > MinIndex")

// Layout defines the fixed archive window and owns the rollover sequence.
// MaxIndex bounds the window: an archive that would be renamed to
// MaxIndex is deleted instead, so slots MinIndex..MaxIndex-1 exist on
// disk. Set Compress to archive slots as gzip in the background.
type Layout struct {
	MinIndex   int             // Most recent slot. Default: 1.
	MaxIndex   int             // REQUIRED: eviction bound, must exceed MinIndex.
	ArchiveDir string          // Location where rotated archives are moved to.
	Compress   bool            // Gzip archives in the background.
	Timeout    time.Duration   // Bound for compression waits. Default: compressor.DefaultTimeout.
	Status     *status.Manager // Failure side channel. May be nil.
	filer.Filer

	gzip *compressor.Compressor // set by Start when Compress is true.
}

// Start validates the layout, resumes any compression interrupted by a
// crash of the previous process, and returns the directories the logger
// must create.
func (l *Layout) Start(fileName string) ([]string, error) {
	if l.Filer == nil {
		l.Filer = filer.Default()
	}

	if l.MinIndex < 1 {
		l.MinIndex = DefaultMinIndex
	}

	if l.MaxIndex <= l.MinIndex {
		return nil, fmt.Errorf("%w: min %d, max %d", ErrBadWindow, l.MinIndex, l.MaxIndex)
	}

	if l.Compress {
		l.gzip = compressor.New(&compressor.Config{
			ActiveFile: fileName,
			Timeout:    l.Timeout,
			Status:     l.Status,
			Filer:      l.Filer,
		})
		l.gzip.Start(l.slot(fileName, l.MinIndex))
	}

	switch fpath := filepath.Dir(fileName); {
	case l.ArchiveDir == "" || fpath == l.ArchiveDir:
		return []string{fpath}, nil
	default:
		return []string{fpath, l.ArchiveDir}, nil
	}
}

// Rollover shifts the archive window up by one slot and moves the active
// file into the freed lowest slot. With compression enabled the previous
// job is drained first, the shifts run synchronously, and the compression
// of the active file is submitted in the background: when Rollover
// returns nil, fileName no longer exists but its archive may not yet.
func (l *Layout) Rollover(fileName string) error {
	// Drain before shifting so a still-running job (possibly a resumed
	// one) cannot fill the lowest slot after it was shifted away.
	if l.gzip != nil {
		if err := l.gzip.WaitCompressed(l.waitBound()); err != nil {
			return fmt.Errorf("draining previous archive: %w", err)
		}
	}

	if err := l.shift(fileName); err != nil {
		return err
	}

	newFile := l.slot(fileName, l.MinIndex)

	if l.gzip != nil {
		return l.gzip.Compress(fileName, newFile)
	}

	if err := l.Rename(fileName, newFile); err != nil {
		return fmt.Errorf("rotating %s: %w", fileName, err)
	}

	return nil
}

// Stop drains any in-flight compression, bounded by Timeout. On timeout
// shutdown proceeds anyway; the marker file lets the next Start resume.
func (l *Layout) Stop() error {
	if l.gzip == nil {
		return nil
	}

	return l.gzip.Stop()
}

// shift renames each occupied slot to the next higher index, highest
// first. The slot that would reach MaxIndex is evicted.
func (l *Layout) shift(fileName string) error {
	for idx := l.MaxIndex - 1; idx >= l.MinIndex; idx-- {
		slot := l.slot(fileName, idx)
		if _, err := l.Stat(slot); err != nil {
			continue // slot unoccupied.
		}

		if idx+1 >= l.MaxIndex {
			if err := l.Remove(slot); err != nil {
				return fmt.Errorf("evicting %s: %w", slot, err)
			}

			continue
		}

		if err := l.Rename(slot, l.slot(fileName, idx+1)); err != nil {
			return fmt.Errorf("shifting %s: %w", slot, err)
		}
	}

	return nil
}

// slot returns the archive file name for one window index.
func (l *Layout) slot(fileName string, idx int) string {
	name := filepath.Base(fileName) + Joiner + strconv.Itoa(idx)
	if l.Compress {
		name += compressor.SuffixGZ
	}

	return filepath.Join(l.dir(fileName), name)
}

// dir returns the archive directory if one is set,
// otherwise the directory the log file is in.
func (l *Layout) dir(fileName string) string {
	if l.ArchiveDir != "" {
		return l.ArchiveDir
	}

	return filepath.Dir(fileName)
}

func (l *Layout) waitBound() time.Duration {
	if l.Timeout > 0 {
		return l.Timeout
	}

	return compressor.DefaultTimeout
}

// Our interface must satisfy an archiverr.Policy.
var _ archiverr.Policy = (*Layout)(nil)
