package engine

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caskforge/caskdb/internal/keydir"
	"github.com/caskforge/caskdb/internal/logfile"
	"github.com/caskforge/caskdb/internal/record"
)

// mergeSuffix marks the merge target while it is being written. The rename
// that drops the suffix is the atomic commit point: a crash mid-merge leaves
// either the old segment set or the old set plus a fully written merged
// segment, never a mix of half-states.
const mergeSuffix = ".merge"

// Merge rewrites every live key into one fresh segment, swaps in a keydir
// built over that segment only, and deletes the old files. This reclaims the
// space held by superseded and tombstoned records. Only one merge may run at
// a time; a second concurrent call fails with ErrMergeInProgress.
//
// The merged segment takes the next segment ID, so if old files survive a
// crash before they are deleted, replay still converges: their records are
// applied first and every live key is rewritten by the merged segment last.
func (e *Engine) Merge() error {
	if !e.mergeMu.TryLock() {
		return ErrMergeInProgress
	}
	defer e.mergeMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	newID := e.active.ID() + 1
	newIndex := keydir.New()

	path := filepath.Join(e.dir, logfile.Filename(newID))
	tmpPath := path + mergeSuffix

	if err := e.writeMergeFile(tmpPath, newID, newIndex); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to commit merge file: %w", err)
	}
	if err := logfile.SyncDir(e.dir); err != nil {
		return err
	}

	merged, err := logfile.Open(e.dir, newID, !e.cfg.NoSync)
	if err != nil {
		return err
	}

	old := e.segments
	e.segments = map[uint32]*logfile.LogFile{newID: merged}
	e.active = merged
	e.index = newIndex

	var firstErr error
	for _, lf := range old {
		if err := lf.Remove(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	e.stats.MergesTotal.Inc()
	e.stats.DiskBytes.Set(float64(merged.Size()))
	return firstErr
}

// writeMergeFile copies every live record, in ascending key order, into the
// merge target and records its new location in newIndex. Each record is
// decoded on the way through, so a checksum violation in old data fails the
// merge instead of being silently carried forward.
func (e *Engine) writeMergeFile(tmpPath string, newID uint32, newIndex *keydir.KeyDir) error {
	f, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create merge file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	var off int64

	var copyErr error
	e.index.Ascend(func(key []byte, loc keydir.Location) bool {
		lf, ok := e.segments[loc.FileID]
		if !ok {
			copyErr = fmt.Errorf("index points at missing segment %06d", loc.FileID)
			return false
		}
		frame, err := lf.ReadAt(loc.Offset, loc.Length)
		if err != nil {
			copyErr = err
			return false
		}
		if _, _, err := record.Decode(frame); err != nil {
			copyErr = fmt.Errorf("segment %s at offset %d: %w", lf.Path(), loc.Offset, err)
			return false
		}

		if _, err := w.Write(frame); err != nil {
			copyErr = fmt.Errorf("failed to write merge file: %w", err)
			return false
		}
		newIndex.Upsert(key, keydir.Location{FileID: newID, Offset: off, Length: loc.Length})
		off += loc.Length
		return true
	})
	if copyErr != nil {
		return copyErr
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush merge file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync merge file: %w", err)
	}
	return nil
}
