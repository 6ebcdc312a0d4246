// Package logfile manages the numbered append-only segment files that hold
// encoded records on disk. A segment's written prefix is immutable: bytes are
// only ever appended at the tail, and whole files are replaced atomically by
// rename during merge.
package logfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/caskforge/caskdb/internal/record"
)

// Ext is the segment file extension.
const Ext = ".log"

// ErrShortRead is returned when a positional read yields fewer bytes than
// requested. Always fatal: it means the file was truncated underneath a live
// index entry.
var ErrShortRead = errors.New("short read")

// ErrCorruptTail wraps a checksum failure on the final frame of a segment,
// where the frame's bytes run right up to the tail. A crash can persist the
// size-extending write but not all of its data blocks, leaving exactly this:
// a full-length frame of garbage at the end of the newest segment. Recovery
// treats it like a truncated trailing write; corruption with further frames
// behind it stays fatal.
var ErrCorruptTail = errors.New("corrupt frame at tail")

// LogFile is an open append-only segment.
type LogFile struct {
	id   uint32
	path string
	file *os.File
	tail int64
	sync bool
}

// Filename returns the canonical name of segment id.
func Filename(id uint32) string {
	return fmt.Sprintf("%06d%s", id, Ext)
}

// Open opens or creates segment id under dir. The tail offset is taken from
// the current file size. syncEvery controls whether Append fsyncs before
// returning.
func Open(dir string, id uint32, syncEvery bool) (*LogFile, error) {
	path := filepath.Join(dir, Filename(id))
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat segment %s: %w", path, err)
	}

	return &LogFile{
		id:   id,
		path: path,
		file: file,
		tail: info.Size(),
		sync: syncEvery,
	}, nil
}

// ID returns the segment's numeric identity.
func (lf *LogFile) ID() uint32 { return lf.id }

// Path returns the segment's path on disk.
func (lf *LogFile) Path() string { return lf.path }

// Size returns the current tail offset.
func (lf *LogFile) Size() int64 { return lf.tail }

// Append writes frame at the tail and returns the offset it landed at. The
// data is synced to stable storage before returning (unless the segment was
// opened with syncEvery off); a caller that observes the returned offset may
// rely on the bytes being durable. Callers serialize appends; the engine's
// writer lock covers the tail.
func (lf *LogFile) Append(frame []byte) (int64, error) {
	off := lf.tail
	n, err := lf.file.WriteAt(frame, off)
	if err != nil {
		return 0, fmt.Errorf("failed to append to segment %s: %w", lf.path, err)
	}
	if n < len(frame) {
		return 0, fmt.Errorf("failed to append to segment %s: wrote %d of %d bytes", lf.path, n, len(frame))
	}
	if lf.sync {
		if err := lf.file.Sync(); err != nil {
			return 0, fmt.Errorf("failed to sync segment %s: %w", lf.path, err)
		}
	}
	lf.tail = off + int64(n)
	return off, nil
}

// ReadAt returns exactly length bytes starting at off, or fails with
// ErrShortRead. A partial read is never passed off as success: the caller
// would decode valid-looking but wrong data.
func (lf *LogFile) ReadAt(off, length int64) ([]byte, error) {
	buf := make([]byte, length)
	n, err := lf.file.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read segment %s at %d: %w", lf.path, off, err)
	}
	if int64(n) < length {
		return nil, fmt.Errorf("%w: segment %s at %d: got %d of %d bytes", ErrShortRead, lf.path, off, n, length)
	}
	return buf, nil
}

// Scan replays every frame from offset 0 to the tail in write order, calling
// fn with each frame's offset, decoded record, and frame length. It is
// memory-bounded (buffered sequential reads, one frame at a time) and
// restartable only from zero.
//
// The returned offset is one past the last good frame. On a clean scan it
// equals Size() and err is nil. A frame that fails to decode stops the scan
// with its start offset and the decode error: io.ErrUnexpectedEOF for a
// frame cut off by the end of the file, record.ErrCorrupt for checksum or
// length violations — additionally wrapped in ErrCorruptTail when the bad
// frame is the last thing in the file.
func (lf *LogFile) Scan(fn func(off int64, rec record.Record, n int) error) (int64, error) {
	r := bufio.NewReader(io.NewSectionReader(lf.file, 0, lf.tail))

	var off int64
	for {
		rec, n, err := record.ReadFrom(r)
		if err == io.EOF {
			return off, nil
		}
		if err != nil {
			if errors.Is(err, record.ErrCorrupt) && n > 0 && off+int64(n) == lf.tail {
				err = fmt.Errorf("%w: %w", ErrCorruptTail, err)
			}
			return off, err
		}
		if err := fn(off, rec, n); err != nil {
			return off, err
		}
		off += int64(n)
	}
}

// Truncate discards everything from off onward and syncs. Used once, during
// recovery, to drop a partial trailing frame left by a crash.
func (lf *LogFile) Truncate(off int64) error {
	if err := lf.file.Truncate(off); err != nil {
		return fmt.Errorf("failed to truncate segment %s: %w", lf.path, err)
	}
	if err := lf.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync segment %s: %w", lf.path, err)
	}
	lf.tail = off
	return nil
}

// Sync flushes the segment to stable storage.
func (lf *LogFile) Sync() error {
	return lf.file.Sync()
}

// Close flushes and releases the file handle.
func (lf *LogFile) Close() error {
	if err := lf.file.Sync(); err != nil {
		_ = lf.file.Close()
		return fmt.Errorf("failed to sync segment %s: %w", lf.path, err)
	}
	return lf.file.Close()
}

// Remove closes the segment and deletes its backing file. Used for the old
// file set after a merge swap.
func (lf *LogFile) Remove() error {
	_ = lf.file.Close()
	if err := os.Remove(lf.path); err != nil {
		return fmt.Errorf("failed to remove segment %s: %w", lf.path, err)
	}
	return nil
}

// ListIDs returns the segment IDs present under dir in ascending order,
// which is write order: IDs only ever increase.
func ListIDs(dir string) ([]uint32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments in %s: %w", dir, err)
	}

	var ids []uint32
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, Ext) {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSuffix(name, Ext), 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, uint32(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// SyncDir fsyncs the directory itself so a rename performed inside it is
// durable, not just ordered.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open dir %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync dir %s: %w", dir, err)
	}
	return nil
}
