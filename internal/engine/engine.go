// Package engine implements the core storage engine: an append-only log of
// segments plus an in-memory keydir, coordinated under a single-writer,
// multi-reader discipline.
//
// Every write is appended to the active segment and synced before the keydir
// is updated, so a reader can never observe a location whose bytes are not
// durable. The keydir is rebuilt from the segments on every open; a process
// crash between a durable append and the keydir update therefore heals on
// restart. The engine is strictly single-process: two processes opening the
// same directory is a precondition violation, not a supported mode.
package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/caskforge/caskdb/internal/config"
	"github.com/caskforge/caskdb/internal/keydir"
	"github.com/caskforge/caskdb/internal/logfile"
	"github.com/caskforge/caskdb/internal/metrics"
	"github.com/caskforge/caskdb/internal/record"
)

const firstSegmentID uint32 = 1

// Engine owns the segment files and the keydir for one database directory.
type Engine struct {
	// mu serializes writers (Put, Delete, the merge swap) and lets readers
	// overlap each other. It covers the keydir pointer, the segment set,
	// and the active segment's tail.
	mu sync.RWMutex

	// mergeMu admits a single in-flight merge.
	mergeMu sync.Mutex

	dir      string
	cfg      *config.Config
	active   *logfile.LogFile
	segments map[uint32]*logfile.LogFile
	index    *keydir.KeyDir
	stats    *metrics.Metrics
	closed   bool
}

// Open opens or creates the database at dir, replaying every segment in
// write order to rebuild the keydir.
func Open(dir string, cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	} else {
		cfg.FillDefaults()
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", dir, err)
	}

	e := &Engine{
		dir:      dir,
		cfg:      cfg,
		segments: make(map[uint32]*logfile.LogFile),
		index:    keydir.New(),
		stats:    metrics.New(),
	}

	ids, err := logfile.ListIDs(dir)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		lf, err := logfile.Open(dir, id, !cfg.NoSync)
		if err != nil {
			e.closeSegments()
			return nil, err
		}
		e.segments[id] = lf
	}

	if err := e.rebuild(ids); err != nil {
		e.closeSegments()
		return nil, err
	}

	if len(ids) == 0 {
		lf, err := logfile.Open(dir, firstSegmentID, !cfg.NoSync)
		if err != nil {
			return nil, err
		}
		e.segments[firstSegmentID] = lf
		e.active = lf
	} else {
		e.active = e.segments[ids[len(ids)-1]]
	}

	e.stats.LiveKeys.Set(float64(e.index.Len()))
	e.stats.DiskBytes.Set(float64(e.diskBytes()))
	return e, nil
}

// rebuild replays segments oldest to newest so a later record for a key
// always overwrites an earlier entry: last write wins, the same state a live
// process would have produced. A bad trailing frame in the newest segment —
// cut off by the end of the file, or full-length but checksum-corrupt — is
// an interrupted crash-time append and is truncated away; any other decode
// failure is a real consistency violation and aborts.
func (e *Engine) rebuild(ids []uint32) error {
	for i, id := range ids {
		lf := e.segments[id]
		end, err := lf.Scan(func(off int64, rec record.Record, n int) error {
			if rec.Tombstone {
				e.index.Remove(rec.Key)
				return nil
			}
			e.index.Upsert(rec.Key, keydir.Location{FileID: id, Offset: off, Length: int64(n)})
			return nil
		})
		if err == nil {
			continue
		}
		tornTail := errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, logfile.ErrCorruptTail)
		if i == len(ids)-1 && tornTail {
			if terr := lf.Truncate(end); terr != nil {
				return terr
			}
			continue
		}
		return fmt.Errorf("failed to replay segment %s at offset %d: %w", lf.Path(), end, err)
	}
	return nil
}

// Put appends a live record for key and points the keydir at it. If the
// append fails nothing is indexed: the old value, if any, stays visible.
func (e *Engine) Put(key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.put(key, value)
	e.stats.Observe("put", err)
	return err
}

func (e *Engine) put(key, value []byte) error {
	if e.closed {
		return ErrClosed
	}
	if len(key) == 0 {
		return ErrKeyRequired
	}
	if uint64(len(key)) > record.MaxKeySize {
		return ErrKeyTooLarge
	}
	if uint64(len(value)) > record.MaxValueSize {
		return ErrValueTooLarge
	}

	frame := record.Encode(record.Record{Key: key, Value: value})
	if err := e.maybeRotate(len(frame)); err != nil {
		return err
	}

	off, err := e.active.Append(frame)
	if err != nil {
		return err
	}
	e.index.Upsert(key, keydir.Location{
		FileID: e.active.ID(),
		Offset: off,
		Length: int64(len(frame)),
	})

	e.stats.LiveKeys.Set(float64(e.index.Len()))
	e.stats.DiskBytes.Add(float64(len(frame)))
	return nil
}

// Get returns the current value for key, or found == false if the key is
// absent. Read errors are storage violations, never treated as a miss: the
// index said the data is there.
func (e *Engine) Get(key []byte) (value []byte, found bool, err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	value, found, err = e.get(key)
	e.stats.Observe("get", err)
	return value, found, err
}

func (e *Engine) get(key []byte) ([]byte, bool, error) {
	if e.closed {
		return nil, false, ErrClosed
	}

	loc, ok := e.index.Lookup(key)
	if !ok {
		return nil, false, nil
	}

	lf, ok := e.segments[loc.FileID]
	if !ok {
		return nil, false, fmt.Errorf("index points at missing segment %06d", loc.FileID)
	}

	buf, err := lf.ReadAt(loc.Offset, loc.Length)
	if err != nil {
		return nil, false, err
	}
	rec, _, err := record.Decode(buf)
	if err != nil {
		return nil, false, fmt.Errorf("segment %s at offset %d: %w", lf.Path(), loc.Offset, err)
	}
	if rec.Tombstone {
		return nil, false, nil
	}
	return rec.Value, true, nil
}

// Delete appends a tombstone for key and drops it from the keydir. The
// tombstone is written even for an absent key; it is what recovery and
// not-yet-merged older segments replay to reach the same state.
func (e *Engine) Delete(key []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.delete(key)
	e.stats.Observe("delete", err)
	return err
}

func (e *Engine) delete(key []byte) error {
	if e.closed {
		return ErrClosed
	}
	if len(key) == 0 {
		return ErrKeyRequired
	}
	if uint64(len(key)) > record.MaxKeySize {
		return ErrKeyTooLarge
	}

	frame := record.Encode(record.Record{Key: key, Tombstone: true})
	if err := e.maybeRotate(len(frame)); err != nil {
		return err
	}

	if _, err := e.active.Append(frame); err != nil {
		return err
	}
	e.index.Remove(key)

	e.stats.LiveKeys.Set(float64(e.index.Len()))
	e.stats.DiskBytes.Add(float64(len(frame)))
	return nil
}

// maybeRotate seals the active segment and opens the next one when the
// incoming frame would push it past the configured threshold. Must be called
// with the write lock held.
func (e *Engine) maybeRotate(frameLen int) error {
	if e.active.Size() == 0 || e.active.Size()+int64(frameLen) <= e.cfg.MaxSegmentSize {
		return nil
	}

	next, err := logfile.Open(e.dir, e.active.ID()+1, !e.cfg.NoSync)
	if err != nil {
		return err
	}
	if err := e.active.Sync(); err != nil {
		_ = next.Close()
		return err
	}
	e.segments[next.ID()] = next
	e.active = next
	return nil
}

// Len returns the number of live keys.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index.Len()
}

// DiskUsage returns the total size in bytes of all segment files.
func (e *Engine) DiskUsage() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.diskBytes()
}

func (e *Engine) diskBytes() int64 {
	var total int64
	for _, lf := range e.segments {
		total += lf.Size()
	}
	return total
}

// Metrics returns the engine's collectors for exposure over HTTP.
func (e *Engine) Metrics() *metrics.Metrics {
	return e.stats
}

// Close flushes and releases every segment handle. The engine is unusable
// afterwards; Open a new instance to resume. Safe to call twice.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	return e.closeSegments()
}

func (e *Engine) closeSegments() error {
	var firstErr error
	for _, lf := range e.segments {
		if err := lf.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
