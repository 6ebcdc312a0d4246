// Package keydir holds the in-memory index mapping each live key to the
// location of its most recent record on disk. It is owned by a single engine
// instance and rebuilt from the log on every open, never persisted.
package keydir

import (
	"bytes"

	"github.com/zhangyunhao116/skipmap"
)

// Location identifies exactly one record inside exactly one segment.
// Locations are immutable: a rewrite of a key produces a new Location, it
// never edits an old one.
type Location struct {
	FileID uint32
	Offset int64
	Length int64
}

// KeyDir maps keys to their latest Location. Backed by a concurrent ordered
// skipmap so lookups never block each other and iteration yields keys in
// byte order, which keeps merge output deterministic. Mutations are reserved
// to the engine, after a durable log append.
type KeyDir struct {
	m *skipmap.FuncMap[[]byte, Location]
}

// New returns an empty KeyDir.
func New() *KeyDir {
	return &KeyDir{
		m: skipmap.NewFunc[[]byte, Location](func(a, b []byte) bool {
			return bytes.Compare(a, b) < 0
		}),
	}
}

// Lookup returns the latest Location for key, or false if the key is absent
// from the logical data set.
func (kd *KeyDir) Lookup(key []byte) (Location, bool) {
	return kd.m.Load(key)
}

// Upsert points key at loc, superseding any previous entry. The key bytes
// are copied; callers may reuse their slice.
func (kd *KeyDir) Upsert(key []byte, loc Location) {
	k := make([]byte, len(key))
	copy(k, key)
	kd.m.Store(k, loc)
}

// Remove drops key from the index.
func (kd *KeyDir) Remove(key []byte) {
	kd.m.Delete(key)
}

// Len returns the number of live keys.
func (kd *KeyDir) Len() int {
	return kd.m.Len()
}

// Ascend calls fn for every entry in ascending key order until fn returns
// false.
func (kd *KeyDir) Ascend(fn func(key []byte, loc Location) bool) {
	kd.m.Range(fn)
}
