// Package caskdb is a log-structured key-value storage engine in the
// bitcask mold: every write is appended to a sequential on-disk log, and an
// in-memory index maps each live key to its most recent location in that
// log. Reads cost one index lookup plus one positional disk read; startup
// rebuilds the index by replaying the log in write order.
//
// A database is single-process and single-writer: any number of concurrent
// readers, at most one mutating operation at a time, and never two processes
// on the same directory.
//
// Example usage:
//
//	db, err := caskdb.Open("/path/to/database", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Put([]byte("key"), []byte("value")); err != nil {
//		log.Printf("Put failed: %v", err)
//	}
//
//	value, found, err := db.Get([]byte("key"))
//	if err != nil {
//		log.Printf("Get failed: %v", err)
//	} else if found {
//		fmt.Printf("Value: %s\n", value)
//	}
//
//	if err := db.Delete([]byte("key")); err != nil {
//		log.Printf("Delete failed: %v", err)
//	}
package caskdb

import (
	"net/http"

	"github.com/caskforge/caskdb/internal/config"
	"github.com/caskforge/caskdb/internal/engine"
)

// Config is an alias for config.Config, re-exported for user convenience.
type Config = config.Config

// DefaultConfig returns a Config struct populated with default values. Re-exported for user convenience.
var DefaultConfig = config.DefaultConfig

// DB represents a caskdb instance. Safe for concurrent use within one
// process.
type DB struct {
	engine *engine.Engine
}

// Open opens or creates a database at the specified path.
//
// The directory will be created if it doesn't exist. If the database exists,
// its index is rebuilt from the log; a partial trailing write left by a
// crash is discarded silently, any other corruption fails the open.
//
// Returns a DB instance or an error if the database can't be opened.
func Open(path string, cfg *Config) (*DB, error) {
	e, err := engine.Open(path, cfg)
	if err != nil {
		return nil, err
	}
	return &DB{engine: e}, nil
}

// Put writes a key-value pair to the database, overwriting any previous
// value. The write is durable on disk before Put returns. On error nothing
// changed: the previous value, if any, stays visible.
func (db *DB) Put(key, value []byte) error {
	return db.engine.Put(key, value)
}

// Get retrieves the value for a key. Returns found == false if the key was
// never written or was deleted. A non-nil error means indexed data could not
// be read back — an I/O failure or on-disk corruption, never a normal miss.
func (db *DB) Get(key []byte) (value []byte, found bool, err error) {
	return db.engine.Get(key)
}

// Delete removes the key from the database.
func (db *DB) Delete(key []byte) error {
	return db.engine.Delete(key)
}

// Merge compacts the log: live data is rewritten into a fresh file and the
// space held by superseded and deleted records is reclaimed. Visible state
// is unchanged. Only one merge may run at a time.
func (db *DB) Merge() error {
	return db.engine.Merge()
}

// Len returns the number of live keys.
func (db *DB) Len() int {
	return db.engine.Len()
}

// DiskUsage returns the bytes occupied by the database's log files.
func (db *DB) DiskUsage() int64 {
	return db.engine.DiskUsage()
}

// MetricsHandler serves this instance's prometheus metrics.
func (db *DB) MetricsHandler() http.Handler {
	return db.engine.Metrics().Handler()
}

// Close flushes and releases the log file handles. After Close every
// operation fails; open a new instance to resume.
func (db *DB) Close() error {
	return db.engine.Close()
}
