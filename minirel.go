package minirel

import (
	"errors"
	"sync/atomic"

	"github.com/tdnguyen/minirel/internal/bufferpool"
	"github.com/tdnguyen/minirel/internal/hash"
	"github.com/tdnguyen/minirel/internal/heap"
	"github.com/tdnguyen/minirel/internal/storage"
)

var ErrDatabaseClosed = errors.New("minirel: database is closed")

// DB ties one disk manager to one buffer pool and hands out the access
// methods built on them. All page traffic from heap files and hash
// indexes flows through the pool.
type DB struct {
	dm *storage.DiskManager
	bp *bufferpool.Pool

	closed atomic.Bool
}

// Open opens or creates a database file with a pool of poolSize frames.
func Open(path string, poolSize int) (*DB, error) {
	dm, err := storage.NewDiskManager(path)
	if err != nil {
		return nil, err
	}
	return &DB{dm: dm, bp: bufferpool.NewPool(dm, poolSize)}, nil
}

// OpenInMemory creates a memory-backed database; contents are lost on
// Close.
func OpenInMemory(poolSize int) (*DB, error) {
	dm, err := storage.NewMemDiskManager()
	if err != nil {
		return nil, err
	}
	return &DB{dm: dm, bp: bufferpool.NewPool(dm, poolSize)}, nil
}

// Pool exposes the buffer pool, mainly for its counters.
func (d *DB) Pool() *bufferpool.Pool { return d.bp }

// Disk exposes the disk manager, mainly for its counters.
func (d *DB) Disk() *storage.DiskManager { return d.dm }

// OpenHeap opens or creates a heap file. An empty name makes it
// temporary: it is dropped when closed.
func (d *DB) OpenHeap(name string) (*heap.File, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	return heap.Open(d.bp, name)
}

// OpenIndex opens or creates a hash index. An empty name makes it
// temporary.
func (d *DB) OpenIndex(name string) (*hash.Index, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	return hash.Open(d.bp, name)
}

// FlushAll writes every dirty resident page back to disk.
func (d *DB) FlushAll() error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	return d.bp.FlushAll()
}

// Close flushes dirty pages and releases the backing store. Idempotent.
func (d *DB) Close() error {
	if d == nil || d.closed.Swap(true) {
		return nil
	}
	if err := d.bp.FlushAll(); err != nil {
		_ = d.dm.Close()
		return err
	}
	return d.dm.Close()
}

func (d *DB) ensureOpen() error {
	if d == nil || d.closed.Load() {
		return ErrDatabaseClosed
	}
	return nil
}
