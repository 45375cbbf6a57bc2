// Package fileops defines the positional file I/O vtable the storage
// engine is built against (spec §4.3/§6), plus a default implementation
// backed by a real file descriptor. Alternative backends (in-memory, test
// doubles) satisfy the same interface so the engine never depends on *os.File
// directly.
package fileops

import (
	"io"
	"time"
)

// Advice mirrors posix_fadvise's hint values, reproduced from
// couchstore's couchstore_io_advice_t (original_source/src/os.c).
type Advice int

const (
	AdviceNormal Advice = iota
	AdviceDontNeed
	AdviceSequential
)

// OpenFlag selects how FileOps.Open should behave when the target path is
// absent.
type OpenFlag int

const (
	// OpenExisting fails if the file does not already exist.
	OpenExisting OpenFlag = iota
	// OpenCreate creates the file if it does not already exist.
	OpenCreate
)

// FileOps is the positional I/O vtable every storage operation is built
// against. Implementations must retry on interrupted syscalls themselves;
// callers never see a partial read/write caused by a signal.
type FileOps interface {
	// Version identifies the vtable's ABI revision, mirroring
	// couch_file_ops.version in the original C vtable.
	Version() int

	// Open acquires the handle. Open failures are storeerr.OpenFile errors
	// wrapping the OS error, so a caller tells a missing file apart from
	// other open failures with errors.Is(err, os.ErrNotExist).
	Open(path string, flag OpenFlag) error

	// Close releases the handle. Safe to call on an already-closed handle.
	Close() error

	// Pread reads exactly len(buf) bytes at off, retrying on short reads
	// caused by interrupted syscalls.
	Pread(buf []byte, off int64) (int, error)

	// Pwrite writes exactly len(buf) bytes at off, retrying on short
	// writes caused by interrupted syscalls.
	Pwrite(buf []byte, off int64) (int, error)

	// GotoEOF returns the current end-of-file offset.
	GotoEOF() (int64, error)

	// Sync durably persists all writes issued so far.
	Sync() error

	// Advise hints the OS about future access patterns for [off, off+length).
	Advise(off, length int64, advice Advice) error
}

// Constructor and Destructor bracket a FileOps implementation's lifecycle,
// mirroring the couch_file_ops vtable's constructor/destructor pair
// (original_source/src/os.c's couch_constructor/couch_destructor). Go's GC
// makes Destructor mostly a no-op hook; it exists so a caller-supplied
// FileOps can release non-memory resources (e.g. a pooled handle) on the
// same schedule the original vtable expects.
type Constructor func() FileOps
type Destructor func(FileOps)

// Clock is a wall-clock source with a Now method. Nothing in this package
// takes one; Advise does not depend on time.
type Clock interface {
	Now() time.Time
}

var _ io.Closer = FileOps(nil)
