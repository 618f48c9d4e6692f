package storage

import (
	"io"
)

// File is the subset of *os.File the storage orchestrator needs. It is
// satisfied by *os.File directly.
type File interface {
	io.ReadWriteCloser
	io.Seeker
	Truncate(size int64) error
}

// FileSystem is the local filesystem adapter the storage orchestrator
// delegates to. Every call is synchronous/blocking — callers run it on
// pkg/storage/workerpool so it never blocks a connection-handling goroutine.
// Paths passed in are always absolute, already-resolved physical paths.
type FileSystem interface {
	// Open opens path with the given os.OpenFile-style flag and
	// permission bits.
	Open(path string, flag int, perm uint32) (File, error)
	// Mkdir creates path and any missing parents, succeeding if path
	// already exists as a directory.
	Mkdir(path string) error
	// GetFileStatus stats path, returning a FileStatus with an empty
	// Permission (the dispatcher stamps that field later).
	GetFileStatus(path string) (FileStatus, error)
	// ListStatus lists the immediate children of the directory at path.
	ListStatus(path string) ([]FileStatus, error)
	// IterStatus lazily lists the immediate children of the directory at
	// path, invoking emit once per entry without first materializing the
	// whole directory's FileStatus slice.
	IterStatus(path string, emit func(FileStatus) error) error
	// Exists reports whether path exists.
	Exists(path string) (bool, error)
	// Remove deletes path. If recursive, path may be a non-empty
	// directory; if not, a non-empty directory removal fails.
	Remove(path string, recursive bool) error
	// IterRemove deletes path depth-first, invoking emit once per
	// removed entry with its physical path and whether it was a
	// directory. Stops and returns the first error either from walking,
	// removing, or from emit itself.
	IterRemove(path string, recursive bool, emit func(path string, isDir bool) error) error
	// Rename moves oldPath to newPath.
	Rename(oldPath, newPath string) error
	// DiskUsage reports usage for the volume containing path.
	DiskUsage(path string) (DiskUsage, error)
}
