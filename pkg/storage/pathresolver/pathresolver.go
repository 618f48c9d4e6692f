// Package pathresolver maps logical storage paths ("/org/project/...") onto
// one of several physical base directories, grounded on
// original_source/src/platform_storage_api/storage.py's StoragePathResolver
// hierarchy.
package pathresolver

import (
	"path"
	"strings"
)

// Existser is the minimal filesystem capability the multi-root resolver
// needs: probing whether a directory exists.
type Existser interface {
	Exists(path string) (bool, error)
}

// PathResolver maps a logical path to a physical base directory, and a
// logical path to a full physical path.
type PathResolver interface {
	// ResolveBasePath returns the physical base directory a logical path
	// should be rooted under. Passing "" is equivalent to passing "/".
	ResolveBasePath(logicalPath string) (string, error)
	// ResolvePath returns ResolveBasePath(logicalPath) joined with
	// logicalPath stripped of its leading slash.
	ResolvePath(logicalPath string) (string, error)
}

// SingleRoot always resolves to the same configured base directory.
type SingleRoot struct {
	BasePath string
}

var _ PathResolver = SingleRoot{}

func (r SingleRoot) ResolveBasePath(string) (string, error) { return r.BasePath, nil }

func (r SingleRoot) ResolvePath(logicalPath string) (string, error) {
	return resolve(r, logicalPath)
}

// MultiRoot serves both a new multi-tenant layout (rooted at BasePath) and a
// legacy layout (rooted at DefaultPath, typically BasePath/<cluster>),
// disambiguated purely by probing whether the logical path's first segment
// exists as a directory under BasePath.
type MultiRoot struct {
	FS          Existser
	BasePath    string
	DefaultPath string
}

var _ PathResolver = MultiRoot{}

func (r MultiRoot) ResolveBasePath(logicalPath string) (string, error) {
	if logicalPath == "" || logicalPath == "/" {
		return r.BasePath, nil
	}
	segment := firstSegment(logicalPath)
	exists, err := r.FS.Exists(path.Join(r.BasePath, segment))
	if err != nil {
		return "", err
	}
	if exists {
		return r.BasePath, nil
	}
	return r.DefaultPath, nil
}

func (r MultiRoot) ResolvePath(logicalPath string) (string, error) {
	return resolve(r, logicalPath)
}

func resolve(r PathResolver, logicalPath string) (string, error) {
	base, err := r.ResolveBasePath(logicalPath)
	if err != nil {
		return "", err
	}
	return path.Join(base, strings.TrimPrefix(logicalPath, "/")), nil
}

func firstSegment(logicalPath string) string {
	trimmed := strings.TrimPrefix(logicalPath, "/")
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}
