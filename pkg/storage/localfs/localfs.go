// Package localfs implements storage.FileSystem over the local os package,
// the concrete adapter the gateway runs against in-process. spec.md treats
// the filesystem adapter as an external collaborator described only by its
// interface; this is a working implementation of that interface so the
// gateway is runnable end to end.
package localfs

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/neuro-inc/platform-storage-api/pkg/gatewayerr"
	"github.com/neuro-inc/platform-storage-api/pkg/storage"
)

// FS is the local, os-backed storage.FileSystem.
type FS struct{}

// New returns a local filesystem adapter.
func New() *FS { return &FS{} }

var _ storage.FileSystem = (*FS)(nil)

func (FS) Open(path string, flag int, perm uint32) (storage.File, error) {
	f, err := os.OpenFile(path, flag, os.FileMode(perm))
	if err != nil {
		return nil, gatewayerr.FromPathError(err)
	}
	return f, nil
}

func (FS) Mkdir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return gatewayerr.FromPathError(err)
	}
	return nil
}

func (FS) GetFileStatus(path string) (storage.FileStatus, error) {
	info, err := os.Stat(path)
	if err != nil {
		return storage.FileStatus{}, gatewayerr.FromPathError(err)
	}
	return statusFromInfo(path, info), nil
}

func (FS) ListStatus(path string) ([]storage.FileStatus, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, gatewayerr.FromPathError(err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	statuses := make([]storage.FileStatus, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return nil, gatewayerr.FromPathError(err)
		}
		statuses = append(statuses, statusFromInfo(filepath.Join(path, entry.Name()), info))
	}
	return statuses, nil
}

func (FS) IterStatus(path string, emit func(storage.FileStatus) error) error {
	dir, err := os.Open(path)
	if err != nil {
		return gatewayerr.FromPathError(err)
	}
	defer dir.Close()

	const chunkSize = 256
	for {
		entries, err := dir.ReadDir(chunkSize)
		if err != nil && err != io.EOF {
			return gatewayerr.FromPathError(err)
		}
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				return gatewayerr.FromPathError(err)
			}
			if err := emit(statusFromInfo(filepath.Join(path, entry.Name()), info)); err != nil {
				return err
			}
		}
		if len(entries) < chunkSize {
			return nil
		}
	}
}

func (FS) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, gatewayerr.FromPathError(err)
}

func (FS) Remove(path string, recursive bool) error {
	if recursive {
		if err := os.RemoveAll(path); err != nil {
			return gatewayerr.FromPathError(err)
		}
		return nil
	}
	if err := os.Remove(path); err != nil {
		return gatewayerr.FromPathError(err)
	}
	return nil
}

func (fs FS) IterRemove(path string, recursive bool, emit func(path string, isDir bool) error) error {
	info, err := os.Lstat(path)
	if err != nil {
		return gatewayerr.FromPathError(err)
	}

	if info.IsDir() {
		if !recursive {
			return gatewayerr.New(gatewayerr.IsDirectory, "%s is a directory", path)
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return gatewayerr.FromPathError(err)
		}
		for _, entry := range entries {
			if err := fs.IterRemove(filepath.Join(path, entry.Name()), recursive, emit); err != nil {
				return err
			}
		}
	}

	if err := os.Remove(path); err != nil {
		return gatewayerr.FromPathError(err)
	}
	return emit(path, info.IsDir())
}

func (FS) Rename(oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return gatewayerr.FromPathError(err)
	}
	return nil
}

func (FS) DiskUsage(path string) (storage.DiskUsage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return storage.DiskUsage{}, gatewayerr.FromPathError(err)
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bfree * uint64(stat.Bsize)
	return storage.DiskUsage{
		Total: total,
		Free:  free,
		Used:  total - free,
	}, nil
}

func statusFromInfo(path string, info os.FileInfo) storage.FileStatus {
	fileType := storage.FileTypeFile
	if info.IsDir() {
		fileType = storage.FileTypeDirectory
	}
	return storage.FileStatus{
		Path:             path,
		Size:             info.Size(),
		ModificationTime: info.ModTime().Unix(),
		Type:             fileType,
	}
}
