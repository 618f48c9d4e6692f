package httpapi

import "github.com/neuro-inc/platform-storage-api/pkg/storage"

// fileStatusJSON is the wire shape for storage.FileStatus, matching
// original_source/src/platform_storage_api/api.py's
// _convert_filestatus_to_primitive (field names length/modificationTime/
// permission/type, not storage.FileStatus's Go field names).
type fileStatusJSON struct {
	Path             string `json:"path"`
	Length           int64  `json:"length"`
	ModificationTime int64  `json:"modificationTime"`
	Permission       string `json:"permission"`
	Type             string `json:"type"`
}

func toFileStatusJSON(s storage.FileStatus) fileStatusJSON {
	return fileStatusJSON{
		Path:             s.Path,
		Length:           s.Size,
		ModificationTime: s.ModificationTime,
		Permission:       string(s.Permission),
		Type:             string(s.Type),
	}
}

type fileStatusEnvelope struct {
	FileStatus fileStatusJSON `json:"FileStatus"`
}

type fileStatusesEnvelope struct {
	FileStatuses struct {
		FileStatus []fileStatusJSON `json:"FileStatus"`
	} `json:"FileStatuses"`
}

func toFileStatusesEnvelope(statuses []storage.FileStatus) fileStatusesEnvelope {
	out := fileStatusesEnvelope{}
	out.FileStatuses.FileStatus = make([]fileStatusJSON, len(statuses))
	for i, s := range statuses {
		out.FileStatuses.FileStatus[i] = toFileStatusJSON(s)
	}
	return out
}

type diskUsageJSON struct {
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}

func toDiskUsageJSON(d storage.DiskUsage) diskUsageJSON {
	return diskUsageJSON{Total: d.Total, Used: d.Used, Free: d.Free}
}

type removeListingJSON struct {
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
}

func toRemoveListingJSON(r storage.RemoveListing) removeListingJSON {
	return removeListingJSON{Path: r.Path, IsDir: r.IsDir}
}

type errorJSON struct {
	Error string `json:"error"`
	Errno string `json:"errno,omitempty"`
}
