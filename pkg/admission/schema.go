// Package admission implements the mutating-webhook logic that injects
// already-mounted storage volumes into pods that request them, grounded on
// original_source/src/platform_storage_api/admission_controller/{api,schema}.py.
package admission

import (
	"encoding/json"
	"fmt"
	"strings"
)

const storageScheme = "storage://"

// MountMode selects whether an injected volume mount is read-only or
// read-write. The zero value is not a valid mode; UnmarshalJSON rejects it.
type MountMode string

const (
	MountReadOnly  MountMode = "r"
	MountReadWrite MountMode = "rw"
)

// MountRequest is one entry of the `platform.apolo.us/inject-storage`
// annotation's JSON array, mirroring schema.py's MountSchema.
type MountRequest struct {
	MountPath  string    `json:"mount_path"`
	StorageURI string    `json:"storage_uri"`
	MountMode  MountMode `json:"mount_mode"`
}

// UnmarshalJSON defaults MountMode to read-write when absent, matching
// MountSchema's Pydantic field default.
func (m *MountRequest) UnmarshalJSON(data []byte) error {
	type alias MountRequest
	aux := alias{MountMode: MountReadWrite}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*m = MountRequest(aux)
	return m.validate()
}

func (m MountRequest) validate() error {
	if !strings.HasPrefix(m.MountPath, "/") {
		return fmt.Errorf("%q is not an absolute path", m.MountPath)
	}
	if !strings.HasPrefix(m.StorageURI, storageScheme) {
		return fmt.Errorf("%q does not follow the %s schema", m.StorageURI, storageScheme)
	}
	if len(m.storagePathParts()) < 3 {
		return fmt.Errorf("%q is invalid: cluster, org and project names must be present in the storage path", m.StorageURI)
	}
	if m.MountMode != MountReadOnly && m.MountMode != MountReadWrite {
		return fmt.Errorf("%q is not a valid mount mode", m.MountMode)
	}
	return nil
}

// storagePathParts splits the URI's path after the scheme into its
// non-empty segments: cluster, org, project, and anything deeper.
func (m MountRequest) storagePathParts() []string {
	rest := strings.TrimPrefix(m.StorageURI, storageScheme)
	var parts []string
	for _, p := range strings.Split(rest, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// Cluster, Org and Project read the storage URI's leading components, valid
// only after validate() has confirmed there are at least three.
func (m MountRequest) Cluster() string { return m.storagePathParts()[0] }
func (m MountRequest) Org() string     { return m.storagePathParts()[1] }
func (m MountRequest) Project() string { return m.storagePathParts()[2] }

// LogicalPath strips the `storage://<cluster>` prefix, returning the
// cluster-relative logical path (e.g. "/org/project/...") that
// pkg/storage/pathresolver and the volume resolver operate on.
func (m MountRequest) LogicalPath() string {
	parts := m.storagePathParts()[1:]
	return "/" + strings.Join(parts, "/")
}

// parseInjectionSpec decodes the annotation payload as a JSON array of
// MountRequest, mirroring schema.py's InjectionSchema TypeAdapter.
func parseInjectionSpec(raw string) ([]MountRequest, error) {
	var reqs []MountRequest
	if err := json.Unmarshal([]byte(raw), &reqs); err != nil {
		return nil, fmt.Errorf("injection spec is invalid: %w", err)
	}
	return reqs, nil
}
