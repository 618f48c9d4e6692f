package pathresolver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuro-inc/platform-storage-api/pkg/storage/pathresolver"
)

func TestSingleRootAlwaysReturnsBase(t *testing.T) {
	r := pathresolver.SingleRoot{BasePath: "/data"}

	base, err := r.ResolveBasePath("/org/project/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "/data", base)

	full, err := r.ResolvePath("/org/project/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "/data/org/project/file.txt", full)
}

type fakeExists map[string]bool

func (f fakeExists) Exists(path string) (bool, error) { return f[path], nil }

func TestMultiRootRootResolvesToBase(t *testing.T) {
	r := pathresolver.MultiRoot{FS: fakeExists{}, BasePath: "/data", DefaultPath: "/data/legacy"}

	base, err := r.ResolveBasePath("/")
	require.NoError(t, err)
	assert.Equal(t, "/data", base)
}

func TestMultiRootExistingSegmentUsesBase(t *testing.T) {
	r := pathresolver.MultiRoot{
		FS:          fakeExists{"/data/org": true},
		BasePath:    "/data",
		DefaultPath: "/data/legacy",
	}

	base, err := r.ResolveBasePath("/org/project")
	require.NoError(t, err)
	assert.Equal(t, "/data", base)

	full, err := r.ResolvePath("/org/project")
	require.NoError(t, err)
	assert.Equal(t, "/data/org/project", full)
}

func TestMultiRootMissingSegmentUsesDefault(t *testing.T) {
	r := pathresolver.MultiRoot{
		FS:          fakeExists{},
		BasePath:    "/data",
		DefaultPath: "/data/legacy",
	}

	base, err := r.ResolveBasePath("/unknown-org/project")
	require.NoError(t, err)
	assert.Equal(t, "/data/legacy", base)
}
