package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/neuro-inc/platform-storage-api/pkg/permcache"
	"github.com/neuro-inc/platform-storage-api/pkg/storage"
)

func TestFilterByTreeUsesChildOverride(t *testing.T) {
	tree := permcache.AccessSubTree{
		Action: permcache.ActionDeny,
		Children: map[string]*permcache.AccessSubTree{
			"a.txt": {Action: permcache.ActionRead, Children: map[string]*permcache.AccessSubTree{}},
		},
	}
	statuses := []storage.FileStatus{
		{Path: "/u/a.txt"},
		{Path: "/u/b.txt"},
	}

	out := filterByTree(statuses, tree)
	assert.Len(t, out, 1)
	assert.Equal(t, "/u/a.txt", out[0].Path)
	assert.Equal(t, storage.Permission("read"), out[0].Permission)
}

func TestFilterByTreeFallsBackToParentAction(t *testing.T) {
	tree := permcache.AccessSubTree{Action: permcache.ActionWrite, Children: map[string]*permcache.AccessSubTree{}}
	statuses := []storage.FileStatus{{Path: "/u/a.txt"}}

	out := filterByTree(statuses, tree)
	assert.Len(t, out, 1)
	assert.Equal(t, storage.Permission("write"), out[0].Permission)
}

func TestFilterByTreeHidesUnreadable(t *testing.T) {
	tree := permcache.AccessSubTree{Action: permcache.ActionDeny, Children: map[string]*permcache.AccessSubTree{}}
	statuses := []storage.FileStatus{{Path: "/u/a.txt"}}

	out := filterByTree(statuses, tree)
	assert.Empty(t, out)
}

func TestFilterByTreeListOnlyChildRendersAsRead(t *testing.T) {
	tree := permcache.AccessSubTree{
		Action: permcache.ActionDeny,
		Children: map[string]*permcache.AccessSubTree{
			"a.txt": {Action: permcache.ActionList, Children: map[string]*permcache.AccessSubTree{}},
		},
	}
	statuses := []storage.FileStatus{{Path: "/u/a.txt"}}

	out := filterByTree(statuses, tree)
	assert.Len(t, out, 1)
	assert.Equal(t, storage.Permission("read"), out[0].Permission)
}
