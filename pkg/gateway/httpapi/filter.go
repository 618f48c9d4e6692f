package httpapi

import (
	"path"

	"github.com/neuro-inc/platform-storage-api/pkg/permcache"
	"github.com/neuro-inc/platform-storage-api/pkg/storage"
)

// actionFor resolves the effective action a listing entry should be stamped
// with: its own child node in tree if one exists (ok=false when that child
// is deny), else tree's own action when tree itself grants at least read,
// else ok=false meaning the entry must be hidden entirely. Grounded on
// api.py's _liststatus_filter.
func actionFor(logicalPath string, tree permcache.AccessSubTree) (permcache.Action, bool) {
	if child, found := tree.Children[path.Base(logicalPath)]; found {
		if !child.Action.Dominates(permcache.ActionList) {
			return permcache.ActionDeny, false
		}
		return child.Action, true
	}
	if tree.Action.CanRead() {
		return tree.Action, true
	}
	return permcache.ActionDeny, false
}

// filterByTree stamps each entry with its effective permission and drops
// entries actionFor hides: an explicit child below list, or an entry with no
// matching child under a tree that grants less than read.
func filterByTree(statuses []storage.FileStatus, tree permcache.AccessSubTree) []storage.FileStatus {
	out := make([]storage.FileStatus, 0, len(statuses))
	for _, fstat := range statuses {
		action, ok := actionFor(fstat.Path, tree)
		if !ok {
			continue
		}
		fstat.Permission = storage.Permission(action.Permission())
		out = append(out, fstat)
	}
	return out
}
