package permcache

import "fmt"

// Action is one node's permitted operation level in an AccessSubTree, under
// the total order Deny < List < Read < Write < Manage.
type Action int

const (
	ActionDeny Action = iota
	ActionList
	ActionRead
	ActionWrite
	ActionManage
)

func (a Action) String() string {
	switch a {
	case ActionDeny:
		return "deny"
	case ActionList:
		return "list"
	case ActionRead:
		return "read"
	case ActionWrite:
		return "write"
	case ActionManage:
		return "manage"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// ParseAction parses the wire representation of an Action.
func ParseAction(s string) (Action, bool) {
	switch s {
	case "deny":
		return ActionDeny, true
	case "list":
		return ActionList, true
	case "read":
		return ActionRead, true
	case "write":
		return ActionWrite, true
	case "manage":
		return ActionManage, true
	default:
		return ActionDeny, false
	}
}

// Dominates reports whether a is sufficient to satisfy a request for
// requested, i.e. a >= requested under the total order.
func (a Action) Dominates(requested Action) bool { return a >= requested }

// CanRead reports whether a grants at least read access.
func (a Action) CanRead() bool { return a.Dominates(ActionRead) }

// CanWrite reports whether a grants at least write access.
func (a Action) CanWrite() bool { return a.Dominates(ActionWrite) }

// Permission renders a as one of the three file-status permission strings
// (read/write/manage), collapsing List down to Read since a listing-only
// grant still displays as read access on the entries it reveals. Deny has
// no file-status form and renders as "deny".
func (a Action) Permission() string {
	if a == ActionList {
		return ActionRead.String()
	}
	return a.String()
}
