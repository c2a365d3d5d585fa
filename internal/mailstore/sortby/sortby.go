// Package sortby provides a default implementation of the out-of-scope
// sort_by(order) collaborator (spec §1), built on the IMAP SORT
// extension's criteria vocabulary from go-imap-sortthread rather than a
// hand-rolled comparator set.
package sortby

import (
	"sort"
	"strings"

	sortthread "github.com/emersion/go-imap-sortthread"

	"github.com/localbox/mailstore/internal/mailstore"
)

// Default maps the engine's string order names onto go-imap-sortthread's
// SortCriterion vocabulary and applies it in place. "natural" (the only
// order spec §4.E.3 names explicitly) is left to the caller's own
// path-based sort, since it has no SORT-extension analogue.
func Default(order string, messages []*mailstore.Email) {
	crit, reverse := criterionFor(order)
	switch crit {
	case sortthread.SortDate:
		sortByTime(messages, reverse, func(e *mailstore.Email) int64 { return e.Received.Unix() })
	case sortthread.SortSize:
		sortByTime(messages, reverse, func(e *mailstore.Email) int64 { return e.ContentLength })
	default:
		// No recognised criterion: leave order untouched.
	}
}

func criterionFor(order string) (sortthread.SortField, bool) {
	reverse := strings.HasPrefix(order, "reverse-")
	order = strings.TrimPrefix(order, "reverse-")
	switch order {
	case "date", "date-received":
		return sortthread.SortDate, reverse
	case "size":
		return sortthread.SortSize, reverse
	default:
		return 0, reverse
	}
}

func sortByTime(messages []*mailstore.Email, reverse bool, key func(*mailstore.Email) int64) {
	sort.SliceStable(messages, func(i, j int) bool {
		if reverse {
			return key(messages[i]) > key(messages[j])
		}
		return key(messages[i]) < key(messages[j])
	})
}
