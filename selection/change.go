package selection

import (
	"github.com/wepogo/hilbot"
	"github.com/wepogo/hilbot/instancedb"
)

// FromChange decides the instances for one change: an explicit
// directive in the commit text wins outright, otherwise the changed
// paths drive Select. A directive of "none" runs nothing at all, not
// even the checkers.
func FromChange(db *instancedb.DB, paths []string, commitText string) ([]hilbot.Instance, string) {
	d, found := hilbot.ParseDirective(commitText)
	if !found {
		return Select(db, paths)
	}
	if d.Wildcard {
		insts := append(db.All(), alwaysRun...)
		hilbot.SortInstances(insts)
		return hilbot.DedupeInstances(insts), d.Filter
	}
	insts := append([]hilbot.Instance(nil), d.Instances...)
	hilbot.SortInstances(insts)
	insts = hilbot.DedupeInstances(insts)
	if len(insts) == 0 {
		return nil, ""
	}
	return insts, d.Filter
}
