// Package selection decides which instances must run for a change.
// It maps the list of changed file paths to the smallest set of
// instances that covers the change, plus an optional test-name filter
// when the whole change is confined to a single API.
//
// The rules are deliberately conservative: anything the engine cannot
// attribute to a specific platform or API selects every instance in
// the database. Paths always use '/' regardless of host OS.
package selection

import (
	"path"
	"strings"

	"github.com/wepogo/hilbot"
	"github.com/wepogo/hilbot/instancedb"
)

// Static-check instances that run for every change set.
var (
	InstanceDoxygen     = hilbot.Instance{1}
	InstanceAStyle      = hilbot.Instance{2}
	InstancePyLint      = hilbot.Instance{3}
	InstanceStaticSize  = hilbot.Instance{4}
	InstanceHeaderCheck = hilbot.Instance{5} // ubxlib.h consistency
	InstanceMallocCheck = hilbot.Instance{6}
)

var alwaysRun = []hilbot.Instance{
	InstanceDoxygen,
	InstanceAStyle,
	InstancePyLint,
	InstanceStaticSize,
	InstanceHeaderCheck,
	InstanceMallocCheck,
}

// Files with these extensions cannot affect test outcomes...
var throwawayExts = map[string]bool{
	".md":        true,
	".txt":       true,
	".jpg":       true,
	".png":       true,
	".gitignore": true,
}

// ...unless they are one of these, which drive builds or the
// instance table itself.
var neverDiscard = map[string]bool{
	"DATABASE.md":    true,
	"CMakeLists.txt": true,
}

var codeExts = map[string]bool{
	".c":   true,
	".cpp": true,
	".h":   true,
	".hpp": true,
}

// wildcard marks the accumulated API as "cannot be expressed as one
// filter"; it forces every instance and clears the filter.
const wildcard = "*"

// Select maps changed file paths to instances and an optional filter
// string. The result is de-duplicated and sorted; calling Select
// twice with the same inputs returns the same result.
func Select(db *instancedb.DB, paths []string) ([]hilbot.Instance, string) {
	var insts []hilbot.Instance
	api := "" // single accumulated API name, or wildcard

	for _, p := range paths {
		base := path.Base(p)
		if throwawayExts[path.Ext(p)] && !neverDiscard[base] {
			continue
		}

		segs := strings.Split(p, "/")
		if i := indexOf(segs, "platform"); i >= 0 && i < len(segs)-1 {
			insts = append(insts, platformInstances(db, segs[i+1:])...)
		} else if codeExts[path.Ext(p)] {
			name, ok := apiDirParent(segs)
			if ok && db.HasAPI(name) {
				insts = append(insts, db.ForAPI(name)...)
				switch api {
				case "", name:
					api = name
				default:
					// two different APIs in one change set:
					// no single filter can express that
					api = wildcard
				}
			} else {
				api = wildcard
			}
		}

		if strings.HasSuffix(p, ".py") {
			insts = append(insts, InstancePyLint)
		}
	}

	if api == wildcard {
		insts = append(insts, db.All()...)
		api = ""
	}
	insts = append(insts, alwaysRun...)

	hilbot.SortInstances(insts)
	insts = hilbot.DedupeInstances(insts)
	return insts, snakeToCamel(api)
}

// platformInstances resolves the path segments that follow a
// "platform" directory. Unknown platforms select everything: an
// unrecognized platform directory means the engine's knowledge is
// stale, so assume the change affects all instances.
func platformInstances(db *instancedb.DB, segs []string) []hilbot.Instance {
	platform := segs[0]
	if platform == "common" {
		return db.All()
	}
	if !db.HasPlatform(platform) {
		return db.All()
	}
	if len(segs) >= 3 && segs[1] == "mcu" {
		mcu := segs[2]
		if len(segs) >= 4 && db.HasToolchain(platform, mcu, segs[3]) {
			if got := db.ForPlatformMCUToolchain(platform, mcu, segs[3]); len(got) > 0 {
				return got
			}
		}
		if got := db.ForPlatformMCU(platform, mcu); len(got) > 0 {
			return got
		}
		// no MCU-specific match; fall through to platform-wide
	}
	// a change anywhere else under the platform tree is
	// platform-wide
	return db.ForPlatform(platform)
}

// apiDirParent finds the first api/src/test directory in the path and
// returns the name of its parent directory, the candidate API name.
func apiDirParent(segs []string) (string, bool) {
	for i, s := range segs[:max(len(segs)-1, 0)] {
		if s == "api" || s == "src" || s == "test" {
			if i == 0 {
				return "", false
			}
			return segs[i-1], true
		}
	}
	return "", false
}

func indexOf(segs []string, name string) int {
	for i, s := range segs {
		if s == name {
			return i
		}
	}
	return -1
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// snakeToCamel converts a snake_case API name to the camelCase
// convention the on-target test names use: every "_x" becomes "X".
func snakeToCamel(s string) string {
	var b strings.Builder
	up := false
	for _, r := range s {
		switch {
		case r == '_':
			up = true
		case up:
			b.WriteString(strings.ToUpper(string(r)))
			up = false
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
