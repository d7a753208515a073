package controller

import (
	"context"
	"sort"

	"golang.org/x/xerrors"

	"github.com/wepogo/hilbot"
	"github.com/wepogo/hilbot/instancedb"
	"github.com/wepogo/hilbot/log"
)

// incompatiblePlatforms lists platform pairs that must not run on one
// agent at the same time even though each alone is fine: they share
// single-instance tooling (e.g. both Nordic platforms go through one
// JLink install).
var incompatiblePlatforms = [][2]string{
	{"nrf5sdk", "zephyr"},
}

func platformsClash(a, b string) bool {
	for _, pair := range incompatiblePlatforms {
		if (pair[0] == a && pair[1] == b) || (pair[0] == b && pair[1] == a) {
			return true
		}
	}
	return false
}

// Allocate assigns every instance to an agent using a two-phase
// greedy heuristic: first the least-busy capable agent without an
// incompatible-platform neighbor, then (so the run can always make
// progress) the least-busy capable agent regardless. An instance no
// agent is capable of aborts the whole allocation; every lock taken
// so far is released. Agents left with nothing are released and
// dropped.
func Allocate(ctx context.Context, db *instancedb.DB, caller string, instances []hilbot.Instance, agents []*RemoteAgent) ([]*RemoteAgent, error) {
	unplaced := make([]hilbot.Instance, 0, len(instances))

	for _, in := range instances {
		agent := pickAgent(db, agents, in, true)
		if agent == nil {
			unplaced = append(unplaced, in)
			continue
		}
		agent.Allocated = append(agent.Allocated, in)
	}

	for _, in := range unplaced {
		agent := pickAgent(db, agents, in, false)
		if agent == nil {
			for _, r := range agents {
				r.unlock(ctx, caller)
			}
			return nil, xerrors.Errorf("no agent is capable of instance %v", in)
		}
		log.Printkv(ctx, "at", "allocate-forced", "instance", in, "agent", agent.Name)
		agent.Allocated = append(agent.Allocated, in)
	}

	var kept []*RemoteAgent
	for _, r := range agents {
		if len(r.Allocated) == 0 {
			r.unlock(ctx, caller)
			continue
		}
		hilbot.SortInstances(r.Allocated)
		kept = append(kept, r)
		log.Printkv(ctx, "at", "allocate", "agent", r.Name,
			"instances", len(r.Allocated), "load", r.load(db))
	}
	return kept, nil
}

// pickAgent returns the least-busy agent capable of in. With strict
// set, agents already holding a platform incompatible with in's are
// passed over.
func pickAgent(db *instancedb.DB, agents []*RemoteAgent, in hilbot.Instance, strict bool) *RemoteAgent {
	platform := db.PlatformFor(in)

	sorted := append([]*RemoteAgent(nil), agents...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].load(db) < sorted[j].load(db)
	})

	for _, r := range sorted {
		if !r.Capable(in) {
			continue
		}
		if strict && hasClash(db, r, platform) {
			continue
		}
		return r
	}
	return nil
}

func hasClash(db *instancedb.DB, r *RemoteAgent, platform string) bool {
	for _, other := range r.Allocated {
		if platformsClash(platform, db.PlatformFor(other)) {
			return true
		}
	}
	for _, other := range r.Running {
		if platformsClash(platform, db.PlatformFor(other)) {
			return true
		}
	}
	return false
}
