// Package architecture resolves a session configuration's player layout,
// together with one peer's own name, into the numeric committee labelling
// every peer computes identically: a synthetic root department prepended to
// whichever real departments the configuration names, global player indices
// assigned by lexical enumeration, and this peer's own sub-indices.
package architecture

import (
	"sort"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/errs"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/sessionconfig"
)

// rootDepartment is the synthetic department prepended ahead of every real
// one; the empty name sorts first under lexical ordering, so no special
// ordering logic is needed once it is added to the department map.
const rootDepartment = ""

// Architecture is one peer's resolution of a session configuration.
type Architecture struct {
	// IDict maps each global player-index this peer holds to the numeric
	// index of the department it was assigned in. Empty for a peer that does
	// not attend at all (the mnemonic-import ghost provider).
	IDict map[int]int
	// ThDict maps a department's numeric index to its threshold.
	ThDict map[int]int
	// Players maps a department's numeric index to the set of global
	// player-indices attending it.
	Players map[int]map[int]struct{}
	// DeptIndex maps a department name to its assigned numeric index, kept
	// for diagnostics and tests.
	DeptIndex map[string]int
	// RootIndexByName maps each attending player's name to its global index
	// within the synthetic root department — the identity the protocol
	// engine addresses that player by in a whole-committee ceremony.
	RootIndexByName map[string]int
}

// Resolve computes the Architecture for localPlayer against cfg's player
// layout. Every peer given the same cfg computes the same global labelling;
// only IDict (this peer's own sub-indices) differs peer to peer.
func Resolve(cfg *sessionconfig.Config, localPlayer string) (*Architecture, error) {
	return resolveLayout(cfg.Players, cfg.Threshold, localPlayer)
}

// ResolveReshared is Resolve but against the post-reshare committee layout.
func ResolveReshared(cfg *sessionconfig.Config, localPlayer string) (*Architecture, error) {
	if cfg.PlayersReshared == nil {
		return nil, errs.New(errs.InvalidArgument, "session config has no players_reshared layout")
	}
	threshold := cfg.Threshold
	return resolveLayout(*cfg.PlayersReshared, threshold, localPlayer)
}

func resolveLayout(layout sessionconfig.PlayerLayout, rootThreshold int, localPlayer string) (*Architecture, error) {
	depts := departmentsOf(layout)

	// Prepend the synthetic root department: attending iff attending in at
	// least one real department (logical OR), threshold = the config's root
	// threshold.
	rootPlayers := map[string]bool{}
	for _, dept := range depts {
		for name, attending := range dept.Players {
			if attending {
				rootPlayers[name] = true
			}
		}
	}
	depts[rootDepartment] = sessionconfig.Department{
		Name:      rootDepartment,
		Threshold: rootThreshold,
		Players:   rootPlayers,
	}

	deptNames := make([]string, 0, len(depts))
	for name := range depts {
		deptNames = append(deptNames, name)
	}
	sort.Strings(deptNames)

	arch := &Architecture{
		IDict:           map[int]int{},
		ThDict:          map[int]int{},
		Players:         map[int]map[int]struct{}{},
		DeptIndex:       map[string]int{},
		RootIndexByName: map[string]int{},
	}

	globalIndex := 0
	attendingSlots := 0
	totalPlayersEntries := 0
	for deptIdx, name := range deptNames {
		deptIdx++ // 1-based; the synthetic root department sorts first and gets 1
		dept := depts[name]
		arch.ThDict[deptIdx] = dept.Threshold
		arch.DeptIndex[name] = deptIdx
		arch.Players[deptIdx] = map[int]struct{}{}

		playerNames := make([]string, 0, len(dept.Players))
		for player := range dept.Players {
			playerNames = append(playerNames, player)
		}
		sort.Strings(playerNames)

		for _, player := range playerNames {
			globalIndex++
			if !dept.Players[player] {
				continue
			}
			arch.Players[deptIdx][globalIndex] = struct{}{}
			totalPlayersEntries++
			if name == rootDepartment {
				arch.RootIndexByName[player] = globalIndex
			} else {
				attendingSlots++
			}
			if player == localPlayer && localPlayer != "" {
				arch.IDict[globalIndex] = deptIdx
			}
		}
	}

	// Sanity check documented in the design notes: every configured player
	// must appear. This only holds because the root department was added
	// above; callers must not "fix" it for overlapping grouped layouts.
	if totalPlayersEntries != 2*attendingSlots {
		return nil, errs.Newf(errs.Internal, "architecture: attendance accounting mismatch: %d player-slots, expected %d", totalPlayersEntries, 2*attendingSlots)
	}

	return arch, nil
}

func departmentsOf(layout sessionconfig.PlayerLayout) map[string]sessionconfig.Department {
	if layout.IsGrouped() {
		out := make(map[string]sessionconfig.Department, len(layout.Grouped))
		for name, dept := range layout.Grouped {
			out[name] = dept
		}
		return out
	}
	// A flat layout is wrapped as a single synthetic department named "flat",
	// so it never collides with the prepended "" root.
	return map[string]sessionconfig.Department{
		"flat": {
			Name:      "flat",
			Threshold: len(layout.Flat),
			Players:   layout.Flat,
		},
	}
}

// LocalIndexSet returns the set of this peer's own global player indices
// (the keys of IDict) as a sorted slice.
func (a *Architecture) LocalIndexSet() []int {
	out := make([]int, 0, len(a.IDict))
	for idx := range a.IDict {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// ContainsInDept reports whether globalIndex attends department deptIdx.
func (a *Architecture) ContainsInDept(deptIdx, globalIndex int) bool {
	set, ok := a.Players[deptIdx]
	if !ok {
		return false
	}
	_, ok = set[globalIndex]
	return ok
}

// RootIndex is the numeric index assigned to the synthetic root department;
// it is always 1 because "" sorts first lexically.
func (a *Architecture) RootIndex() int {
	return a.DeptIndex[rootDepartment]
}

// RootLocalIndex returns this peer's global player-index within the
// synthetic root department, the identity the protocol engine addresses
// participants by for any ceremony spanning the whole committee. ok is false
// for a peer that does not attend at all (the mnemonic-import ghost
// provider), which holds no slot in any department.
func (a *Architecture) RootLocalIndex() (idx int, ok bool) {
	root := a.RootIndex()
	for globalIndex, deptIdx := range a.IDict {
		if deptIdx == root {
			return globalIndex, true
		}
	}
	return 0, false
}

// RootParticipants returns the sorted global player-indices attending the
// synthetic root department: the full committee for a whole-group ceremony.
func (a *Architecture) RootParticipants() []int {
	set := a.Players[a.RootIndex()]
	out := make([]int, 0, len(set))
	for idx := range set {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}
