// Package sessionconfig implements the immutable session configuration
// record: the algorithm selector, the session-manager endpoint, the root
// threshold, and the player layout (flat or grouped by department).
package sessionconfig

import (
	"fmt"
	"sort"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/errs"
)

// Curve is the elliptic curve half of the algorithm selector.
type Curve string

const (
	Secp256k1 Curve = "secp256k1"
	Ed25519   Curve = "ed25519"
)

// Scheme is the signature-scheme half of the algorithm selector.
type Scheme string

const (
	ElGamal Scheme = "ElGamal"
	Schnorr Scheme = "Schnorr"
)

// Algorithm is the (curve, scheme) pair naming one supported ceremony type.
type Algorithm struct {
	Curve  Curve  `cbor:"curve"`
	Scheme Scheme `cbor:"scheme"`
}

func (a Algorithm) String() string {
	return fmt.Sprintf("%s/%s", a.Curve, a.Scheme)
}

// Department is a named sub-committee within a grouped layout.
type Department struct {
	Name      string          `cbor:"name"`
	Threshold int             `cbor:"threshold"`
	Players   map[string]bool `cbor:"players"`
}

// PlayerLayout is the sum type describing who attends a ceremony: either a
// flat map of player name to attending flag, or a set of named departments
// each with their own sub-threshold.
type PlayerLayout struct {
	// Flat is non-nil for a flat layout.
	Flat map[string]bool `cbor:"flat,omitempty"`
	// Grouped is non-nil for a grouped (departmental) layout.
	Grouped map[string]Department `cbor:"grouped,omitempty"`
}

// IsGrouped reports whether this layout uses departments.
func (l PlayerLayout) IsGrouped() bool {
	return l.Grouped != nil
}

// AllPlayerNames returns every player name appearing anywhere in the layout,
// deduplicated.
func (l PlayerLayout) AllPlayerNames() []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	if l.IsGrouped() {
		for _, dept := range l.Grouped {
			for name := range dept.Players {
				add(name)
			}
		}
	} else {
		for name := range l.Flat {
			add(name)
		}
	}
	return out
}

// AttendingCount returns the number of distinct attending players across the
// whole layout (a player attending in more than one department is counted
// once).
func (l PlayerLayout) AttendingCount() int {
	seen := map[string]struct{}{}
	if l.IsGrouped() {
		for _, dept := range l.Grouped {
			for name, attending := range dept.Players {
				if attending {
					seen[name] = struct{}{}
				}
			}
		}
	} else {
		for name, attending := range l.Flat {
			if attending {
				seen[name] = struct{}{}
			}
		}
	}
	return len(seen)
}

// AllAttend reports whether every player named anywhere in the layout has
// its attending flag set, the precondition keygen and keygen-mnem enforce.
func (l PlayerLayout) AllAttend() bool {
	return l.AttendingCount() == len(l.AllPlayerNames())
}

// AttendingNames returns the distinct attending player names across the
// whole layout, sorted lexically.
func (l PlayerLayout) AttendingNames() []string {
	seen := map[string]struct{}{}
	add := func(name string, attending bool) {
		if attending {
			seen[name] = struct{}{}
		}
	}
	if l.IsGrouped() {
		for _, dept := range l.Grouped {
			for name, attending := range dept.Players {
				add(name, attending)
			}
		}
	} else {
		for name, attending := range l.Flat {
			add(name, attending)
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate checks the layout invariants from the data model: non-empty,
// unique player names (globally for flat layouts, per-department for
// grouped ones) and in-range per-department thresholds.
func (l PlayerLayout) Validate() error {
	if l.IsGrouped() {
		if len(l.Grouped) == 0 {
			return errs.New(errs.InvalidArgument, "grouped layout has no departments")
		}
		for name, dept := range l.Grouped {
			if name == "" {
				return errs.New(errs.InvalidArgument, "department name must not be empty")
			}
			attending := 0
			for player, isAttending := range dept.Players {
				if player == "" {
					return errs.Newf(errs.InvalidArgument, "department %q has an empty player name", name)
				}
				if isAttending {
					attending++
				}
			}
			if dept.Threshold < 1 || dept.Threshold > attending {
				return errs.Newf(errs.InvalidArgument, "department %q threshold %d out of range [1,%d]", name, dept.Threshold, attending)
			}
		}
		return nil
	}
	if len(l.Flat) == 0 {
		return errs.New(errs.InvalidArgument, "flat layout has no players")
	}
	for player := range l.Flat {
		if player == "" {
			return errs.New(errs.InvalidArgument, "player name must not be empty")
		}
	}
	return nil
}

// Config is the immutable, once-per-ceremony session configuration.
type Config struct {
	Algorithm Algorithm `cbor:"algorithm"`
	SesmanURL string    `cbor:"sesman_url"`
	// SessionID is optional at create time; the session manager fills it in
	// with a freshly minted UUIDv7 when empty.
	SessionID string       `cbor:"session_id,omitempty"`
	Threshold int          `cbor:"threshold"`
	Players   PlayerLayout `cbor:"players"`
	// PlayersReshared describes the post-reshare committee; only present for
	// reshare ceremonies.
	PlayersReshared *PlayerLayout `cbor:"players_reshared,omitempty"`
}

// Validate checks every invariant from the data model section: player name
// uniqueness/non-emptiness, and the root threshold range.
func (c *Config) Validate() error {
	if err := c.Players.Validate(); err != nil {
		return err
	}
	total := c.Players.AttendingCount()
	if c.Threshold < 1 || c.Threshold > total {
		return errs.Newf(errs.InvalidArgument, "root threshold %d out of range [1,%d]", c.Threshold, total)
	}
	if c.PlayersReshared != nil {
		if err := c.PlayersReshared.Validate(); err != nil {
			return err
		}
	}
	return nil
}
