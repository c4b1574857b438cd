// Package keystore implements the on-disk record a keygen or reshare
// ceremony produces: one peer's secret share, every participant's public
// verification share, and any scheme-specific material (e.g. Paillier keys for GG18), persisted
// under assets/<player_name>@<key_id>.keystore in the same canonical CBOR
// encoding used on the wire.
package keystore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/errs"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/sessionconfig"
)

var encMode, _ = cbor.CanonicalEncOptions().EncMode()

// Dir is the default directory keystore files are written under and read
// from, relative to the process's working directory.
const Dir = "assets"

// Keystore is the opaque result of a keygen/reshare, owned by exactly one
// local index holder.
type Keystore struct {
	Algorithm sessionconfig.Algorithm `cbor:"algorithm"`
	// Index is this peer's participant label within the ceremony that
	// produced the key.
	Index     int `cbor:"index"`
	Threshold int `cbor:"threshold"`
	// GroupSize is the total number of participant labels in Commitments.
	GroupSize int `cbor:"group_size"`
	// SecretShare is this peer's aggregated secret share after the
	// protocol's final combine step.
	SecretShare []byte `cbor:"secret_share"`
	// Members maps each committee member's player name to its participant
	// label. Labels survive resharing (a member keeps its label, joiners
	// get fresh ones), so later ceremonies address the committee through
	// this map rather than recomputing indices from a session layout.
	Members map[string]int `cbor:"members,omitempty"`
	// Commitments holds every participant's public verification share (its
	// secret share times the base point), keyed by participant label; a
	// reshare hands these to joiners as the public half of the old sharing.
	Commitments map[int][]byte `cbor:"commitments"`
	PublicKey   []byte         `cbor:"public_key"`
	// Misc carries scheme-specific material: GG18 stores its whole CMP
	// config here (including every participant's Paillier and Pedersen
	// material) as a single JSON blob under the key "cmp_config".
	Misc map[string][]byte `cbor:"misc,omitempty"`
}

// Path returns the on-disk path for a given player and key id.
func Path(player, keyID string) string {
	return filepath.Join(Dir, fmt.Sprintf("%s@%s.keystore", player, keyID))
}

// Save serializes ks to Path(player, keyID), creating Dir if absent and
// overwriting any pre-existing file for the same (player, keyID) pair.
func Save(player, keyID string, ks *Keystore) error {
	if err := os.MkdirAll(Dir, 0o700); err != nil {
		return errs.Wrap(errs.Internal, "create keystore directory", err)
	}
	payload, err := encMode.Marshal(ks)
	if err != nil {
		return errs.Wrap(errs.Internal, "encode keystore", err)
	}
	path := Path(player, keyID)
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return errs.Wrapf(errs.Internal, err, "cannot write file %q", path)
	}
	return nil
}

// Load reads and decodes the keystore for (player, keyID).
func Load(player, keyID string) (*Keystore, error) {
	path := Path(player, keyID)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrapf(errs.Internal, err, "cannot read file %q", path)
	}
	var ks Keystore
	if err := cbor.Unmarshal(raw, &ks); err != nil {
		return nil, errs.Wrapf(errs.Internal, err, "decode keystore %q", path)
	}
	return &ks, nil
}
