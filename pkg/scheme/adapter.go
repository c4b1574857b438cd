package scheme

import (
	"context"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/errs"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/keystore"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/messenger"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/sessionconfig"
	rpcpeer "github.com/taiyi-research-institute/svarog-service-flat/rpc/peer"
)

// Ceremony is everything an Adapter needs to drive one round-based protocol
// run: the messenger to exchange rounds over, this peer's own participant
// label, the full participant set (including self), and the threshold.
type Ceremony struct {
	Messenger    *messenger.Messenger
	LocalIndex   int
	Participants []int
	Threshold    int
}

// ReshareInput describes one peer's role in a resharing ceremony. A member
// of the pre-reshare committee supplies its Keystore; a joiner that holds
// no share yet leaves it nil and learns the old committee's public sharing
// over the relay before the protocol rounds start. Participant labels are
// not carried here: existing members keep the labels recorded in their
// keystore's Members map, and joiners are assigned fresh ones, so the two
// committees never collide in one protocol run.
type ReshareInput struct {
	// Keystore is the caller's pre-reshare key material; nil for a joiner.
	Keystore *keystore.Keystore
	// NewMembers is the post-reshare committee's attending player names.
	NewMembers []string
	// SelfName is the calling player's own name.
	SelfName string
	// NewThreshold is the post-reshare signing threshold.
	NewThreshold int
}

// Adapter is the uniform conversion between this repo's keystore/signature
// representation and one (curve, scheme) protocol's wire format and
// round-driving calls.
type Adapter interface {
	// Keygen runs a fresh distributed key generation and returns the
	// resulting keystore.
	Keygen(ctx context.Context, c Ceremony) (*keystore.Keystore, error)
	// Sign produces one signature per task, in request order, all signers
	// agreeing task-by-task.
	Sign(ctx context.Context, c Ceremony, ks *keystore.Keystore, digests [][]byte, derivationPaths []string) ([]rpcpeer.Signature, error)
	// Reshare re-shares an existing key onto the post-reshare committee,
	// preserving the group public key: same-committee calls refresh the
	// sharing in place, committee changes hand joiners a share of the
	// existing key. A departing member (in the old committee, not the new)
	// completes its provider role and returns a nil keystore.
	Reshare(ctx context.Context, m *messenger.Messenger, in ReshareInput) (*keystore.Keystore, error)
}

// requireAlgorithm asserts a loaded keystore really belongs to the scheme
// the caller is about to drive; a keystore written by one adapter must
// never be decoded by another.
func requireAlgorithm(ks *keystore.Keystore, algo sessionconfig.Algorithm) error {
	if ks.Algorithm != algo {
		return errs.Newf(errs.InvalidArgument, "keystore algorithm %s does not match requested %s", ks.Algorithm, algo)
	}
	return nil
}

// Select dispatches on (curve, scheme) to the concrete adapter, exactly as
// the peer orchestrator's step 4 requires; unrecognized combinations fail
// with NotImplemented.
func Select(alg sessionconfig.Algorithm) (Adapter, error) {
	switch {
	case alg.Curve == sessionconfig.Secp256k1 && alg.Scheme == sessionconfig.ElGamal:
		return gg18Adapter{}, nil
	case alg.Curve == sessionconfig.Ed25519 && alg.Scheme == sessionconfig.Schnorr:
		return frostAdapter{}, nil
	case alg.Curve == sessionconfig.Secp256k1 && alg.Scheme == sessionconfig.Schnorr:
		return taprootAdapter{}, nil
	default:
		return nil, errs.Newf(errs.NotImplemented, "unsupported algorithm %s", alg)
	}
}
