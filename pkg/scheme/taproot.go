package scheme

import (
	"context"

	"github.com/luxfi/threshold/pkg/math/curve"
	"github.com/luxfi/threshold/pkg/party"
	"github.com/luxfi/threshold/pkg/protocol"
	"github.com/luxfi/threshold/pkg/taproot"
	"github.com/luxfi/threshold/protocols/frost"
	frostconfig "github.com/luxfi/threshold/protocols/frost/keygen"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/errs"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/keystore"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/messenger"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/sessionconfig"
	rpcpeer "github.com/taiyi-research-institute/svarog-service-flat/rpc/peer"
)

// taprootAdapter wraps protocols/frost over Secp256k1, for the
// secp256k1/Schnorr ("taproot") algorithm pair. The protocol engine itself
// detects the BIP-340 x-only tweak from the curve and returns a
// taproot.Signature instead of frost.Signature's generic R/S pair.
type taprootAdapter struct{}

var _ Adapter = taprootAdapter{}

func (taprootAdapter) group() curve.Curve { return curve.Secp256k1{} }

func (taprootAdapter) algo() sessionconfig.Algorithm {
	return sessionconfig.Algorithm{Curve: sessionconfig.Secp256k1, Scheme: sessionconfig.Schnorr}
}

func (a taprootAdapter) Keygen(ctx context.Context, c Ceremony) (*keystore.Keystore, error) {
	group := a.group()
	self := id(c.LocalIndex)
	participants := ids(c.Participants)

	h, err := protocol.NewMultiHandler(frost.Keygen(group, self, participants, c.Threshold), nil)
	if err != nil {
		return nil, errs.Wrap(errs.ThreadFailed, "exception", err)
	}
	result, err := runHandler(ctx, h, c.Messenger, self, participants)
	if err != nil {
		return nil, err
	}
	cfg, ok := result.(*frostconfig.Config)
	if !ok {
		return nil, errs.New(errs.Internal, "taproot keygen returned unexpected result type")
	}
	return frostConfigToKeystore(a.algo(), group, cfg)
}

func (a taprootAdapter) Sign(ctx context.Context, c Ceremony, ks *keystore.Keystore, digests [][]byte, derivationPaths []string) ([]rpcpeer.Signature, error) {
	if err := requireAlgorithm(ks, a.algo()); err != nil {
		return nil, err
	}
	group := a.group()
	rootCfg, err := keystoreToFrostConfig(group, ks)
	if err != nil {
		return nil, err
	}
	self := id(c.LocalIndex)
	signers := ids(c.Participants)

	out := make([]rpcpeer.Signature, len(digests))
	for i, digest := range digests {
		// The protocol engine has no tweak entry point of its own, so the
		// derivation path is applied by hand against a per-task copy of the
		// root config, the same way frostAdapter.Sign does it (clone before
		// shifting, scalar ops mutate their receiver).
		cfg := *rootCfg
		tweak, tweakedPub, err := derivationTweak(group, rootCfg.PublicKey, derivationPaths[i])
		if err != nil {
			return nil, err
		}
		cfg.PrivateShare = group.NewScalar().Set(rootCfg.PrivateShare).Add(tweak)
		cfg.PublicKey = tweakedPub
		tweakedShares := make(map[party.ID]curve.Point, len(cfg.VerificationShares.Points))
		for pid, share := range cfg.VerificationShares.Points {
			tweakedShares[pid] = share.Add(tweak.ActOnBase())
		}
		cfg.VerificationShares = party.NewPointMap(tweakedShares)

		h, err := protocol.NewMultiHandler(frost.Sign(&cfg, signers, digest), nil)
		if err != nil {
			return nil, errs.Wrap(errs.ThreadFailed, "exception", err)
		}
		result, err := runHandler(ctx, h, c.Messenger, self, signers)
		if err != nil {
			return nil, err
		}
		sig, err := taprootResultToSignature(result)
		if err != nil {
			return nil, err
		}
		out[i] = sig
	}
	return out, nil
}

// Reshare re-shares the key onto the post-reshare committee via
// shamirReshare, the same way frostAdapter.Reshare does.
func (a taprootAdapter) Reshare(ctx context.Context, m *messenger.Messenger, in ReshareInput) (*keystore.Keystore, error) {
	group := a.group()
	var secret curve.Scalar
	if in.Keystore != nil {
		if err := requireAlgorithm(in.Keystore, a.algo()); err != nil {
			return nil, err
		}
		secret = group.NewScalar()
		if err := secret.UnmarshalBinary(in.Keystore.SecretShare); err != nil {
			return nil, errs.Wrap(errs.Internal, "decode taproot private share", err)
		}
	}
	plan, err := planReshare(ctx, m, in)
	if err != nil {
		return nil, err
	}
	cfg, err := shamirReshare(ctx, m, group, plan, in.NewThreshold, secret)
	if err != nil || cfg == nil {
		return nil, err
	}
	return lssConfigToKeystore(a.algo(), cfg, plan.newLabels)
}

// taprootResultToSignature converts a completed FROST sign handler result
// over Secp256k1 into the wire form. Per the scheme adapter's to_proto rule
// for secp256k1 Schnorr, r is the BIP-340 x-only coordinate rather than a
// full compressed point; v is always 0, there being no recovery concept for
// Schnorr signatures.
func taprootResultToSignature(result interface{}) (rpcpeer.Signature, error) {
	sig, ok := result.(*taproot.Signature)
	if !ok {
		return rpcpeer.Signature{}, errs.New(errs.Internal, "taproot sign returned unexpected result type")
	}
	return rpcpeer.Signature{R: sig.R, S: sig.S, V: 0}, nil
}
