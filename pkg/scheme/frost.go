package scheme

import (
	"context"

	"github.com/luxfi/threshold/pkg/math/curve"
	"github.com/luxfi/threshold/pkg/party"
	"github.com/luxfi/threshold/pkg/protocol"
	"github.com/luxfi/threshold/protocols/frost"
	frostconfig "github.com/luxfi/threshold/protocols/frost/keygen"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/errs"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/keystore"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/messenger"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/sessionconfig"
	rpcpeer "github.com/taiyi-research-institute/svarog-service-flat/rpc/peer"
)

// frostAdapter wraps protocols/frost over Edwards25519, for the
// ed25519/Schnorr algorithm pair.
type frostAdapter struct{}

var _ Adapter = frostAdapter{}

func (frostAdapter) group() curve.Curve { return curve.Edwards25519{} }

func (frostAdapter) algo() sessionconfig.Algorithm {
	return sessionconfig.Algorithm{Curve: sessionconfig.Ed25519, Scheme: sessionconfig.Schnorr}
}

func (a frostAdapter) Keygen(ctx context.Context, c Ceremony) (*keystore.Keystore, error) {
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
		return nil, errs.New(errs.Internal, "frost keygen returned unexpected result type")
	}
	return frostConfigToKeystore(a.algo(), group, cfg)
}

func (a frostAdapter) Sign(ctx context.Context, c Ceremony, ks *keystore.Keystore, digests [][]byte, derivationPaths []string) ([]rpcpeer.Signature, error) {
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
		// root config (tasks in the same batch may carry different paths,
		// so the shift must not accumulate across them). Scalar ops mutate
		// their receiver, so the private share is cloned before shifting.
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
		sig, err := edwardsResultToSignature(result)
		if err != nil {
			return nil, err
		}
		out[i] = sig
	}
	return out, nil
}

// Reshare re-shares the key onto the post-reshare committee via
// shamirReshare: a same-committee call refreshes the sharing in place, a
// committee change hands joiners a share of the existing key. Either way
// the group public key is preserved; a departing member completes its
// provider rounds and returns no keystore.
func (a frostAdapter) Reshare(ctx context.Context, m *messenger.Messenger, in ReshareInput) (*keystore.Keystore, error) {
	group := a.group()
	var secret curve.Scalar
	if in.Keystore != nil {
		if err := requireAlgorithm(in.Keystore, a.algo()); err != nil {
			return nil, err
		}
		secret = group.NewScalar()
		if err := secret.UnmarshalBinary(in.Keystore.SecretShare); err != nil {
			return nil, errs.Wrap(errs.Internal, "decode frost private share", err)
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

func frostConfigToKeystore(algo sessionconfig.Algorithm, group curve.Curve, cfg *frostconfig.Config) (*keystore.Keystore, error) {
	selfIdx, err := partyIndex(cfg.ID)
	if err != nil {
		return nil, err
	}
	share, err := cfg.PrivateShare.MarshalBinary()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "encode frost private share", err)
	}
	pub, err := cfg.PublicKey.MarshalBinary()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "encode frost public key", err)
	}
	commitments := map[int][]byte{}
	for pid, point := range cfg.VerificationShares.Points {
		idx, perr := partyIndex(pid)
		if perr != nil {
			return nil, perr
		}
		enc, merr := point.MarshalBinary()
		if merr != nil {
			return nil, errs.Wrap(errs.Internal, "encode frost verification share", merr)
		}
		commitments[int(idx)] = enc
	}
	return &keystore.Keystore{
		Algorithm:   algo,
		Index:       int(selfIdx),
		Threshold:   cfg.Threshold,
		GroupSize:   len(cfg.VerificationShares.Points),
		SecretShare: share,
		Commitments: commitments,
		PublicKey:   pub,
	}, nil
}

func keystoreToFrostConfig(group curve.Curve, ks *keystore.Keystore) (*frostconfig.Config, error) {
	share := group.NewScalar()
	if err := share.UnmarshalBinary(ks.SecretShare); err != nil {
		return nil, errs.Wrap(errs.Internal, "decode frost private share", err)
	}
	pub := group.NewPoint()
	if err := pub.UnmarshalBinary(ks.PublicKey); err != nil {
		return nil, errs.Wrap(errs.Internal, "decode frost public key", err)
	}
	points := make(map[party.ID]curve.Point, len(ks.Commitments))
	for idx, enc := range ks.Commitments {
		p := group.NewPoint()
		if err := p.UnmarshalBinary(enc); err != nil {
			return nil, errs.Wrap(errs.Internal, "decode frost verification share", err)
		}
		points[id(idx)] = p
	}
	return &frostconfig.Config{
		ID:                 id(ks.Index),
		Threshold:          ks.Threshold,
		PrivateShare:       share,
		PublicKey:          pub,
		VerificationShares: party.NewPointMap(points),
	}, nil
}

// edwardsResultToSignature converts a completed FROST sign handler result
// over Edwards25519 into the wire form. r is the compressed Edwards point
// per the scheme adapter's to_proto rule for ed25519 Schnorr; no recovery
// byte applies, so v is always 0.
func edwardsResultToSignature(result interface{}) (rpcpeer.Signature, error) {
	sig, ok := result.(*frost.Signature)
	if !ok {
		return rpcpeer.Signature{}, errs.New(errs.Internal, "frost sign returned unexpected result type")
	}
	rBytes, err := sig.R.MarshalBinary()
	if err != nil {
		return rpcpeer.Signature{}, errs.Wrap(errs.Internal, "encode frost signature R", err)
	}
	sBytes, err := sig.S.MarshalBinary()
	if err != nil {
		return rpcpeer.Signature{}, errs.Wrap(errs.Internal, "encode frost signature S", err)
	}
	return rpcpeer.Signature{R: rBytes, S: sBytes, V: 0}, nil
}
