package scheme

import (
	"context"
	"strings"

	"github.com/luxfi/threshold/pkg/ecdsa"
	"github.com/luxfi/threshold/pkg/math/curve"
	"github.com/luxfi/threshold/pkg/party"
	"github.com/luxfi/threshold/pkg/pool"
	"github.com/luxfi/threshold/pkg/protocol"
	"github.com/luxfi/threshold/protocols/cmp"
	cmpconfig "github.com/luxfi/threshold/protocols/cmp/config"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/errs"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/keystore"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/messenger"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/sessionconfig"
	rpcpeer "github.com/taiyi-research-institute/svarog-service-flat/rpc/peer"
)

// gg18Adapter wraps protocols/cmp for the secp256k1/ElGamal algorithm pair.
// Its keystore Misc blob carries the participants' Paillier public keys and
// shared modulus dictionary the CMP config keeps internally.
type gg18Adapter struct{}

var _ Adapter = gg18Adapter{}

func (gg18Adapter) algo() sessionconfig.Algorithm {
	return sessionconfig.Algorithm{Curve: sessionconfig.Secp256k1, Scheme: sessionconfig.ElGamal}
}

func (gg18Adapter) Keygen(ctx context.Context, c Ceremony) (*keystore.Keystore, error) {
	group := curve.Secp256k1{}
	self := id(c.LocalIndex)
	participants := ids(c.Participants)

	pl := pool.NewPool(0)
	defer pl.TearDown()

	h, err := protocol.NewMultiHandler(cmp.Keygen(group, self, participants, c.Threshold, pl), nil)
	if err != nil {
		return nil, errs.Wrap(errs.ThreadFailed, "exception", err)
	}
	result, err := runHandler(ctx, h, c.Messenger, self, participants)
	if err != nil {
		return nil, err
	}
	cfg, ok := result.(*cmp.Config)
	if !ok {
		return nil, errs.New(errs.Internal, "gg18 keygen returned unexpected result type")
	}
	return cmpConfigToKeystore(cfg)
}

func (a gg18Adapter) Sign(ctx context.Context, c Ceremony, ks *keystore.Keystore, digests [][]byte, derivationPaths []string) ([]rpcpeer.Signature, error) {
	if err := requireAlgorithm(ks, a.algo()); err != nil {
		return nil, err
	}
	self := id(c.LocalIndex)
	signers := ids(c.Participants)

	pl := pool.NewPool(0)
	defer pl.TearDown()

	out := make([]rpcpeer.Signature, len(digests))
	for i, digest := range digests {
		// The protocol engine has no tweak entry point of its own, so the
		// derivation path is applied by hand: every signer independently
		// shifts its own ECDSA share (and every participant's public share)
		// by the same deterministic offset before presigning. A fresh
		// config is decoded per task since tasks in the same batch may
		// carry different paths and the shift must not accumulate across
		// them.
		cfg, err := keystoreToCMPConfig(ks)
		if err != nil {
			return nil, err
		}
		tweak, _, err := derivationTweak(cfg.Group, cfg.PublicPoint(), derivationPaths[i])
		if err != nil {
			return nil, err
		}
		cfg.ECDSA = cfg.ECDSA.Add(tweak)
		for _, pub := range cfg.Public {
			pub.ECDSA = pub.ECDSA.Add(tweak.ActOnBase())
		}

		// CMP signs in two rounds of conversation: a message-independent
		// presign, then a fast online round that consumes the actual digest.
		presignH, err := protocol.NewMultiHandler(cmp.Presign(cfg, signers, pl), nil)
		if err != nil {
			return nil, errs.Wrap(errs.ThreadFailed, "exception", err)
		}
		presignResult, err := runHandler(ctx, presignH, c.Messenger, self, signers)
		if err != nil {
			return nil, err
		}
		preSig, ok := presignResult.(*ecdsa.PreSignature)
		if !ok {
			return nil, errs.New(errs.Internal, "gg18 presign returned unexpected result type")
		}

		onlineH, err := protocol.NewMultiHandler(cmp.PresignOnline(cfg, preSig, digest, pl), nil)
		if err != nil {
			return nil, errs.Wrap(errs.ThreadFailed, "exception", err)
		}
		result, err := runHandler(ctx, onlineH, c.Messenger, self, signers)
		if err != nil {
			return nil, err
		}
		sig, err := ecdsaResultToSignature(result)
		if err != nil {
			return nil, err
		}
		out[i] = sig
	}
	return out, nil
}

// Reshare re-shares the key onto the post-reshare committee. A
// same-committee call refreshes the ECDSA sharing in place via
// shamirReshare while leaving the Paillier and Pedersen material in
// cfg.Public untouched: that material depends only on which parties hold a
// share, not on the Shamir polynomial's secret value. A committee change
// drives the engine's CMP-native dynamic reshare instead, which hands
// joiners a share of the existing key and regenerates the auxiliary
// material for the new committee, preserving the public key.
func (a gg18Adapter) Reshare(ctx context.Context, m *messenger.Messenger, in ReshareInput) (*keystore.Keystore, error) {
	if in.Keystore != nil {
		if err := requireAlgorithm(in.Keystore, a.algo()); err != nil {
			return nil, err
		}
	}
	plan, err := planReshare(ctx, m, in)
	if err != nil {
		return nil, err
	}

	if in.Keystore != nil && plan.sameCommittee(in.NewThreshold) {
		cfg, cerr := keystoreToCMPConfig(in.Keystore)
		if cerr != nil {
			return nil, cerr
		}
		reshared, rerr := shamirReshare(ctx, m, cfg.Group, plan, in.NewThreshold, cfg.ECDSA)
		if rerr != nil {
			return nil, rerr
		}
		cfg.ECDSA = reshared.ECDSA
		for pid, pub := range cfg.Public {
			pub.ECDSA = reshared.Public[pid].ECDSA
		}
		ks, kerr := cmpConfigToKeystore(cfg)
		if kerr != nil {
			return nil, kerr
		}
		ks.Members = plan.newLabels
		return ks, nil
	}

	group := curve.Secp256k1{}
	var oldCfg *cmp.Config
	if in.Keystore != nil {
		oldCfg, err = keystoreToCMPConfig(in.Keystore)
		if err != nil {
			return nil, err
		}
	} else {
		// A joiner has no config of its own; the dynamic reshare only
		// reads the old party set, the group, and the caller's identity
		// off it, so a shell with the old committee's labels suffices.
		oldCfg = cmpconfig.EmptyConfig(group)
		oldCfg.ID = id(plan.selfLabel)
		if oldCfg.Public == nil {
			oldCfg.Public = map[party.ID]*cmpconfig.Public{}
		}
		for _, label := range plan.oldLabels {
			oldCfg.Public[id(label)] = &cmpconfig.Public{}
		}
	}

	pl := pool.NewPool(0)
	defer pl.TearDown()

	h, err := protocol.NewMultiHandler(cmp.DynamicReshare(oldCfg, plan.newParticipants(), in.NewThreshold, pl), nil)
	if err != nil {
		return nil, errs.Wrap(errs.ThreadFailed, "exception", err)
	}
	result, err := runHandler(ctx, h, m, id(plan.selfLabel), plan.participants())
	if err != nil {
		if !plan.staying && strings.Contains(err.Error(), leftGroupMarker) {
			return nil, nil
		}
		return nil, err
	}
	if !plan.staying {
		return nil, nil
	}
	newCfg, ok := result.(*cmp.Config)
	if !ok {
		return nil, errs.New(errs.Internal, "gg18 reshare returned unexpected result type")
	}
	// The engine leaves result filtering to its caller: the run spans the
	// union of both committees, so departed members are dropped here.
	keep := map[party.ID]struct{}{}
	for _, pid := range plan.newParticipants() {
		keep[pid] = struct{}{}
	}
	for pid := range newCfg.Public {
		if _, stays := keep[pid]; !stays {
			delete(newCfg.Public, pid)
		}
	}
	ks, err := cmpConfigToKeystore(newCfg)
	if err != nil {
		return nil, err
	}
	ks.Members = plan.newLabels
	return ks, nil
}
