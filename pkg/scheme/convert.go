package scheme

import (
	"github.com/luxfi/threshold/pkg/ecdsa"
	"github.com/luxfi/threshold/pkg/math/curve"
	"github.com/luxfi/threshold/protocols/cmp"
	cmpconfig "github.com/luxfi/threshold/protocols/cmp/config"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/errs"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/keystore"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/sessionconfig"
	rpcpeer "github.com/taiyi-research-institute/svarog-service-flat/rpc/peer"
)

// cmpMiscKey is the Misc entry under which the whole CMP config (including
// the Paillier keys and modulus dictionary GG18 needs) is stashed, self
// describing via the upstream library's own JSON codec rather than a
// hand-rolled one.
const cmpMiscKey = "cmp_config"

func cmpConfigToKeystore(cfg *cmp.Config) (*keystore.Keystore, error) {
	payload, err := cfg.MarshalJSON()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "encode cmp config", err)
	}
	pub, err := cfg.PublicPoint().MarshalBinary()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "encode cmp public point", err)
	}
	selfIdx, err := partyIndex(cfg.ID)
	if err != nil {
		return nil, err
	}
	commitments := make(map[int][]byte, len(cfg.Public))
	for pid, public := range cfg.Public {
		idx, perr := partyIndex(pid)
		if perr != nil {
			return nil, perr
		}
		enc, merr := public.ECDSA.MarshalBinary()
		if merr != nil {
			return nil, errs.Wrap(errs.Internal, "encode cmp public share", merr)
		}
		commitments[int(idx)] = enc
	}
	return &keystore.Keystore{
		Algorithm:   sessionconfig.Algorithm{Curve: sessionconfig.Secp256k1, Scheme: sessionconfig.ElGamal},
		Index:       int(selfIdx),
		Threshold:   cfg.Threshold,
		GroupSize:   len(cfg.Public),
		Commitments: commitments,
		PublicKey:   pub,
		Misc:        map[string][]byte{cmpMiscKey: payload},
	}, nil
}

func keystoreToCMPConfig(ks *keystore.Keystore) (*cmp.Config, error) {
	payload, ok := ks.Misc[cmpMiscKey]
	if !ok {
		return nil, errs.New(errs.Internal, "keystore has no cmp_config blob")
	}
	cfg := cmpconfig.EmptyConfig(curve.Secp256k1{})
	if err := cfg.UnmarshalJSON(payload); err != nil {
		return nil, errs.Wrap(errs.Internal, "decode cmp config", err)
	}
	return cfg, nil
}

// ecdsaResultToSignature converts the result of a completed CMP sign
// handler (an *ecdsa.Signature) into the wire form: r and s as big-endian
// scalars, and the recovery id taken from R's encoded y-parity byte, per
// the scheme adapter's to_proto rule for recovery-capable curves.
func ecdsaResultToSignature(result interface{}) (rpcpeer.Signature, error) {
	sig, ok := result.(*ecdsa.Signature)
	if !ok {
		return rpcpeer.Signature{}, errs.New(errs.Internal, "gg18 sign returned unexpected result type")
	}
	rBytes, err := sig.R.MarshalBinary()
	if err != nil {
		return rpcpeer.Signature{}, errs.Wrap(errs.Internal, "encode signature R", err)
	}
	sBytes, err := sig.S.MarshalBinary()
	if err != nil {
		return rpcpeer.Signature{}, errs.Wrap(errs.Internal, "encode signature S", err)
	}
	var v byte
	if len(rBytes) > 0 && (rBytes[0] == 0x02 || rBytes[0] == 0x03) {
		v = rBytes[0] - 0x02
		rBytes = rBytes[1:]
	}
	return rpcpeer.Signature{R: rBytes, S: sBytes, V: v}, nil
}
