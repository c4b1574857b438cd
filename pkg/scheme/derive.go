package scheme

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/cronokirby/saferith"
	"github.com/luxfi/threshold/pkg/math/curve"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/errs"
)

// derivationTweak computes the scalar a BIP32-style derivation path adds to
// a ceremony's root secret share, and the public key that offset produces.
//
// Every signer derives the same offset independently from public
// information only (the root public key and the path string), so applying
// it never costs a protocol round: a threshold secret is a Shamir
// polynomial, and shifting every party's share by the same constant shifts
// the polynomial's constant term (the reconstructed secret, and hence the
// public key) by that same constant, for any signer subset the threshold
// accepts. This matches BIP32's CKDpub construction (HMAC-SHA512 keyed by
// the parent chain code) with the parent public key standing in for a
// dedicated chain code, since keygen here does not produce one. Only
// non-hardened segments are accepted; a hardened segment (suffix ', h or H)
// is rejected with InvalidArgument, since a hardened child needs the parent
// private key as HMAC input, which no single threshold signer ever holds.
func derivationTweak(group curve.Curve, rootPublicKey curve.Point, path string) (curve.Scalar, curve.Point, error) {
	segments := strings.Split(path, "/")
	if len(segments) == 0 || segments[0] != "m" {
		return nil, nil, errs.Newf(errs.InvalidArgument, "derivation path %q must start with \"m\"", path)
	}

	tweak := group.NewScalar()
	point := rootPublicKey
	for _, seg := range segments[1:] {
		if seg == "" {
			continue
		}
		if strings.HasSuffix(seg, "'") || strings.HasSuffix(seg, "h") || strings.HasSuffix(seg, "H") {
			return nil, nil, errs.Newf(errs.InvalidArgument, "derivation path %q: hardened segment %q is not supported, since no single threshold signer holds the root private key a hardened child needs", path, seg)
		}
		index, err := strconv.ParseUint(seg, 10, 32)
		if err != nil {
			return nil, nil, errs.Wrapf(errs.InvalidArgument, err, "derivation path %q: bad segment %q", path, seg)
		}

		pointBytes, err := point.MarshalBinary()
		if err != nil {
			return nil, nil, errs.Wrap(errs.Internal, "encode derivation parent point", err)
		}
		idxBytes := make([]byte, 4)
		binary.BigEndian.PutUint32(idxBytes, uint32(index))

		mac := hmac.New(sha512.New, pointBytes)
		mac.Write(idxBytes)
		digest := mac.Sum(nil)

		segTweak := group.NewScalar()
		segTweak.SetNat(new(saferith.Nat).SetBytes(digest[:32]))

		tweak = tweak.Add(segTweak)
		point = point.Add(segTweak.ActOnBase())
	}
	return tweak, point, nil
}
