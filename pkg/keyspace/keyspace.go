// Package keyspace implements the addressing scheme that maps a
// (session, topic, src, dst, seq) coordinate onto a compact, sortable 32-byte
// key inside the session manager's store.
package keyspace

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/errs"
)

// SessionIDSize is the raw byte length of a session id (a UUIDv7).
const SessionIDSize = 16

// DigestSize is the length of the keyed BLAKE2b digest appended to the
// session-id prefix.
const DigestSize = 16

// KeySize is the total length of a primary key.
const KeySize = SessionIDSize + DigestSize

// ConfigTopic is the reserved topic under which a session's immutable
// configuration is stored.
const ConfigTopic = "session config"

// hashKey is a fixed domain-separation key for the keyed BLAKE2b digest used
// by PrimaryKey. It need not be secret: the relay sees message indices in the
// clear anyway (transport security is hop-by-hop, never end-to-end).
var hashKey = []byte("svarog-session-manager-primary-key-v1")

// DecodeSessionID parses a lowercase-hex session id into its 16 raw bytes.
func DecodeSessionID(sid string) ([16]byte, error) {
	var out [16]byte
	raw, err := hex.DecodeString(sid)
	if err != nil {
		return out, fmt.Errorf("keyspace: decode session id %q: %w", sid, err)
	}
	if len(raw) != SessionIDSize {
		return out, fmt.Errorf("keyspace: session id %q must decode to %d bytes, got %d", sid, SessionIDSize, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// EncodeSessionID renders raw session-id bytes as lowercase hex.
func EncodeSessionID(raw [16]byte) string {
	return hex.EncodeToString(raw[:])
}

// PrimaryKey computes the 32-byte store key for a single message slot:
// the raw session-id bytes, followed by a 16-byte keyed BLAKE2b digest of
// "<topic>-<src>-<dst>-<seq>".
func PrimaryKey(sid string, topic string, src, dst, seq uint64) ([KeySize]byte, error) {
	var out [KeySize]byte
	raw, err := DecodeSessionID(sid)
	if err != nil {
		return out, err
	}
	digest, err := digestIndex(topic, src, dst, seq)
	if err != nil {
		return out, err
	}
	copy(out[:SessionIDSize], raw[:])
	copy(out[SessionIDSize:], digest[:])
	return out, nil
}

// ConfigKey is the well-known primary key under which a session's
// configuration is stored (src = dst = seq = 0, reserved topic).
func ConfigKey(sid string) ([KeySize]byte, error) {
	return PrimaryKey(sid, ConfigTopic, 0, 0, 0)
}

func digestIndex(topic string, src, dst, seq uint64) ([DigestSize]byte, error) {
	var out [DigestSize]byte
	h, err := blake2b.New(DigestSize, hashKey)
	if err != nil {
		return out, fmt.Errorf("keyspace: init blake2b: %w", err)
	}
	fmt.Fprintf(h, "%s-%d-%d-%d", topic, src, dst, seq)
	sum := h.Sum(nil)
	copy(out[:], sum)
	return out, nil
}

// PivotKey returns the key boundary separating expired from live sessions:
// a synthetic session id encoding "now minus lifespan", laid out exactly like
// a freshly minted sid so that byte comparison against stored keys is valid.
// An unreasonably large lifespan can push the pivot before the unix epoch,
// where the millisecond-timestamp arithmetic below would wrap instead of
// producing a meaningful ordering; that case is reported as IntegerOverflow
// rather than silently handed back as a bogus pivot.
func PivotKey(lifespan time.Duration) ([KeySize]byte, error) {
	pivotTime := time.Now().Add(-lifespan)
	if pivotTime.Before(time.Unix(0, 0)) {
		return [KeySize]byte{}, errs.New(errs.IntegerOverflow, "pivot time underflowed before the unix epoch")
	}
	return pivotKeyAt(pivotTime), nil
}

func pivotKeyAt(t time.Time) [KeySize]byte {
	var out [KeySize]byte
	// UUIDv7 lays a 48-bit millisecond Unix timestamp in the first 6 bytes,
	// then version/variant nibbles, then random tail. We only need the
	// ordering property, so we replicate the timestamp prefix and zero the
	// rest: any real sid minted at or after pivotTime sorts at or above this
	// key, any sid minted strictly before sorts below it.
	ms := uint64(t.UnixMilli())
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], ms)
	copy(out[:6], tsBuf[2:8])
	// bytes 6..16 stay zero: the smallest possible suffix for that
	// millisecond, and the smallest possible digest suffix.
	return out
}

// Less reports whether a sorts strictly before b under the byte-lexical
// ordering the session store relies on.
func Less(a, b [KeySize]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
