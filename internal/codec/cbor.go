// Package codec registers a CBOR-backed connect.Codec so the wire RPCs can
// carry plain Go structs without a protobuf code-generation step. Connect's
// Codec interface is generic over any (Marshal, Unmarshal) pair — it does
// not require proto.Message — so this is a first-class, documented usage,
// not a workaround.
package codec

import (
	"connectrpc.com/connect"
	"github.com/fxamacker/cbor/v2"
)

// Name is the codec name negotiated over the wire, analogous to "proto" or
// "json" for the built-in codecs.
const Name = "cbor"

var (
	encMode, _ = cbor.CanonicalEncOptions().EncMode()
)

// CBOR implements connect.Codec with a self-describing, canonical encoding
// shared by every wire payload and the on-disk keystore format alike.
type CBOR struct{}

var _ connect.Codec = CBOR{}

func (CBOR) Name() string { return Name }

func (CBOR) Marshal(v interface{}) ([]byte, error) {
	return encMode.Marshal(v)
}

func (CBOR) Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}

// WithCBOR is the connect.ClientOption / connect.HandlerOption that makes a
// client or handler speak this codec.
func WithCBOR() connect.Option {
	return connect.WithCodec(CBOR{})
}
