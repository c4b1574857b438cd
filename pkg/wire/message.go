// Package wire holds the message and message-index types shared by the
// session manager, the messenger client, and the RPC layer — the smallest
// common vocabulary every wire schema in this repo is built from.
package wire

// MessageIndex addresses one slot within a session: the tuple
// (topic, src, dst, seq).
type MessageIndex struct {
	Topic string `cbor:"topic"`
	Src   uint64 `cbor:"src"`
	Dst   uint64 `cbor:"dst"`
	Seq   uint64 `cbor:"seq"`
}

// Message is one opaque point-to-point payload. Payload must be non-nil in
// an Inbox request and is filled in on every successful Outbox response
// entry; Outbox requests carry bare MessageIndex values, not Messages.
type Message struct {
	SessionID string       `cbor:"session_id"`
	Index     MessageIndex `cbor:"index"`
	Payload   []byte       `cbor:"payload,omitempty"`
}
