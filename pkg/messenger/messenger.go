// Package messenger implements the batched send/receive abstraction the
// scheme adapters drive the external protocol engine through: register a
// round's worth of sends or receives, execute them as one relay call, then
// unpack typed values back out.
package messenger

import (
	"context"
	"fmt"
	"time"

	"connectrpc.com/connect"
	"github.com/fxamacker/cbor/v2"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/errs"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/sessionconfig"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/wire"
	rpcsesman "github.com/taiyi-research-institute/svarog-service-flat/rpc/sesman"
)

var encMode, _ = cbor.CanonicalEncOptions().EncMode()

// OutboxDeadline bounds every ExecuteReceive round trip. It matches the
// relay's session lifespan: a ceremony whose session was evicted mid-flight
// would otherwise wait on its outbox slots forever, since the relay itself
// never caps the poll.
const OutboxDeadline = 24 * time.Hour

// rxSlot is one registered receive: filled is false while the slot is
// expected but not yet populated.
type rxSlot struct {
	payload []byte
	filled  bool
}

// Messenger is the batched relay client. Its zero value is not usable;
// build one with NewSession or UseSession. Clone produces an independent
// tx/rx pair sharing the same relay client and session, which is what lets
// the peer orchestrator run a provider task and a consumer task against the
// same session concurrently.
type Messenger struct {
	client    rpcsesman.Client
	sessionID string
	config    sessionconfig.Config

	tx []wire.Message
	rx map[wire.MessageIndex]*rxSlot
}

// NewSession creates a session on the relay and returns a Messenger bound to
// it, alongside the resolved configuration (with its minted session id).
func NewSession(ctx context.Context, client rpcsesman.Client, cfg sessionconfig.Config) (*Messenger, sessionconfig.Config, error) {
	resp, err := client.NewSession(ctx, connect.NewRequest(&rpcsesman.NewSessionRequest{Config: cfg}))
	if err != nil {
		return nil, sessionconfig.Config{}, rpcErr("new session", err)
	}
	cfg.SessionID = resp.Msg.SessionID
	return newMessenger(client, cfg.SessionID, cfg), cfg, nil
}

// UseSession opens a Messenger against an existing session id, fetching its
// configuration from the relay.
func UseSession(ctx context.Context, client rpcsesman.Client, sessionID string) (*Messenger, sessionconfig.Config, error) {
	resp, err := client.GetSessionConfig(ctx, connect.NewRequest(&rpcsesman.GetSessionConfigRequest{SessionID: sessionID}))
	if err != nil {
		return nil, sessionconfig.Config{}, rpcErr("get session config", err)
	}
	return newMessenger(client, sessionID, resp.Msg.Config), resp.Msg.Config, nil
}

// rpcErr classifies a failed relay call: an unreachable server surfaces as
// CannotConnectGrpcServer, anything the server itself reported as
// GrpcCallFailed.
func rpcErr(op string, err error) error {
	if connect.CodeOf(err) == connect.CodeUnavailable {
		return errs.Wrap(errs.CannotConnectGrpcServer, op, err)
	}
	return errs.Wrap(errs.GrpcCallFailed, op, err)
}

func newMessenger(client rpcsesman.Client, sessionID string, cfg sessionconfig.Config) *Messenger {
	return &Messenger{
		client:    client,
		sessionID: sessionID,
		config:    cfg,
		rx:        map[wire.MessageIndex]*rxSlot{},
	}
}

// Clone returns a Messenger sharing this one's relay client and session, but
// with fresh, empty tx/rx buffers — safe to drive a second logical peer
// (the provider role) concurrently with the original (the consumer role).
func (m *Messenger) Clone() *Messenger {
	return newMessenger(m.client, m.sessionID, m.config)
}

// SessionID is the session this messenger is bound to.
func (m *Messenger) SessionID() string { return m.sessionID }

// Config is the session configuration this messenger resolved at open time.
func (m *Messenger) Config() sessionconfig.Config { return m.config }

// RegisterSend serializes value with the canonical CBOR encoding and queues
// it for the next ExecuteSend.
func (m *Messenger) RegisterSend(topic string, src, dst, seq uint64, value interface{}) error {
	payload, err := encMode.Marshal(value)
	if err != nil {
		return errs.Wrap(errs.Internal, "register_send: encode payload", err)
	}
	m.tx = append(m.tx, wire.Message{
		SessionID: m.sessionID,
		Index:     wire.MessageIndex{Topic: topic, Src: src, Dst: dst, Seq: seq},
		Payload:   payload,
	})
	return nil
}

// ExecuteSend flushes every buffered message in one Inbox call, clearing the
// buffer only on success.
func (m *Messenger) ExecuteSend(ctx context.Context) error {
	if len(m.tx) == 0 {
		return nil
	}
	_, err := m.client.Inbox(ctx, connect.NewRequest(&rpcsesman.InboxRequest{
		SessionID: m.sessionID,
		Messages:  m.tx,
	}))
	if err != nil {
		return rpcErr("execute_send", err)
	}
	m.tx = nil
	return nil
}

// ClearSend drops the send buffer without sending it.
func (m *Messenger) ClearSend() {
	m.tx = nil
}

// RegisterReceive reserves an empty rx slot for the given index.
func (m *Messenger) RegisterReceive(topic string, src, dst, seq uint64) {
	idx := wire.MessageIndex{Topic: topic, Src: src, Dst: dst, Seq: seq}
	m.rx[idx] = &rxSlot{}
}

// ExecuteReceive polls the relay's Outbox for every registered index and
// populates each matching rx slot. It fails with NotRegistered if the relay
// somehow returns an index the caller never registered, and with
// MessagesMissing if any registered slot is still empty once the call
// returns.
func (m *Messenger) ExecuteReceive(ctx context.Context) error {
	if len(m.rx) == 0 {
		return nil
	}
	indices := make([]wire.MessageIndex, 0, len(m.rx))
	for idx := range m.rx {
		indices = append(indices, idx)
	}
	ctx, cancel := context.WithTimeout(ctx, OutboxDeadline)
	defer cancel()
	resp, err := m.client.Outbox(ctx, connect.NewRequest(&rpcsesman.OutboxRequest{
		SessionID: m.sessionID,
		Indices:   indices,
	}))
	if err != nil {
		return rpcErr("execute_receive", err)
	}
	for _, msg := range resp.Msg.Messages {
		slot, ok := m.rx[msg.Index]
		if !ok {
			return errs.Newf(errs.NotRegistered, "execute_receive: relay returned unregistered index %+v", msg.Index)
		}
		if msg.Payload == nil {
			return errs.Newf(errs.UnexpectedNull, "execute_receive: store returned absent payload for %+v", msg.Index)
		}
		slot.payload = msg.Payload
		slot.filled = true
	}
	for idx, slot := range m.rx {
		if !slot.filled {
			return errs.Newf(errs.MessagesMissing, "execute_receive: slot %+v never populated", idx)
		}
	}
	return nil
}

// ClearReceive empties the rx buffer.
func (m *Messenger) ClearReceive() {
	m.rx = map[wire.MessageIndex]*rxSlot{}
}

// UnpackReceive decodes the payload registered at (topic, src, dst, seq)
// into out, a pointer to the destination value.
func (m *Messenger) UnpackReceive(topic string, src, dst, seq uint64, out interface{}) error {
	idx := wire.MessageIndex{Topic: topic, Src: src, Dst: dst, Seq: seq}
	slot, ok := m.rx[idx]
	if !ok {
		return errs.Newf(errs.NotRegistered, "unpack_receive: index %+v not registered", idx)
	}
	if !slot.filled {
		return errs.Newf(errs.UnexpectedNull, "unpack_receive: index %+v has no payload yet", idx)
	}
	if err := cbor.Unmarshal(slot.payload, out); err != nil {
		return errs.Wrap(errs.Internal, fmt.Sprintf("unpack_receive: decode %+v", idx), err)
	}
	return nil
}
