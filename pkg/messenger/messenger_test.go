package messenger

import (
	"context"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/errs"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/sessionconfig"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/wire"
	rpcsesman "github.com/taiyi-research-institute/svarog-service-flat/rpc/sesman"
)

// fakeClient is an in-process stand-in for rpc/sesman.Client, backed by a
// plain map keyed by wire.MessageIndex, so the messenger's batching logic
// can be exercised without a real store or transport.
type fakeClient struct {
	cfg    sessionconfig.Config
	sid    string
	values map[wire.MessageIndex][]byte
}

func newFakeClient(cfg sessionconfig.Config) *fakeClient {
	return &fakeClient{cfg: cfg, sid: "deadbeefdeadbeefdeadbeefdeadbeef", values: map[wire.MessageIndex][]byte{}}
}

func (f *fakeClient) NewSession(ctx context.Context, req *connect.Request[rpcsesman.NewSessionRequest]) (*connect.Response[rpcsesman.NewSessionResponse], error) {
	return connect.NewResponse(&rpcsesman.NewSessionResponse{SessionID: f.sid}), nil
}

func (f *fakeClient) GetSessionConfig(ctx context.Context, req *connect.Request[rpcsesman.GetSessionConfigRequest]) (*connect.Response[rpcsesman.GetSessionConfigResponse], error) {
	return connect.NewResponse(&rpcsesman.GetSessionConfigResponse{Config: f.cfg}), nil
}

func (f *fakeClient) Inbox(ctx context.Context, req *connect.Request[rpcsesman.InboxRequest]) (*connect.Response[rpcsesman.InboxResponse], error) {
	for _, msg := range req.Msg.Messages {
		f.values[msg.Index] = msg.Payload
	}
	return connect.NewResponse(&rpcsesman.InboxResponse{}), nil
}

func (f *fakeClient) Outbox(ctx context.Context, req *connect.Request[rpcsesman.OutboxRequest]) (*connect.Response[rpcsesman.OutboxResponse], error) {
	var out []wire.Message
	for _, idx := range req.Msg.Indices {
		if v, ok := f.values[idx]; ok {
			out = append(out, wire.Message{SessionID: req.Msg.SessionID, Index: idx, Payload: v})
		}
	}
	return connect.NewResponse(&rpcsesman.OutboxResponse{Messages: out}), nil
}

func (f *fakeClient) Ping(ctx context.Context, req *connect.Request[rpcsesman.PingRequest]) (*connect.Response[rpcsesman.PingResponse], error) {
	return connect.NewResponse(&rpcsesman.PingResponse{Echo: "pong"}), nil
}

func TestRegisterExecuteSendThenReceiveRoundTrips(t *testing.T) {
	cfg := sessionconfig.Config{Threshold: 1, Players: sessionconfig.PlayerLayout{Flat: map[string]bool{"Alice": true}}}
	fc := newFakeClient(cfg)
	sender, _, err := NewSession(context.Background(), fc, cfg)
	require.NoError(t, err)

	require.NoError(t, sender.RegisterSend("round1", 1, 2, 0, "hello"))
	require.NoError(t, sender.ExecuteSend(context.Background()))
	assert.Empty(t, sender.tx)

	receiver := sender.Clone()
	receiver.RegisterReceive("round1", 1, 2, 0)
	require.NoError(t, receiver.ExecuteReceive(context.Background()))

	var got string
	require.NoError(t, receiver.UnpackReceive("round1", 1, 2, 0, &got))
	assert.Equal(t, "hello", got)
}

func TestExecuteReceiveFailsOnMissingMessage(t *testing.T) {
	cfg := sessionconfig.Config{Threshold: 1, Players: sessionconfig.PlayerLayout{Flat: map[string]bool{"Alice": true}}}
	fc := newFakeClient(cfg)
	m, _, err := NewSession(context.Background(), fc, cfg)
	require.NoError(t, err)

	m.RegisterReceive("round1", 1, 2, 0)
	err = m.ExecuteReceive(context.Background())
	assert.True(t, errs.Is(err, errs.MessagesMissing))
}

func TestUnpackReceiveFailsWhenNotRegistered(t *testing.T) {
	cfg := sessionconfig.Config{Threshold: 1, Players: sessionconfig.PlayerLayout{Flat: map[string]bool{"Alice": true}}}
	fc := newFakeClient(cfg)
	m, _, err := NewSession(context.Background(), fc, cfg)
	require.NoError(t, err)

	var got string
	err = m.UnpackReceive("round1", 1, 2, 0, &got)
	assert.True(t, errs.Is(err, errs.NotRegistered))
}

func TestCloneGivesDisjointBuffers(t *testing.T) {
	cfg := sessionconfig.Config{Threshold: 1, Players: sessionconfig.PlayerLayout{Flat: map[string]bool{"Alice": true}}}
	fc := newFakeClient(cfg)
	m, _, err := NewSession(context.Background(), fc, cfg)
	require.NoError(t, err)

	require.NoError(t, m.RegisterSend("t", 1, 2, 0, "x"))
	clone := m.Clone()
	assert.Len(t, m.tx, 1)
	assert.Empty(t, clone.tx)
	assert.Equal(t, m.SessionID(), clone.SessionID())
}
