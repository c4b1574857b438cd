package service

import (
	"context"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/sesman/store"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/sessionconfig"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/wire"
	rpcsesman "github.com/taiyi-research-institute/svarog-service-flat/rpc/sesman"
)

func validConfig() sessionconfig.Config {
	return sessionconfig.Config{
		Algorithm: sessionconfig.Algorithm{Curve: sessionconfig.Secp256k1, Scheme: sessionconfig.ElGamal},
		Threshold: 2,
		Players: sessionconfig.PlayerLayout{Flat: map[string]bool{
			"Alice": true, "Bob": true, "Charlie": true,
		}},
	}
}

func TestNewSessionMintsUUIDv7WhenEmpty(t *testing.T) {
	svc := New(store.New())
	resp, err := svc.NewSession(context.Background(), connect.NewRequest(&rpcsesman.NewSessionRequest{Config: validConfig()}))
	require.NoError(t, err)
	assert.Len(t, resp.Msg.SessionID, 32)
}

func TestGetSessionConfigRoundTrips(t *testing.T) {
	svc := New(store.New())
	cfg := validConfig()
	created, err := svc.NewSession(context.Background(), connect.NewRequest(&rpcsesman.NewSessionRequest{Config: cfg}))
	require.NoError(t, err)

	got, err := svc.GetSessionConfig(context.Background(), connect.NewRequest(&rpcsesman.GetSessionConfigRequest{SessionID: created.Msg.SessionID}))
	require.NoError(t, err)
	assert.Equal(t, cfg.Threshold, got.Msg.Config.Threshold)
	assert.Equal(t, cfg.Algorithm, got.Msg.Config.Algorithm)
}

func TestGetSessionConfigNotFound(t *testing.T) {
	svc := New(store.New())
	_, err := svc.GetSessionConfig(context.Background(), connect.NewRequest(&rpcsesman.GetSessionConfigRequest{SessionID: "deadbeefdeadbeefdeadbeefdeadbeef"}))
	var connectErr *connect.Error
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, connect.CodeNotFound, connectErr.Code())
}

func TestInboxRejectsMissingPayload(t *testing.T) {
	svc := New(store.New())
	created, err := svc.NewSession(context.Background(), connect.NewRequest(&rpcsesman.NewSessionRequest{Config: validConfig()}))
	require.NoError(t, err)

	_, err = svc.Inbox(context.Background(), connect.NewRequest(&rpcsesman.InboxRequest{
		SessionID: created.Msg.SessionID,
		Messages: []wire.Message{
			{SessionID: created.Msg.SessionID, Index: wire.MessageIndex{Topic: "t", Src: 1, Dst: 2, Seq: 1}},
		},
	}))
	var connectErr *connect.Error
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, connect.CodeInvalidArgument, connectErr.Code())
}

func TestInboxThenOutboxRoundTrips(t *testing.T) {
	svc := New(store.New())
	created, err := svc.NewSession(context.Background(), connect.NewRequest(&rpcsesman.NewSessionRequest{Config: validConfig()}))
	require.NoError(t, err)
	sid := created.Msg.SessionID

	idx := wire.MessageIndex{Topic: "round1", Src: 1, Dst: 2, Seq: 0}
	_, err = svc.Inbox(context.Background(), connect.NewRequest(&rpcsesman.InboxRequest{
		SessionID: sid,
		Messages:  []wire.Message{{SessionID: sid, Index: idx, Payload: []byte("hello")}},
	}))
	require.NoError(t, err)

	out, err := svc.Outbox(context.Background(), connect.NewRequest(&rpcsesman.OutboxRequest{
		SessionID: sid,
		Indices:   []wire.MessageIndex{idx},
	}))
	require.NoError(t, err)
	require.Len(t, out.Msg.Messages, 1)
	assert.Equal(t, []byte("hello"), out.Msg.Messages[0].Payload)
}

func TestOutboxBlocksUntilMessageArrivesOrCancelled(t *testing.T) {
	svc := New(store.New())
	created, err := svc.NewSession(context.Background(), connect.NewRequest(&rpcsesman.NewSessionRequest{Config: validConfig()}))
	require.NoError(t, err)
	sid := created.Msg.SessionID
	idx := wire.MessageIndex{Topic: "round1", Src: 1, Dst: 2, Seq: 0}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = svc.Outbox(ctx, connect.NewRequest(&rpcsesman.OutboxRequest{
		SessionID: sid,
		Indices:   []wire.MessageIndex{idx},
	}))
	var connectErr *connect.Error
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, connect.CodeUnavailable, connectErr.Code())
}

func TestPing(t *testing.T) {
	svc := New(store.New())
	resp, err := svc.Ping(context.Background(), connect.NewRequest(&rpcsesman.PingRequest{}))
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Msg.Echo)
}
