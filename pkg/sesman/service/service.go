// Package service implements the session manager's RPC contract: session
// creation and lookup, the batched inbox/outbox relay, and liveness, all
// backed by the concurrent store in pkg/sesman/store.
package service

import (
	"context"
	"time"

	"connectrpc.com/connect"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/errs"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/keyspace"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/sesman/metrics"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/sesman/store"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/sessionconfig"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/wire"
	rpcsesman "github.com/taiyi-research-institute/svarog-service-flat/rpc/sesman"
)

// OutboxPollInterval is how often an Outbox call re-checks the store for a
// not-yet-arrived message.
const OutboxPollInterval = time.Second

var encMode, _ = cbor.CanonicalEncOptions().EncMode()

// Service implements rpc/sesman.Handler against an in-memory Store.
type Service struct {
	store *store.Store
}

var _ rpcsesman.Handler = (*Service)(nil)

// New wraps s as a session manager service.
func New(s *store.Store) *Service {
	return &Service{store: s}
}

func (svc *Service) NewSession(ctx context.Context, req *connect.Request[rpcsesman.NewSessionRequest]) (resp *connect.Response[rpcsesman.NewSessionResponse], err error) {
	defer func() { metrics.Observe("NewSession", err) }()

	cfg := req.Msg.Config
	if err = cfg.Validate(); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	sid := cfg.SessionID
	if sid == "" {
		id, uerr := uuid.NewV7()
		if uerr != nil {
			return nil, connect.NewError(connect.CodeInternal, errs.Wrap(errs.Internal, "generate session id", uerr))
		}
		var raw [16]byte
		copy(raw[:], id[:])
		sid = keyspace.EncodeSessionID(raw)
		cfg.SessionID = sid
	}

	key, kerr := keyspace.ConfigKey(sid)
	if kerr != nil {
		return nil, connect.NewError(connect.CodeInternal, errs.Wrap(errs.Internal, "derive config key", kerr))
	}
	payload, merr := encMode.Marshal(cfg)
	if merr != nil {
		return nil, connect.NewError(connect.CodeInternal, errs.Wrap(errs.Internal, "encode session config", merr))
	}
	svc.store.CompareInsert(key, payload, store.AlwaysInsert)
	metrics.SessionsLive.Set(float64(svc.store.Len()))

	return connect.NewResponse(&rpcsesman.NewSessionResponse{SessionID: sid}), nil
}

func (svc *Service) GetSessionConfig(ctx context.Context, req *connect.Request[rpcsesman.GetSessionConfigRequest]) (resp *connect.Response[rpcsesman.GetSessionConfigResponse], err error) {
	defer func() { metrics.Observe("GetSessionConfig", err) }()

	key, kerr := keyspace.ConfigKey(req.Msg.SessionID)
	if kerr != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errs.Wrap(errs.InvalidArgument, "decode session id", kerr))
	}
	raw, ok := svc.store.Get(key)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, errs.Newf(errs.NotFound, "session %q not found", req.Msg.SessionID))
	}
	var cfg sessionconfig.Config
	if uerr := cbor.Unmarshal(raw, &cfg); uerr != nil {
		return nil, connect.NewError(connect.CodeInternal, errs.Wrap(errs.Internal, "decode session config", uerr))
	}
	return connect.NewResponse(&rpcsesman.GetSessionConfigResponse{Config: cfg}), nil
}

func (svc *Service) Inbox(ctx context.Context, req *connect.Request[rpcsesman.InboxRequest]) (resp *connect.Response[rpcsesman.InboxResponse], err error) {
	defer func() { metrics.Observe("Inbox", err) }()

	for _, msg := range req.Msg.Messages {
		if msg.Payload == nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, errs.New(errs.InvalidArgument, "inbox message missing payload"))
		}
		key, kerr := keyspace.PrimaryKey(req.Msg.SessionID, msg.Index.Topic, msg.Index.Src, msg.Index.Dst, msg.Index.Seq)
		if kerr != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, errs.Wrap(errs.InvalidArgument, "inbox message index", kerr))
		}
		svc.store.CompareInsert(key, msg.Payload, store.AlwaysInsert)
	}
	return connect.NewResponse(&rpcsesman.InboxResponse{}), nil
}

// Outbox polls the store once per second, per requested index, until every
// slot has a value or the caller's context is done. Requests may block
// indefinitely; the caller is expected to set a deadline.
func (svc *Service) Outbox(ctx context.Context, req *connect.Request[rpcsesman.OutboxRequest]) (resp *connect.Response[rpcsesman.OutboxResponse], err error) {
	defer func() { metrics.Observe("Outbox", err) }()

	out := make([]wire.Message, len(req.Msg.Indices))
	for i, idx := range req.Msg.Indices {
		key, kerr := keyspace.PrimaryKey(req.Msg.SessionID, idx.Topic, idx.Src, idx.Dst, idx.Seq)
		if kerr != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, errs.Wrap(errs.InvalidArgument, "outbox message index", kerr))
		}
		payload, perr := svc.awaitKey(ctx, key)
		if perr != nil {
			return nil, connect.NewError(connect.CodeUnavailable, perr)
		}
		out[i] = wire.Message{SessionID: req.Msg.SessionID, Index: idx, Payload: payload}
	}
	return connect.NewResponse(&rpcsesman.OutboxResponse{Messages: out}), nil
}

func (svc *Service) awaitKey(ctx context.Context, key store.Key) ([]byte, error) {
	if v, ok := svc.store.Get(key); ok {
		return v, nil
	}
	ticker := time.NewTicker(OutboxPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, errs.Wrap(errs.Internal, "outbox wait cancelled", ctx.Err())
		case <-ticker.C:
			if v, ok := svc.store.Get(key); ok {
				return v, nil
			}
		}
	}
}

func (svc *Service) Ping(ctx context.Context, req *connect.Request[rpcsesman.PingRequest]) (*connect.Response[rpcsesman.PingResponse], error) {
	metrics.Observe("Ping", nil)
	return connect.NewResponse(&rpcsesman.PingResponse{Echo: "pong"}), nil
}
