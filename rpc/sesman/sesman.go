// Package sesman defines the session manager's wire RPC schema: request and
// response payloads, and the Connect service wiring (service name,
// procedure paths, typed handler and client constructors) that would
// ordinarily come out of protoc-gen-connect-go. Connect's generics-based
// NewUnaryHandler/NewClient work over any Go struct, so this is hand-written
// the same shape that codegen produces, carried over our CBOR codec instead
// of protobuf.
package sesman

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/sessionconfig"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/wire"
)

// ServiceName is the fully qualified Connect service name.
const ServiceName = "svarog.sesman.v1.SessionManager"

// Procedure paths, one per session manager RPC.
const (
	ProcedureNewSession       = "/" + ServiceName + "/NewSession"
	ProcedureGetSessionConfig = "/" + ServiceName + "/GetSessionConfig"
	ProcedureInbox            = "/" + ServiceName + "/Inbox"
	ProcedureOutbox           = "/" + ServiceName + "/Outbox"
	ProcedurePing             = "/" + ServiceName + "/Ping"
)

// NewSessionRequest carries the caller-supplied configuration; SessionID may
// be empty, in which case the server mints one.
type NewSessionRequest struct {
	Config sessionconfig.Config `cbor:"config"`
}

type NewSessionResponse struct {
	SessionID string `cbor:"session_id"`
}

type GetSessionConfigRequest struct {
	SessionID string `cbor:"session_id"`
}

type GetSessionConfigResponse struct {
	Config sessionconfig.Config `cbor:"config"`
}

type InboxRequest struct {
	SessionID string         `cbor:"session_id"`
	Messages  []wire.Message `cbor:"messages"`
}

type InboxResponse struct{}

// OutboxRequest's Indices carry no payload; OutboxResponse fills it in.
type OutboxRequest struct {
	SessionID string              `cbor:"session_id"`
	Indices   []wire.MessageIndex `cbor:"indices"`
}

type OutboxResponse struct {
	Messages []wire.Message `cbor:"messages"`
}

type PingRequest struct{}

type PingResponse struct {
	Echo string `cbor:"echo"`
}

// Handler is the interface a session-manager service implementation
// satisfies; NewHandler wires it behind Connect procedures.
type Handler interface {
	NewSession(context.Context, *connect.Request[NewSessionRequest]) (*connect.Response[NewSessionResponse], error)
	GetSessionConfig(context.Context, *connect.Request[GetSessionConfigRequest]) (*connect.Response[GetSessionConfigResponse], error)
	Inbox(context.Context, *connect.Request[InboxRequest]) (*connect.Response[InboxResponse], error)
	Outbox(context.Context, *connect.Request[OutboxRequest]) (*connect.Response[OutboxResponse], error)
	Ping(context.Context, *connect.Request[PingRequest]) (*connect.Response[PingResponse], error)
}

// NewHandler mounts svc behind the session-manager's Connect procedures,
// returning the service's base path and an http.Handler ready to be mounted
// on a mux, exactly like a protoc-gen-connect-go NewXHandler would.
func NewHandler(svc Handler, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(ProcedureNewSession, connect.NewUnaryHandler(ProcedureNewSession, svc.NewSession, opts...))
	mux.Handle(ProcedureGetSessionConfig, connect.NewUnaryHandler(ProcedureGetSessionConfig, svc.GetSessionConfig, opts...))
	mux.Handle(ProcedureInbox, connect.NewUnaryHandler(ProcedureInbox, svc.Inbox, opts...))
	mux.Handle(ProcedureOutbox, connect.NewUnaryHandler(ProcedureOutbox, svc.Outbox, opts...))
	mux.Handle(ProcedurePing, connect.NewUnaryHandler(ProcedurePing, svc.Ping, opts...))
	return "/" + ServiceName + "/", mux
}

// Client is the typed Connect client for the session manager.
type Client interface {
	NewSession(context.Context, *connect.Request[NewSessionRequest]) (*connect.Response[NewSessionResponse], error)
	GetSessionConfig(context.Context, *connect.Request[GetSessionConfigRequest]) (*connect.Response[GetSessionConfigResponse], error)
	Inbox(context.Context, *connect.Request[InboxRequest]) (*connect.Response[InboxResponse], error)
	Outbox(context.Context, *connect.Request[OutboxRequest]) (*connect.Response[OutboxResponse], error)
	Ping(context.Context, *connect.Request[PingRequest]) (*connect.Response[PingResponse], error)
}

type client struct {
	newSession       *connect.Client[NewSessionRequest, NewSessionResponse]
	getSessionConfig *connect.Client[GetSessionConfigRequest, GetSessionConfigResponse]
	inbox            *connect.Client[InboxRequest, InboxResponse]
	outbox           *connect.Client[OutboxRequest, OutboxResponse]
	ping             *connect.Client[PingRequest, PingResponse]
}

// NewClient builds a Connect client for the session manager at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) Client {
	return &client{
		newSession:       connect.NewClient[NewSessionRequest, NewSessionResponse](httpClient, baseURL+ProcedureNewSession, opts...),
		getSessionConfig: connect.NewClient[GetSessionConfigRequest, GetSessionConfigResponse](httpClient, baseURL+ProcedureGetSessionConfig, opts...),
		inbox:            connect.NewClient[InboxRequest, InboxResponse](httpClient, baseURL+ProcedureInbox, opts...),
		outbox:           connect.NewClient[OutboxRequest, OutboxResponse](httpClient, baseURL+ProcedureOutbox, opts...),
		ping:             connect.NewClient[PingRequest, PingResponse](httpClient, baseURL+ProcedurePing, opts...),
	}
}

func (c *client) NewSession(ctx context.Context, req *connect.Request[NewSessionRequest]) (*connect.Response[NewSessionResponse], error) {
	return c.newSession.CallUnary(ctx, req)
}

func (c *client) GetSessionConfig(ctx context.Context, req *connect.Request[GetSessionConfigRequest]) (*connect.Response[GetSessionConfigResponse], error) {
	return c.getSessionConfig.CallUnary(ctx, req)
}

func (c *client) Inbox(ctx context.Context, req *connect.Request[InboxRequest]) (*connect.Response[InboxResponse], error) {
	return c.inbox.CallUnary(ctx, req)
}

func (c *client) Outbox(ctx context.Context, req *connect.Request[OutboxRequest]) (*connect.Response[OutboxResponse], error) {
	return c.outbox.CallUnary(ctx, req)
}

func (c *client) Ping(ctx context.Context, req *connect.Request[PingRequest]) (*connect.Response[PingResponse], error) {
	return c.ping.CallUnary(ctx, req)
}
