// Package peer defines the peer orchestrator's wire RPC schema: the
// operational request/response payloads (Keygen, KeygenMnem, Sign, Reshare),
// NewSession/Ping pass-throughs, and the hand-authored Connect service
// wiring, in the same shape as rpc/sesman.
package peer

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/sessionconfig"
)

const ServiceName = "svarog.peer.v1.Peer"

const (
	ProcedureNewSession = "/" + ServiceName + "/NewSession"
	ProcedureKeygen     = "/" + ServiceName + "/Keygen"
	ProcedureKeygenMnem = "/" + ServiceName + "/KeygenMnem"
	ProcedureSign       = "/" + ServiceName + "/Sign"
	ProcedureReshare    = "/" + ServiceName + "/Reshare"
	ProcedurePing       = "/" + ServiceName + "/Ping"
)

// NewSessionRequest/Response mirror rpc/sesman's: this RPC is a pure
// pass-through to the session manager.
type NewSessionRequest struct {
	Config sessionconfig.Config `cbor:"config"`
}

type NewSessionResponse struct {
	SessionID string `cbor:"session_id"`
}

// KeyTag names one persisted keystore: the session id it was generated under
// (its on-disk key_id) and its extended public key. Xpub is empty when the
// caller was the mnemonic-import ghost provider, which never attends as a
// signer and so has no public key of its own to report.
type KeyTag struct {
	KeyID string `cbor:"key_id"`
	Xpub  string `cbor:"xpub,omitempty"`
}

type ParamsKeygen struct {
	SesmanURL  string `cbor:"sesman_url"`
	SessionID  string `cbor:"session_id"`
	MemberName string `cbor:"member_name"`
}

type KeygenRequest struct {
	Params ParamsKeygen `cbor:"params"`
}

type KeygenResponse struct {
	Tag KeyTag `cbor:"tag"`
}

type ParamsKeygenMnem struct {
	SesmanURL  string `cbor:"sesman_url"`
	SessionID  string `cbor:"session_id"`
	MemberName string `cbor:"member_name"`
	// Mnemonic is present only on the provider peer; empty elsewhere.
	Mnemonic string `cbor:"mnemonic,omitempty"`
}

type KeygenMnemRequest struct {
	Params ParamsKeygenMnem `cbor:"params"`
}

type KeygenMnemResponse struct {
	Tag KeyTag `cbor:"tag"`
}

// SignTask is one signing job within a batched Sign call: a BIP32-style
// derivation path plus the digest to sign.
type SignTask struct {
	DerivationPath string `cbor:"derivation_path"`
	TxHash         []byte `cbor:"tx_hash"`
}

type ParamsSign struct {
	SesmanURL  string     `cbor:"sesman_url"`
	SessionID  string     `cbor:"session_id"`
	MemberName string     `cbor:"member_name"`
	KeyID      string     `cbor:"key_id"`
	Tasks      []SignTask `cbor:"tasks"`
}

type SignRequest struct {
	Params ParamsSign `cbor:"params"`
}

// Signature is the wire form produced by the scheme adapter's to_proto side:
// R/S (or the Schnorr-equivalent r/s) plus a recovery id, zero for the
// Schnorr variants where no recovery applies.
type Signature struct {
	R []byte `cbor:"r"`
	S []byte `cbor:"s"`
	V byte   `cbor:"v"`
}

type SignResponse struct {
	Signatures []Signature `cbor:"signatures"`
}

type ParamsReshare struct {
	SesmanURL       string                     `cbor:"sesman_url"`
	SessionID       string                     `cbor:"session_id"`
	MemberName      string                     `cbor:"member_name"`
	KeyID           string                     `cbor:"key_id"`
	PlayersReshared sessionconfig.PlayerLayout `cbor:"players_reshared"`
}

type ReshareRequest struct {
	Params ParamsReshare `cbor:"params"`
}

type ReshareResponse struct {
	Tag KeyTag `cbor:"tag"`
}

type PingRequest struct{}

type PingResponse struct {
	Echo string `cbor:"echo"`
}

// Handler is the interface a peer orchestrator service implementation
// satisfies.
type Handler interface {
	NewSession(context.Context, *connect.Request[NewSessionRequest]) (*connect.Response[NewSessionResponse], error)
	Keygen(context.Context, *connect.Request[KeygenRequest]) (*connect.Response[KeygenResponse], error)
	KeygenMnem(context.Context, *connect.Request[KeygenMnemRequest]) (*connect.Response[KeygenMnemResponse], error)
	Sign(context.Context, *connect.Request[SignRequest]) (*connect.Response[SignResponse], error)
	Reshare(context.Context, *connect.Request[ReshareRequest]) (*connect.Response[ReshareResponse], error)
	Ping(context.Context, *connect.Request[PingRequest]) (*connect.Response[PingResponse], error)
}

func NewHandler(svc Handler, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(ProcedureNewSession, connect.NewUnaryHandler(ProcedureNewSession, svc.NewSession, opts...))
	mux.Handle(ProcedureKeygen, connect.NewUnaryHandler(ProcedureKeygen, svc.Keygen, opts...))
	mux.Handle(ProcedureKeygenMnem, connect.NewUnaryHandler(ProcedureKeygenMnem, svc.KeygenMnem, opts...))
	mux.Handle(ProcedureSign, connect.NewUnaryHandler(ProcedureSign, svc.Sign, opts...))
	mux.Handle(ProcedureReshare, connect.NewUnaryHandler(ProcedureReshare, svc.Reshare, opts...))
	mux.Handle(ProcedurePing, connect.NewUnaryHandler(ProcedurePing, svc.Ping, opts...))
	return "/" + ServiceName + "/", mux
}

type Client interface {
	NewSession(context.Context, *connect.Request[NewSessionRequest]) (*connect.Response[NewSessionResponse], error)
	Keygen(context.Context, *connect.Request[KeygenRequest]) (*connect.Response[KeygenResponse], error)
	KeygenMnem(context.Context, *connect.Request[KeygenMnemRequest]) (*connect.Response[KeygenMnemResponse], error)
	Sign(context.Context, *connect.Request[SignRequest]) (*connect.Response[SignResponse], error)
	Reshare(context.Context, *connect.Request[ReshareRequest]) (*connect.Response[ReshareResponse], error)
	Ping(context.Context, *connect.Request[PingRequest]) (*connect.Response[PingResponse], error)
}

type client struct {
	newSession *connect.Client[NewSessionRequest, NewSessionResponse]
	keygen     *connect.Client[KeygenRequest, KeygenResponse]
	keygenMnem *connect.Client[KeygenMnemRequest, KeygenMnemResponse]
	sign       *connect.Client[SignRequest, SignResponse]
	reshare    *connect.Client[ReshareRequest, ReshareResponse]
	ping       *connect.Client[PingRequest, PingResponse]
}

func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) Client {
	return &client{
		newSession: connect.NewClient[NewSessionRequest, NewSessionResponse](httpClient, baseURL+ProcedureNewSession, opts...),
		keygen:     connect.NewClient[KeygenRequest, KeygenResponse](httpClient, baseURL+ProcedureKeygen, opts...),
		keygenMnem: connect.NewClient[KeygenMnemRequest, KeygenMnemResponse](httpClient, baseURL+ProcedureKeygenMnem, opts...),
		sign:       connect.NewClient[SignRequest, SignResponse](httpClient, baseURL+ProcedureSign, opts...),
		reshare:    connect.NewClient[ReshareRequest, ReshareResponse](httpClient, baseURL+ProcedureReshare, opts...),
		ping:       connect.NewClient[PingRequest, PingResponse](httpClient, baseURL+ProcedurePing, opts...),
	}
}

func (c *client) NewSession(ctx context.Context, req *connect.Request[NewSessionRequest]) (*connect.Response[NewSessionResponse], error) {
	return c.newSession.CallUnary(ctx, req)
}

func (c *client) Keygen(ctx context.Context, req *connect.Request[KeygenRequest]) (*connect.Response[KeygenResponse], error) {
	return c.keygen.CallUnary(ctx, req)
}

func (c *client) KeygenMnem(ctx context.Context, req *connect.Request[KeygenMnemRequest]) (*connect.Response[KeygenMnemResponse], error) {
	return c.keygenMnem.CallUnary(ctx, req)
}

func (c *client) Sign(ctx context.Context, req *connect.Request[SignRequest]) (*connect.Response[SignResponse], error) {
	return c.sign.CallUnary(ctx, req)
}

func (c *client) Reshare(ctx context.Context, req *connect.Request[ReshareRequest]) (*connect.Response[ReshareResponse], error) {
	return c.reshare.CallUnary(ctx, req)
}

func (c *client) Ping(ctx context.Context, req *connect.Request[PingRequest]) (*connect.Response[PingResponse], error) {
	return c.ping.CallUnary(ctx, req)
}
