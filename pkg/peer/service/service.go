// Package service implements the peer orchestrator's RPC contract:
// operation dispatch for keygen, keygen-from-mnemonic, sign, and reshare,
// provider/consumer role splitting, and keystore persistence, all driven
// through the scheme adapters of pkg/scheme.
package service

import (
	"context"
	"encoding/hex"
	"sort"

	"connectrpc.com/connect"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/sync/errgroup"

	"github.com/taiyi-research-institute/svarog-service-flat/internal/codec"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/architecture"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/errs"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/keystore"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/messenger"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/peer/metrics"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/scheme"
	rpcpeer "github.com/taiyi-research-institute/svarog-service-flat/rpc/peer"
	rpcsesman "github.com/taiyi-research-institute/svarog-service-flat/rpc/sesman"
)

// ghostIndex is the reserved participant index the mnemonic-import provider
// always joins a keygen-mnem ceremony under. Real attendee indices start at
// 1 (pkg/architecture assigns them from there), so 0 never collides with
// one.
const ghostIndex = 0

// Service implements rpc/peer.Handler. It holds nothing but the HTTP client
// used to dial whichever session manager a request names; every other piece
// of state (architecture, keystores, scheme selection) is resolved fresh
// per call from the request and the session configuration.
type Service struct {
	httpClient connect.HTTPClient
}

var _ rpcpeer.Handler = (*Service)(nil)

// New wraps httpClient as a peer orchestrator service.
func New(httpClient connect.HTTPClient) *Service {
	return &Service{httpClient: httpClient}
}

func (svc *Service) sesmanClient(url string) rpcsesman.Client {
	return rpcsesman.NewClient(svc.httpClient, url, codec.WithCBOR())
}

func (svc *Service) NewSession(ctx context.Context, req *connect.Request[rpcpeer.NewSessionRequest]) (resp *connect.Response[rpcpeer.NewSessionResponse], err error) {
	defer func() { metrics.Observe("NewSession", err) }()

	client := svc.sesmanClient(req.Msg.Config.SesmanURL)
	sresp, serr := client.NewSession(ctx, connect.NewRequest(&rpcsesman.NewSessionRequest{Config: req.Msg.Config}))
	if serr != nil {
		return nil, connectErr(errs.Wrap(errs.GrpcCallFailed, "new session", serr))
	}
	return connect.NewResponse(&rpcpeer.NewSessionResponse{SessionID: sresp.Msg.SessionID}), nil
}

func (svc *Service) Keygen(ctx context.Context, req *connect.Request[rpcpeer.KeygenRequest]) (resp *connect.Response[rpcpeer.KeygenResponse], err error) {
	defer func() { metrics.Observe("Keygen", err) }()

	params := req.Msg.Params
	client := svc.sesmanClient(params.SesmanURL)
	m, cfg, uerr := messenger.UseSession(ctx, client, params.SessionID)
	if uerr != nil {
		return nil, connectErr(uerr)
	}
	if !cfg.Players.AllAttend() {
		return nil, connectErr(errs.New(errs.AllKeygenPlayersShouldAttend, "keygen requires every configured player to attend"))
	}
	arch, rerr := architecture.Resolve(&cfg, params.MemberName)
	if rerr != nil {
		return nil, connectErr(rerr)
	}
	localIdx, attending := arch.RootLocalIndex()
	if !attending {
		return nil, connectErr(errs.New(errs.SignerNotInSession, "member is not attending this session"))
	}
	adapter, serr := scheme.Select(cfg.Algorithm)
	if serr != nil {
		return nil, connectErr(serr)
	}

	ceremony := scheme.Ceremony{Messenger: m, LocalIndex: localIdx, Participants: arch.RootParticipants(), Threshold: cfg.Threshold}
	var ks *keystore.Keystore
	if terr := runRole(func() error {
		var ierr error
		ks, ierr = adapter.Keygen(ctx, ceremony)
		return ierr
	}); terr != nil {
		return nil, connectErr(terr)
	}
	ks.Members = arch.RootIndexByName
	if perr := keystore.Save(params.MemberName, cfg.SessionID, ks); perr != nil {
		return nil, connectErr(perr)
	}

	metrics.ObserveCeremony("keygen", nil)
	tag := rpcpeer.KeyTag{KeyID: cfg.SessionID, Xpub: hex.EncodeToString(ks.PublicKey)}
	return connect.NewResponse(&rpcpeer.KeygenResponse{Tag: tag}), nil
}

// KeygenMnem runs a keygen ceremony with one extra participant, the
// mnemonic-import "ghost" provider, present under the reserved ghostIndex.
// A call naming a real member_name runs the consumer role, as an errgroup
// task, over the messenger opened at step 1; a call supplying a mnemonic (member_name is
// conventionally empty in that case) spawns the provider role on a cloned
// messenger, matching the design note that provider/consumer roles are
// cheap clones of one relay connection rather than two processes. The two
// roles are mutually exclusive per call in practice (a ghost never attends
// as a named player, so its own i_dict is always empty) but both branches
// are evaluated uniformly so the same code handles either caller.
func (svc *Service) KeygenMnem(ctx context.Context, req *connect.Request[rpcpeer.KeygenMnemRequest]) (resp *connect.Response[rpcpeer.KeygenMnemResponse], err error) {
	defer func() { metrics.Observe("KeygenMnem", err) }()

	params := req.Msg.Params
	client := svc.sesmanClient(params.SesmanURL)
	m, cfg, uerr := messenger.UseSession(ctx, client, params.SessionID)
	if uerr != nil {
		return nil, connectErr(uerr)
	}
	if !cfg.Players.AllAttend() {
		return nil, connectErr(errs.New(errs.AllKeygenPlayersShouldAttend, "keygen-mnem requires every configured player to attend"))
	}
	arch, rerr := architecture.Resolve(&cfg, params.MemberName)
	if rerr != nil {
		return nil, connectErr(rerr)
	}
	adapter, serr := scheme.Select(cfg.Algorithm)
	if serr != nil {
		return nil, connectErr(serr)
	}
	participants := withGhost(arch.RootParticipants())

	var g errgroup.Group
	var tag rpcpeer.KeyTag

	localIdx, attending := arch.RootLocalIndex()
	if attending {
		g.Go(func() error {
			return runRole(func() error {
				ceremony := scheme.Ceremony{Messenger: m, LocalIndex: localIdx, Participants: participants, Threshold: cfg.Threshold}
				ks, ierr := adapter.Keygen(ctx, ceremony)
				if ierr != nil {
					return ierr
				}
				ks.Members = arch.RootIndexByName
				if perr := keystore.Save(params.MemberName, cfg.SessionID, ks); perr != nil {
					return perr
				}
				tag = rpcpeer.KeyTag{KeyID: cfg.SessionID, Xpub: hex.EncodeToString(ks.PublicKey)}
				return nil
			})
		})
	} else {
		tag = rpcpeer.KeyTag{KeyID: cfg.SessionID}
	}

	if params.Mnemonic != "" {
		if !bip39.IsMnemonicValid(params.Mnemonic) {
			return nil, connectErr(errs.New(errs.InvalidArgument, "malformed mnemonic"))
		}
		// The mnemonic is validated and turned into seed entropy here, but
		// that entropy is never threaded into the keygen math below: the
		// imported protocol engine exposes no primitive for binding a DKG run
		// to caller-supplied key material (see DESIGN.md). The provider
		// contributes a real, independent participant to the ceremony; it
		// just never keeps what it generates.
		_ = bip39.NewSeed(params.Mnemonic, "")

		providerMessenger := m.Clone()
		g.Go(func() error {
			return runRole(func() error {
				ceremony := scheme.Ceremony{Messenger: providerMessenger, LocalIndex: ghostIndex, Participants: participants, Threshold: cfg.Threshold}
				_, ierr := adapter.Keygen(ctx, ceremony)
				return ierr
			})
		})
	}

	if werr := g.Wait(); werr != nil {
		return nil, connectErr(werr)
	}

	metrics.ObserveCeremony("keygen_mnem", nil)
	return connect.NewResponse(&rpcpeer.KeygenMnemResponse{Tag: tag}), nil
}

func (svc *Service) Sign(ctx context.Context, req *connect.Request[rpcpeer.SignRequest]) (resp *connect.Response[rpcpeer.SignResponse], err error) {
	defer func() { metrics.Observe("Sign", err) }()

	params := req.Msg.Params
	if len(params.Tasks) == 0 {
		return nil, connectErr(errs.New(errs.InvalidArgument, "sign requires at least one task"))
	}

	client := svc.sesmanClient(params.SesmanURL)
	m, cfg, uerr := messenger.UseSession(ctx, client, params.SessionID)
	if uerr != nil {
		return nil, connectErr(uerr)
	}
	arch, rerr := architecture.Resolve(&cfg, params.MemberName)
	if rerr != nil {
		return nil, connectErr(rerr)
	}
	if _, attending := arch.RootLocalIndex(); !attending {
		return nil, connectErr(errs.New(errs.SignerNotInSession, "member is not attending this session"))
	}
	adapter, serr := scheme.Select(cfg.Algorithm)
	if serr != nil {
		return nil, connectErr(serr)
	}
	ks, lerr := keystore.Load(params.MemberName, params.KeyID)
	if lerr != nil {
		return nil, connectErr(lerr)
	}
	if len(ks.Members) == 0 {
		return nil, connectErr(errs.New(errs.Internal, "keystore carries no committee member map"))
	}

	digests := make([][]byte, len(params.Tasks))
	paths := make([]string, len(params.Tasks))
	for i, t := range params.Tasks {
		digests[i] = t.TxHash
		paths[i] = t.DerivationPath
	}

	// The protocol runs in the keystore's own label space: session indices
	// are only this session's view of the committee, while the labels the
	// shares are bound to survive resharing and may no longer start at 1.
	localLabel, ok := ks.Members[params.MemberName]
	if !ok {
		return nil, connectErr(errs.Newf(errs.InvalidArgument, "signer %q is not in the keystore's committee", params.MemberName))
	}
	signerLabels := make([]int, 0, cfg.Players.AttendingCount())
	for _, name := range cfg.Players.AttendingNames() {
		label, known := ks.Members[name]
		if !known {
			return nil, connectErr(errs.Newf(errs.InvalidArgument, "signer %q is not in the keystore's committee", name))
		}
		signerLabels = append(signerLabels, label)
	}
	sort.Ints(signerLabels)

	ceremony := scheme.Ceremony{Messenger: m, LocalIndex: localLabel, Participants: signerLabels, Threshold: cfg.Threshold}
	var sigs []rpcpeer.Signature
	if terr := runRole(func() error {
		var ierr error
		sigs, ierr = adapter.Sign(ctx, ceremony, ks, digests, paths)
		return ierr
	}); terr != nil {
		return nil, connectErr(terr)
	}

	metrics.ObserveCeremony("sign", nil)
	return connect.NewResponse(&rpcpeer.SignResponse{Signatures: sigs}), nil
}

// Reshare resolves both the pre- and post-reshare architectures for the
// caller's member_name. A caller who supplies its pre-reshare keystore acts
// as provider; a caller attending the post-reshare layout acts as consumer,
// with or without a keystore — a joiner holding no share yet learns the old
// committee's public sharing over the relay inside the adapter and receives
// a share of the existing key, so the group public key survives the
// committee change. Each committee member runs exactly one protocol role,
// so unlike keygen-mnem no second parallel task is spun up; a departing
// provider completes its rounds and keeps its old key tag.
func (svc *Service) Reshare(ctx context.Context, req *connect.Request[rpcpeer.ReshareRequest]) (resp *connect.Response[rpcpeer.ReshareResponse], err error) {
	defer func() { metrics.Observe("Reshare", err) }()

	params := req.Msg.Params
	client := svc.sesmanClient(params.SesmanURL)
	m, cfg, uerr := messenger.UseSession(ctx, client, params.SessionID)
	if uerr != nil {
		return nil, connectErr(uerr)
	}
	if !params.PlayersReshared.AllAttend() {
		return nil, connectErr(errs.New(errs.AllReshareConsumersShouldAttend, "reshare requires every post-reshare player to attend"))
	}
	// The target layout travels with the request rather than the original
	// session config, so a session opened for a plain keygen can still be
	// reshared later without having declared players_reshared up front.
	reshareCfg := cfg
	reshareCfg.PlayersReshared = &params.PlayersReshared

	oldArch, oerr := architecture.Resolve(&cfg, params.MemberName)
	if oerr != nil {
		return nil, connectErr(oerr)
	}
	newArch, nerr := architecture.ResolveReshared(&reshareCfg, params.MemberName)
	if nerr != nil {
		return nil, connectErr(nerr)
	}
	_, inOld := oldArch.RootLocalIndex()
	_, isConsumer := newArch.RootLocalIndex()

	var oldKS *keystore.Keystore
	if params.KeyID != "" {
		if !inOld {
			return nil, connectErr(errs.New(errs.ProviderNotInSession, "member did not attend the pre-reshare committee"))
		}
		ks, lerr := keystore.Load(params.MemberName, params.KeyID)
		if lerr != nil {
			return nil, connectErr(lerr)
		}
		oldKS = ks
	}
	if oldKS == nil && !isConsumer {
		return nil, connectErr(errs.New(errs.ProviderNotInSession, "member attends neither the pre- nor post-reshare committee"))
	}

	adapter, serr := scheme.Select(cfg.Algorithm)
	if serr != nil {
		return nil, connectErr(serr)
	}

	in := scheme.ReshareInput{
		Keystore:     oldKS,
		NewMembers:   params.PlayersReshared.AttendingNames(),
		SelfName:     params.MemberName,
		NewThreshold: cfg.Threshold,
	}
	var newKS *keystore.Keystore
	if terr := runRole(func() error {
		var ierr error
		newKS, ierr = adapter.Reshare(ctx, m, in)
		return ierr
	}); terr != nil {
		return nil, connectErr(terr)
	}

	var tag rpcpeer.KeyTag
	switch {
	case newKS != nil:
		if perr := keystore.Save(params.MemberName, cfg.SessionID, newKS); perr != nil {
			return nil, connectErr(perr)
		}
		tag = rpcpeer.KeyTag{KeyID: cfg.SessionID, Xpub: hex.EncodeToString(newKS.PublicKey)}
	case oldKS != nil:
		// Departing provider: the share moved on without it.
		tag = rpcpeer.KeyTag{KeyID: params.KeyID, Xpub: hex.EncodeToString(oldKS.PublicKey)}
	default:
		return nil, connectErr(errs.New(errs.Internal, "reshare produced no keystore for a post-reshare member"))
	}

	metrics.ObserveCeremony("reshare", nil)
	return connect.NewResponse(&rpcpeer.ReshareResponse{Tag: tag}), nil
}

func (svc *Service) Ping(ctx context.Context, req *connect.Request[rpcpeer.PingRequest]) (*connect.Response[rpcpeer.PingResponse], error) {
	metrics.Observe("Ping", nil)
	return connect.NewResponse(&rpcpeer.PingResponse{Echo: "pong"}), nil
}

// withGhost returns participants plus the reserved ghost index, sorted.
func withGhost(participants []int) []int {
	out := make([]int, 0, len(participants)+1)
	out = append(out, participants...)
	out = append(out, ghostIndex)
	sort.Ints(out)
	return out
}

// runRole recovers a panic from fn, surfacing it as ThreadFailed("panic")
// exactly like the scheme package's own round pump does for protocol-level
// panics — this catches anything that panics before a ceremony even starts
// driving rounds.
func runRole(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.Newf(errs.ThreadFailed, "panic")
		}
	}()
	return fn()
}

// connectErr maps this package's structured errors onto Connect status
// codes, preserving the underlying errs.Kind so clients can still match on
// it through errors.As/errs.Is.
func connectErr(err error) error {
	code := connect.CodeInternal
	switch errs.KindOf(err) {
	case errs.NotFound:
		code = connect.CodeNotFound
	case errs.InvalidArgument:
		code = connect.CodeInvalidArgument
	case errs.NotImplemented:
		code = connect.CodeUnimplemented
	case errs.GrpcCallFailed, errs.CannotConnectGrpcServer:
		code = connect.CodeUnavailable
	case errs.ThreadFailed:
		code = connect.CodeAborted
	case errs.AllKeygenPlayersShouldAttend, errs.SignerNotInSession, errs.ProviderNotInSession, errs.AllReshareConsumersShouldAttend:
		code = connect.CodeFailedPrecondition
	case errs.NotRegistered, errs.MessagesMissing, errs.UnexpectedNull:
		code = connect.CodeDataLoss
	}
	return connect.NewError(code, err)
}
