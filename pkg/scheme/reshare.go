package scheme

import (
	"context"
	"sort"
	"strings"

	"github.com/luxfi/threshold/pkg/math/curve"
	"github.com/luxfi/threshold/pkg/party"
	"github.com/luxfi/threshold/pkg/pool"
	"github.com/luxfi/threshold/pkg/protocol"
	"github.com/luxfi/threshold/protocols/lss"
	lssconfig "github.com/luxfi/threshold/protocols/lss/config"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/errs"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/keystore"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/messenger"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/sessionconfig"
)

// handoffTopic is the reserved relay topic the old committee uses to hand
// its public sharing to joiners before the protocol rounds start.
const handoffTopic = "reshare handoff"

// leftGroupMarker is the protocol engine's own error text for a party that
// took part in a reshare but holds no share afterwards; a departing member
// treats it as its normal completion, not a failure.
const leftGroupMarker = "party not in new group"

// reshareHandoff is the pre-round message every pre-reshare member sends to
// each joiner: the public half of the old sharing, which a peer without a
// keystore needs to take part in the reshare at all. All senders derive it
// from the same committee state, so the canonical encoding is byte-identical
// no matter which member's copy a joiner reads.
type reshareHandoff struct {
	Threshold int            `cbor:"threshold"`
	Members   map[string]int `cbor:"members"`
	Shares    map[int][]byte `cbor:"shares"`
}

// reshareLabels assigns every post-reshare member its protocol label: a
// member of the old committee keeps the label its share is bound to, and
// joiners are numbered after the highest existing label in lexical name
// order. Old shares are Shamir evaluations at their label's curve point, so
// relabeling an existing member would detach its share from its coordinate;
// fresh labels above the old range keep the two committees collision-free
// and give a member of both committees a single protocol identity.
func reshareLabels(oldLabels map[string]int, newMembers []string) (newLabels map[string]int, joiners []string) {
	maxLabel := 0
	for _, l := range oldLabels {
		if l > maxLabel {
			maxLabel = l
		}
	}
	newLabels = make(map[string]int, len(newMembers))
	for _, name := range newMembers {
		if l, ok := oldLabels[name]; ok {
			newLabels[name] = l
			continue
		}
		joiners = append(joiners, name)
	}
	sort.Strings(joiners)
	for i, name := range joiners {
		newLabels[name] = maxLabel + 1 + i
	}
	return newLabels, joiners
}

// memberRank is a player's 1-based lexical rank among the post-reshare
// committee, the one label-free coordinate a joiner can compute before it
// has learned anything about the old committee — used to address its
// handoff slot.
func memberRank(members []string, name string) (int, bool) {
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)
	for i, m := range sorted {
		if m == name {
			return i + 1, true
		}
	}
	return 0, false
}

// sendHandoff pushes the old committee's public sharing to every
// post-reshare member's handoff slot. Slots of members who already hold a
// keystore are written too and simply never read; that costs a few relay
// entries and saves every sender from having to know which members are
// genuinely new.
func sendHandoff(ctx context.Context, m *messenger.Messenger, ks *keystore.Keystore, newMembers []string) error {
	payload := reshareHandoff{
		Threshold: ks.Threshold,
		Members:   ks.Members,
		Shares:    ks.Commitments,
	}
	for rank := 1; rank <= len(newMembers); rank++ {
		if err := m.RegisterSend(handoffTopic, 0, uint64(rank), 0, payload); err != nil {
			return err
		}
	}
	if err := m.ExecuteSend(ctx); err != nil {
		return err
	}
	m.ClearSend()
	return nil
}

// receiveHandoff blocks until some old-committee member has published the
// public sharing for this joiner's rank, then returns it.
func receiveHandoff(ctx context.Context, m *messenger.Messenger, newMembers []string, selfName string) (*reshareHandoff, error) {
	rank, ok := memberRank(newMembers, selfName)
	if !ok {
		return nil, errs.Newf(errs.InvalidArgument, "player %q is not in the post-reshare committee", selfName)
	}
	m.RegisterReceive(handoffTopic, 0, uint64(rank), 0)
	if err := m.ExecuteReceive(ctx); err != nil {
		return nil, err
	}
	var payload reshareHandoff
	if err := m.UnpackReceive(handoffTopic, 0, uint64(rank), 0, &payload); err != nil {
		return nil, err
	}
	m.ClearReceive()
	return &payload, nil
}

// resharePlan is the fully resolved view of one peer's reshare run, shared
// by every scheme family: who held the old sharing and under which labels,
// who takes part afterwards, and this peer's own label.
type resharePlan struct {
	oldThreshold int
	oldLabels    map[string]int
	oldShares    map[int][]byte
	newLabels    map[string]int
	selfLabel    int
	staying      bool
}

// planReshare performs the pre-round half of a reshare: an existing member
// reads the old sharing from its keystore and, when the committee gains
// members, publishes the public half for them; a joiner blocks for that
// handoff instead. Both sides then agree on the same label assignment.
func planReshare(ctx context.Context, m *messenger.Messenger, in ReshareInput) (*resharePlan, error) {
	var oldThreshold int
	var oldLabels map[string]int
	var oldShares map[int][]byte

	if in.Keystore != nil {
		if len(in.Keystore.Members) == 0 {
			return nil, errs.New(errs.Internal, "keystore carries no committee member map")
		}
		oldThreshold = in.Keystore.Threshold
		oldLabels = in.Keystore.Members
		oldShares = in.Keystore.Commitments
		newLabels, joiners := reshareLabels(oldLabels, in.NewMembers)
		if len(joiners) > 0 {
			if err := sendHandoff(ctx, m, in.Keystore, in.NewMembers); err != nil {
				return nil, err
			}
		}
		selfLabel, inOld := oldLabels[in.SelfName]
		if !inOld {
			return nil, errs.Newf(errs.InvalidArgument, "player %q is not in the keystore's committee", in.SelfName)
		}
		_, staying := newLabels[in.SelfName]
		return &resharePlan{
			oldThreshold: oldThreshold,
			oldLabels:    oldLabels,
			oldShares:    oldShares,
			newLabels:    newLabels,
			selfLabel:    selfLabel,
			staying:      staying,
		}, nil
	}

	payload, err := receiveHandoff(ctx, m, in.NewMembers, in.SelfName)
	if err != nil {
		return nil, err
	}
	oldThreshold = payload.Threshold
	oldLabels = payload.Members
	oldShares = payload.Shares
	newLabels, _ := reshareLabels(oldLabels, in.NewMembers)
	selfLabel, ok := newLabels[in.SelfName]
	if !ok {
		return nil, errs.Newf(errs.InvalidArgument, "player %q is not in the post-reshare committee", in.SelfName)
	}
	return &resharePlan{
		oldThreshold: oldThreshold,
		oldLabels:    oldLabels,
		oldShares:    oldShares,
		newLabels:    newLabels,
		selfLabel:    selfLabel,
		staying:      true,
	}, nil
}

// sameCommittee reports whether the reshare changes nothing about who holds
// a share or how many are needed — the pure-refresh case.
func (p *resharePlan) sameCommittee(newThreshold int) bool {
	if p.oldThreshold != newThreshold || len(p.oldLabels) != len(p.newLabels) {
		return false
	}
	for name, l := range p.oldLabels {
		if p.newLabels[name] != l {
			return false
		}
	}
	return true
}

// participants is the union of old and new labels, sorted — the full party
// set the reshare rounds run over.
func (p *resharePlan) participants() []party.ID {
	seen := map[int]struct{}{}
	var all []int
	for _, l := range p.oldLabels {
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			all = append(all, l)
		}
	}
	for _, l := range p.newLabels {
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			all = append(all, l)
		}
	}
	sort.Ints(all)
	return ids(all)
}

// newParticipants is the post-reshare committee's labels, sorted.
func (p *resharePlan) newParticipants() []party.ID {
	all := make([]int, 0, len(p.newLabels))
	for _, l := range p.newLabels {
		all = append(all, l)
	}
	sort.Ints(all)
	return ids(all)
}

// shamirReshare drives the engine's Shamir resharing over a plan: a pure
// refresh goes through lss.Refresh, a committee change through lss.Reshare,
// which hands joiners a share of the existing key. The engine's final round
// recomputes the group public key from the new sharing and errors out if it
// moved, which is exactly the preservation property sign-after-reshare
// requires. A departing member runs its provider rounds and then leaves
// with a nil config instead of a result.
func shamirReshare(ctx context.Context, m *messenger.Messenger, group curve.Curve, plan *resharePlan, newThreshold int, secretShare curve.Scalar) (*lssconfig.Config, error) {
	pl := pool.NewPool(0)
	defer pl.TearDown()

	public := make(map[party.ID]*lssconfig.Public, len(plan.oldLabels))
	for _, label := range plan.oldLabels {
		enc, ok := plan.oldShares[label]
		if !ok {
			return nil, errs.Newf(errs.Internal, "old sharing has no public share for label %d", label)
		}
		pt := group.NewPoint()
		if err := pt.UnmarshalBinary(enc); err != nil {
			return nil, errs.Wrap(errs.Internal, "decode old public share", err)
		}
		public[id(label)] = &lssconfig.Public{ECDSA: pt}
	}
	if secretShare == nil {
		// A joiner contributes no secret; the zero scalar keeps the config
		// well-formed while the engine treats the party as new.
		secretShare = group.NewScalar()
	}
	// ChainKey and RID seed the refreshed config's randomness derivation
	// and must be non-empty; they are per-party inputs, so a fixed domain
	// string is as good as any.
	seed := []byte("svarog-reshare-seed")
	oldCfg := &lssconfig.Config{
		ID:        id(plan.selfLabel),
		Group:     group,
		Threshold: plan.oldThreshold,
		ECDSA:     secretShare,
		Public:    public,
		ChainKey:  seed,
		RID:       seed,
	}

	var start protocol.StartFunc
	if plan.sameCommittee(newThreshold) {
		start = lss.Refresh(oldCfg, pl)
	} else {
		start = lss.Reshare(oldCfg, plan.newParticipants(), newThreshold, pl)
	}
	h, err := protocol.NewMultiHandler(start, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ThreadFailed, "exception", err)
	}
	result, err := runHandler(ctx, h, m, id(plan.selfLabel), plan.participants())
	if err != nil {
		if !plan.staying && strings.Contains(err.Error(), leftGroupMarker) {
			return nil, nil
		}
		return nil, err
	}
	if !plan.staying {
		return nil, nil
	}
	newCfg, ok := result.(*lssconfig.Config)
	if !ok {
		return nil, errs.New(errs.Internal, "reshare returned unexpected result type")
	}
	return newCfg, nil
}

// lssConfigToKeystore converts the result of shamirReshare into this
// repo's keystore format, the same shape frostConfigToKeystore produces,
// since both FROST-family adapters store a bare Shamir share plus
// per-party verification points.
func lssConfigToKeystore(algo sessionconfig.Algorithm, cfg *lssconfig.Config, members map[string]int) (*keystore.Keystore, error) {
	selfIdx, err := partyIndex(cfg.ID)
	if err != nil {
		return nil, err
	}
	share, err := cfg.ECDSA.MarshalBinary()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "encode reshared secret share", err)
	}
	groupKey, err := cfg.PublicPoint()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "recombine reshared public key", err)
	}
	pub, err := groupKey.MarshalBinary()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "encode reshared public key", err)
	}
	commitments := map[int][]byte{}
	for pid, share := range cfg.Public {
		idx, perr := partyIndex(pid)
		if perr != nil {
			return nil, perr
		}
		enc, merr := share.ECDSA.MarshalBinary()
		if merr != nil {
			return nil, errs.Wrap(errs.Internal, "encode reshared verification share", merr)
		}
		commitments[int(idx)] = enc
	}
	return &keystore.Keystore{
		Algorithm:   algo,
		Index:       int(selfIdx),
		Threshold:   cfg.Threshold,
		GroupSize:   len(cfg.Public),
		SecretShare: share,
		Commitments: commitments,
		Members:     members,
		PublicKey:   pub,
	}, nil
}
