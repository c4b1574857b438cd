package scheme

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/keystore"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/messenger"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/sessionconfig"
	rpcpeer "github.com/taiyi-research-institute/svarog-service-flat/rpc/peer"
)

// runCeremony runs fn once per participant, each over its own Messenger
// cloned from a shared fakeClient (so every participant's send lands in the
// same in-memory store every other participant polls), and fails the test
// immediately if any participant's run errors.
func runCeremony(t *testing.T, fc *fakeClient, cfg sessionconfig.Config, participants []int, fn func(ctx context.Context, c Ceremony) error) {
	t.Helper()
	ctx := context.Background()
	var g errgroup.Group
	for _, localIndex := range participants {
		localIndex := localIndex
		g.Go(func() error {
			m, _, err := messenger.NewSession(ctx, fc, cfg)
			if err != nil {
				return err
			}
			return fn(ctx, Ceremony{Messenger: m, LocalIndex: localIndex, Participants: participants, Threshold: cfg.Threshold})
		})
	}
	require.NoError(t, g.Wait())
}

// scenarioAdapters pairs each supported algorithm with a label; GG18's
// Paillier-heavy keygen is exercised alongside FROST and Taproot Schnorr so
// every algorithm family drives the same ceremony sequence.
var scenarioAdapters = []struct {
	name string
	algo sessionconfig.Algorithm
}{
	{name: "frost", algo: sessionconfig.Algorithm{Curve: sessionconfig.Ed25519, Scheme: sessionconfig.Schnorr}},
	{name: "taproot", algo: sessionconfig.Algorithm{Curve: sessionconfig.Secp256k1, Scheme: sessionconfig.Schnorr}},
	{name: "gg18", algo: sessionconfig.Algorithm{Curve: sessionconfig.Secp256k1, Scheme: sessionconfig.ElGamal}},
}

// TestKeygenSignReshareSignPreservesPublicKey drives a full 3-party
// keygen -> sign (one multi-segment path) -> sign (three distinct paths in
// one batch) -> reshare -> sign ceremony for every algorithm family,
// entirely over the in-process fakeClient, with no mocking of the protocol
// engine itself: every round is driven for real through runHandler.
func TestKeygenSignReshareSignPreservesPublicKey(t *testing.T) {
	for _, tc := range scenarioAdapters {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			adapter, err := Select(tc.algo)
			require.NoError(t, err)

			participants := []int{1, 2, 3}
			members := map[string]int{"a": 1, "b": 2, "c": 3}
			names := map[int]string{1: "a", 2: "b", 3: "c"}
			cfg := sessionconfig.Config{
				Algorithm: tc.algo,
				Threshold: 2,
				Players:   sessionconfig.PlayerLayout{Flat: map[string]bool{"a": true, "b": true, "c": true}},
			}
			fc := newFakeClient(cfg)

			keystores := make(map[int]*keystore.Keystore, len(participants))
			var mu sync.Mutex
			runCeremony(t, fc, cfg, participants, func(ctx context.Context, c Ceremony) error {
				ks, kerr := adapter.Keygen(ctx, c)
				if kerr != nil {
					return kerr
				}
				ks.Members = members
				mu.Lock()
				keystores[c.LocalIndex] = ks
				mu.Unlock()
				return nil
			})
			require.Len(t, keystores, len(participants))
			rootPub := keystores[participants[0]].PublicKey
			for _, idx := range participants {
				require.Equal(t, rootPub, keystores[idx].PublicKey, "every participant's keygen output must agree on the group public key")
			}

			// One task under a multi-segment derivation path.
			sigsSingle := make(map[int][]rpcpeer.Signature, len(participants))
			runCeremony(t, fc, cfg, participants, func(ctx context.Context, c Ceremony) error {
				sigs, serr := adapter.Sign(ctx, c, keystores[c.LocalIndex], [][]byte{hash32("single-message")}, []string{"m/1/2/3/4"})
				if serr != nil {
					return serr
				}
				mu.Lock()
				sigsSingle[c.LocalIndex] = sigs
				mu.Unlock()
				return nil
			})
			for _, idx := range participants {
				require.Len(t, sigsSingle[idx], 1)
			}

			// Three distinct derivation paths signed in one batch; each must
			// produce a signature distinguishable from the others (different
			// tweak, different signed key).
			paths := []string{"m/0", "m/1", "m/2"}
			digests := [][]byte{hash32("batch-a"), hash32("batch-b"), hash32("batch-c")}
			sigsBatch := make(map[int][]rpcpeer.Signature, len(participants))
			runCeremony(t, fc, cfg, participants, func(ctx context.Context, c Ceremony) error {
				sigs, serr := adapter.Sign(ctx, c, keystores[c.LocalIndex], digests, paths)
				if serr != nil {
					return serr
				}
				mu.Lock()
				sigsBatch[c.LocalIndex] = sigs
				mu.Unlock()
				return nil
			})
			for _, idx := range participants {
				require.Len(t, sigsBatch[idx], len(paths))
				require.NotEqual(t, sigsBatch[idx][0].R, sigsBatch[idx][1].R, "distinct derivation paths must not collapse to the same signed key")
				require.NotEqual(t, sigsBatch[idx][1].R, sigsBatch[idx][2].R, "distinct derivation paths must not collapse to the same signed key")
			}

			// Reshare over the same committee, then sign again; the public
			// key must survive unchanged.
			reshared := make(map[int]*keystore.Keystore, len(participants))
			runCeremony(t, fc, cfg, participants, func(ctx context.Context, c Ceremony) error {
				in := ReshareInput{
					Keystore:     keystores[c.LocalIndex],
					NewMembers:   []string{"a", "b", "c"},
					SelfName:     names[c.LocalIndex],
					NewThreshold: cfg.Threshold,
				}
				ks, rerr := adapter.Reshare(ctx, c.Messenger, in)
				if rerr != nil {
					return rerr
				}
				mu.Lock()
				reshared[c.LocalIndex] = ks
				mu.Unlock()
				return nil
			})
			for _, idx := range participants {
				require.Equal(t, rootPub, reshared[idx].PublicKey, "reshare must preserve the group public key")
			}

			sigsAfterReshare := make(map[int][]rpcpeer.Signature, len(participants))
			runCeremony(t, fc, cfg, participants, func(ctx context.Context, c Ceremony) error {
				sigs, serr := adapter.Sign(ctx, c, reshared[c.LocalIndex], [][]byte{hash32("post-reshare")}, []string{"m/7"})
				if serr != nil {
					return serr
				}
				mu.Lock()
				sigsAfterReshare[c.LocalIndex] = sigs
				mu.Unlock()
				return nil
			})
			for _, idx := range participants {
				require.Len(t, sigsAfterReshare[idx], 1)
			}
		})
	}
}

// hash32 derives a deterministic 32-byte digest from a label, standing in
// for a real transaction hash; the scenario test only needs distinct,
// stable digests, not a particular hash function.
func hash32(label string) []byte {
	out := make([]byte, 32)
	copy(out, label)
	return out
}
