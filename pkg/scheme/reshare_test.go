package scheme

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/errs"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/keystore"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/messenger"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/sessionconfig"
)

func TestReshareLabelsKeepOldBindingsAndNumberJoiners(t *testing.T) {
	oldLabels := map[string]int{"alice": 1, "bob": 2, "carol": 3}
	newLabels, joiners := reshareLabels(oldLabels, []string{"bob", "carol", "dave", "erin"})
	assert.Equal(t, []string{"dave", "erin"}, joiners)
	assert.Equal(t, map[string]int{"bob": 2, "carol": 3, "dave": 4, "erin": 5}, newLabels,
		"staying members keep the label their share is bound to, joiners continue above the old range")
}

func TestReshareLabelsSameCommitteeIsIdentity(t *testing.T) {
	oldLabels := map[string]int{"a": 1, "b": 2}
	newLabels, joiners := reshareLabels(oldLabels, []string{"a", "b"})
	assert.Empty(t, joiners)
	assert.Equal(t, oldLabels, newLabels)
}

func TestResharePlanSameCommittee(t *testing.T) {
	labels := map[string]int{"a": 1, "b": 2}
	plan := &resharePlan{oldThreshold: 2, oldLabels: labels, newLabels: labels}
	assert.True(t, plan.sameCommittee(2))
	assert.False(t, plan.sameCommittee(1), "a threshold change is not a pure refresh")

	grown := map[string]int{"a": 1, "b": 2, "c": 3}
	plan = &resharePlan{oldThreshold: 2, oldLabels: labels, newLabels: grown}
	assert.False(t, plan.sameCommittee(2))
}

// TestPlanReshareHandsPublicSharingToJoiner walks both halves of the
// pre-round handoff over one in-memory relay: the keystore holder publishes
// the old committee's public sharing, and a joiner without any keystore
// reconstructs the same plan from it.
func TestPlanReshareHandsPublicSharingToJoiner(t *testing.T) {
	cfg := sessionconfig.Config{
		Threshold: 2,
		Players:   sessionconfig.PlayerLayout{Flat: map[string]bool{"a": true, "b": true, "c": true}},
	}
	fc := newFakeClient(cfg)
	ctx := context.Background()

	providerM, _, err := messenger.NewSession(ctx, fc, cfg)
	require.NoError(t, err)
	ks := &keystore.Keystore{
		Threshold:   2,
		Members:     map[string]int{"a": 1, "b": 2, "c": 3},
		Commitments: map[int][]byte{1: {0x0a}, 2: {0x0b}, 3: {0x0c}},
	}
	newMembers := []string{"a", "b", "c", "d"}

	providerPlan, err := planReshare(ctx, providerM, ReshareInput{
		Keystore: ks, NewMembers: newMembers, SelfName: "a", NewThreshold: 2,
	})
	require.NoError(t, err)
	assert.True(t, providerPlan.staying)
	assert.Equal(t, 1, providerPlan.selfLabel)

	joinerPlan, err := planReshare(ctx, providerM.Clone(), ReshareInput{
		NewMembers: newMembers, SelfName: "d", NewThreshold: 2,
	})
	require.NoError(t, err)
	assert.True(t, joinerPlan.staying)
	assert.Equal(t, 4, joinerPlan.selfLabel)
	assert.Equal(t, 2, joinerPlan.oldThreshold)
	assert.Equal(t, ks.Commitments, joinerPlan.oldShares)
	assert.Equal(t, providerPlan.newLabels, joinerPlan.newLabels,
		"both sides must agree on the ceremony's label assignment")
}

func TestPlanReshareDepartingMember(t *testing.T) {
	cfg := sessionconfig.Config{
		Threshold: 1,
		Players:   sessionconfig.PlayerLayout{Flat: map[string]bool{"a": true, "b": true}},
	}
	fc := newFakeClient(cfg)
	ctx := context.Background()
	m, _, err := messenger.NewSession(ctx, fc, cfg)
	require.NoError(t, err)

	ks := &keystore.Keystore{
		Threshold:   1,
		Members:     map[string]int{"a": 1, "b": 2},
		Commitments: map[int][]byte{1: {1}, 2: {2}},
	}
	plan, err := planReshare(ctx, m, ReshareInput{
		Keystore: ks, NewMembers: []string{"b"}, SelfName: "a", NewThreshold: 1,
	})
	require.NoError(t, err)
	assert.False(t, plan.staying)
	assert.Equal(t, 1, plan.selfLabel, "a departing member still runs under its old label")
}

func TestPlanReshareRejectsKeystoreWithoutMembers(t *testing.T) {
	cfg := sessionconfig.Config{
		Threshold: 1,
		Players:   sessionconfig.PlayerLayout{Flat: map[string]bool{"a": true}},
	}
	fc := newFakeClient(cfg)
	ctx := context.Background()
	m, _, err := messenger.NewSession(ctx, fc, cfg)
	require.NoError(t, err)

	_, err = planReshare(ctx, m, ReshareInput{
		Keystore: &keystore.Keystore{Threshold: 1}, NewMembers: []string{"a"}, SelfName: "a", NewThreshold: 1,
	})
	assert.True(t, errs.Is(err, errs.Internal))
}

func TestMemberRankIsLexical(t *testing.T) {
	members := []string{"carol", "alice", "bob"}
	rank, ok := memberRank(members, "bob")
	require.True(t, ok)
	assert.Equal(t, 2, rank)

	_, ok = memberRank(members, "mallory")
	assert.False(t, ok)
}
