package store

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/keyspace"
)

func mustKey(t *testing.T, sid, topic string, src, dst, seq uint64) Key {
	t.Helper()
	k, err := keyspace.PrimaryKey(sid, topic, src, dst, seq)
	require.NoError(t, err)
	return k
}

// sidAt renders a session id embedding at's millisecond timestamp the same
// way a real UUIDv7 would, so PivotKey's byte-comparison against it behaves
// like it would against a genuine freshly-minted sid.
func sidAt(at time.Time) string {
	var raw [16]byte
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(at.UnixMilli()))
	copy(raw[:6], tsBuf[2:8])
	return hex.EncodeToString(raw[:])
}

func TestCompareInsertIdempotentReplay(t *testing.T) {
	s := New()
	k := mustKey(t, "00000000000000000000000000000001", "t", 1, 2, 3)

	s.CompareInsert(k, []byte("payload"), AlwaysInsert)
	s.CompareInsert(k, []byte("payload"), AlwaysInsert)

	v, ok := s.Get(k)
	require.True(t, ok)
	assert.Equal(t, "payload", string(v))
	assert.Equal(t, 1, s.Len())
}

func TestCompareInsertLastWriteWins(t *testing.T) {
	s := New()
	k := mustKey(t, "00000000000000000000000000000002", "t", 1, 2, 3)

	s.CompareInsert(k, []byte("first"), AlwaysInsert)
	s.CompareInsert(k, []byte("second"), AlwaysInsert)

	v, ok := s.Get(k)
	require.True(t, ok)
	assert.Equal(t, "second", string(v))
}

func TestFrontAndPopFrontOrdering(t *testing.T) {
	s := New()
	kOld := mustKey(t, "00000000000000000000000000000001", "t", 0, 0, 0)
	kNew := mustKey(t, "000000000000000000000000000000ff", "t", 0, 0, 0)

	s.CompareInsert(kNew, []byte("new"), AlwaysInsert)
	s.CompareInsert(kOld, []byte("old"), AlwaysInsert)

	front, v, ok := s.Front()
	require.True(t, ok)
	assert.Equal(t, kOld, front)
	assert.Equal(t, "old", string(v))

	popped, v, ok := s.PopFront()
	require.True(t, ok)
	assert.Equal(t, kOld, popped)
	assert.Equal(t, "old", string(v))
	assert.Equal(t, 1, s.Len())
}

func TestEvictionSweepsExpiredPrefix(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New()
	lifespan := 50 * time.Millisecond

	expiredKey := mustKey(t, sidAt(time.Now().Add(-time.Hour)), "session config", 0, 0, 0)
	s.CompareInsert(expiredKey, []byte("cfg"), AlwaysInsert)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunEviction(ctx, s, lifespan, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := s.Get(expiredKey)
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "expired entry should be evicted")

	cancel()
	<-done
}

func TestLiveSessionSurvivesHalfLifespan(t *testing.T) {
	s := New()
	lifespan := 200 * time.Millisecond

	liveKey := mustKey(t, sidAt(time.Now()), "session config", 0, 0, 0)
	s.CompareInsert(liveKey, []byte("cfg"), AlwaysInsert)

	time.Sleep(lifespan / 2)
	s.evictOnce(lifespan)

	_, ok := s.Get(liveKey)
	assert.True(t, ok, "session created at t0 must still be readable at t0+L/2")
}
