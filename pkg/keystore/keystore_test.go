package keystore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/sessionconfig"
)

func TestSaveLoadRoundTrips(t *testing.T) {
	tmp := t.TempDir()
	restore := chdir(t, tmp)
	defer restore()

	ks := &Keystore{
		Algorithm:   sessionconfig.Algorithm{Curve: sessionconfig.Secp256k1, Scheme: sessionconfig.ElGamal},
		Index:       2,
		Threshold:   3,
		GroupSize:   5,
		SecretShare: []byte{4, 5, 6},
		Commitments: map[int][]byte{1: {9}, 2: {9}},
		Members:     map[string]int{"Alice": 1, "Bob": 2},
		PublicKey:   []byte{7, 8},
	}
	require.NoError(t, Save("Alice", "sess1", ks))

	got, err := Load("Alice", "sess1")
	require.NoError(t, err)
	assert.Equal(t, ks.Index, got.Index)
	assert.Equal(t, ks.SecretShare, got.SecretShare)
	assert.Equal(t, ks.Commitments, got.Commitments)
	assert.Equal(t, ks.Members, got.Members)
}

func TestLoadMissingFileFails(t *testing.T) {
	tmp := t.TempDir()
	restore := chdir(t, tmp)
	defer restore()

	_, err := Load("Nobody", "nope")
	assert.Error(t, err)
}

func TestSaveOverwritesExisting(t *testing.T) {
	tmp := t.TempDir()
	restore := chdir(t, tmp)
	defer restore()

	require.NoError(t, Save("Alice", "sess1", &Keystore{Index: 1}))
	require.NoError(t, Save("Alice", "sess1", &Keystore{Index: 9}))

	got, err := Load("Alice", "sess1")
	require.NoError(t, err)
	assert.Equal(t, 9, got.Index)
}

func chdir(t *testing.T, dir string) func() {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	return func() { _ = os.Chdir(old) }
}

func TestPathShape(t *testing.T) {
	assert.Equal(t, filepath.Join("assets", "Alice@sess1.keystore"), Path("Alice", "sess1"))
}
