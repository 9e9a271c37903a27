package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreate_PersistsAcrossCalls(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreate(dir, "alice")
	require.NoError(t, err)

	second, err := LoadOrCreate(dir, "alice")
	require.NoError(t, err)

	assert.Equal(t, first.PublicKeyBase64(), second.PublicKeyBase64())
}

func TestLoadOrCreate_DistinctUsers(t *testing.T) {
	dir := t.TempDir()

	a, err := LoadOrCreate(dir, "alice")
	require.NoError(t, err)
	b, err := LoadOrCreate(dir, "bob")
	require.NoError(t, err)

	assert.NotEqual(t, a.PublicKeyBase64(), b.PublicKeyBase64())
}

func TestToLibp2pPrivKey(t *testing.T) {
	kp, err := NewKeyPair()
	require.NoError(t, err)

	priv, err := kp.ToLibp2pPrivKey()
	require.NoError(t, err)
	assert.NotNil(t, priv)
}
