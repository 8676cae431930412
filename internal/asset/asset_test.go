package asset

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zsapool/internal/keys"
)

func TestDerive(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	isk, err := keys.NewIssuanceAuthorizingKey(rng)
	require.NoError(t, err)
	ik := isk.ValidatingKey()

	a1, err := Derive(ik, []byte("zsa asset"))
	require.NoError(t, err)
	again, err := Derive(ik, []byte("zsa asset"))
	require.NoError(t, err)
	assert.True(t, a1.Equal(again))
	assert.Equal(t, a1, again, "equal assets must be equal map keys")
	assert.False(t, a1.IsNative())

	a2, err := Derive(ik, []byte("zsa asset 2"))
	require.NoError(t, err)
	assert.False(t, a1.Equal(a2))

	other, err := keys.NewIssuanceAuthorizingKey(rng)
	require.NoError(t, err)
	a3, err := Derive(other.ValidatingKey(), []byte("zsa asset"))
	require.NoError(t, err)
	assert.False(t, a1.Equal(a3))
}

func TestDescriptionSize(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	isk, err := keys.NewIssuanceAuthorizingKey(rng)
	require.NoError(t, err)
	ik := isk.ValidatingKey()

	_, err = Derive(ik, nil)
	assert.ErrorIs(t, err, ErrWrongAssetDescSize)
	_, err = Derive(ik, []byte(strings.Repeat("x", MaxDescSize+1)))
	assert.ErrorIs(t, err, ErrWrongAssetDescSize)
	_, err = Derive(ik, []byte(strings.Repeat("x", MaxDescSize)))
	assert.NoError(t, err)
}

func TestEncoding(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	a, err := Random(rng)
	require.NoError(t, err)
	enc := a.Bytes()
	dec, err := FromBytes(enc[:])
	require.NoError(t, err)
	assert.True(t, a.Equal(dec))

	n := Native()
	assert.True(t, n.IsNative())
	assert.Equal(t, "native", n.String())
}
