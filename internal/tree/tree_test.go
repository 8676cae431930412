package tree

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zsapool/internal/note"
	"zsapool/internal/primitives"
)

func randomCmx(t *testing.T, rng *rand.Rand) note.ExtractedCommitment {
	t.Helper()
	var wide [64]byte
	rng.Read(wide[:])
	e := primitives.ToBase(wide)
	b := e.Bytes()
	cmx, err := note.ExtractedCommitmentFromBytes(b[:])
	require.NoError(t, err)
	return cmx
}

func TestEmptyTree(t *testing.T) {
	tr := NewCommitmentTree()
	assert.Equal(t, EmptyAnchor(), tr.Root())
	_, err := tr.Witness(0)
	assert.ErrorIs(t, err, ErrUnknownPosition)
}

func TestWitnessesReachRoot(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	tr := NewCommitmentTree()
	var cmxs []note.ExtractedCommitment
	for i := 0; i < 5; i++ {
		cmx := randomCmx(t, rng)
		pos, err := tr.Append(cmx)
		require.NoError(t, err)
		assert.EqualValues(t, i, pos)
		cmxs = append(cmxs, cmx)
	}
	root := tr.Root()
	assert.NotEqual(t, EmptyAnchor(), root)

	for i, cmx := range cmxs {
		path, err := tr.Witness(uint32(i))
		require.NoError(t, err)
		assert.Equal(t, root, path.Root(cmx))
	}

	// wrong leaf does not reach the root
	path, err := tr.Witness(0)
	require.NoError(t, err)
	assert.NotEqual(t, root, path.Root(cmxs[1]))
}

func TestAnchorRoundTrip(t *testing.T) {
	a := EmptyAnchor()
	b := a.Bytes()
	dec, err := AnchorFromBytes(b[:])
	require.NoError(t, err)
	assert.Equal(t, a, dec)
}
