package builder

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zsapool/internal/asset"
	"zsapool/internal/bundle"
	"zsapool/internal/keys"
	"zsapool/internal/note"
	"zsapool/internal/noteenc"
	"zsapool/internal/primitives"
	"zsapool/internal/tree"
	"zsapool/internal/value"
)

type wallet struct {
	sk  keys.SpendingKey
	fvk keys.FullViewingKey
}

func newWallet(t *testing.T, rng *rand.Rand) wallet {
	t.Helper()
	sk, err := keys.NewSpendingKey(rng)
	require.NoError(t, err)
	return wallet{sk: sk, fvk: sk.FullViewingKey()}
}

func (w wallet) addr() keys.Address { return w.fvk.AddressAt(0, keys.External) }

type spendable struct {
	note note.Note
	path tree.MerklePath
}

// fund appends one note per value to a fresh tree and returns them with the anchor.
func fund(t *testing.T, rng *rand.Rand, w wallet, a asset.Base, values ...value.NoteValue) ([]spendable, tree.Anchor) {
	t.Helper()
	ct := tree.NewCommitmentTree()
	var notes []note.Note
	var positions []uint32
	for i, v := range values {
		n, err := note.New(w.addr(), v, a, note.RhoFromElement(primitives.BaseFromUint64(uint64(1000+i))), rng)
		require.NoError(t, err)
		pos, err := ct.Append(n.Commitment().Extract())
		require.NoError(t, err)
		notes = append(notes, n)
		positions = append(positions, pos)
	}
	out := make([]spendable, len(notes))
	for i := range notes {
		path, err := ct.Witness(positions[i])
		require.NoError(t, err)
		out[i] = spendable{note: notes[i], path: path}
	}
	return out, ct.Root()
}

func prepare(t *testing.T, rng *rand.Rand, b *bundle.UnprovenBundle) (*bundle.Bundle[bundle.MaybeSigned, bundle.InProgress[bundle.Unproven, bundle.PartiallyAuthorized]], [32]byte) {
	t.Helper()
	var sh [32]byte
	rng.Read(sh[:])
	partial, err := bundle.Prepare(b, rng, sh)
	require.NoError(t, err)
	bvk, err := partial.BindingValidatingKey()
	require.NoError(t, err)
	require.NoError(t, bvk.Verify(sh[:], partial.Authorization().Signatures().BindingSignature()))
	return partial, sh
}

func TestNumActions(t *testing.T) {
	cases := []struct {
		name            string
		bt              BundleType
		spends, outputs int
		want            int
		err             error
	}{
		{"empty not required", DefaultVanilla, 0, 0, 0, nil},
		{"empty required", Transactional(bundle.EnabledWithoutZSA, true), 0, 0, 2, nil},
		{"one output", DefaultVanilla, 0, 1, 2, nil},
		{"three spends", DefaultZSA, 3, 1, 3, nil},
		{"coinbase", Coinbase, 0, 1, 1, nil},
		{"coinbase spend", Coinbase, 1, 1, 0, ErrSpendsDisabled},
		{"disabled output", Disabled, 0, 1, 0, ErrOutputsDisabled},
		{"disabled spend", Disabled, 1, 0, 0, ErrSpendsDisabled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, err := tc.bt.NumActions(tc.spends, tc.outputs)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, n)
		})
	}
}

func TestAddSpendRejects(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	alice, bob := newWallet(t, rng), newWallet(t, rng)
	notes, anchor := fund(t, rng, alice, asset.Native(), 10)

	b := New(DefaultVanilla, tree.EmptyAnchor())
	assert.ErrorIs(t, b.AddSpend(alice.fvk, notes[0].note, notes[0].path), ErrAnchorMismatch)

	b = New(DefaultVanilla, anchor)
	assert.ErrorIs(t, b.AddSpend(bob.fvk, notes[0].note, notes[0].path), ErrFvkMismatch)
	assert.NoError(t, b.AddSpend(alice.fvk, notes[0].note, notes[0].path))

	assert.ErrorIs(t, New(Coinbase, anchor).AddSpend(alice.fvk, notes[0].note, notes[0].path), ErrSpendsDisabled)
	assert.ErrorIs(t, New(Disabled, anchor).AddOutput(nil, bob.addr(), 1, asset.Native(), nil), ErrOutputsDisabled)

	zsa, err := asset.Random(rng)
	require.NoError(t, err)
	assert.ErrorIs(t, New(DefaultVanilla, anchor).AddOutput(nil, bob.addr(), 1, zsa, nil), ErrZSADisabled)
	_, _, err = Bundle(rng, anchor, DefaultVanilla, nil, []OutputInfo{NewOutputInfo(nil, bob.addr(), 1, zsa, nil)}, nil)
	assert.ErrorIs(t, err, ErrZSADisabled)
}

func TestAddBurn(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	zsa, err := asset.Random(rng)
	require.NoError(t, err)

	b := New(DefaultZSA, tree.EmptyAnchor())
	assert.ErrorIs(t, b.AddBurn(asset.Native(), 5), bundle.ErrBurnNativeAsset)
	assert.ErrorIs(t, b.AddBurn(zsa, 0), bundle.ErrBurnNonPositiveAmount)
	require.NoError(t, b.AddBurn(zsa, 5))
	require.NoError(t, b.AddBurn(zsa, 7))
	assert.Equal(t, []bundle.BurnItem{{Asset: zsa, Amount: 12}}, b.burn)
	assert.ErrorIs(t, b.AddBurn(zsa, ^value.NoteValue(0)), ErrValueSum)
}

func TestShieldingBundle(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	recipient := newWallet(t, rng)
	ovk := recipient.fvk.OVK(keys.External)

	b := New(DefaultVanilla, tree.EmptyAnchor())
	require.NoError(t, b.AddOutput(&ovk, recipient.addr(), 5000, asset.Native(), nil))
	balance, err := b.ValueBalance()
	require.NoError(t, err)
	assert.Equal(t, value.ValueSum(-5000), balance)

	unproven, meta, err := b.Build(rng)
	require.NoError(t, err)
	require.Len(t, unproven.Actions(), MinActions)
	assert.Equal(t, value.ValueSum(-5000), unproven.ValueBalance())
	assert.Equal(t, bundle.EnabledWithoutZSA, unproven.Flags())
	for _, a := range unproven.Actions() {
		assert.True(t, a.Authorization().IsDummy(), "a shielding bundle spends only dummy notes")
	}

	partial, _ := prepare(t, rng, unproven)
	for i, a := range partial.Actions() {
		_, ok := a.Authorization().Signature()
		assert.True(t, ok, "action %d", i)
	}

	idx, ok := meta.OutputActionIndex(0)
	require.True(t, ok)
	dec, ok := unproven.DecryptOutputWithKey(idx, recipient.fvk.IVK(keys.External))
	require.True(t, ok)
	assert.Equal(t, value.NoteValue(5000), dec.Note.Value())
	assert.Equal(t, noteenc.EmptyMemo(), dec.Memo)

	found := unproven.DecryptOutputsWithKeys([]keys.IncomingViewingKey{recipient.fvk.IVK(keys.External)})
	require.Len(t, found, 1)
	assert.Equal(t, idx, found[0].ActionIndex)

	recovered := unproven.RecoverOutputsWithOvks([]keys.OutgoingViewingKey{ovk})
	require.Len(t, recovered, 1)
	assert.Equal(t, idx, recovered[0].ActionIndex)
}

func TestSpendAndSign(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	alice, bob := newWallet(t, rng), newWallet(t, rng)
	notes, anchor := fund(t, rng, alice, asset.Native(), 100, 50)

	b := New(DefaultVanilla, anchor)
	require.NoError(t, b.AddSpend(alice.fvk, notes[0].note, notes[0].path))
	require.NoError(t, b.AddSpend(alice.fvk, notes[1].note, notes[1].path))
	require.NoError(t, b.AddOutput(nil, bob.addr(), 120, asset.Native(), nil))
	unproven, meta, err := b.Build(rng)
	require.NoError(t, err)
	require.Len(t, unproven.Actions(), 2)
	assert.Equal(t, value.ValueSum(30), unproven.ValueBalance())

	for i, sp := range notes {
		idx, ok := meta.SpendActionIndex(i)
		require.True(t, ok)
		assert.Equal(t, sp.note.Nullifier(alice.fvk), unproven.Actions()[idx].Nullifier())
	}
	_, ok := meta.SpendActionIndex(2)
	assert.False(t, ok)

	partial, sh := prepare(t, rng, unproven)
	partial, err = bundle.Sign(partial, rng, alice.sk.SpendAuthorizingKey())
	require.NoError(t, err)
	for _, a := range partial.Actions() {
		sig, ok := a.Authorization().Signature()
		require.True(t, ok)
		assert.NoError(t, a.Rk().Verify(sh[:], sig))
	}

	zsa, err := asset.Random(rng)
	require.NoError(t, err)
	_, _, err = Bundle(rng, anchor, DefaultZSA, nil, nil, []bundle.BurnItem{{Asset: zsa, Amount: 1}})
	assert.ErrorIs(t, err, ErrAssetImbalance)
}

func TestCustomAssetTransfer(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	alice, bob := newWallet(t, rng), newWallet(t, rng)
	zsa, err := asset.Random(rng)
	require.NoError(t, err)
	notes, anchor := fund(t, rng, alice, zsa, 10)

	t.Run("imbalanced", func(t *testing.T) {
		b := New(DefaultZSA, anchor)
		require.NoError(t, b.AddSpend(alice.fvk, notes[0].note, notes[0].path))
		require.NoError(t, b.AddOutput(nil, bob.addr(), 3, zsa, nil))
		_, _, err := b.Build(rng)
		assert.ErrorIs(t, err, ErrAssetImbalance)
	})

	t.Run("burn the rest", func(t *testing.T) {
		b := New(DefaultZSA, anchor)
		require.NoError(t, b.AddSpend(alice.fvk, notes[0].note, notes[0].path))
		require.NoError(t, b.AddOutput(nil, bob.addr(), 3, zsa, nil))
		require.NoError(t, b.AddBurn(zsa, 7))
		unproven, _, err := b.Build(rng)
		require.NoError(t, err)
		assert.Equal(t, value.ValueSum(0), unproven.ValueBalance())
		assert.Equal(t, []bundle.BurnItem{{Asset: zsa, Amount: 7}}, unproven.Burn())
		prepare(t, rng, unproven)
	})

	t.Run("split", func(t *testing.T) {
		b := New(DefaultZSA, anchor)
		require.NoError(t, b.AddSpend(alice.fvk, notes[0].note, notes[0].path))
		require.NoError(t, b.AddOutput(nil, bob.addr(), 4, zsa, nil))
		require.NoError(t, b.AddOutput(nil, alice.addr(), 6, zsa, nil))
		unproven, _, err := b.Build(rng)
		require.NoError(t, err)
		require.Len(t, unproven.Actions(), 2)
		nfs := unproven.Nullifiers()
		assert.NotEqual(t, nfs[0], nfs[1], "a split spend reveals its own nullifier")
		assert.Contains(t, nfs, notes[0].note.Nullifier(alice.fvk))
		assert.Equal(t, bundle.EnabledWithZSA, unproven.Flags())
		prepare(t, rng, unproven)

		found := unproven.DecryptOutputsWithKeys([]keys.IncomingViewingKey{bob.fvk.IVK(keys.External), alice.fvk.IVK(keys.External)})
		require.Len(t, found, 2)
		for _, f := range found {
			assert.True(t, f.Note.Asset().Equal(zsa))
		}
	})
}

func TestPaddingAppliesToFirstPartition(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	alice, bob := newWallet(t, rng), newWallet(t, rng)
	zsa, err := asset.Random(rng)
	require.NoError(t, err)
	notes, anchor := fund(t, rng, alice, zsa, 9)

	b := New(DefaultZSA, anchor)
	require.NoError(t, b.AddSpend(alice.fvk, notes[0].note, notes[0].path))
	require.NoError(t, b.AddOutput(nil, bob.addr(), 9, zsa, nil))
	require.NoError(t, b.AddOutput(nil, bob.addr(), 1, asset.Native(), nil))
	unproven, meta, err := b.Build(rng)
	require.NoError(t, err)

	// custom asset partition padded to two actions, native partition holds one
	require.Len(t, unproven.Actions(), 3)
	nativeIdx, ok := meta.OutputActionIndex(1)
	require.True(t, ok)
	assert.Equal(t, 2, nativeIdx)
	assert.Equal(t, value.ValueSum(-1), unproven.ValueBalance())
	prepare(t, rng, unproven)
}

func TestEmptyBuilderProducesDummyBundle(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	unproven, meta, err := New(DefaultVanilla, tree.EmptyAnchor()).Build(rng)
	require.NoError(t, err)
	require.Len(t, unproven.Actions(), MinActions)
	assert.Equal(t, value.ValueSum(0), unproven.ValueBalance())
	_, ok := meta.SpendActionIndex(0)
	assert.False(t, ok)

	partial, _ := prepare(t, rng, unproven)
	for _, a := range partial.Actions() {
		_, ok := a.Authorization().Signature()
		assert.True(t, ok)
	}
}

func TestBuildIsDeterministicForSeed(t *testing.T) {
	build := func() *bundle.UnprovenBundle {
		rng := rand.New(rand.NewSource(8))
		w := newWallet(t, rng)
		b := New(DefaultVanilla, tree.EmptyAnchor())
		require.NoError(t, b.AddOutput(nil, w.addr(), 1, asset.Native(), nil))
		require.NoError(t, b.AddOutput(nil, w.addr(), 2, asset.Native(), nil))
		require.NoError(t, b.AddOutput(nil, w.addr(), 3, asset.Native(), nil))
		u, _, err := b.Build(rng)
		require.NoError(t, err)
		return u
	}
	assert.Equal(t, bundle.Commitment(build()), bundle.Commitment(build()))
}
