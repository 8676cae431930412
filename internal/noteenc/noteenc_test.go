package noteenc

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zsapool/internal/asset"
	"zsapool/internal/keys"
	"zsapool/internal/note"
	"zsapool/internal/primitives"
	"zsapool/internal/value"
)

type fixture struct {
	fvk  keys.FullViewingKey
	note note.Note
	out  Output
	cv   value.Commitment
	outC [OutCiphertextSize]byte
}

func newFixture(t *testing.T, rng *rand.Rand, d Domain, a asset.Base, withOvk bool) fixture {
	t.Helper()
	sk, err := keys.NewSpendingKey(rng)
	require.NoError(t, err)
	fvk := sk.FullViewingKey()

	var wide [64]byte
	_, err = rng.Read(wide[:])
	require.NoError(t, err)
	rho := note.RhoFromElement(primitives.ToBase(wide))

	n, err := note.New(fvk.AddressAt(3, keys.External), 4242, a, rho, rng)
	require.NoError(t, err)

	rcv, err := value.RandomTrapdoor(rng)
	require.NoError(t, err)
	cv := value.Derive(4242, rcv, a)

	var ovk *keys.OutgoingViewingKey
	if withOvk {
		o := fvk.OVK(keys.External)
		ovk = &o
	}
	memo := EmptyMemo()
	copy(memo[1:], "hello")

	enc, err := NewNoteEncryption(d, ovk, n, memo)
	require.NoError(t, err)
	ct, err := enc.EncryptNotePlaintext()
	require.NoError(t, err)
	require.Len(t, ct, d.CiphertextSize())

	cmx := n.Commitment().Extract()
	outC, err := enc.EncryptOutgoingPlaintext(cv, cmx, rng)
	require.NoError(t, err)

	return fixture{
		fvk:  fvk,
		note: n,
		out: Output{
			Rho:           rho,
			EphemeralKey:  enc.EphemeralKey(),
			Cmx:           cmx,
			EncCiphertext: ct,
		},
		cv:   cv,
		outC: outC,
	}
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	zsa, err := asset.Random(rng)
	require.NoError(t, err)

	cases := []struct {
		name string
		d    Domain
		a    asset.Base
	}{
		{"vanilla", Vanilla, asset.Native()},
		{"zsa native", ZSA, asset.Native()},
		{"zsa custom", ZSA, zsa},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, rng, tc.d, tc.a, true)

			dec, ok := TryNoteDecryption(tc.d, f.fvk.IVK(keys.External), f.out)
			require.True(t, ok)
			assert.True(t, dec.Note.Equal(f.note))
			assert.True(t, dec.Recipient.Equal(f.note.Recipient()))
			assert.Equal(t, byte(0xF6), dec.Memo[0])
			assert.Equal(t, "hello", string(dec.Memo[1:6]))

			n, addr, ok := TryCompactNoteDecryption(tc.d, f.fvk.IVK(keys.External), f.out.Compact(tc.d))
			require.True(t, ok)
			assert.True(t, n.Equal(f.note))
			assert.True(t, addr.Equal(f.note.Recipient()))
		})
	}
}

func TestVanillaRejectsCustomAsset(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	sk, err := keys.NewSpendingKey(rng)
	require.NoError(t, err)
	zsa, err := asset.Random(rng)
	require.NoError(t, err)
	n, err := note.New(sk.FullViewingKey().AddressAt(0, keys.External), 1, zsa, note.RhoFromElement(primitives.BaseFromUint64(7)), rng)
	require.NoError(t, err)

	_, err = NewNoteEncryption(Vanilla, nil, n, EmptyMemo())
	assert.Error(t, err)
}

func TestWrongKeyDoesNotDecrypt(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	other, err := keys.NewSpendingKey(rng)
	require.NoError(t, err)
	ivk := other.FullViewingKey().IVK(keys.External)

	for i := 0; i < 20; i++ {
		f := newFixture(t, rng, ZSA, asset.Native(), false)
		_, ok := TryNoteDecryption(ZSA, ivk, f.out)
		assert.False(t, ok)
		_, _, ok = TryCompactNoteDecryption(ZSA, ivk, f.out)
		assert.False(t, ok)
	}

	// the internal scope is a different key
	f := newFixture(t, rng, ZSA, asset.Native(), false)
	_, ok := TryNoteDecryption(ZSA, f.fvk.IVK(keys.Internal), f.out)
	assert.False(t, ok)
}

func TestDomainMismatchFailsClosed(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	f := newFixture(t, rng, Vanilla, asset.Native(), false)
	ivk := f.fvk.IVK(keys.External)

	// a vanilla ciphertext has the wrong length for the other domain
	_, ok := TryNoteDecryption(ZSA, ivk, f.out)
	assert.False(t, ok)

	// padded to the right length, still not a zsa ciphertext
	padded := f.out
	padded.EncCiphertext = append(append([]byte{}, f.out.EncCiphertext...), make([]byte, primitives.PointSize)...)
	_, ok = TryNoteDecryption(ZSA, ivk, padded)
	assert.False(t, ok)
	_, _, ok = TryCompactNoteDecryption(ZSA, ivk, f.out)
	assert.False(t, ok)
}

func TestTamperedOutputRejected(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	f := newFixture(t, rng, ZSA, asset.Native(), false)
	ivk := f.fvk.IVK(keys.External)

	ct := append([]byte{}, f.out.EncCiphertext...)
	ct[10] ^= 1
	bad := f.out
	bad.EncCiphertext = ct
	_, ok := TryNoteDecryption(ZSA, ivk, bad)
	assert.False(t, ok)

	// a different cmx fails the commitment check even though the AEAD opens
	other := newFixture(t, rng, ZSA, asset.Native(), false)
	bad = f.out
	bad.Cmx = other.out.Cmx
	_, ok = TryNoteDecryption(ZSA, ivk, bad)
	assert.False(t, ok)
}

func TestOutputRecovery(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	zsa, err := asset.Random(rng)
	require.NoError(t, err)
	f := newFixture(t, rng, ZSA, zsa, true)

	dec, ok := TryOutputRecoveryWithOvk(ZSA, f.fvk.OVK(keys.External), f.out, f.cv, f.outC)
	require.True(t, ok)
	assert.True(t, dec.Note.Equal(f.note))
	assert.True(t, dec.Recipient.Equal(f.note.Recipient()))

	// wrong ovk
	_, ok = TryOutputRecoveryWithOvk(ZSA, f.fvk.OVK(keys.Internal), f.out, f.cv, f.outC)
	assert.False(t, ok)

	// wrong value commitment
	_, ok = TryOutputRecoveryWithOvk(ZSA, f.fvk.OVK(keys.External), f.out, value.IdentityCommitment(), f.outC)
	assert.False(t, ok)
}

func TestOutputWithoutOvkIsUnrecoverable(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	f := newFixture(t, rng, ZSA, asset.Native(), false)
	_, ok := TryOutputRecoveryWithOvk(ZSA, f.fvk.OVK(keys.External), f.out, f.cv, f.outC)
	assert.False(t, ok)

	// the recipient can still decrypt
	_, ok = TryNoteDecryption(ZSA, f.fvk.IVK(keys.External), f.out)
	assert.True(t, ok)
}

func TestBatchDecryption(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	a := newFixture(t, rng, ZSA, asset.Native(), false)
	b := newFixture(t, rng, ZSA, asset.Native(), false)
	c := newFixture(t, rng, ZSA, asset.Native(), false)

	ivks := []keys.IncomingViewingKey{
		b.fvk.IVK(keys.External),
		a.fvk.IVK(keys.External),
		a.fvk.IVK(keys.External),
	}
	bogus := a.out
	bogus.EncCiphertext = bogus.EncCiphertext[:10]
	outputs := []Output{a.out, b.out, c.out, bogus}

	res := BatchTryNoteDecryption(ZSA, ivks, outputs)
	require.Len(t, res, 4)
	require.NotNil(t, res[0])
	assert.Equal(t, 1, res[0].KeyIndex)
	assert.True(t, res[0].Note.Equal(a.note))
	require.NotNil(t, res[1])
	assert.Equal(t, 0, res[1].KeyIndex)
	assert.Nil(t, res[2])
	assert.Nil(t, res[3])

	compact := make([]Output, len(outputs))
	for i, o := range outputs {
		compact[i] = o.Compact(ZSA)
	}
	cres := BatchTryCompactNoteDecryption(ZSA, ivks, compact)
	require.Len(t, cres, 4)
	require.NotNil(t, cres[0])
	assert.Equal(t, 1, cres[0].KeyIndex)
	require.NotNil(t, cres[1])
	assert.True(t, cres[1].Note.Equal(b.note))
	assert.Nil(t, cres[2])
	assert.Nil(t, cres[3])

	// the batch agrees with single trial decryption
	for i, o := range outputs {
		_, single := TryNoteDecryption(ZSA, a.fvk.IVK(keys.External), o)
		assert.Equal(t, single, res[i] != nil && res[i].KeyIndex == 1, "output %d", i)
	}
}

func TestEmptyBatch(t *testing.T) {
	assert.Empty(t, BatchTryNoteDecryption(Vanilla, nil, nil))
	rng := rand.New(rand.NewSource(9))
	f := newFixture(t, rng, Vanilla, asset.Native(), false)
	res := BatchTryNoteDecryption(Vanilla, nil, []Output{f.out})
	require.Len(t, res, 1)
	assert.Nil(t, res[0])
}
