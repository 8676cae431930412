package bundle

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zsapool/internal/asset"
	"zsapool/internal/circuit"
	"zsapool/internal/keys"
	"zsapool/internal/note"
	"zsapool/internal/noteenc"
	"zsapool/internal/primitives"
	"zsapool/internal/reddsa"
	"zsapool/internal/tree"
	"zsapool/internal/value"
)

type actionParams struct {
	v     value.ValueSum
	a     asset.Base
	key   int
	dummy bool
	alpha *primitives.Scalar
}

type fixture struct {
	bundle *ProvenBundle
	asks   []keys.SpendAuthorizingKey
	alphas []primitives.Scalar
}

func newFixture(t *testing.T, rng *rand.Rand, flags Flags, nkeys int, burn []BurnItem, params ...actionParams) fixture {
	t.Helper()
	asks := make([]keys.SpendAuthorizingKey, nkeys)
	for i := range asks {
		sk, err := keys.NewSpendingKey(rng)
		require.NoError(t, err)
		asks[i] = sk.SpendAuthorizingKey()
	}

	var (
		actions []Action[SigningMetadata]
		rcvs    []value.Trapdoor
		alphas  []primitives.Scalar
		balance value.ValueSum
	)
	encSize := noteenc.ForFlags(flags.ZSAEnabled()).CiphertextSize()
	for i, s := range params {
		alpha, err := primitives.RandomScalar(rng)
		require.NoError(t, err)
		if s.alpha != nil {
			alpha = *s.alpha
		}
		rcv, err := value.RandomTrapdoor(rng)
		require.NoError(t, err)

		ask := asks[s.key]
		var dummyAsk *keys.SpendAuthorizingKey
		if s.dummy {
			dummyAsk = &ask
		}
		ak := ask.ValidatingKey()
		enc := make([]byte, encSize)
		rng.Read(enc)
		actions = append(actions, NewAction(
			note.NullifierFromElement(primitives.BaseFromUint64(uint64(i+1))),
			ak.Randomize(alpha),
			note.ExtractedCommitment{},
			EncryptedNote{EncCiphertext: enc},
			value.Derive(s.v, rcv, s.a),
			NewSigningMetadata(ak, alpha, dummyAsk),
		))
		rcvs = append(rcvs, rcv)
		alphas = append(alphas, alpha)
		if s.a.IsNative() {
			balance += s.v
		}
	}

	bsk, err := value.SumTrapdoors(rcvs).IntoBindingSigningKey()
	require.NoError(t, err)
	auth := InProgress[circuit.Proof, Unauthorized]{proof: circuit.Proof{0, 0, 0, 0}, sigs: NewUnauthorized(bsk)}
	b, err := FromParts(actions, flags, balance, burn, tree.EmptyAnchor(), auth)
	require.NoError(t, err)
	return fixture{bundle: b, asks: asks, alphas: alphas}
}

func sighash(rng *rand.Rand) [32]byte {
	var h [32]byte
	rng.Read(h[:])
	return h
}

func TestFlagsByteRoundTrip(t *testing.T) {
	for b := 0; b < 8; b++ {
		f, ok := FlagsFromByte(byte(b))
		require.True(t, ok)
		assert.Equal(t, byte(b), f.Byte())
	}
	for _, b := range []byte{0x08, 0x80, 0xff} {
		_, ok := FlagsFromByte(b)
		assert.False(t, ok, "byte %#x", b)
	}
	assert.False(t, SpendsDisabled.SpendsEnabled())
	assert.True(t, SpendsDisabled.OutputsEnabled())
	assert.True(t, EnabledWithZSA.ZSAEnabled())
	assert.False(t, EnabledWithoutZSA.ZSAEnabled())
}

func TestValidateBundleBurn(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a1, err := asset.Random(rng)
	require.NoError(t, err)
	a2, err := asset.Random(rng)
	require.NoError(t, err)

	cases := map[string]struct {
		burn []BurnItem
		err  error
	}{
		"empty":     {nil, nil},
		"distinct":  {[]BurnItem{{a1, 10}, {a2, 20}}, nil},
		"duplicate": {[]BurnItem{{a1, 10}, {a2, 20}, {a1, 1}}, ErrBurnDuplicateAsset},
		"native":    {[]BurnItem{{asset.Native(), 10}}, ErrBurnNativeAsset},
		"zero":      {[]BurnItem{{a1, 0}}, ErrBurnNonPositiveAmount},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := ValidateBundleBurn(tc.burn)
			if tc.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.err)
			}
		})
	}
}

func TestFromPartsRejects(t *testing.T) {
	_, err := FromParts[SigningMetadata, struct{}](nil, EnabledWithoutZSA, 0, nil, tree.EmptyAnchor(), struct{}{})
	assert.ErrorIs(t, err, ErrNoActions)

	rng := rand.New(rand.NewSource(2))
	fx := newFixture(t, rng, EnabledWithZSA, 1, nil, actionParams{v: 1, a: asset.Native()})
	_, err = FromParts(fx.bundle.Actions(), EnabledWithZSA, 1, []BurnItem{{asset.Native(), 1}}, tree.EmptyAnchor(), struct{}{})
	assert.ErrorIs(t, err, ErrBurnNativeAsset)
}

func TestApplySignatures(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	fx := newFixture(t, rng, EnabledWithoutZSA, 2, nil,
		actionParams{v: 0, a: asset.Native(), key: 0, dummy: true},
		actionParams{v: 70, a: asset.Native(), key: 1},
		actionParams{v: -20, a: asset.Native(), key: 1},
	)
	assert.Equal(t, value.ValueSum(50), fx.bundle.ValueBalance())
	sh := sighash(rng)

	authorized, err := ApplySignatures(fx.bundle, rng, sh, fx.asks[1:])
	require.NoError(t, err)
	require.NoError(t, VerifySignatures(authorized, sh))
	assert.Error(t, VerifySignatures(authorized, sighash(rng)))

	bvk, err := authorized.BindingValidatingKey()
	require.NoError(t, err)
	assert.NoError(t, bvk.Verify(sh[:], authorized.Authorization().BindingSignature()))
}

func TestFinalizeRequiresEverySignature(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	fx := newFixture(t, rng, EnabledWithoutZSA, 2, nil,
		actionParams{v: 5, a: asset.Native(), key: 0},
		actionParams{v: 5, a: asset.Native(), key: 1},
	)
	sh := sighash(rng)
	partial, err := Prepare(fx.bundle, rng, sh)
	require.NoError(t, err)
	assert.Equal(t, sh, partial.Authorization().Signatures().Sighash())

	partial, err = Sign(partial, rng, fx.asks[0])
	require.NoError(t, err)
	_, err = Finalize(partial)
	assert.ErrorIs(t, err, ErrMissingSignatures)

	partial, err = Sign(partial, rng, fx.asks[1])
	require.NoError(t, err)
	_, err = Finalize(partial)
	assert.NoError(t, err)
}

func TestAppendSignatures(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	fx := newFixture(t, rng, EnabledWithoutZSA, 2, nil,
		actionParams{v: 3, a: asset.Native(), key: 0},
		actionParams{v: 4, a: asset.Native(), key: 1},
	)
	sh := sighash(rng)
	partial, err := Prepare(fx.bundle, rng, sh)
	require.NoError(t, err)

	external := func(i int) reddsa.Signature {
		sig, err := fx.asks[i].Randomize(fx.alphas[i]).Sign(rng, sh[:])
		require.NoError(t, err)
		return sig
	}
	sig0, sig1 := external(0), external(1)

	_, err = AppendSignatures(partial, []reddsa.Signature{{}})
	assert.ErrorIs(t, err, ErrInvalidExternalSignature)

	_, err = AppendSignatures(partial, []reddsa.Signature{sig0, sig0})
	assert.ErrorIs(t, err, ErrInvalidExternalSignature, "a signed action takes no further signatures")

	partial, err = AppendSignatures(partial, []reddsa.Signature{sig1, sig0})
	require.NoError(t, err)
	authorized, err := Finalize(partial)
	require.NoError(t, err)
	assert.NoError(t, VerifySignatures(authorized, sh))
}

func TestAppendSignatureValidForTwoActions(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	alpha, err := primitives.RandomScalar(rng)
	require.NoError(t, err)
	fx := newFixture(t, rng, EnabledWithoutZSA, 1, nil,
		actionParams{v: 3, a: asset.Native(), alpha: &alpha},
		actionParams{v: 4, a: asset.Native(), alpha: &alpha},
	)
	sh := sighash(rng)
	partial, err := Prepare(fx.bundle, rng, sh)
	require.NoError(t, err)

	sig, err := fx.asks[0].Randomize(alpha).Sign(rng, sh[:])
	require.NoError(t, err)
	_, err = AppendSignatures(partial, []reddsa.Signature{sig})
	assert.ErrorIs(t, err, ErrDuplicateSignature)
}

func TestBindingKeyAccountsForBurn(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	zsa, err := asset.Random(rng)
	require.NoError(t, err)
	sh := sighash(rng)

	for name, tc := range map[string]struct {
		burned value.NoteValue
		ok     bool
	}{
		"exact":   {5, true},
		"too low": {4, false},
	} {
		t.Run(name, func(t *testing.T) {
			fx := newFixture(t, rng, EnabledWithZSA, 1, []BurnItem{{zsa, tc.burned}},
				actionParams{v: 5, a: zsa, dummy: true},
				actionParams{v: 2, a: asset.Native(), dummy: true},
			)
			authorized, err := ApplySignatures(fx.bundle, rng, sh, nil)
			require.NoError(t, err)
			if tc.ok {
				assert.NoError(t, VerifySignatures(authorized, sh))
			} else {
				assert.Error(t, VerifySignatures(authorized, sh))
			}
		})
	}
}

func TestCommitmentDigests(t *testing.T) {
	assert.NotEqual(t, EmptyCommitment(), EmptyAuthorizingCommitment())

	rng := rand.New(rand.NewSource(8))
	zsa, err := asset.Random(rng)
	require.NoError(t, err)

	vanilla := newFixture(t, rng, EnabledWithoutZSA, 1, nil, actionParams{v: 1, a: asset.Native(), dummy: true})
	d := Commitment(vanilla.bundle)
	assert.Equal(t, d, Commitment(vanilla.bundle))
	assert.NotEqual(t, EmptyCommitment(), d)

	b := *vanilla.bundle
	b.valueBalance = 2
	assert.NotEqual(t, d, Commitment(&b))
	b = *vanilla.bundle
	b.flags = OutputsDisabled
	assert.NotEqual(t, d, Commitment(&b))

	withBurn := newFixture(t, rng, EnabledWithZSA, 1, []BurnItem{{zsa, 9}}, actionParams{v: 9, a: zsa, dummy: true})
	noBurn := *withBurn.bundle
	noBurn.burn = nil
	assert.NotEqual(t, Commitment(withBurn.bundle), Commitment(&noBurn))

	sh := sighash(rng)
	authorized, err := ApplySignatures(vanilla.bundle, rng, sh, nil)
	require.NoError(t, err)
	ad := AuthorizingCommitment(authorized)
	assert.Equal(t, d, Commitment(authorized), "authorization does not change the txid digest")

	resigned, err := ApplySignatures(vanilla.bundle, rng, sh, nil)
	require.NoError(t, err)
	assert.NotEqual(t, ad, AuthorizingCommitment(resigned))
}

func TestBatchValidator(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	v := NewBatchValidator(nil)
	assert.True(t, v.Validate(context.Background()))

	for i := 0; i < 3; i++ {
		fx := newFixture(t, rng, EnabledWithoutZSA, 1, nil, actionParams{v: value.ValueSum(i), a: asset.Native(), dummy: true})
		sh := sighash(rng)
		authorized, err := ApplySignatures(fx.bundle, rng, sh, nil)
		require.NoError(t, err)
		if i == 2 {
			sh = sighash(rng)
		}
		v.Add(authorized, sh)
	}
	assert.Equal(t, 3, v.Len())
	assert.False(t, v.Validate(context.Background()))

	errs := v.ValidateAll(context.Background())
	require.Len(t, errs, 3)
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Error(t, errs[2])
}
