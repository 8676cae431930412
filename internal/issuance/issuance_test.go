package issuance

import (
	"context"
	"encoding/json"
	"math"
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

type issuer struct {
	isk       keys.IssuanceAuthorizingKey
	ik        keys.IssuanceValidatingKey
	recipient keys.Address
}

func newIssuer(t *testing.T, rng *rand.Rand) issuer {
	t.Helper()
	isk, err := keys.NewIssuanceAuthorizingKey(rng)
	require.NoError(t, err)
	sk, err := keys.NewSpendingKey(rng)
	require.NoError(t, err)
	return issuer{isk: isk, ik: isk.ValidatingKey(), recipient: sk.FullViewingKey().AddressAt(0, keys.External)}
}

type issueStep struct {
	desc     string
	v        value.NoteValue
	finalize bool
	first    bool
}

func nullifier(i uint64) note.Nullifier {
	return note.NullifierFromElement(primitives.BaseFromUint64(i))
}

// build issues every step in one bundle and signs it over sighash.
func (is issuer) build(t *testing.T, rng *rand.Rand, nf uint64, sighash [32]byte, steps ...issueStep) *IssueBundle[Signed] {
	t.Helper()
	var b *IssueBundle[AwaitingNullifier]
	for _, s := range steps {
		var err error
		if b == nil {
			b, _, err = New(is.ik, []byte(s.desc), &IssueInfo{Recipient: is.recipient, Value: s.v}, s.first, rng)
		} else {
			_, err = AddRecipient(b, []byte(s.desc), is.recipient, s.v, s.first, rng)
		}
		require.NoError(t, err)
		if s.finalize {
			require.NoError(t, FinalizeAction(b, []byte(s.desc)))
		}
	}
	signed, err := Sign(Prepare(UpdateRho(b, nullifier(nf)), sighash), is.isk)
	require.NoError(t, err)
	return signed
}

type globalState map[asset.Base]AssetRecord

func (g globalState) lookup(a asset.Base) (AssetRecord, bool) {
	r, ok := g[a]
	return r, ok
}

func (g globalState) apply(t *testing.T, b *IssueBundle[Signed], sighash [32]byte) error {
	t.Helper()
	records, err := VerifyIssueBundle(b, sighash, g.lookup)
	if err != nil {
		return err
	}
	for a, r := range records {
		g[a] = r
	}
	return nil
}

func firstNote(t *testing.T, b *IssueBundle[Signed], action int) note.Note {
	t.Helper()
	require.Greater(t, len(b.Actions()), action)
	return b.Actions()[action].Notes()[0]
}

func TestGlobalStateAcrossBundles(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	is := newIssuer(t, rng)
	var sighash [32]byte
	rng.Read(sighash[:])

	a1 := asset.MustDerive(is.ik, []byte("asset1"))
	a2 := asset.MustDerive(is.ik, []byte("asset2"))
	a3 := asset.MustDerive(is.ik, []byte("asset3"))
	a4 := asset.MustDerive(is.ik, []byte("asset4"))
	state := globalState{}

	b1 := is.build(t, rng, 1, sighash,
		issueStep{"asset1", 7, false, true},
		issueStep{"asset1", 8, false, false},
		issueStep{"asset2", 10, true, true},
		issueStep{"asset3", 5, false, true},
	)
	require.NoError(t, state.apply(t, b1, sighash))
	require.Len(t, state, 3)
	assert.Equal(t, value.NoteValue(15), state[a1].Amount)
	assert.False(t, state[a1].IsFinalized)
	assert.True(t, state[a1].ReferenceNote.Equal(firstNote(t, b1, 0)))
	assert.Equal(t, value.NoteValue(10), state[a2].Amount)
	assert.True(t, state[a2].IsFinalized)
	assert.Equal(t, value.NoteValue(5), state[a3].Amount)

	b2 := is.build(t, rng, 2, sighash,
		issueStep{"asset1", 3, true, true},
		issueStep{"asset3", 20, false, false},
	)
	require.NoError(t, state.apply(t, b2, sighash))
	assert.Equal(t, value.NoteValue(18), state[a1].Amount)
	assert.True(t, state[a1].IsFinalized)
	assert.True(t, state[a1].ReferenceNote.Equal(firstNote(t, b1, 0)), "first reference note is kept")
	assert.Equal(t, value.NoteValue(25), state[a3].Amount)

	b3 := is.build(t, rng, 3, sighash, issueStep{"asset1", 3, false, false})
	err := state.apply(t, b3, sighash)
	require.ErrorIs(t, err, ErrIssueActionPreviouslyFinalized)
	var pf *PreviouslyFinalizedError
	require.ErrorAs(t, err, &pf)
	assert.True(t, pf.Asset.Equal(a1))

	b4 := is.build(t, rng, 4, sighash,
		issueStep{"asset3", 50, true, true},
		issueStep{"asset4", 77, false, false},
	)
	assert.ErrorIs(t, state.apply(t, b4, sighash), ErrMissingReferenceNoteOnFirstIssuance)

	b5 := is.build(t, rng, 5, sighash,
		issueStep{"asset3", math.MaxUint64 - 20, true, false},
		issueStep{"asset4", 77, false, true},
	)
	assert.ErrorIs(t, state.apply(t, b5, sighash), ErrValueOverflow)

	b6 := is.build(t, rng, 6, sighash,
		issueStep{"asset3", 50, true, false},
		issueStep{"asset4", 77, false, true},
	)
	require.NoError(t, state.apply(t, b6, sighash))
	assert.Equal(t, value.NoteValue(75), state[a3].Amount)
	assert.True(t, state[a3].IsFinalized)
	assert.Equal(t, value.NoteValue(77), state[a4].Amount)
	assert.False(t, state[a4].IsFinalized)
	assert.True(t, state[a4].ReferenceNote.Equal(firstNote(t, b6, 1)))
	assert.Len(t, state, 4)
}

func TestBundleConstruction(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	is := newIssuer(t, rng)
	info := &IssueInfo{Recipient: is.recipient, Value: 5}

	_, _, err := New(is.ik, nil, info, true, rng)
	assert.ErrorIs(t, err, ErrWrongAssetDescSize)
	_, _, err = New(is.ik, make([]byte, asset.MaxDescSize+1), info, true, rng)
	assert.ErrorIs(t, err, ErrWrongAssetDescSize)

	b, a, err := New(is.ik, []byte("gold"), info, true, rng)
	require.NoError(t, err)
	assert.True(t, a.Equal(asset.MustDerive(is.ik, []byte("gold"))))
	action, ok := b.Action([]byte("gold"))
	require.True(t, ok)
	require.Len(t, action.Notes(), 2)
	ref, ok := action.ReferenceNote()
	require.True(t, ok)
	assert.True(t, ref.Recipient().Equal(ReferenceAddress()))
	assert.Equal(t, value.Zero, ref.Value())
	assert.Equal(t, value.NoteValue(5), action.Notes()[1].Value())

	_, err = AddRecipient(b, []byte("gold"), is.recipient, 6, false, rng)
	require.NoError(t, err)
	_, err = AddRecipient(b, []byte("silver"), is.recipient, 1, false, rng)
	require.NoError(t, err)
	require.Len(t, b.Actions(), 2)
	assert.Len(t, b.Actions()[0].Notes(), 3)
	assert.Len(t, b.Notes(), 4)
	_, ok = b.ActionByAsset(asset.MustDerive(is.ik, []byte("silver")))
	assert.True(t, ok)

	assert.ErrorIs(t, FinalizeAction(b, []byte("bronze")), ErrIssueActionNotFound)
	require.NoError(t, FinalizeAction(b, []byte("gold")))
	assert.ErrorIs(t, FinalizeAction(b, []byte("gold")), ErrIssueActionAlreadyFinalized)
	_, err = AddRecipient(b, []byte("gold"), is.recipient, 1, false, rng)
	assert.ErrorIs(t, err, ErrIssueActionAlreadyFinalized)
}

func TestUpdateRho(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	is := newIssuer(t, rng)
	b, _, err := New(is.ik, []byte("gold"), &IssueInfo{Recipient: is.recipient, Value: 5}, true, rng)
	require.NoError(t, err)
	_, err = AddRecipient(b, []byte("silver"), is.recipient, 9, true, rng)
	require.NoError(t, err)

	nf := nullifier(42)
	updated := UpdateRho(b, nf)
	seen := map[[32]byte]bool{}
	for i, a := range updated.Actions() {
		for j, n := range a.Notes() {
			assert.Equal(t, RhoForIssuanceNote(nf, uint32(i), uint32(j)), n.Rho())
			seen[n.Rho().Bytes()] = true
			assert.Equal(t, b.Actions()[i].Notes()[j].RandomSeed(), n.RandomSeed())
		}
	}
	assert.Len(t, seen, 4)
	assert.NotEqual(t, RhoForIssuanceNote(nf, 0, 1), RhoForIssuanceNote(nf, 1, 0))
	assert.NotEqual(t, RhoForIssuanceNote(nf, 0, 0), RhoForIssuanceNote(nullifier(43), 0, 0))
}

func TestSignAndVerifyRejects(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	is := newIssuer(t, rng)
	other := newIssuer(t, rng)
	var sighash [32]byte
	rng.Read(sighash[:])

	b, _, err := New(is.ik, []byte("gold"), &IssueInfo{Recipient: is.recipient, Value: 5}, true, rng)
	require.NoError(t, err)
	prepared := Prepare(UpdateRho(b, nullifier(1)), sighash)

	_, err = Sign(prepared, other.isk)
	assert.ErrorIs(t, err, ErrIssueBundleIkMismatchAssetBase)

	signed, err := Sign(prepared, is.isk)
	require.NoError(t, err)
	_, err = VerifyIssueBundle(signed, [32]byte{1}, nil)
	assert.ErrorIs(t, err, ErrIssueBundleInvalidSignature)

	// Notes of another issuer's asset under this issuer's key.
	foreign, _, err := New(other.ik, []byte("gold"), &IssueInfo{Recipient: is.recipient, Value: 5}, true, rng)
	require.NoError(t, err)
	forged := FromParts(is.ik, []IssueAction{NewIssueAction([]byte("gold"), foreign.Actions()[0].Notes(), false)}, AwaitingSighash{})
	_, err = Sign(Prepare(forged, sighash), is.isk)
	assert.ErrorIs(t, err, ErrIssueBundleIkMismatchAssetBase)

	// Same notes forced through with a valid signature.
	sig, err := is.isk.Sign(sighash)
	require.NoError(t, err)
	forcedSigned := FromParts(is.ik, forged.Actions(), NewSigned(sig))
	_, err = VerifyIssueBundle(forcedSigned, sighash, nil)
	assert.ErrorIs(t, err, ErrIssueBundleIkMismatchAssetBase)

	badDesc := FromParts(is.ik, []IssueAction{NewIssueAction(nil, nil, true)}, NewSigned(sig))
	_, err = VerifyIssueBundle(badDesc, sighash, nil)
	assert.ErrorIs(t, err, ErrWrongAssetDescSize)
}

func TestActionsWithoutNotes(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	is := newIssuer(t, rng)
	var sighash [32]byte
	rng.Read(sighash[:])

	empty, _, err := New(is.ik, []byte("gold"), nil, false, rng)
	require.NoError(t, err)
	_, err = Sign(Prepare(UpdateRho(empty, nullifier(1)), sighash), is.isk)
	assert.ErrorIs(t, err, ErrIssueActionWithoutNoteNotFinalized)

	require.NoError(t, FinalizeAction(empty, []byte("gold")))
	signed, err := Sign(Prepare(UpdateRho(empty, nullifier(1)), sighash), is.isk)
	require.NoError(t, err)
	_, err = VerifyIssueBundle(signed, sighash, nil)
	assert.ErrorIs(t, err, ErrMissingReferenceNoteOnFirstIssuance)

	refOnly, a, err := New(is.ik, []byte("gold"), nil, true, rng)
	require.NoError(t, err)
	require.NoError(t, FinalizeAction(refOnly, []byte("gold")))
	signed, err = Sign(Prepare(UpdateRho(refOnly, nullifier(2)), sighash), is.isk)
	require.NoError(t, err)
	records, err := VerifyIssueBundle(signed, sighash, nil)
	require.NoError(t, err)
	require.Contains(t, records, a)
	assert.Equal(t, value.Zero, records[a].Amount)
	assert.True(t, records[a].IsFinalized)
}

func TestCommitments(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	is := newIssuer(t, rng)
	var sighash [32]byte
	rng.Read(sighash[:])

	b, _, err := New(is.ik, []byte("gold"), &IssueInfo{Recipient: is.recipient, Value: 5}, true, rng)
	require.NoError(t, err)
	awaiting := UpdateRho(b, nullifier(1))
	digest := Commitment(awaiting)
	assert.NotEqual(t, EmptyCommitment(), digest)
	assert.Equal(t, digest, Commitment(UpdateRho(b, nullifier(1))))
	assert.NotEqual(t, digest, Commitment(UpdateRho(b, nullifier(2))))

	signed, err := Sign(Prepare(awaiting, sighash), is.isk)
	require.NoError(t, err)
	assert.Equal(t, digest, Commitment(signed), "authorization is not part of the id")
	assert.NotEqual(t, EmptyAuthorizingCommitment(), AuthorizingCommitment(signed))

	require.NoError(t, FinalizeAction(b, []byte("gold")))
	assert.NotEqual(t, digest, Commitment(UpdateRho(b, nullifier(1))))
}

func TestAssetRecordJSON(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	is := newIssuer(t, rng)
	b, _, err := New(is.ik, []byte("gold"), nil, true, rng)
	require.NoError(t, err)
	ref := b.Actions()[0].Notes()[0]

	raw, err := json.Marshal(AssetRecord{Amount: 12, IsFinalized: true, ReferenceNote: &ref})
	require.NoError(t, err)
	var got AssetRecord
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, value.NoteValue(12), got.Amount)
	assert.True(t, got.IsFinalized)
	require.NotNil(t, got.ReferenceNote)
	assert.True(t, got.ReferenceNote.Equal(ref))
	assert.True(t, IsReferenceNote(*got.ReferenceNote))
}

func TestBatchValidator(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	is := newIssuer(t, rng)
	var sighash [32]byte
	rng.Read(sighash[:])

	v := NewBatchValidator(nil)
	assert.True(t, v.Validate(context.Background()))

	good1 := is.build(t, rng, 1, sighash, issueStep{"gold", 1, false, true})
	good2 := is.build(t, rng, 2, sighash, issueStep{"silver", 2, true, true})
	v.Add(good1, sighash)
	v.Add(good2, sighash)
	assert.True(t, v.Validate(context.Background()))

	v.Add(good1, [32]byte{9})
	assert.False(t, v.Validate(context.Background()))
	errs := v.ValidateAll(context.Background())
	require.Len(t, errs, 3)
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.ErrorIs(t, errs[2], ErrIssueBundleInvalidSignature)

	finalized := globalState{asset.MustDerive(is.ik, []byte("gold")): {Amount: 1, IsFinalized: true}}
	strict := NewBatchValidator(finalized.lookup)
	strict.Add(good1, sighash)
	assert.False(t, strict.Validate(context.Background()))
}
