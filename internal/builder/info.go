// info.go - Spend and output candidates and the pairing of the two into actions.

package builder

import (
	"fmt"
	"io"

	"zsapool/internal/asset"
	"zsapool/internal/bundle"
	"zsapool/internal/circuit"
	"zsapool/internal/keys"
	"zsapool/internal/note"
	"zsapool/internal/noteenc"
	"zsapool/internal/primitives"
	"zsapool/internal/tree"
	"zsapool/internal/value"
)

// SpendInfo is a note to be spent together with the key and witness needed to spend it.
type SpendInfo struct {
	dummySk   *keys.SpendingKey
	fvk       keys.FullViewingKey
	scope     keys.Scope
	note      note.Note
	path      tree.MerklePath
	splitFlag bool
}

// NewSpendInfo checks that fvk controls the recipient of n.
func NewSpendInfo(fvk keys.FullViewingKey, n note.Note, path tree.MerklePath) (SpendInfo, error) {
	scope, ok := fvk.ScopeForAddress(n.Recipient())
	if !ok {
		return SpendInfo{}, ErrFvkMismatch
	}
	return SpendInfo{fvk: fvk, scope: scope, note: n, path: path}, nil
}

// DummySpend spends a fresh zero-value note of asset a under a throwaway key.
func DummySpend(a asset.Base, rng io.Reader) (SpendInfo, error) {
	sk, fvk, n, err := note.Dummy(rng, nil, a)
	if err != nil {
		return SpendInfo{}, err
	}
	path, err := tree.DummyPath(rng)
	if err != nil {
		return SpendInfo{}, err
	}
	return SpendInfo{dummySk: &sk, fvk: fvk, scope: keys.External, note: n, path: path}, nil
}

// splitSpend spends the same note again as a split note. It reveals a fresh
// nullifier and contributes no value.
func (s SpendInfo) splitSpend(rng io.Reader) (SpendInfo, error) {
	n, err := s.note.CreateSplitNote(rng)
	if err != nil {
		return SpendInfo{}, err
	}
	return SpendInfo{fvk: s.fvk, scope: s.scope, note: n, path: s.path, splitFlag: true}, nil
}

// hasMatchingAnchor is trivially true for zero-value notes, which the circuit
// does not bind to the anchor.
func (s SpendInfo) hasMatchingAnchor(anchor tree.Anchor) bool {
	if s.note.Value() == value.Zero {
		return true
	}
	return s.path.Root(s.note.Commitment().Extract()) == anchor
}

func (s SpendInfo) Note() note.Note                     { return s.note }
func (s SpendInfo) Scope() keys.Scope                   { return s.scope }
func (s SpendInfo) IsDummy() bool                       { return s.dummySk != nil }
func (s SpendInfo) IsSplit() bool                       { return s.splitFlag }
func (s SpendInfo) FullViewingKey() keys.FullViewingKey { return s.fvk }

// OutputInfo is a note to be created.
type OutputInfo struct {
	ovk       *keys.OutgoingViewingKey
	recipient keys.Address
	value     value.NoteValue
	asset     asset.Base
	memo      noteenc.Memo
}

// NewOutputInfo describes an output. A nil memo becomes the empty memo.
func NewOutputInfo(ovk *keys.OutgoingViewingKey, recipient keys.Address, v value.NoteValue, a asset.Base, memo *noteenc.Memo) OutputInfo {
	m := noteenc.EmptyMemo()
	if memo != nil {
		m = *memo
	}
	return OutputInfo{ovk: ovk, recipient: recipient, value: v, asset: a, memo: m}
}

// DummyOutput sends zero of asset a to a random address.
func DummyOutput(rng io.Reader, a asset.Base) (OutputInfo, error) {
	sk, err := keys.NewSpendingKey(rng)
	if err != nil {
		return OutputInfo{}, err
	}
	recipient := sk.FullViewingKey().AddressAt(0, keys.External)
	return NewOutputInfo(nil, recipient, value.Zero, a, nil), nil
}

func (o OutputInfo) Recipient() keys.Address { return o.recipient }
func (o OutputInfo) Value() value.NoteValue  { return o.value }
func (o OutputInfo) Asset() asset.Base       { return o.asset }

type actionInfo struct {
	spend  SpendInfo
	output OutputInfo
	rcv    value.Trapdoor
}

// valueSum is the value the action moves out of the pool's note set. Split spends
// count as zero.
func (a actionInfo) valueSum() (value.ValueSum, error) {
	spent := a.spend.note.Value()
	if a.spend.splitFlag {
		spent = value.Zero
	}
	return spent.Sub(a.output.value)
}

func (a actionInfo) build(d noteenc.Domain, rng io.Reader) (bundle.Action[bundle.SigningMetadata], circuit.Circuit, error) {
	var (
		zero   bundle.Action[bundle.SigningMetadata]
		noCirc circuit.Circuit
	)
	if !a.spend.note.Asset().Equal(a.output.asset) {
		return zero, noCirc, fmt.Errorf("%w: spend %s output %s", circuit.ErrAssetMismatch, a.spend.note.Asset(), a.output.asset)
	}

	vNet, err := a.valueSum()
	if err != nil {
		return zero, noCirc, err
	}
	cv := value.Derive(vNet, a.rcv, a.output.asset)

	nf := a.spend.note.Nullifier(a.spend.fvk)
	ak := a.spend.fvk.AK()
	alpha, err := primitives.RandomScalar(rng)
	if err != nil {
		return zero, noCirc, err
	}

	created, err := note.New(a.output.recipient, a.output.value, a.output.asset, note.RhoFromNullifier(nf), rng)
	if err != nil {
		return zero, noCirc, err
	}
	cmx := created.Commitment().Extract()

	enc, err := noteenc.NewNoteEncryption(d, a.output.ovk, created, a.output.memo)
	if err != nil {
		return zero, noCirc, err
	}
	encCiphertext, err := enc.EncryptNotePlaintext()
	if err != nil {
		return zero, noCirc, err
	}
	outCiphertext, err := enc.EncryptOutgoingPlaintext(cv, cmx, rng)
	if err != nil {
		return zero, noCirc, err
	}

	var dummyAsk *keys.SpendAuthorizingKey
	if a.spend.dummySk != nil {
		ask := a.spend.dummySk.SpendAuthorizingKey()
		dummyAsk = &ask
	}

	c, err := circuit.NewCircuit(a.spend.path, a.spend.fvk, a.spend.note, created, alpha, a.rcv)
	if err != nil {
		return zero, noCirc, err
	}

	action := bundle.NewAction(nf, ak.Randomize(alpha), cmx,
		bundle.EncryptedNote{
			EphemeralKey:  enc.EphemeralKey(),
			EncCiphertext: encCiphertext,
			OutCiphertext: outCiphertext,
		},
		cv, bundle.NewSigningMetadata(ak, alpha, dummyAsk))
	return action, c, nil
}
