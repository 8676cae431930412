// Package issuance creates, signs and verifies issue bundles, which mint notes of
// custom assets and track their supply.
//
// An issue bundle moves through four states:
//
//	AwaitingNullifier -> UpdateRho -> AwaitingSighash -> Prepare -> Prepared -> Sign -> Signed
//
// Recipients are added and assets finalized only while the bundle awaits the
// nullifier that seeds the rho of its notes.
package issuance

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"zsapool/internal/asset"
	"zsapool/internal/keys"
	"zsapool/internal/note"
	"zsapool/internal/primitives"
	"zsapool/internal/value"
)

const personalIssueNoteRho = "ZSA_IssueNoteRho"

var (
	ErrIssueActionNotFound                 = errors.New("issuance: issue action not found")
	ErrIssueActionAlreadyFinalized         = errors.New("issuance: issue action already finalized")
	ErrIssueActionWithoutNoteNotFinalized  = errors.New("issuance: issue action without notes must be finalized")
	ErrIssueActionPreviouslyFinalized      = errors.New("issuance: asset was previously finalized")
	ErrIssueBundleIkMismatchAssetBase      = errors.New("issuance: note asset does not match issuer key and description")
	ErrIssueBundleInvalidSignature         = errors.New("issuance: invalid issue bundle signature")
	ErrMissingReferenceNoteOnFirstIssuance = errors.New("issuance: first issuance of an asset lacks a reference note")
	ErrAssetBaseCannotBeIdentityPoint      = errors.New("issuance: asset base is the identity point")
	ErrValueOverflow                       = errors.New("issuance: asset supply overflow")
	ErrWrongAssetDescSize                  = asset.ErrWrongAssetDescSize
)

// PreviouslyFinalizedError names the finalized asset a bundle tried to issue.
type PreviouslyFinalizedError struct {
	Asset asset.Base
}

func (e *PreviouslyFinalizedError) Error() string {
	return fmt.Sprintf("%v: %s", ErrIssueActionPreviouslyFinalized, e.Asset)
}

func (e *PreviouslyFinalizedError) Unwrap() error { return ErrIssueActionPreviouslyFinalized }

// referenceAddress receives the zero-value reference note of every first issuance.
// Its spending key is public, so the note carries no value anyone could own.
var referenceAddress = keys.SpendingKey{}.FullViewingKey().AddressAt(0, keys.External)

// ReferenceAddress returns the recipient of reference notes.
func ReferenceAddress() keys.Address { return referenceAddress }

// IsReferenceNote reports whether n is a reference note.
func IsReferenceNote(n note.Note) bool {
	return n.Value() == value.Zero && n.Recipient().Equal(referenceAddress)
}

// IssueInfo is a recipient and amount to issue.
type IssueInfo struct {
	Recipient keys.Address
	Value     value.NoteValue
}

// IssueAction issues notes of one asset.
type IssueAction struct {
	assetDesc []byte
	notes     []note.Note
	finalize  bool
}

// NewIssueAction assembles an action from its parts.
func NewIssueAction(assetDesc []byte, notes []note.Note, finalize bool) IssueAction {
	return IssueAction{assetDesc: assetDesc, notes: notes, finalize: finalize}
}

func (a IssueAction) AssetDesc() []byte  { return a.assetDesc }
func (a IssueAction) Notes() []note.Note { return a.notes }
func (a IssueAction) IsFinalized() bool  { return a.finalize }

// ReferenceNote returns the first note of the action when it is a reference note.
func (a IssueAction) ReferenceNote() (note.Note, bool) {
	if len(a.notes) > 0 && IsReferenceNote(a.notes[0]) {
		return a.notes[0], true
	}
	return note.Note{}, false
}

// verifySupply checks that every note carries the asset derived from ik and the
// description, and returns that asset with the supply the action adds.
func (a IssueAction) verifySupply(ik keys.IssuanceValidatingKey) (asset.Base, AssetRecord, error) {
	if len(a.notes) == 0 && !a.finalize {
		return asset.Base{}, AssetRecord{}, ErrIssueActionWithoutNoteNotFinalized
	}
	issued, err := asset.Derive(ik, a.assetDesc)
	if err != nil {
		return asset.Base{}, AssetRecord{}, err
	}
	if issued.Point().IsIdentity() {
		return asset.Base{}, AssetRecord{}, ErrAssetBaseCannotBeIdentityPoint
	}
	var sum value.NoteValue
	for _, n := range a.notes {
		if !n.Asset().Equal(issued) {
			return asset.Base{}, AssetRecord{}, ErrIssueBundleIkMismatchAssetBase
		}
		var ok bool
		if sum, ok = sum.Add(n.Value()); !ok {
			return asset.Base{}, AssetRecord{}, ErrValueOverflow
		}
	}
	rec := AssetRecord{Amount: sum, IsFinalized: a.finalize}
	if ref, ok := a.ReferenceNote(); ok {
		rec.ReferenceNote = &ref
	}
	return issued, rec, nil
}

// Authorization states.
type (
	// AwaitingNullifier accepts recipients; note rho values are placeholders.
	AwaitingNullifier struct{}
	// AwaitingSighash has final notes and waits for the transaction sighash.
	AwaitingSighash struct{}
	// Prepared holds the sighash the issuer will sign.
	Prepared struct{ sighash [32]byte }
	// Signed holds the issuer's signature.
	Signed struct{ sig keys.IssuanceAuthSig }
)

func (p Prepared) Sighash() [32]byte             { return p.sighash }
func (s Signed) Signature() keys.IssuanceAuthSig { return s.sig }

// NewSigned wraps a received issuer signature.
func NewSigned(sig keys.IssuanceAuthSig) Signed { return Signed{sig: sig} }

// IssueBundle is the issuance part of a transaction. T is its authorization state.
type IssueBundle[T any] struct {
	ik      keys.IssuanceValidatingKey
	actions []IssueAction
	auth    T
}

// FromParts assembles a bundle, typically a received one.
func FromParts[T any](ik keys.IssuanceValidatingKey, actions []IssueAction, auth T) *IssueBundle[T] {
	return &IssueBundle[T]{ik: ik, actions: actions, auth: auth}
}

func (b *IssueBundle[T]) IK() keys.IssuanceValidatingKey { return b.ik }
func (b *IssueBundle[T]) Actions() []IssueAction         { return b.actions }
func (b *IssueBundle[T]) Authorization() T               { return b.auth }

// Action returns the action issuing the asset named desc.
func (b *IssueBundle[T]) Action(desc []byte) (IssueAction, bool) {
	if i := b.actionIndex(desc); i >= 0 {
		return b.actions[i], true
	}
	return IssueAction{}, false
}

// ActionByAsset returns the action issuing a.
func (b *IssueBundle[T]) ActionByAsset(a asset.Base) (IssueAction, bool) {
	for _, act := range b.actions {
		if derived, err := asset.Derive(b.ik, act.assetDesc); err == nil && derived.Equal(a) {
			return act, true
		}
	}
	return IssueAction{}, false
}

// Notes lists every issued note in action order.
func (b *IssueBundle[T]) Notes() []note.Note {
	var out []note.Note
	for _, a := range b.actions {
		out = append(out, a.notes...)
	}
	return out
}

func (b *IssueBundle[T]) actionIndex(desc []byte) int {
	for i := range b.actions {
		if bytes.Equal(b.actions[i].assetDesc, desc) {
			return i
		}
	}
	return -1
}

// issuanceNotes creates the notes of one issuance call: a reference note first on
// first issuance, then the recipient's note if any.
func issuanceNotes(a asset.Base, info *IssueInfo, firstIssuance bool, rng io.Reader) ([]note.Note, error) {
	placeholder := note.RhoFromElement(fr.Element{})
	var notes []note.Note
	if firstIssuance {
		ref, err := note.New(referenceAddress, value.Zero, a, placeholder, rng)
		if err != nil {
			return nil, fmt.Errorf("reference note: %w", err)
		}
		notes = append(notes, ref)
	}
	if info != nil {
		n, err := note.New(info.Recipient, info.Value, a, placeholder, rng)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, nil
}

// New starts a bundle with one action issuing the asset named desc. info may be nil
// to create an action that only carries a reference note or a finalization.
func New(ik keys.IssuanceValidatingKey, desc []byte, info *IssueInfo, firstIssuance bool, rng io.Reader) (*IssueBundle[AwaitingNullifier], asset.Base, error) {
	a, err := asset.Derive(ik, desc)
	if err != nil {
		return nil, asset.Base{}, err
	}
	notes, err := issuanceNotes(a, info, firstIssuance, rng)
	if err != nil {
		return nil, asset.Base{}, err
	}
	action := IssueAction{assetDesc: append([]byte(nil), desc...), notes: notes}
	return &IssueBundle[AwaitingNullifier]{ik: ik, actions: []IssueAction{action}}, a, nil
}

// AddRecipient issues value of the asset named desc to recipient, appending to the
// existing action for desc or creating a new one.
func AddRecipient(b *IssueBundle[AwaitingNullifier], desc []byte, recipient keys.Address, v value.NoteValue, firstIssuance bool, rng io.Reader) (asset.Base, error) {
	a, err := asset.Derive(b.ik, desc)
	if err != nil {
		return asset.Base{}, err
	}
	i := b.actionIndex(desc)
	if i >= 0 && b.actions[i].finalize {
		return asset.Base{}, ErrIssueActionAlreadyFinalized
	}
	notes, err := issuanceNotes(a, &IssueInfo{Recipient: recipient, Value: v}, firstIssuance, rng)
	if err != nil {
		return asset.Base{}, err
	}
	if i >= 0 {
		b.actions[i].notes = append(b.actions[i].notes, notes...)
	} else {
		b.actions = append(b.actions, IssueAction{assetDesc: append([]byte(nil), desc...), notes: notes})
	}
	return a, nil
}

// FinalizeAction marks the asset named desc as finalized. No further issuance of it
// is accepted, in this bundle or any later one.
func FinalizeAction(b *IssueBundle[AwaitingNullifier], desc []byte) error {
	if !asset.IsDescValidSize(desc) {
		return ErrWrongAssetDescSize
	}
	i := b.actionIndex(desc)
	if i < 0 {
		return ErrIssueActionNotFound
	}
	if b.actions[i].finalize {
		return ErrIssueActionAlreadyFinalized
	}
	b.actions[i].finalize = true
	return nil
}

// RhoForIssuanceNote derives the rho of the noteIdx-th note of the actionIdx-th
// action from the first nullifier revealed by the transaction.
func RhoForIssuanceNote(nf note.Nullifier, actionIdx, noteIdx uint32) note.Rho {
	nfb := nf.Bytes()
	var idx [8]byte
	binary.LittleEndian.PutUint32(idx[:4], actionIdx)
	binary.LittleEndian.PutUint32(idx[4:], noteIdx)
	wide := primitives.Blake2b512(personalIssueNoteRho, nfb[:], []byte{0x84}, idx[:])
	return note.RhoFromElement(primitives.ToBase(wide))
}

// UpdateRho sets the rho of every note from the first nullifier of the transaction,
// which makes issued notes unique.
func UpdateRho(b *IssueBundle[AwaitingNullifier], firstNullifier note.Nullifier) *IssueBundle[AwaitingSighash] {
	actions := make([]IssueAction, len(b.actions))
	for i, a := range b.actions {
		notes := make([]note.Note, len(a.notes))
		for j, n := range a.notes {
			notes[j] = n.WithRho(RhoForIssuanceNote(firstNullifier, uint32(i), uint32(j)))
		}
		actions[i] = IssueAction{assetDesc: a.assetDesc, notes: notes, finalize: a.finalize}
	}
	return &IssueBundle[AwaitingSighash]{ik: b.ik, actions: actions}
}

// Prepare fixes the sighash the issuer signs.
func Prepare(b *IssueBundle[AwaitingSighash], sighash [32]byte) *IssueBundle[Prepared] {
	return &IssueBundle[Prepared]{ik: b.ik, actions: b.actions, auth: Prepared{sighash: sighash}}
}

// Sign signs the bundle with isk, which must match the bundle's issuer key for
// every action.
func Sign(b *IssueBundle[Prepared], isk keys.IssuanceAuthorizingKey) (*IssueBundle[Signed], error) {
	ik := isk.ValidatingKey()
	for _, a := range b.actions {
		if _, _, err := a.verifySupply(ik); err != nil {
			return nil, err
		}
	}
	sig, err := isk.Sign(b.auth.sighash)
	if err != nil {
		return nil, err
	}
	return &IssueBundle[Signed]{ik: b.ik, actions: b.actions, auth: Signed{sig: sig}}, nil
}
