// Package bundle holds shielded bundles and drives them through authorization.
//
// # Overview
//
// A bundle is a non-empty list of actions, each spending one note and creating
// another, together with the flags, the anchor, the declared native value balance
// and the list of burned assets. Bundle is generic over the per-action authorization
// A and the bundle authorization T, so every phase of the pipeline has its own type:
//
//	UnprovenBundle    -> CreateProof -> ProvenBundle
//	ProvenBundle      -> Prepare     -> PartialBundle
//	PartialBundle     -> Sign / AppendSignatures (repeatable)
//	PartialBundle     -> Finalize    -> AuthorizedBundle
//
// Operations that only make sense in one phase are functions constrained to that
// instantiation, so an unproven bundle cannot be verified and an unsigned one cannot
// be finalized.
package bundle

import (
	"errors"
	"fmt"

	"zsapool/internal/circuit"
	"zsapool/internal/keys"
	"zsapool/internal/note"
	"zsapool/internal/noteenc"
	"zsapool/internal/reddsa"
	"zsapool/internal/tree"
	"zsapool/internal/value"
)

// ErrNoActions is returned when a bundle would contain no actions.
var ErrNoActions = errors.New("bundle: no actions")

// EncryptedNote is the ciphertext part of an action.
type EncryptedNote struct {
	EphemeralKey  [noteenc.EphemeralKeySize]byte
	EncCiphertext []byte
	OutCiphertext [noteenc.OutCiphertextSize]byte
}

// Action spends one note and creates another. A is its authorization.
type Action[A any] struct {
	nf      note.Nullifier
	rk      reddsa.VerificationKey
	cmx     note.ExtractedCommitment
	encNote EncryptedNote
	cvNet   value.Commitment
	auth    A
}

// NewAction assembles an action from its parts.
func NewAction[A any](nf note.Nullifier, rk reddsa.VerificationKey, cmx note.ExtractedCommitment,
	encNote EncryptedNote, cvNet value.Commitment, auth A) Action[A] {
	return Action[A]{nf: nf, rk: rk, cmx: cmx, encNote: encNote, cvNet: cvNet, auth: auth}
}

func (a Action[A]) Nullifier() note.Nullifier     { return a.nf }
func (a Action[A]) Rk() reddsa.VerificationKey    { return a.rk }
func (a Action[A]) Cmx() note.ExtractedCommitment { return a.cmx }
func (a Action[A]) EncryptedNote() EncryptedNote  { return a.encNote }
func (a Action[A]) CvNet() value.Commitment       { return a.cvNet }
func (a Action[A]) Authorization() A              { return a.auth }

func (a Action[A]) output() noteenc.Output {
	return noteenc.Output{
		Rho:           note.RhoFromNullifier(a.nf),
		EphemeralKey:  a.encNote.EphemeralKey,
		Cmx:           a.cmx,
		EncCiphertext: a.encNote.EncCiphertext,
	}
}

func withAuth[A, B any](a Action[A], auth B) Action[B] {
	return NewAction(a.nf, a.rk, a.cmx, a.encNote, a.cvNet, auth)
}

// Bundle is a set of actions with their shared public data and authorization T.
type Bundle[A, T any] struct {
	actions      []Action[A]
	flags        Flags
	valueBalance value.ValueSum
	burn         []BurnItem
	anchor       tree.Anchor
	expiryHeight uint32
	auth         T
}

// FromParts assembles a bundle. The burn list is validated.
func FromParts[A, T any](actions []Action[A], flags Flags, valueBalance value.ValueSum,
	burn []BurnItem, anchor tree.Anchor, auth T) (*Bundle[A, T], error) {

	if len(actions) == 0 {
		return nil, ErrNoActions
	}
	if err := ValidateBundleBurn(burn); err != nil {
		return nil, err
	}
	return &Bundle[A, T]{
		actions:      actions,
		flags:        flags,
		valueBalance: valueBalance,
		burn:         burn,
		anchor:       anchor,
		auth:         auth,
	}, nil
}

func (b *Bundle[A, T]) Actions() []Action[A]         { return b.actions }
func (b *Bundle[A, T]) Flags() Flags                 { return b.flags }
func (b *Bundle[A, T]) ValueBalance() value.ValueSum { return b.valueBalance }
func (b *Bundle[A, T]) Burn() []BurnItem             { return b.burn }
func (b *Bundle[A, T]) Anchor() tree.Anchor          { return b.anchor }
func (b *Bundle[A, T]) Authorization() T             { return b.auth }

// ExpiryHeight is always zero: bundles do not expire.
func (b *Bundle[A, T]) ExpiryHeight() uint32 { return b.expiryHeight }

// Domain is the note encryption domain selected by the flags.
func (b *Bundle[A, T]) Domain() noteenc.Domain { return noteenc.ForFlags(b.flags.zsa) }

// Nullifiers lists the nullifiers revealed by the bundle in action order.
func (b *Bundle[A, T]) Nullifiers() []note.Nullifier {
	out := make([]note.Nullifier, len(b.actions))
	for i, a := range b.actions {
		out[i] = a.nf
	}
	return out
}

// Instances returns the public inputs of every action proof.
func (b *Bundle[A, T]) Instances() []circuit.Instance {
	out := make([]circuit.Instance, len(b.actions))
	for i, a := range b.actions {
		out[i] = circuit.Instance{
			Anchor:       b.anchor,
			CvNet:        a.cvNet,
			Nf:           a.nf,
			Rk:           a.rk,
			Cmx:          a.cmx,
			EnableSpend:  b.flags.spends,
			EnableOutput: b.flags.outputs,
			EnableZSA:    b.flags.zsa,
		}
	}
	return out
}

// BindingValidatingKey derives
//
//	bvk = Σ cv_net - [value_balance]·V - Σ [burn]·asset
//
// which equals [Σ rcv]·R when the bundle balances.
func (b *Bundle[A, T]) BindingValidatingKey() (reddsa.VerificationKey, error) {
	cvs := make([]value.Commitment, len(b.actions))
	for i, a := range b.actions {
		cvs[i] = a.cvNet
	}
	return deriveBvk(cvs, b.valueBalance, b.burn)
}

func deriveBvk(cvs []value.Commitment, valueBalance value.ValueSum, burn []BurnItem) (reddsa.VerificationKey, error) {
	sum := value.Sum(cvs).Sub(value.Derive(valueBalance, value.ZeroTrapdoor(), nativeAsset))
	for _, item := range burn {
		amount, err := item.Amount.Sum()
		if err != nil {
			return reddsa.VerificationKey{}, fmt.Errorf("burn of %s: %w", item.Asset, err)
		}
		sum = sum.Sub(value.Derive(amount, value.ZeroTrapdoor(), item.Asset))
	}
	return sum.IntoBindingValidatingKey(), nil
}

// DecryptedOutput is an output recovered from a bundle.
type DecryptedOutput struct {
	ActionIndex int
	KeyIndex    int
	noteenc.Decrypted
}

// DecryptOutputsWithKeys trial-decrypts every action with every key and returns the
// matches in action order.
func (b *Bundle[A, T]) DecryptOutputsWithKeys(ivks []keys.IncomingViewingKey) []DecryptedOutput {
	outputs := make([]noteenc.Output, len(b.actions))
	for i, a := range b.actions {
		outputs[i] = a.output()
	}
	var found []DecryptedOutput
	for i, r := range noteenc.BatchTryNoteDecryption(b.Domain(), ivks, outputs) {
		if r != nil {
			found = append(found, DecryptedOutput{ActionIndex: i, KeyIndex: r.KeyIndex, Decrypted: r.Decrypted})
		}
	}
	return found
}

// DecryptOutputWithKey decrypts the output of one action.
func (b *Bundle[A, T]) DecryptOutputWithKey(actionIdx int, ivk keys.IncomingViewingKey) (noteenc.Decrypted, bool) {
	if actionIdx < 0 || actionIdx >= len(b.actions) {
		return noteenc.Decrypted{}, false
	}
	return noteenc.TryNoteDecryption(b.Domain(), ivk, b.actions[actionIdx].output())
}

// RecoverOutputsWithOvks recovers every output created with one of the outgoing
// viewing keys.
func (b *Bundle[A, T]) RecoverOutputsWithOvks(ovks []keys.OutgoingViewingKey) []DecryptedOutput {
	var found []DecryptedOutput
	for i := range b.actions {
		for k, ovk := range ovks {
			if dec, ok := b.RecoverOutputWithOvk(i, ovk); ok {
				found = append(found, DecryptedOutput{ActionIndex: i, KeyIndex: k, Decrypted: dec})
				break
			}
		}
	}
	return found
}

// RecoverOutputWithOvk recovers the output of one action with an outgoing viewing key.
func (b *Bundle[A, T]) RecoverOutputWithOvk(actionIdx int, ovk keys.OutgoingViewingKey) (noteenc.Decrypted, bool) {
	if actionIdx < 0 || actionIdx >= len(b.actions) {
		return noteenc.Decrypted{}, false
	}
	a := b.actions[actionIdx]
	return noteenc.TryOutputRecoveryWithOvk(b.Domain(), ovk, a.output(), a.cvNet, a.encNote.OutCiphertext)
}

// mapAuthorization converts every action authorization with fa and the bundle
// authorization with ft.
func mapAuthorization[A, B, T, U any](b *Bundle[A, T], fa func(Action[A]) (B, error), ft func(T) (U, error)) (*Bundle[B, U], error) {
	actions := make([]Action[B], len(b.actions))
	for i, a := range b.actions {
		auth, err := fa(a)
		if err != nil {
			return nil, err
		}
		actions[i] = withAuth(a, auth)
	}
	auth, err := ft(b.auth)
	if err != nil {
		return nil, err
	}
	return &Bundle[B, U]{
		actions:      actions,
		flags:        b.flags,
		valueBalance: b.valueBalance,
		burn:         b.burn,
		anchor:       b.anchor,
		expiryHeight: b.expiryHeight,
		auth:         auth,
	}, nil
}
