// auth.go - Proof and signature phases of a bundle.

package bundle

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"zsapool/internal/circuit"
	"zsapool/internal/keys"
	"zsapool/internal/primitives"
	"zsapool/internal/reddsa"
)

var (
	// ErrMissingSignatures is returned by Finalize while an action is unsigned.
	ErrMissingSignatures = errors.New("bundle: missing spend authorization signatures")
	// ErrInvalidExternalSignature is returned when an appended signature is valid for
	// no pending action.
	ErrInvalidExternalSignature = errors.New("bundle: external signature is not valid for any pending action")
	// ErrDuplicateSignature is returned when an appended signature is valid for more
	// than one pending action. Two actions sharing a randomized key means the
	// randomness source is broken; callers must not retry.
	ErrDuplicateSignature = errors.New("bundle: signature valid for more than one action")
	// ErrProof wraps proving failures.
	ErrProof = errors.New("bundle: proof creation failed")
)

// InProgress is the authorization of a bundle that is still being built: a proof
// state P and a signature state S.
type InProgress[P, S any] struct {
	proof P
	sigs  S
}

// NewInProgress pairs a proof state with a signature state.
func NewInProgress[P, S any](proof P, sigs S) InProgress[P, S] {
	return InProgress[P, S]{proof: proof, sigs: sigs}
}

func (p InProgress[P, S]) Proof() P      { return p.proof }
func (p InProgress[P, S]) Signatures() S { return p.sigs }

// Unproven holds the private witnesses needed to create the proof.
type Unproven struct {
	circuits []circuit.Circuit
}

// NewUnproven wraps the per-action witnesses, in action order.
func NewUnproven(circuits []circuit.Circuit) Unproven { return Unproven{circuits: circuits} }

// Circuits returns the per-action witnesses.
func (u Unproven) Circuits() []circuit.Circuit { return u.circuits }

// Unauthorized carries the binding signing key until the sighash is known.
type Unauthorized struct {
	bsk reddsa.SigningKey
}

// NewUnauthorized wraps the binding signing key.
func NewUnauthorized(bsk reddsa.SigningKey) Unauthorized { return Unauthorized{bsk: bsk} }

// SigningParts is what is needed to sign one action: the spend validating key that
// identifies the signer and the randomizer alpha.
type SigningParts struct {
	ak    keys.SpendValidatingKey
	alpha primitives.Scalar
}

// Rk is the randomized verification key the signature must verify under.
func (p SigningParts) Rk() reddsa.VerificationKey { return p.ak.Randomize(p.alpha) }

// SigningMetadata is the per-action authorization of an unsigned bundle. Dummy
// spends carry their own spend authorizing key and are signed during Prepare.
type SigningMetadata struct {
	dummyAsk *keys.SpendAuthorizingKey
	parts    SigningParts
}

// NewSigningMetadata records how to sign an action. dummyAsk is nil for real spends.
func NewSigningMetadata(ak keys.SpendValidatingKey, alpha primitives.Scalar, dummyAsk *keys.SpendAuthorizingKey) SigningMetadata {
	return SigningMetadata{dummyAsk: dummyAsk, parts: SigningParts{ak: ak, alpha: alpha}}
}

// IsDummy reports whether the action spends a dummy note.
func (m SigningMetadata) IsDummy() bool { return m.dummyAsk != nil }

// PartiallyAuthorized holds the binding signature and the sighash every spend
// authorization signature must cover.
type PartiallyAuthorized struct {
	bindingSig reddsa.Signature
	sighash    [32]byte
}

func (p PartiallyAuthorized) Sighash() [32]byte                  { return p.sighash }
func (p PartiallyAuthorized) BindingSignature() reddsa.Signature { return p.bindingSig }

// MaybeSigned is either the parts needed to sign an action or its signature.
type MaybeSigned struct {
	parts  SigningParts
	sig    reddsa.Signature
	signed bool
}

func pending(parts SigningParts) MaybeSigned  { return MaybeSigned{parts: parts} }
func signed(sig reddsa.Signature) MaybeSigned { return MaybeSigned{sig: sig, signed: true} }

// Signature returns the signature once the action is signed.
func (m MaybeSigned) Signature() (reddsa.Signature, bool) { return m.sig, m.signed }

func (m MaybeSigned) finalize() (reddsa.Signature, error) {
	if !m.signed {
		return reddsa.Signature{}, ErrMissingSignatures
	}
	return m.sig, nil
}

// Authorized is the authorization of a complete bundle.
type Authorized struct {
	proof      circuit.Proof
	bindingSig reddsa.Signature
}

// NewAuthorized assembles the authorization of a received bundle.
func NewAuthorized(proof circuit.Proof, bindingSig reddsa.Signature) Authorized {
	return Authorized{proof: proof, bindingSig: bindingSig}
}

func (a Authorized) Proof() circuit.Proof              { return a.proof }
func (a Authorized) BindingSignature() reddsa.Signature { return a.bindingSig }

// Bundle phases.
type (
	UnprovenBundle   = Bundle[SigningMetadata, InProgress[Unproven, Unauthorized]]
	ProvenBundle     = Bundle[SigningMetadata, InProgress[circuit.Proof, Unauthorized]]
	PartialBundle    = Bundle[MaybeSigned, InProgress[circuit.Proof, PartiallyAuthorized]]
	AuthorizedBundle = Bundle[reddsa.Signature, Authorized]
)

// CreateProof proves every action of the bundle.
func CreateProof[A, S any](b *Bundle[A, InProgress[Unproven, S]], pk *circuit.ProvingKey) (*Bundle[A, InProgress[circuit.Proof, S]], error) {
	instances := b.Instances()
	start := time.Now()
	return mapAuthorization(b,
		func(a Action[A]) (A, error) { return a.auth, nil },
		func(auth InProgress[Unproven, S]) (InProgress[circuit.Proof, S], error) {
			proof, err := circuit.CreateProof(pk, auth.proof.circuits, instances)
			if err != nil {
				return InProgress[circuit.Proof, S]{}, fmt.Errorf("%w: %v", ErrProof, err)
			}
			log.Debug().Int("actions", len(instances)).Dur("elapsed", time.Since(start)).Msg("bundle proven")
			return InProgress[circuit.Proof, S]{proof: proof, sigs: auth.sigs}, nil
		})
}

// Prepare fixes the sighash, signs the dummy spends and creates the binding signature.
func Prepare[P any](b *Bundle[SigningMetadata, InProgress[P, Unauthorized]], rng io.Reader, sighash [32]byte) (*Bundle[MaybeSigned, InProgress[P, PartiallyAuthorized]], error) {
	return mapAuthorization(b,
		func(a Action[SigningMetadata]) (MaybeSigned, error) {
			m := a.auth
			if m.dummyAsk == nil {
				return pending(m.parts), nil
			}
			sig, err := m.dummyAsk.Randomize(m.parts.alpha).Sign(rng, sighash[:])
			if err != nil {
				return MaybeSigned{}, fmt.Errorf("sign dummy spend: %w", err)
			}
			return signed(sig), nil
		},
		func(auth InProgress[P, Unauthorized]) (InProgress[P, PartiallyAuthorized], error) {
			sig, err := auth.sigs.bsk.Sign(rng, sighash[:])
			if err != nil {
				return InProgress[P, PartiallyAuthorized]{}, fmt.Errorf("binding signature: %w", err)
			}
			return InProgress[P, PartiallyAuthorized]{
				proof: auth.proof,
				sigs:  PartiallyAuthorized{bindingSig: sig, sighash: sighash},
			}, nil
		})
}

// Sign signs every pending action whose spend validating key matches ask. Other
// actions are left unchanged.
func Sign[P any](b *Bundle[MaybeSigned, InProgress[P, PartiallyAuthorized]], rng io.Reader, ask keys.SpendAuthorizingKey) (*Bundle[MaybeSigned, InProgress[P, PartiallyAuthorized]], error) {
	expected := ask.ValidatingKey()
	sighash := b.auth.sigs.sighash
	return mapAuthorization(b,
		func(a Action[MaybeSigned]) (MaybeSigned, error) {
			m := a.auth
			if m.signed || !m.parts.ak.Equal(expected) {
				return m, nil
			}
			sig, err := ask.Randomize(m.parts.alpha).Sign(rng, sighash[:])
			if err != nil {
				return MaybeSigned{}, fmt.Errorf("spend authorization: %w", err)
			}
			return signed(sig), nil
		},
		identity[InProgress[P, PartiallyAuthorized]])
}

// AppendSignatures applies externally created signatures. Each must be valid for
// exactly one pending action.
func AppendSignatures[P any](b *Bundle[MaybeSigned, InProgress[P, PartiallyAuthorized]], sigs []reddsa.Signature) (*Bundle[MaybeSigned, InProgress[P, PartiallyAuthorized]], error) {
	var err error
	for _, sig := range sigs {
		if b, err = appendSignature(b, sig); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func appendSignature[P any](b *Bundle[MaybeSigned, InProgress[P, PartiallyAuthorized]], sig reddsa.Signature) (*Bundle[MaybeSigned, InProgress[P, PartiallyAuthorized]], error) {
	sighash := b.auth.sigs.sighash
	validFor := 0
	out, err := mapAuthorization(b,
		func(a Action[MaybeSigned]) (MaybeSigned, error) {
			m := a.auth
			if m.signed {
				return m, nil
			}
			if m.parts.Rk().Verify(sighash[:], sig) != nil {
				return m, nil
			}
			validFor++
			return signed(sig), nil
		},
		identity[InProgress[P, PartiallyAuthorized]])
	if err != nil {
		return nil, err
	}
	switch validFor {
	case 0:
		return nil, ErrInvalidExternalSignature
	case 1:
		return out, nil
	default:
		return nil, ErrDuplicateSignature
	}
}

// Finalize requires every action to be signed and produces the authorized bundle.
func Finalize(b *PartialBundle) (*AuthorizedBundle, error) {
	return mapAuthorization(b,
		func(a Action[MaybeSigned]) (reddsa.Signature, error) { return a.auth.finalize() },
		func(auth InProgress[circuit.Proof, PartiallyAuthorized]) (Authorized, error) {
			return Authorized{proof: auth.proof, bindingSig: auth.sigs.bindingSig}, nil
		})
}

// ApplySignatures runs Prepare, signs with every key and finalizes.
func ApplySignatures(b *ProvenBundle, rng io.Reader, sighash [32]byte, asks []keys.SpendAuthorizingKey) (*AuthorizedBundle, error) {
	partial, err := Prepare(b, rng, sighash)
	if err != nil {
		return nil, err
	}
	for _, ask := range asks {
		if partial, err = Sign(partial, rng, ask); err != nil {
			return nil, err
		}
	}
	return Finalize(partial)
}

// VerifyProof checks the bundle proof against the public inputs of its actions.
func VerifyProof(b *AuthorizedBundle, vk *circuit.VerifyingKey) error {
	return b.auth.proof.Verify(vk, b.Instances())
}

// VerifySignatures checks the binding signature and every spend authorization
// signature against sighash.
func VerifySignatures(b *AuthorizedBundle, sighash [32]byte) error {
	bvk, err := b.BindingValidatingKey()
	if err != nil {
		return err
	}
	if err := bvk.Verify(sighash[:], b.auth.bindingSig); err != nil {
		return fmt.Errorf("binding signature: %w", err)
	}
	for i, a := range b.actions {
		if err := a.rk.Verify(sighash[:], a.auth); err != nil {
			return fmt.Errorf("action %d spend authorization: %w", i, err)
		}
	}
	return nil
}

func identity[T any](t T) (T, error) { return t, nil }
