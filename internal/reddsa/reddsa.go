// Package reddsa implements re-randomizable Schnorr signatures over the pool's
// Edwards curve. Two flavours share the code and differ only in basepoint:
// SpendAuth keys sign per-action authorizations and can be re-randomized;
// Binding keys are the sum of value commitment trapdoors.
package reddsa

import (
	"errors"
	"fmt"
	"io"

	"zsapool/internal/primitives"
)

const (
	// SignatureSize is the length of an encoded signature (R || S).
	SignatureSize = 64

	personalHStar = "ZSAPool_RedDSA_H"
)

var (
	// ErrInvalidSignature is returned when verification fails.
	ErrInvalidSignature = errors.New("reddsa: invalid signature")
	// ErrZeroKey is returned for a signing key equal to zero.
	ErrZeroKey = errors.New("reddsa: zero signing key")
)

// SigType selects the basepoint of a key.
type SigType uint8

const (
	SpendAuth SigType = iota
	Binding
)

func (t SigType) String() string {
	switch t {
	case SpendAuth:
		return "spend-auth"
	case Binding:
		return "binding"
	default:
		return fmt.Sprintf("SigType(%d)", t)
	}
}

func (t SigType) basepoint() primitives.Point {
	if t == Binding {
		return primitives.ValueCommitR
	}
	return primitives.SpendAuthG
}

// Signature is R || S with S little-endian.
type Signature [SignatureSize]byte

// SigningKey is a non-zero scalar bound to a SigType.
type SigningKey struct {
	typ SigType
	sk  primitives.Scalar
}

// VerificationKey is [sk]B for the type's basepoint B.
type VerificationKey struct {
	typ SigType
	pk  primitives.Point
}

// NewSigningKey wraps sk. Zero is rejected.
func NewSigningKey(typ SigType, sk primitives.Scalar) (SigningKey, error) {
	if sk.IsZero() {
		return SigningKey{}, ErrZeroKey
	}
	return SigningKey{typ: typ, sk: sk}, nil
}

// NewVerificationKey wraps a point as a verification key.
func NewVerificationKey(typ SigType, pk primitives.Point) VerificationKey {
	return VerificationKey{typ: typ, pk: pk}
}

// VerificationKeyFromBytes decodes a verification key.
func VerificationKeyFromBytes(typ SigType, b []byte) (VerificationKey, error) {
	p, err := primitives.PointFromBytes(b)
	if err != nil {
		return VerificationKey{}, fmt.Errorf("reddsa: %s key: %w", typ, err)
	}
	return VerificationKey{typ: typ, pk: p}, nil
}

func (k SigningKey) Type() SigType             { return k.typ }
func (k SigningKey) Scalar() primitives.Scalar { return k.sk }

// VerificationKey derives the public key.
func (k SigningKey) VerificationKey() VerificationKey {
	return VerificationKey{typ: k.typ, pk: k.typ.basepoint().Mul(k.sk)}
}

// Randomize returns sk + alpha.
func (k SigningKey) Randomize(alpha primitives.Scalar) SigningKey {
	return SigningKey{typ: k.typ, sk: k.sk.Add(alpha)}
}

// Sign produces a signature over msg. The nonce mixes 80 bytes from rng with the key
// and message, so a weak rng degrades to deterministic signing rather than key leakage.
func (k SigningKey) Sign(rng io.Reader, msg []byte) (Signature, error) {
	var t [80]byte
	if _, err := io.ReadFull(rng, t[:]); err != nil {
		return Signature{}, fmt.Errorf("reddsa: sample nonce: %w", err)
	}
	vk := k.VerificationKey().Bytes()
	skBytes := k.sk.Bytes()

	r := hStar(t[:], skBytes[:], msg)
	R := k.typ.basepoint().Mul(r).Bytes()
	c := hStar(R[:], vk[:], msg)
	S := r.Add(c.Mul(k.sk)).Bytes()

	var sig Signature
	copy(sig[:32], R[:])
	copy(sig[32:], S[:])
	return sig, nil
}

func (v VerificationKey) Type() SigType           { return v.typ }
func (v VerificationKey) Point() primitives.Point { return v.pk }

func (v VerificationKey) Bytes() [primitives.PointSize]byte {
	return v.pk.Bytes()
}

func (v VerificationKey) Equal(o VerificationKey) bool {
	return v.typ == o.typ && v.pk.Equal(o.pk)
}

// Randomize returns vk + [alpha]B.
func (v VerificationKey) Randomize(alpha primitives.Scalar) VerificationKey {
	return VerificationKey{typ: v.typ, pk: v.pk.Add(v.typ.basepoint().Mul(alpha))}
}

// Verify checks [S]B == R + [c]vk.
func (v VerificationKey) Verify(msg []byte, sig Signature) error {
	R, err := primitives.PointFromBytes(sig[:32])
	if err != nil {
		return ErrInvalidSignature
	}
	S, err := primitives.ScalarFromBytes(sig[32:])
	if err != nil {
		return ErrInvalidSignature
	}
	vk := v.Bytes()
	c := hStar(sig[:32], vk[:], msg)

	lhs := v.typ.basepoint().Mul(S)
	rhs := R.Add(v.pk.Mul(c))
	if !lhs.Equal(rhs) {
		return ErrInvalidSignature
	}
	return nil
}

func hStar(parts ...[]byte) primitives.Scalar {
	return primitives.ToScalar(primitives.Blake2b512(personalHStar, parts...))
}
