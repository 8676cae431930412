// Package value implements note values, signed value sums and the homomorphic
// value commitments that let a verifier check a bundle balances without learning
// any amount.
//
//	cv = [v]·AssetBase + [rcv]·R
//
// Commitments to the same asset add up; the trapdoors add up with them. The sum
// of all trapdoors in a bundle is the binding signing key, and the sum of all
// commitments minus the public balance is its verification key.
package value

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"

	"zsapool/internal/asset"
	"zsapool/internal/primitives"
	"zsapool/internal/reddsa"
)

// ErrOverflow is returned when a value sum leaves the signed 64-bit range.
var ErrOverflow = errors.New("value: overflow")

// NoteValue is the amount held by a single note.
type NoteValue uint64

// Zero is the empty note value.
const Zero NoteValue = 0

// Add returns v + o, or false on uint64 overflow.
func (v NoteValue) Add(o NoteValue) (NoteValue, bool) {
	s := v + o
	if s < v {
		return 0, false
	}
	return s, true
}

// Sum returns v as a signed sum.
func (v NoteValue) Sum() (ValueSum, error) {
	if uint64(v) > math.MaxInt64 {
		return 0, fmt.Errorf("%w: note value %d", ErrOverflow, v)
	}
	return ValueSum(v), nil
}

// Sub returns v - o as a signed sum.
func (v NoteValue) Sub(o NoteValue) (ValueSum, error) {
	a, err := v.Sum()
	if err != nil {
		return 0, err
	}
	b, err := o.Sum()
	if err != nil {
		return 0, err
	}
	return a.Sub(b)
}

// ValueSum is a signed total of note values. All arithmetic is checked.
type ValueSum int64

func (s ValueSum) Add(o ValueSum) (ValueSum, error) {
	r := s + o
	if (o > 0 && r < s) || (o < 0 && r > s) {
		return 0, ErrOverflow
	}
	return r, nil
}

func (s ValueSum) Sub(o ValueSum) (ValueSum, error) {
	if o == math.MinInt64 {
		return 0, ErrOverflow
	}
	return s.Add(-o)
}

// MagnitudeSign splits s into |s| and whether s is negative.
func (s ValueSum) MagnitudeSign() (uint64, bool) {
	if s < 0 {
		return uint64(-(s + 1)) + 1, true
	}
	return uint64(s), false
}

// Trapdoor is the blinding scalar rcv of a value commitment.
type Trapdoor struct {
	s primitives.Scalar
}

// RandomTrapdoor samples rcv from rng.
func RandomTrapdoor(rng io.Reader) (Trapdoor, error) {
	s, err := primitives.RandomScalar(rng)
	if err != nil {
		return Trapdoor{}, err
	}
	return Trapdoor{s: s}, nil
}

// ZeroTrapdoor is used for commitments to public amounts.
func ZeroTrapdoor() Trapdoor { return Trapdoor{} }

// TrapdoorFromScalar wraps a scalar, e.g. one decoded from a witness.
func TrapdoorFromScalar(s primitives.Scalar) Trapdoor { return Trapdoor{s: s} }

func (t Trapdoor) Scalar() primitives.Scalar { return t.s }

func (t Trapdoor) Add(o Trapdoor) Trapdoor { return Trapdoor{s: t.s.Add(o.s)} }

// SumTrapdoors adds all trapdoors.
func SumTrapdoors(ts []Trapdoor) Trapdoor {
	var acc Trapdoor
	for _, t := range ts {
		acc = acc.Add(t)
	}
	return acc
}

// IntoBindingSigningKey converts a trapdoor sum into the bundle's binding key.
func (t Trapdoor) IntoBindingSigningKey() (reddsa.SigningKey, error) {
	return reddsa.NewSigningKey(reddsa.Binding, t.s)
}

// Commitment is a value commitment cv.
type Commitment struct {
	p primitives.Point
}

// Derive commits to a signed value of asset a under trapdoor rcv.
func Derive(v ValueSum, rcv Trapdoor, a asset.Base) Commitment {
	mag, neg := v.MagnitudeSign()
	vp := a.Point().MulBig(new(big.Int).SetUint64(mag))
	if neg {
		vp = vp.Neg()
	}
	return Commitment{p: vp.Add(primitives.ValueCommitR.Mul(rcv.s))}
}

// CommitmentFromBytes decodes a value commitment.
func CommitmentFromBytes(b []byte) (Commitment, error) {
	p, err := primitives.PointFromBytes(b)
	if err != nil {
		return Commitment{}, fmt.Errorf("value commitment: %w", err)
	}
	return Commitment{p: p}, nil
}

// IdentityCommitment is the commitment to zero with a zero trapdoor.
func IdentityCommitment() Commitment {
	return Commitment{p: primitives.Identity()}
}

func (c Commitment) Add(o Commitment) Commitment { return Commitment{p: c.p.Add(o.p)} }

func (c Commitment) Sub(o Commitment) Commitment { return Commitment{p: c.p.Sub(o.p)} }

func (c Commitment) Equal(o Commitment) bool { return c.p.Equal(o.p) }

func (c Commitment) Point() primitives.Point { return c.p }

func (c Commitment) Bytes() [primitives.PointSize]byte { return c.p.Bytes() }

// Sum adds all commitments.
func Sum(cs []Commitment) Commitment {
	acc := IdentityCommitment()
	for _, c := range cs {
		acc = acc.Add(c)
	}
	return acc
}

// IntoBindingValidatingKey reads a commitment to zero as a binding verification key.
func (c Commitment) IntoBindingValidatingKey() reddsa.VerificationKey {
	return reddsa.NewVerificationKey(reddsa.Binding, c.p)
}
