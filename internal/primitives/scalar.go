// scalar.go - Integers modulo the prime subgroup order of the Edwards curve.

package primitives

import (
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/twistededwards"
)

// ScalarSize is the encoded length of a Scalar.
const ScalarSize = 32

var (
	// ErrNonCanonicalScalar is returned when decoding a scalar that is not reduced.
	ErrNonCanonicalScalar = errors.New("primitives: non-canonical scalar encoding")

	curveParams = twistededwards.GetEdwardsCurve()
	order       = new(big.Int).Set(&curveParams.Order)
)

// Order returns a copy of the prime subgroup order.
func Order() *big.Int {
	return new(big.Int).Set(order)
}

// Scalar is a canonical little-endian encoding of an integer modulo the subgroup order.
// The zero value is the scalar 0.
type Scalar [ScalarSize]byte

// ScalarFromBigInt reduces n modulo the subgroup order.
func ScalarFromBigInt(n *big.Int) Scalar {
	var r big.Int
	r.Mod(n, order)
	var s Scalar
	be := r.Bytes()
	for i := range be {
		s[i] = be[len(be)-1-i]
	}
	return s
}

// ScalarFromUint64 returns v as a scalar.
func ScalarFromUint64(v uint64) Scalar {
	return ScalarFromBigInt(new(big.Int).SetUint64(v))
}

// ScalarFromBase interprets a base field element as an integer and reduces it.
func ScalarFromBase(e fr.Element) Scalar {
	return ScalarFromBigInt(e.BigInt(new(big.Int)))
}

// ScalarFromBytes decodes a canonical 32-byte little-endian scalar.
func ScalarFromBytes(b []byte) (Scalar, error) {
	if len(b) != ScalarSize {
		return Scalar{}, fmt.Errorf("%w: length %d", ErrNonCanonicalScalar, len(b))
	}
	var s Scalar
	copy(s[:], b)
	if s.BigInt().Cmp(order) >= 0 {
		return Scalar{}, ErrNonCanonicalScalar
	}
	return s, nil
}

// RandomScalar samples a uniform scalar by wide reduction of 64 bytes from rng.
func RandomScalar(rng io.Reader) (Scalar, error) {
	var buf [64]byte
	if _, err := io.ReadFull(rng, buf[:]); err != nil {
		return Scalar{}, fmt.Errorf("sample scalar: %w", err)
	}
	return ToScalar(buf), nil
}

// ToScalar reduces a 64-byte little-endian string modulo the subgroup order.
func ToScalar(b [64]byte) Scalar {
	return ScalarFromBigInt(leBigInt(b[:]))
}

// ToBase reduces a 64-byte little-endian string into the base field.
func ToBase(b [64]byte) fr.Element {
	var e fr.Element
	e.SetBigInt(leBigInt(b[:]))
	return e
}

// BigInt returns s as a non-negative big integer.
func (s Scalar) BigInt() *big.Int {
	return leBigInt(s[:])
}

// Base returns s as a base field element. The subgroup order is smaller than the
// base field modulus, so the mapping is injective.
func (s Scalar) Base() fr.Element {
	var e fr.Element
	e.SetBigInt(s.BigInt())
	return e
}

// IsZero reports whether s is the zero scalar.
func (s Scalar) IsZero() bool {
	return s == Scalar{}
}

func (s Scalar) Add(o Scalar) Scalar {
	return ScalarFromBigInt(new(big.Int).Add(s.BigInt(), o.BigInt()))
}

func (s Scalar) Sub(o Scalar) Scalar {
	return ScalarFromBigInt(new(big.Int).Sub(s.BigInt(), o.BigInt()))
}

func (s Scalar) Mul(o Scalar) Scalar {
	return ScalarFromBigInt(new(big.Int).Mul(s.BigInt(), o.BigInt()))
}

func (s Scalar) Neg() Scalar {
	return ScalarFromBigInt(new(big.Int).Neg(s.BigInt()))
}

// Bytes returns the canonical encoding of s.
func (s Scalar) Bytes() [ScalarSize]byte {
	return s
}

func leBigInt(le []byte) *big.Int {
	be := make([]byte, len(le))
	for i := range le {
		be[i] = le[len(le)-1-i]
	}
	return new(big.Int).SetBytes(be)
}
