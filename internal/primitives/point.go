// point.go - Prime-order points on the BLS12-377 twisted Edwards curve.

package primitives

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/twistededwards"
)

// PointSize is the length of a compressed point encoding.
const PointSize = 32

// ErrInvalidPoint is returned for encodings that are non-canonical, off the curve or
// outside the prime-order subgroup.
var ErrInvalidPoint = errors.New("primitives: invalid point encoding")

// Point is an element of the prime-order subgroup. The zero value is not a valid
// point; use Identity.
type Point struct {
	p twistededwards.PointAffine
}

// Identity returns the neutral element (0, 1).
func Identity() Point {
	var p Point
	p.p.Y.SetOne()
	return p
}

// PointFromBytes decodes a compressed point and rejects anything that is not the
// canonical encoding of a prime-order point.
func PointFromBytes(b []byte) (Point, error) {
	if len(b) != PointSize {
		return Point{}, fmt.Errorf("%w: length %d", ErrInvalidPoint, len(b))
	}
	var p Point
	if _, err := p.p.SetBytes(b); err != nil {
		return Point{}, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	if !p.p.IsOnCurve() {
		return Point{}, ErrInvalidPoint
	}
	// SetBytes reduces Y silently, so a round trip catches non-canonical input.
	if enc := p.p.Bytes(); !bytes.Equal(enc[:], b) {
		return Point{}, ErrInvalidPoint
	}
	if !p.inPrimeSubgroup() {
		return Point{}, ErrInvalidPoint
	}
	return p, nil
}

// PointFromAffine validates an affine point coming from outside the package.
func PointFromAffine(a twistededwards.PointAffine) (Point, error) {
	p := Point{p: a}
	if !p.p.IsOnCurve() || !p.inPrimeSubgroup() {
		return Point{}, ErrInvalidPoint
	}
	return p, nil
}

func (p Point) inPrimeSubgroup() bool {
	var q twistededwards.PointAffine
	q.ScalarMultiplication(&p.p, order)
	return q.IsZero()
}

func (p Point) Add(q Point) Point {
	var r Point
	r.p.Add(&p.p, &q.p)
	return r
}

func (p Point) Sub(q Point) Point {
	return p.Add(q.Neg())
}

func (p Point) Neg() Point {
	var r Point
	r.p.Neg(&p.p)
	return r
}

// Mul returns [s]p.
func (p Point) Mul(s Scalar) Point {
	return p.MulBig(s.BigInt())
}

// MulBase returns [e]p where the base field element e is read as an integer.
func (p Point) MulBase(e fr.Element) Point {
	return p.MulBig(e.BigInt(new(big.Int)))
}

// MulBig returns [n]p for a non-negative n.
func (p Point) MulBig(n *big.Int) Point {
	var r Point
	r.p.ScalarMultiplication(&p.p, n)
	return r
}

func (p Point) Equal(q Point) bool {
	return p.p.Equal(&q.p)
}

// IsIdentity reports whether p is the neutral element.
func (p Point) IsIdentity() bool {
	return p.p.IsZero()
}

// X returns the affine x-coordinate, used as the extracted form of a point.
func (p Point) X() fr.Element {
	return p.p.X
}

// Y returns the affine y-coordinate.
func (p Point) Y() fr.Element {
	return p.p.Y
}

// Affine exposes the underlying gnark-crypto point.
func (p Point) Affine() twistededwards.PointAffine {
	return p.p
}

// Bytes returns the compressed encoding of p.
func (p Point) Bytes() [PointSize]byte {
	return p.p.Bytes()
}

// String renders the encoding in hex.
func (p Point) String() string {
	b := p.Bytes()
	return fmt.Sprintf("%x", b[:])
}
