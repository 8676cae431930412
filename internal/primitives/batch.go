package primitives

import (
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/twistededwards"
)

// BatchMul computes [scalars[i]]base for every scalar, staying in extended
// coordinates and converting back to affine with a single batched inversion.
func BatchMul(base Point, scalars []Scalar) []Point {
	var b twistededwards.PointExtended
	b.FromAffine(&base.p)

	ext := make([]twistededwards.PointExtended, len(scalars))
	zs := make([]fr.Element, len(scalars))
	for i := range scalars {
		ext[i].ScalarMultiplication(&b, scalars[i].BigInt())
		zs[i] = ext[i].Z
	}
	inv := fr.BatchInvert(zs)

	out := make([]Point, len(scalars))
	for i := range ext {
		out[i].p.X.Mul(&ext[i].X, &inv[i])
		out[i].p.Y.Mul(&ext[i].Y, &inv[i])
	}
	return out
}
