// circuit.go - The action relation as a gnark constraint system.
//
// One ActionCircuit proves a single action: the spent note exists under the anchor and
// belongs to the prover, its nullifier and the randomized key are derived correctly,
// the created note is committed correctly, and cv_net commits to the value difference.

package circuit

import (
	"math/big"

	tedwards "github.com/consensys/gnark-crypto/ecc/twistededwards"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/algebra/native/twistededwards"
	"github.com/consensys/gnark/std/hash/mimc"

	"zsapool/internal/note"
	"zsapool/internal/primitives"
	"zsapool/internal/tree"
)

const (
	// baseBits covers any base field element.
	baseBits = 253
	// valueBits is the width of note values.
	valueBits = 64
	// positionBits is the width of a tree position.
	positionBits = tree.Depth
)

// scalarBits covers any canonical scalar.
var scalarBits = primitives.Order().BitLen()

// ActionCircuit is the statement proved for every action.
type ActionCircuit struct {
	// Public inputs
	Anchor       frontend.Variable `gnark:",public"`
	CvNetX       frontend.Variable `gnark:",public"`
	CvNetY       frontend.Variable `gnark:",public"`
	Nf           frontend.Variable `gnark:",public"`
	RkX          frontend.Variable `gnark:",public"`
	RkY          frontend.Variable `gnark:",public"`
	Cmx          frontend.Variable `gnark:",public"`
	EnableSpend  frontend.Variable `gnark:",public"`
	EnableOutput frontend.Variable `gnark:",public"`
	EnableZSA    frontend.Variable `gnark:",public"`

	// Spent note
	Position  frontend.Variable
	Path      [tree.Depth]frontend.Variable
	GdOld     twistededwards.Point
	PkdOld    twistededwards.Point
	VOld      frontend.Variable
	RhoOld    frontend.Variable
	PsiOld    frontend.Variable
	PsiNf     frontend.Variable
	RcmOld    frontend.Variable
	SplitFlag frontend.Variable

	// Spending key material
	Ak    twistededwards.Point
	Nk    frontend.Variable
	Rivk  frontend.Variable
	Alpha frontend.Variable

	// Created note, its rho is Nf
	GdNew  twistededwards.Point
	PkdNew twistededwards.Point
	VNew   frontend.Variable
	PsiNew frontend.Variable
	RcmNew frontend.Variable

	// Shared asset and value commitment trapdoor
	Asset    twistededwards.Point
	Rcv      frontend.Variable
	VNetMag  frontend.Variable
	VNetSign frontend.Variable
}

func (c *ActionCircuit) Define(api frontend.API) error {
	curve, err := twistededwards.NewEdCurve(api, tedwards.BLS12_377)
	if err != nil {
		return err
	}
	for _, p := range []twistededwards.Point{c.GdOld, c.PkdOld, c.Ak, c.GdNew, c.PkdNew, c.Asset} {
		curve.AssertIsOnCurve(p)
	}
	for _, b := range []frontend.Variable{c.EnableSpend, c.EnableOutput, c.EnableZSA, c.SplitFlag, c.VNetSign} {
		api.AssertIsBoolean(b)
	}
	api.ToBinary(c.VOld, valueBits)
	api.ToBinary(c.VNew, valueBits)

	isNative := isEqualPoint(api, c.Asset, point(primitives.ValueCommitV))

	// Step 1: Old note commitment and its Merkle path
	cmOld := noteCommit(api, curve, isNative, c.GdOld, c.PkdOld, c.VOld, c.RhoOld, c.PsiOld, c.RcmOld, c.Asset)
	root := merkleRoot(api, cmOld.X, c.Position, c.Path)
	// dummy notes of value zero may use any path
	api.AssertIsEqual(api.Mul(c.VOld, api.Sub(root, c.Anchor)), 0)

	// Step 2: Nullifier nf = x([PRF_nk(rho) + psi]·K + cm (+ L if split))
	hasher, _ := mimc.NewMiMC(api)
	hasher.Write(c.Nk, c.RhoOld)
	k := api.Add(hasher.Sum(), c.PsiNf)
	nfPoint := curve.Add(mulBits(api, curve, point(primitives.NullifierK), k, baseBits), cmOld)
	withL := curve.Add(nfPoint, point(primitives.NullifierL))
	api.AssertIsEqual(c.Nf, api.Select(c.SplitFlag, withL.X, nfPoint.X))

	// Step 3: Spend authority rk = ak + [alpha]·G
	rk := curve.Add(c.Ak, mulBits(api, curve, point(primitives.SpendAuthG), c.Alpha, scalarBits))
	api.AssertIsEqual(c.RkX, rk.X)
	api.AssertIsEqual(c.RkY, rk.Y)

	// Step 4: Address integrity pk_d = [ivk]·g_d
	hasher.Reset()
	hasher.Write(c.Ak.X, c.Nk, c.Rivk)
	ivk := hasher.Sum()
	pkd := mulBits(api, curve, c.GdOld, ivk, baseBits)
	api.AssertIsEqual(c.PkdOld.X, pkd.X)
	api.AssertIsEqual(c.PkdOld.Y, pkd.Y)

	// Step 5: New note commitment with rho = nf_old
	cmNew := noteCommit(api, curve, isNative, c.GdNew, c.PkdNew, c.VNew, c.Nf, c.PsiNew, c.RcmNew, c.Asset)
	api.AssertIsEqual(c.Cmx, cmNew.X)

	// Step 6: Value commitment cv = ±[|v_net|]·asset + [rcv]·R
	vOld := api.Select(c.SplitFlag, 0, c.VOld)
	signed := api.Mul(c.VNetMag, api.Sub(1, api.Mul(2, c.VNetSign)))
	api.AssertIsEqual(api.Sub(vOld, c.VNew), signed)
	mag := mulBits(api, curve, c.Asset, c.VNetMag, valueBits)
	neg := curve.Neg(mag)
	vPart := twistededwards.Point{
		X: api.Select(c.VNetSign, neg.X, mag.X),
		Y: mag.Y,
	}
	cv := curve.Add(vPart, mulBits(api, curve, point(primitives.ValueCommitR), c.Rcv, scalarBits))
	api.AssertIsEqual(c.CvNetX, cv.X)
	api.AssertIsEqual(c.CvNetY, cv.Y)

	// Step 7: Enable flags
	api.AssertIsEqual(api.Mul(api.Sub(1, c.EnableSpend), c.VOld), 0)
	api.AssertIsEqual(api.Mul(api.Sub(1, c.EnableOutput), c.VNew), 0)
	api.AssertIsEqual(api.Mul(api.Sub(1, c.EnableZSA), api.Sub(1, isNative)), 0)

	return nil
}

// noteCommit mirrors note.DeriveCommitment: the message base and the hashed fields
// depend on whether the asset is native.
func noteCommit(api frontend.API, curve twistededwards.Curve, isNative frontend.Variable,
	gd, pkd twistededwards.Point, v, rho, psi, rcm frontend.Variable, asset twistededwards.Point) twistededwards.Point {

	hasher, _ := mimc.NewMiMC(api)
	hasher.Write(note.CommitTagVanilla.BigInt(new(big.Int)), gd.X, pkd.X, v, rho, psi)
	vanilla := hasher.Sum()

	hasher.Reset()
	hasher.Write(note.CommitTagZSA.BigInt(new(big.Int)), gd.X, pkd.X, v, rho, psi, asset.X)
	zsa := hasher.Sum()

	msg := api.Select(isNative, vanilla, zsa)
	qv, qz := point(primitives.NoteCommitQ), point(primitives.NoteCommitQZSA)
	q := twistededwards.Point{
		X: api.Select(isNative, qv.X, qz.X),
		Y: api.Select(isNative, qv.Y, qz.Y),
	}
	return curve.Add(
		mulBits(api, curve, q, msg, baseBits),
		mulBits(api, curve, point(primitives.NoteCommitR), rcm, scalarBits),
	)
}

// merkleRoot hashes leaf up the authentication path; bit i of position puts the
// running node on the right at level i.
func merkleRoot(api frontend.API, leaf, position frontend.Variable, path [tree.Depth]frontend.Variable) frontend.Variable {
	bits := api.ToBinary(position, positionBits)
	node := leaf
	for i := 0; i < tree.Depth; i++ {
		left := api.Select(bits[i], path[i], node)
		right := api.Select(bits[i], node, path[i])
		hasher, _ := mimc.NewMiMC(api)
		hasher.Write(left, right)
		node = hasher.Sum()
	}
	return node
}

// mulBits computes [s]p by double-and-add over the low n bits of s. Decomposing into
// n bits also asserts s < 2^n.
func mulBits(api frontend.API, curve twistededwards.Curve, p twistededwards.Point, s frontend.Variable, n int) twistededwards.Point {
	bits := api.ToBinary(s, n)
	acc := twistededwards.Point{X: 0, Y: 1}
	for i := n - 1; i >= 0; i-- {
		acc = curve.Double(acc)
		sum := curve.Add(acc, p)
		acc = twistededwards.Point{
			X: api.Select(bits[i], sum.X, acc.X),
			Y: api.Select(bits[i], sum.Y, acc.Y),
		}
	}
	return acc
}

func isEqualPoint(api frontend.API, a, b twistededwards.Point) frontend.Variable {
	return api.And(api.IsZero(api.Sub(a.X, b.X)), api.IsZero(api.Sub(a.Y, b.Y)))
}
