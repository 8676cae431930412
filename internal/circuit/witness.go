package circuit

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark/std/algebra/native/twistededwards"

	"zsapool/internal/keys"
	"zsapool/internal/note"
	"zsapool/internal/primitives"
	"zsapool/internal/reddsa"
	"zsapool/internal/tree"
	"zsapool/internal/value"
)

var (
	// ErrAssetMismatch is returned when the spent and created notes of an action
	// carry different assets.
	ErrAssetMismatch = errors.New("circuit: spent and output assets differ")
	// ErrRhoMismatch is returned when the output note does not chain from the spend.
	ErrRhoMismatch = errors.New("circuit: output rho is not the spent nullifier")
	// ErrForeignNote is returned when the spent note was not sent to the key.
	ErrForeignNote = errors.New("circuit: spent note does not belong to the viewing key")
)

// Instance is the public input of one action proof.
type Instance struct {
	Anchor       tree.Anchor
	CvNet        value.Commitment
	Nf           note.Nullifier
	Rk           reddsa.VerificationKey
	Cmx          note.ExtractedCommitment
	EnableSpend  bool
	EnableOutput bool
	EnableZSA    bool
}

// Circuit is the full private witness of one action.
type Circuit struct {
	path     tree.MerklePath
	spent    note.Note
	fvk      keys.FullViewingKey
	rivk     primitives.Scalar
	alpha    primitives.Scalar
	output   note.Note
	rcv      value.Trapdoor
	vNetMag  uint64
	vNetSign bool
}

// NewCircuit assembles the witness for spending spent (owned by fvk, at path) and
// creating output, with the spend authorization randomizer alpha and the value
// commitment trapdoor rcv.
func NewCircuit(path tree.MerklePath, fvk keys.FullViewingKey, spent note.Note,
	output note.Note, alpha primitives.Scalar, rcv value.Trapdoor) (Circuit, error) {

	if !spent.Asset().Equal(output.Asset()) {
		return Circuit{}, ErrAssetMismatch
	}
	if output.Rho() != note.RhoFromNullifier(spent.Nullifier(fvk)) {
		return Circuit{}, ErrRhoMismatch
	}
	scope, ok := fvk.ScopeForAddress(spent.Recipient())
	if !ok {
		return Circuit{}, ErrForeignNote
	}

	vOld := spent.Value()
	if spent.IsSplit() {
		vOld = 0
	}
	vNet, err := vOld.Sub(output.Value())
	if err != nil {
		return Circuit{}, fmt.Errorf("value balance: %w", err)
	}
	mag, neg := vNet.MagnitudeSign()

	return Circuit{
		path:     path,
		spent:    spent,
		fvk:      fvk,
		rivk:     fvk.Rivk(scope),
		alpha:    alpha,
		output:   output,
		rcv:      rcv,
		vNetMag:  mag,
		vNetSign: neg,
	}, nil
}

// ValueBalance is the signed value this action contributes to the bundle.
func (c Circuit) ValueBalance() value.ValueSum {
	if c.vNetSign {
		return -value.ValueSum(c.vNetMag)
	}
	return value.ValueSum(c.vNetMag)
}

// assignment fills every input of the circuit, public and private.
func (c Circuit) assignment(inst Instance) *ActionCircuit {
	a := inst.assignment()
	a.Position = uint64(c.path.Position())
	auth := c.path.AuthPath()
	for i := range auth {
		a.Path[i] = baseInt(auth[i])
	}
	a.GdOld = point(c.spent.Recipient().GD())
	a.PkdOld = point(c.spent.Recipient().PkD())
	a.VOld = uint64(c.spent.Value())
	a.RhoOld = baseInt(c.spent.Rho().Element())
	a.PsiOld = baseInt(c.spent.Psi())
	a.PsiNf = baseInt(c.spent.NullifierPsi())
	a.RcmOld = c.spent.Rcm().BigInt()
	a.SplitFlag = boolInt(c.spent.IsSplit())

	a.Ak = point(c.fvk.AK().Point())
	a.Nk = baseInt(c.fvk.NK().Element())
	a.Rivk = c.rivk.BigInt()
	a.Alpha = c.alpha.BigInt()

	a.GdNew = point(c.output.Recipient().GD())
	a.PkdNew = point(c.output.Recipient().PkD())
	a.VNew = uint64(c.output.Value())
	a.PsiNew = baseInt(c.output.Psi())
	a.RcmNew = c.output.Rcm().BigInt()

	a.Asset = point(c.spent.Asset().Point())
	a.Rcv = c.rcv.Scalar().BigInt()
	a.VNetMag = c.vNetMag
	a.VNetSign = boolInt(c.vNetSign)
	return a
}

// assignment fills the public inputs only.
func (inst Instance) assignment() *ActionCircuit {
	cv := inst.CvNet.Point()
	rk := inst.Rk.Point()
	return &ActionCircuit{
		Anchor:       baseInt(inst.Anchor.Element()),
		CvNetX:       baseInt(cv.X()),
		CvNetY:       baseInt(cv.Y()),
		Nf:           baseInt(inst.Nf.Element()),
		RkX:          baseInt(rk.X()),
		RkY:          baseInt(rk.Y()),
		Cmx:          baseInt(inst.Cmx.Element()),
		EnableSpend:  boolInt(inst.EnableSpend),
		EnableOutput: boolInt(inst.EnableOutput),
		EnableZSA:    boolInt(inst.EnableZSA),
	}
}

func baseInt(e fr.Element) *big.Int {
	return e.BigInt(new(big.Int))
}

func point(p primitives.Point) twistededwards.Point {
	return twistededwards.Point{X: baseInt(p.X()), Y: baseInt(p.Y())}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
