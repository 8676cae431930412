// commitment.go - Note commitments and nullifiers.

package note

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"zsapool/internal/asset"
	"zsapool/internal/keys"
	"zsapool/internal/primitives"
	"zsapool/internal/value"
)

// Domain tags prepended to the commitment message of each variant.
var (
	CommitTagVanilla = primitives.ToBase(primitives.Blake2b512("ZSAPool_NoteCmt_", []byte("vanilla")))
	CommitTagZSA     = primitives.ToBase(primitives.Blake2b512("ZSAPool_NoteCmt_", []byte("zsa")))
)

// Commitment is the note commitment point cm.
type Commitment struct {
	p primitives.Point
}

// DeriveCommitment computes
//
//	cm = [MiMC(tag, g_d.x, pk_d.x, v, rho, psi)]·Q + [rcm]·R
//
// with asset.x appended to the message and Q_zsa as base for non-native assets.
// It returns false when the result is the identity.
func DeriveCommitment(gd, pkd primitives.Point, v value.NoteValue, a asset.Base,
	rho, psi fr.Element, rcm primitives.Scalar) (Commitment, bool) {

	var msg fr.Element
	q := primitives.NoteCommitQ
	if a.IsNative() {
		msg = primitives.MiMC(CommitTagVanilla, gd.X(), pkd.X(), primitives.BaseFromUint64(uint64(v)), rho, psi)
	} else {
		msg = primitives.MiMC(CommitTagZSA, gd.X(), pkd.X(), primitives.BaseFromUint64(uint64(v)), rho, psi, a.Point().X())
		q = primitives.NoteCommitQZSA
	}
	cm := q.MulBase(msg).Add(primitives.NoteCommitR.Mul(rcm))
	if cm.IsIdentity() {
		return Commitment{}, false
	}
	return Commitment{p: cm}, true
}

func (c Commitment) Point() primitives.Point { return c.p }

// Extract returns cmx, the x-coordinate of cm.
func (c Commitment) Extract() ExtractedCommitment {
	return ExtractedCommitment{e: c.p.X()}
}

// ExtractedCommitment is cmx, the leaf committed to the note commitment tree.
type ExtractedCommitment struct {
	e fr.Element
}

// ExtractedCommitmentFromBytes decodes a canonical cmx.
func ExtractedCommitmentFromBytes(b []byte) (ExtractedCommitment, error) {
	e, err := primitives.BaseFromBytes(b)
	if err != nil {
		return ExtractedCommitment{}, fmt.Errorf("note commitment: %w", err)
	}
	return ExtractedCommitment{e: e}, nil
}

func (c ExtractedCommitment) Element() fr.Element { return c.e }

func (c ExtractedCommitment) Bytes() [32]byte { return c.e.Bytes() }

func (c ExtractedCommitment) String() string {
	b := c.Bytes()
	return fmt.Sprintf("%x", b[:])
}

// Nullifier is revealed when a note is spent.
type Nullifier struct {
	e fr.Element
}

// DeriveNullifier computes nf = Extract([PRF_nk(rho) + psi]·K + cm (+ L if split)).
func DeriveNullifier(nk keys.NullifierDerivingKey, rho, psi fr.Element, cm Commitment, isSplit bool) Nullifier {
	var k fr.Element
	prf := nk.Prf(rho)
	k.Add(&prf, &psi)
	p := primitives.NullifierK.MulBase(k).Add(cm.p)
	if isSplit {
		p = p.Add(primitives.NullifierL)
	}
	return Nullifier{e: p.X()}
}

// NullifierFromBytes decodes a canonical nullifier.
func NullifierFromBytes(b []byte) (Nullifier, error) {
	e, err := primitives.BaseFromBytes(b)
	if err != nil {
		return Nullifier{}, fmt.Errorf("nullifier: %w", err)
	}
	return Nullifier{e: e}, nil
}

// NullifierFromElement wraps a base field element.
func NullifierFromElement(e fr.Element) Nullifier { return Nullifier{e: e} }

func (n Nullifier) Element() fr.Element { return n.e }

func (n Nullifier) Bytes() [32]byte { return n.e.Bytes() }

func (n Nullifier) String() string {
	b := n.Bytes()
	return fmt.Sprintf("%x", b[:])
}
