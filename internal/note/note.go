// Package note defines the value-carrying note of the shielded pool together with
// its randomness derivation, commitment and nullifier.
//
// A note is created by the builder for real outputs, by padding (dummy and split
// notes) or by issuance, and is consumed when an action spends it.
package note

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"zsapool/internal/asset"
	"zsapool/internal/keys"
	"zsapool/internal/primitives"
	"zsapool/internal/value"
)

const (
	// RandomSeedSize is the length of rseed.
	RandomSeedSize = 32

	encodedSize = keys.AddressSize + 8 + primitives.PointSize + 32 + RandomSeedSize + 1
)

// ErrInvalidNote is returned when a note encoding fails to decode.
var ErrInvalidNote = errors.New("note: invalid encoding")

// Rho is the nullifier of the note consumed in the same action, or an issuance
// derived value. It makes each note's nullifier unique.
type Rho struct {
	e fr.Element
}

// RhoFromNullifier uses a spent note's nullifier as rho of the new note.
func RhoFromNullifier(nf Nullifier) Rho { return Rho{e: nf.e} }

// RhoFromElement wraps a base field element.
func RhoFromElement(e fr.Element) Rho { return Rho{e: e} }

// RhoFromBytes decodes a canonical rho.
func RhoFromBytes(b []byte) (Rho, error) {
	e, err := primitives.BaseFromBytes(b)
	if err != nil {
		return Rho{}, fmt.Errorf("rho: %w", err)
	}
	return Rho{e: e}, nil
}

func (r Rho) Element() fr.Element { return r.e }

func (r Rho) Bytes() [32]byte { return r.e.Bytes() }

// RandomSeed is the per-note seed from which psi, rcm and esk are derived.
type RandomSeed [RandomSeedSize]byte

// RandomSeedFromBytes accepts b when it yields a non-zero esk for rho.
func RandomSeedFromBytes(b [RandomSeedSize]byte, rho Rho) (RandomSeed, bool) {
	rs := RandomSeed(b)
	if rs.Esk(rho).IsZero() {
		return RandomSeed{}, false
	}
	return rs, true
}

func randomSeed(rng io.Reader, rho Rho) (RandomSeed, error) {
	for {
		var b [RandomSeedSize]byte
		if _, err := io.ReadFull(rng, b[:]); err != nil {
			return RandomSeed{}, fmt.Errorf("sample rseed: %w", err)
		}
		if rs, ok := RandomSeedFromBytes(b, rho); ok {
			return rs, nil
		}
	}
}

func (rs RandomSeed) expand(tag byte, rho Rho) [64]byte {
	rb := rho.Bytes()
	return primitives.PrfExpand(rs[:], []byte{tag}, rb[:])
}

// Esk derives the ephemeral secret key of the note encryption.
func (rs RandomSeed) Esk(rho Rho) primitives.Scalar {
	return primitives.ToScalar(rs.expand(0x04, rho))
}

// Rcm derives the note commitment trapdoor.
func (rs RandomSeed) Rcm(rho Rho) primitives.Scalar {
	return primitives.ToScalar(rs.expand(0x05, rho))
}

// Psi derives the nullifier randomness.
func (rs RandomSeed) Psi(rho Rho) fr.Element {
	return primitives.ToBase(rs.expand(0x09, rho))
}

// Note is a discrete amount of one asset controlled by a recipient address.
type Note struct {
	recipient  keys.Address
	value      value.NoteValue
	asset      asset.Base
	rho        Rho
	rseed      RandomSeed
	rseedSplit *RandomSeed
}

// FromParts assembles a note. It returns false when rseed is unusable for rho or the
// commitment is degenerate; callers resample.
func FromParts(recipient keys.Address, v value.NoteValue, a asset.Base, rho Rho, rseed RandomSeed) (Note, bool) {
	if rseed.Esk(rho).IsZero() {
		return Note{}, false
	}
	n := Note{recipient: recipient, value: v, asset: a, rho: rho, rseed: rseed}
	if _, ok := n.commitment(); !ok {
		return Note{}, false
	}
	return n, true
}

// New creates a note with fresh randomness.
func New(recipient keys.Address, v value.NoteValue, a asset.Base, rho Rho, rng io.Reader) (Note, error) {
	for {
		rseed, err := randomSeed(rng, rho)
		if err != nil {
			return Note{}, err
		}
		if n, ok := FromParts(recipient, v, a, rho, rseed); ok {
			return n, nil
		}
	}
}

// Dummy creates a zero-value note of asset a owned by a throwaway key. A nil rho is
// replaced by a random one.
func Dummy(rng io.Reader, rho *Rho, a asset.Base) (keys.SpendingKey, keys.FullViewingKey, Note, error) {
	sk, err := keys.NewSpendingKey(rng)
	if err != nil {
		return keys.SpendingKey{}, keys.FullViewingKey{}, Note{}, err
	}
	fvk := sk.FullViewingKey()
	recipient := fvk.AddressAt(0, keys.External)

	var r Rho
	if rho != nil {
		r = *rho
	} else {
		var wide [64]byte
		if _, err := io.ReadFull(rng, wide[:]); err != nil {
			return keys.SpendingKey{}, keys.FullViewingKey{}, Note{}, fmt.Errorf("sample rho: %w", err)
		}
		r = Rho{e: primitives.ToBase(wide)}
	}

	n, err := New(recipient, value.Zero, a, r, rng)
	if err != nil {
		return keys.SpendingKey{}, keys.FullViewingKey{}, Note{}, err
	}
	return sk, fvk, n, nil
}

// CreateSplitNote returns a copy of n flagged as a split note. It commits to the same
// contents but reveals a different nullifier.
func (n Note) CreateSplitNote(rng io.Reader) (Note, error) {
	rs, err := randomSeed(rng, n.rho)
	if err != nil {
		return Note{}, err
	}
	n.rseedSplit = &rs
	return n, nil
}

// WithRho returns n with rho replaced. Issuance notes are created before the rho of
// their bundle is known.
func (n Note) WithRho(rho Rho) Note {
	n.rho = rho
	return n
}

func (n Note) Recipient() keys.Address { return n.recipient }
func (n Note) Value() value.NoteValue  { return n.value }
func (n Note) Asset() asset.Base       { return n.asset }
func (n Note) Rho() Rho                { return n.rho }
func (n Note) RandomSeed() RandomSeed  { return n.rseed }

// IsSplit reports whether n is a split note.
func (n Note) IsSplit() bool { return n.rseedSplit != nil }

// Psi returns the commitment psi.
func (n Note) Psi() fr.Element { return n.rseed.Psi(n.rho) }

// NullifierPsi returns the psi used in the nullifier, taken from the split seed for
// split notes.
func (n Note) NullifierPsi() fr.Element {
	if n.rseedSplit != nil {
		return n.rseedSplit.Psi(n.rho)
	}
	return n.Psi()
}

func (n Note) Rcm() primitives.Scalar { return n.rseed.Rcm(n.rho) }

func (n Note) Esk() primitives.Scalar { return n.rseed.Esk(n.rho) }

func (n Note) commitment() (Commitment, bool) {
	return DeriveCommitment(n.recipient.GD(), n.recipient.PkD(), n.value, n.asset,
		n.rho.e, n.Psi(), n.Rcm())
}

// Commitment returns cm. Notes built through FromParts always have one.
func (n Note) Commitment() Commitment {
	cm, ok := n.commitment()
	if !ok {
		return Commitment{p: primitives.Identity()}
	}
	return cm
}

// Nullifier derives the nullifier revealed when n is spent with fvk.
func (n Note) Nullifier(fvk keys.FullViewingKey) Nullifier {
	return DeriveNullifier(fvk.NK(), n.rho.e, n.NullifierPsi(), n.Commitment(), n.IsSplit())
}

// Equal compares every field including the split seed.
func (n Note) Equal(o Note) bool {
	if n.IsSplit() != o.IsSplit() {
		return false
	}
	if n.IsSplit() && *n.rseedSplit != *o.rseedSplit {
		return false
	}
	return n.recipient.Equal(o.recipient) && n.value == o.value && n.asset.Equal(o.asset) &&
		n.rho == o.rho && n.rseed == o.rseed
}

// MarshalBinary encodes recipient || value || asset || rho || rseed || split flag [|| split seed].
func (n Note) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, encodedSize+RandomSeedSize)
	addr := n.recipient.Bytes()
	out = append(out, addr[:]...)
	out = binary.LittleEndian.AppendUint64(out, uint64(n.value))
	ab := n.asset.Bytes()
	out = append(out, ab[:]...)
	rb := n.rho.Bytes()
	out = append(out, rb[:]...)
	out = append(out, n.rseed[:]...)
	if n.rseedSplit != nil {
		out = append(out, 1)
		out = append(out, n.rseedSplit[:]...)
	} else {
		out = append(out, 0)
	}
	return out, nil
}

// UnmarshalBinary decodes the MarshalBinary format.
func (n *Note) UnmarshalBinary(b []byte) error {
	if len(b) != encodedSize && len(b) != encodedSize+RandomSeedSize {
		return fmt.Errorf("%w: length %d", ErrInvalidNote, len(b))
	}
	recipient, err := keys.AddressFromBytes(b[:keys.AddressSize])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNote, err)
	}
	off := keys.AddressSize
	v := value.NoteValue(binary.LittleEndian.Uint64(b[off:]))
	off += 8
	a, err := asset.FromBytes(b[off : off+primitives.PointSize])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNote, err)
	}
	off += primitives.PointSize
	rho, err := RhoFromBytes(b[off : off+32])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNote, err)
	}
	off += 32
	var rseed RandomSeed
	copy(rseed[:], b[off:off+RandomSeedSize])
	off += RandomSeedSize

	decoded, ok := FromParts(recipient, v, a, rho, rseed)
	if !ok {
		return ErrInvalidNote
	}
	switch b[off] {
	case 0:
		if len(b) != encodedSize {
			return ErrInvalidNote
		}
	case 1:
		if len(b) != encodedSize+RandomSeedSize {
			return ErrInvalidNote
		}
		var split RandomSeed
		copy(split[:], b[off+1:])
		decoded.rseedSplit = &split
	default:
		return ErrInvalidNote
	}
	*n = decoded
	return nil
}
