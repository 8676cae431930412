// Package keys implements the spending key hierarchy of the pool: spending keys,
// full and incoming viewing keys, diversified payment addresses, outgoing viewing
// keys and the issuance key pair used to mint custom assets.
package keys

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"zsapool/internal/primitives"
	"zsapool/internal/reddsa"
)

const (
	// SpendingKeySize is the length of a spending key.
	SpendingKeySize = 32
	// FullViewingKeySize is ak || nk || rivk.
	FullViewingKeySize = 96
	// DiversifierSize is the length of an address diversifier.
	DiversifierSize = 11
	// AddressSize is d || pk_d.
	AddressSize = DiversifierSize + primitives.PointSize

	personalDiversifier = "ZSAPool_Diversfy"
	domainGd            = "zsapool:Diversify"
)

var (
	// ErrInvalidSpendingKey is returned for spending keys that derive a zero key component.
	ErrInvalidSpendingKey = errors.New("keys: invalid spending key")
	// ErrInvalidViewingKey is returned when a viewing key fails to decode.
	ErrInvalidViewingKey = errors.New("keys: invalid viewing key")
	// ErrInvalidAddress is returned when an address fails to decode.
	ErrInvalidAddress = errors.New("keys: invalid address")
)

// Scope distinguishes external (payment) addresses from internal (change) addresses.
type Scope uint8

const (
	External Scope = iota
	Internal
)

func (s Scope) String() string {
	if s == Internal {
		return "internal"
	}
	return "external"
}

// SpendingKey is the root secret of an account.
type SpendingKey [SpendingKeySize]byte

// NewSpendingKey samples spending keys from rng until one yields a usable hierarchy.
func NewSpendingKey(rng io.Reader) (SpendingKey, error) {
	for {
		var sk SpendingKey
		if _, err := io.ReadFull(rng, sk[:]); err != nil {
			return SpendingKey{}, fmt.Errorf("sample spending key: %w", err)
		}
		if _, err := SpendingKeyFromBytes(sk[:]); err == nil {
			return sk, nil
		}
	}
}

// SpendingKeyFromBytes accepts b when ask and both incoming viewing keys are non-zero.
func SpendingKeyFromBytes(b []byte) (SpendingKey, error) {
	if len(b) != SpendingKeySize {
		return SpendingKey{}, fmt.Errorf("%w: length %d", ErrInvalidSpendingKey, len(b))
	}
	var sk SpendingKey
	copy(sk[:], b)
	if sk.ask().IsZero() {
		return SpendingKey{}, ErrInvalidSpendingKey
	}
	fvk := sk.FullViewingKey()
	if fvk.ivkScalar(External).IsZero() || fvk.ivkScalar(Internal).IsZero() {
		return SpendingKey{}, ErrInvalidSpendingKey
	}
	return sk, nil
}

func (sk SpendingKey) ask() primitives.Scalar {
	return primitives.ToScalar(primitives.PrfExpand(sk[:], []byte{0x06}))
}

// SpendAuthorizingKey returns ask.
func (sk SpendingKey) SpendAuthorizingKey() SpendAuthorizingKey {
	return SpendAuthorizingKey{ask: sk.ask()}
}

// FullViewingKey derives (ak, nk, rivk).
func (sk SpendingKey) FullViewingKey() FullViewingKey {
	ak := primitives.SpendAuthG.Mul(sk.ask())
	return FullViewingKey{
		ak:   SpendValidatingKey{p: ak},
		nk:   NullifierDerivingKey{e: primitives.ToBase(primitives.PrfExpand(sk[:], []byte{0x07}))},
		rivk: primitives.ToScalar(primitives.PrfExpand(sk[:], []byte{0x08})),
	}
}

// SpendAuthorizingKey is ask, the secret behind spend authorization signatures.
type SpendAuthorizingKey struct {
	ask primitives.Scalar
}

// SigningKey returns ask as a SpendAuth signing key.
func (k SpendAuthorizingKey) SigningKey() reddsa.SigningKey {
	sk, err := reddsa.NewSigningKey(reddsa.SpendAuth, k.ask)
	if err != nil {
		panic("keys: zero spend authorizing key")
	}
	return sk
}

// Randomize returns the per-action signing key ask + alpha.
func (k SpendAuthorizingKey) Randomize(alpha primitives.Scalar) reddsa.SigningKey {
	return k.SigningKey().Randomize(alpha)
}

// ValidatingKey returns ak = [ask]G.
func (k SpendAuthorizingKey) ValidatingKey() SpendValidatingKey {
	return SpendValidatingKey{p: primitives.SpendAuthG.Mul(k.ask)}
}

// SpendValidatingKey is ak.
type SpendValidatingKey struct {
	p primitives.Point
}

func (k SpendValidatingKey) Point() primitives.Point { return k.p }

func (k SpendValidatingKey) Bytes() [primitives.PointSize]byte { return k.p.Bytes() }

func (k SpendValidatingKey) Equal(o SpendValidatingKey) bool { return k.p.Equal(o.p) }

// VerificationKey returns ak as a SpendAuth verification key.
func (k SpendValidatingKey) VerificationKey() reddsa.VerificationKey {
	return reddsa.NewVerificationKey(reddsa.SpendAuth, k.p)
}

// Randomize returns rk = ak + [alpha]G.
func (k SpendValidatingKey) Randomize(alpha primitives.Scalar) reddsa.VerificationKey {
	return k.VerificationKey().Randomize(alpha)
}

// NullifierDerivingKey is nk.
type NullifierDerivingKey struct {
	e fr.Element
}

func (k NullifierDerivingKey) Element() fr.Element { return k.e }

// Prf evaluates MiMC(nk, rho).
func (k NullifierDerivingKey) Prf(rho fr.Element) fr.Element {
	return primitives.MiMC(k.e, rho)
}

// FullViewingKey grants the ability to see all incoming and outgoing notes of an
// account and to derive nullifiers, but not to spend.
type FullViewingKey struct {
	ak   SpendValidatingKey
	nk   NullifierDerivingKey
	rivk primitives.Scalar
}

// FullViewingKeyFromBytes decodes ak || nk || rivk.
func FullViewingKeyFromBytes(b []byte) (FullViewingKey, error) {
	if len(b) != FullViewingKeySize {
		return FullViewingKey{}, fmt.Errorf("%w: length %d", ErrInvalidViewingKey, len(b))
	}
	ak, err := primitives.PointFromBytes(b[:32])
	if err != nil || ak.IsIdentity() {
		return FullViewingKey{}, fmt.Errorf("%w: ak", ErrInvalidViewingKey)
	}
	nk, err := primitives.BaseFromBytes(b[32:64])
	if err != nil {
		return FullViewingKey{}, fmt.Errorf("%w: nk", ErrInvalidViewingKey)
	}
	rivk, err := primitives.ScalarFromBytes(b[64:])
	if err != nil {
		return FullViewingKey{}, fmt.Errorf("%w: rivk", ErrInvalidViewingKey)
	}
	fvk := FullViewingKey{ak: SpendValidatingKey{p: ak}, nk: NullifierDerivingKey{e: nk}, rivk: rivk}
	if fvk.ivkScalar(External).IsZero() || fvk.ivkScalar(Internal).IsZero() {
		return FullViewingKey{}, ErrInvalidViewingKey
	}
	return fvk, nil
}

// Bytes encodes ak || nk || rivk.
func (fvk FullViewingKey) Bytes() [FullViewingKeySize]byte {
	var out [FullViewingKeySize]byte
	ak := fvk.ak.Bytes()
	nk := fvk.nk.e.Bytes()
	copy(out[:32], ak[:])
	copy(out[32:64], nk[:])
	copy(out[64:], fvk.rivk[:])
	return out
}

func (fvk FullViewingKey) AK() SpendValidatingKey   { return fvk.ak }
func (fvk FullViewingKey) NK() NullifierDerivingKey { return fvk.nk }

// Rivk returns the commit-ivk randomness for a scope. The internal value is derived
// from the external one so a single fvk covers both.
func (fvk FullViewingKey) Rivk(scope Scope) primitives.Scalar {
	if scope == External {
		return fvk.rivk
	}
	ak := fvk.ak.Bytes()
	nk := fvk.nk.e.Bytes()
	return primitives.ToScalar(primitives.PrfExpand(fvk.rivk[:], []byte{0x83}, ak[:], nk[:]))
}

func (fvk FullViewingKey) ivkScalar(scope Scope) primitives.Scalar {
	return CommitIvk(fvk.ak.p.X(), fvk.nk.e, fvk.Rivk(scope))
}

// CommitIvk computes ivk = MiMC(ak.x, nk, rivk) read as a scalar.
func CommitIvk(akX, nk fr.Element, rivk primitives.Scalar) primitives.Scalar {
	return primitives.ScalarFromBase(primitives.MiMC(akX, nk, rivk.Base()))
}

func (fvk FullViewingKey) dkOvk(scope Scope) (dk [32]byte, ovk [32]byte) {
	ak := fvk.ak.Bytes()
	nk := fvk.nk.e.Bytes()
	rivk := fvk.Rivk(scope)
	out := primitives.PrfExpand(rivk[:], []byte{0x82}, ak[:], nk[:])
	copy(dk[:], out[:32])
	copy(ovk[:], out[32:])
	return dk, ovk
}

// IVK returns the incoming viewing key for scope.
func (fvk FullViewingKey) IVK(scope Scope) IncomingViewingKey {
	dk, _ := fvk.dkOvk(scope)
	return IncomingViewingKey{dk: dk, ivk: fvk.ivkScalar(scope)}
}

// OVK returns the outgoing viewing key for scope.
func (fvk FullViewingKey) OVK(scope Scope) OutgoingViewingKey {
	_, ovk := fvk.dkOvk(scope)
	return OutgoingViewingKey(ovk)
}

// AddressAt returns the j-th diversified address of scope.
func (fvk FullViewingKey) AddressAt(j uint32, scope Scope) Address {
	return fvk.IVK(scope).AddressAt(j)
}

// ScopeForAddress reports which scope of fvk, if any, derived addr.
func (fvk FullViewingKey) ScopeForAddress(addr Address) (Scope, bool) {
	for _, scope := range []Scope{External, Internal} {
		if fvk.IVK(scope).Owns(addr) {
			return scope, true
		}
	}
	return External, false
}

// Equal compares full viewing keys by encoding.
func (fvk FullViewingKey) Equal(o FullViewingKey) bool {
	a, b := fvk.Bytes(), o.Bytes()
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// IncomingViewingKey detects and decrypts notes sent to the addresses it derives.
type IncomingViewingKey struct {
	dk  [32]byte
	ivk primitives.Scalar
}

// Scalar returns the key agreement secret.
func (ivk IncomingViewingKey) Scalar() primitives.Scalar { return ivk.ivk }

// AddressAt returns the address with diversifier index j.
func (ivk IncomingViewingKey) AddressAt(j uint32) Address {
	var idx [DiversifierSize]byte
	binary.LittleEndian.PutUint32(idx[:], j)
	h := primitives.NewHasher(personalDiversifier, DiversifierSize)
	h.Write(ivk.dk[:])
	h.Write(idx[:])
	var d Diversifier
	copy(d[:], h.Sum(nil))
	return ivk.AddressFor(d)
}

// AddressFor returns the address for an arbitrary diversifier.
func (ivk IncomingViewingKey) AddressFor(d Diversifier) Address {
	return Address{d: d, pkd: d.G().Mul(ivk.ivk)}
}

// Owns reports whether addr was derived by this key.
func (ivk IncomingViewingKey) Owns(addr Address) bool {
	return addr.d.G().Mul(ivk.ivk).Equal(addr.pkd)
}

// OutgoingViewingKey lets a sender recover the notes they created.
type OutgoingViewingKey [32]byte

// Diversifier selects one of many unlinkable addresses of a key.
type Diversifier [DiversifierSize]byte

// G returns the diversified base g_d.
func (d Diversifier) G() primitives.Point {
	return primitives.GroupHash(domainGd, d[:])
}

// Address is a diversified payment address (d, pk_d).
type Address struct {
	d   Diversifier
	pkd primitives.Point
}

// AddressFromBytes decodes d || pk_d.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) != AddressSize {
		return Address{}, fmt.Errorf("%w: length %d", ErrInvalidAddress, len(b))
	}
	pkd, err := primitives.PointFromBytes(b[DiversifierSize:])
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	var d Diversifier
	copy(d[:], b[:DiversifierSize])
	return Address{d: d, pkd: pkd}, nil
}

func (a Address) Diversifier() Diversifier { return a.d }
func (a Address) GD() primitives.Point     { return a.d.G() }
func (a Address) PkD() primitives.Point    { return a.pkd }

func (a Address) Bytes() [AddressSize]byte {
	var out [AddressSize]byte
	pkd := a.pkd.Bytes()
	copy(out[:DiversifierSize], a.d[:])
	copy(out[DiversifierSize:], pkd[:])
	return out
}

func (a Address) Equal(o Address) bool {
	return a.d == o.d && a.pkd.Equal(o.pkd)
}

// String renders the address in hex.
func (a Address) String() string {
	b := a.Bytes()
	return fmt.Sprintf("%x", b[:])
}
