// Package asset derives the identifiers of the native and custom assets carried by
// notes. An asset is identified by a prime-order point, its value commitment base.
package asset

import (
	"errors"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"

	"zsapool/internal/keys"
	"zsapool/internal/primitives"
)

const (
	// MaxDescSize is the maximum length of an asset description in bytes.
	MaxDescSize = 512

	personalAssetDigest = "ZSA-Asset-Digest"
	domainAssetBase     = "zsapool:ZSA-AssetBase"
	assetDigestVersion  = 0x00

	derivationCacheSize = 1024
)

var (
	// ErrWrongAssetDescSize is returned for descriptions outside 1..512 bytes.
	ErrWrongAssetDescSize = errors.New("asset: description must be 1 to 512 bytes")
	// ErrInvalidAssetBase is returned for encodings that are not a usable asset base.
	ErrInvalidAssetBase = errors.New("asset: invalid asset base")

	derivations, _ = lru.New[string, Base](derivationCacheSize)
)

// Base identifies an asset. Two bases are the same asset iff their points are equal,
// so Base is usable as a map key.
type Base struct {
	p primitives.Point
}

// Native returns the base of the pool's native asset.
func Native() Base {
	return Base{p: primitives.ValueCommitV}
}

// IsDescValidSize reports whether desc can name an asset.
func IsDescValidSize(desc []byte) bool {
	return len(desc) >= 1 && len(desc) <= MaxDescSize
}

// Derive computes the base of the asset named desc by issuer ik.
func Derive(ik keys.IssuanceValidatingKey, desc []byte) (Base, error) {
	if !IsDescValidSize(desc) {
		return Base{}, ErrWrongAssetDescSize
	}
	ikEnc := ik.Encode()
	cacheKey := string(ikEnc) + string(desc)
	if b, ok := derivations.Get(cacheKey); ok {
		return b, nil
	}
	digest := primitives.Blake2b512(personalAssetDigest, []byte{assetDigestVersion}, ikEnc, desc)
	b := Base{p: primitives.GroupHash(domainAssetBase, digest[:])}
	derivations.Add(cacheKey, b)
	return b, nil
}

// MustDerive is Derive for descriptions known to be valid.
func MustDerive(ik keys.IssuanceValidatingKey, desc []byte) Base {
	b, err := Derive(ik, desc)
	if err != nil {
		panic(err)
	}
	return b
}

// Random returns an arbitrary non-native asset base. Used by tests and padding.
func Random(rng io.Reader) (Base, error) {
	var seed [32]byte
	if _, err := io.ReadFull(rng, seed[:]); err != nil {
		return Base{}, fmt.Errorf("sample asset: %w", err)
	}
	return Base{p: primitives.GroupHash(domainAssetBase, seed[:])}, nil
}

// FromBytes decodes an asset base. The identity is rejected.
func FromBytes(b []byte) (Base, error) {
	p, err := primitives.PointFromBytes(b)
	if err != nil {
		return Base{}, fmt.Errorf("%w: %v", ErrInvalidAssetBase, err)
	}
	if p.IsIdentity() {
		return Base{}, ErrInvalidAssetBase
	}
	return Base{p: p}, nil
}

func (b Base) Point() primitives.Point { return b.p }

func (b Base) Bytes() [primitives.PointSize]byte { return b.p.Bytes() }

// IsNative reports whether b is the native asset.
func (b Base) IsNative() bool { return b.p.Equal(primitives.ValueCommitV) }

func (b Base) Equal(o Base) bool { return b.p.Equal(o.p) }

func (b Base) String() string {
	if b.IsNative() {
		return "native"
	}
	return b.p.String()
}
