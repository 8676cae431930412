// hash.go - Personalized BLAKE2b, PRF expansion, MiMC and hash to curve.

package primitives

import (
	"fmt"
	"hash"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr/mimc"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/twistededwards"
	blake2b "github.com/minio/blake2b-simd"
)

const (
	personalPrfExpand = "Zcash_ExpandSeed"
	personalGroupHash = "ZSAPool_GrpHash_"
)

// NewHasher returns a BLAKE2b instance with the given output size and personalization.
// Personalizations longer than 16 bytes are a programming error.
func NewHasher(personal string, size int) hash.Hash {
	h, err := blake2b.New(&blake2b.Config{Size: uint8(size), Person: []byte(personal)})
	if err != nil {
		panic(fmt.Sprintf("primitives: blake2b config %q/%d: %v", personal, size, err))
	}
	return h
}

// Blake2b256 hashes the concatenation of parts under a personalization.
func Blake2b256(personal string, parts ...[]byte) [32]byte {
	h := NewHasher(personal, 32)
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Blake2b512 hashes the concatenation of parts under a personalization.
func Blake2b512(personal string, parts ...[]byte) [64]byte {
	h := NewHasher(personal, 64)
	for _, p := range parts {
		h.Write(p)
	}
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

// PrfExpand derives 64 bytes from a 32-byte secret and a domain tag.
func PrfExpand(sk []byte, t ...[]byte) [64]byte {
	return Blake2b512(personalPrfExpand, append([][]byte{sk}, t...)...)
}

// MiMC hashes field elements with the BLS12-377 MiMC permutation. The in-circuit
// gadget std/hash/mimc computes the same function.
func MiMC(elems ...fr.Element) fr.Element {
	h := mimc.NewMiMC()
	for i := range elems {
		b := elems[i].Bytes()
		h.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

// BaseFromUint64 returns v as a base field element.
func BaseFromUint64(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)
	return e
}

// BaseFromBytes decodes a canonical 32-byte big-endian base field element.
func BaseFromBytes(b []byte) (fr.Element, error) {
	var e fr.Element
	if err := e.SetBytesCanonical(b); err != nil {
		return fr.Element{}, err
	}
	return e, nil
}

// GroupHash maps (domain, msg) to a prime-order point by try-and-increment.
func GroupHash(domain string, msg []byte) Point {
	for ctr := 0; ctr < 256; ctr++ {
		h := NewHasher(personalGroupHash, 32)
		h.Write([]byte{byte(len(domain))})
		h.Write([]byte(domain))
		h.Write(msg)
		h.Write([]byte{byte(ctr)})

		var cand twistededwards.PointAffine
		if _, err := cand.SetBytes(h.Sum(nil)); err != nil {
			continue
		}
		if !cand.IsOnCurve() {
			continue
		}
		// clear the cofactor
		cand.Double(&cand)
		cand.Double(&cand)
		if cand.IsZero() {
			continue
		}
		return Point{p: cand}
	}
	panic("primitives: group hash found no point for " + domain)
}
