// Package noteenc implements in-band note encryption: senders encrypt each new note
// to its recipient (and optionally to their own outgoing viewing key), receivers
// trial-decrypt every action with their incoming viewing keys.
//
// Two plaintext layouts exist, selected by a Domain. Vanilla carries only native
// notes; ZSA appends the asset base. The leading version byte tells them apart.
//
// Key agreement is Diffie-Hellman on the pool curve, the symmetric key is a
// personalized BLAKE2b of the shared secret and the ephemeral key, and the AEAD is
// ChaCha20-Poly1305 with a zero nonce (every key is used exactly once).
package noteenc

import (
	"encoding/binary"
	"fmt"

	"zsapool/internal/asset"
	"zsapool/internal/keys"
	"zsapool/internal/note"
	"zsapool/internal/primitives"
)

const (
	// MemoSize is the length of a note memo.
	MemoSize = 512
	// TagSize is the AEAD authentication tag length.
	TagSize = 16
	// EphemeralKeySize is the length of an encoded ephemeral public key.
	EphemeralKeySize = primitives.PointSize
	// OutPlaintextSize is pk_d || esk.
	OutPlaintextSize = primitives.PointSize + primitives.ScalarSize
	// OutCiphertextSize is the outgoing plaintext plus tag.
	OutCiphertextSize = OutPlaintextSize + TagSize

	// VersionVanilla and VersionZSA are the plaintext lead bytes.
	VersionVanilla = 0x02
	VersionZSA     = 0x03

	// CompactSizeVanilla is version || d || value || rseed.
	CompactSizeVanilla = 1 + keys.DiversifierSize + 8 + note.RandomSeedSize
	// CompactSizeZSA appends the asset base.
	CompactSizeZSA = CompactSizeVanilla + primitives.PointSize
)

// Memo is the free-form payload attached to a note.
type Memo [MemoSize]byte

// EmptyMemo is the memo that carries no data: 0xF6 followed by zeros.
func EmptyMemo() Memo {
	var m Memo
	m[0] = 0xF6
	return m
}

// Domain describes one plaintext layout.
type Domain interface {
	Name() string
	Version() byte
	CompactSize() int
	// PlaintextSize is the compact size plus the memo.
	PlaintextSize() int
	// CiphertextSize is the plaintext size plus the AEAD tag.
	CiphertextSize() int

	encodeAsset(dst []byte, a asset.Base) error
	parseAsset(compact []byte) (asset.Base, bool)
}

type vanillaDomain struct{}
type zsaDomain struct{}

var (
	// Vanilla encrypts native notes only.
	Vanilla Domain = vanillaDomain{}
	// ZSA encrypts notes of any asset.
	ZSA Domain = zsaDomain{}
)

// ForFlags selects the domain of a bundle.
func ForFlags(zsaEnabled bool) Domain {
	if zsaEnabled {
		return ZSA
	}
	return Vanilla
}

func (vanillaDomain) Name() string        { return "vanilla" }
func (vanillaDomain) Version() byte       { return VersionVanilla }
func (vanillaDomain) CompactSize() int    { return CompactSizeVanilla }
func (vanillaDomain) PlaintextSize() int  { return CompactSizeVanilla + MemoSize }
func (vanillaDomain) CiphertextSize() int { return CompactSizeVanilla + MemoSize + TagSize }

func (vanillaDomain) encodeAsset(_ []byte, a asset.Base) error {
	if !a.IsNative() {
		return fmt.Errorf("noteenc: vanilla plaintext cannot carry asset %s", a)
	}
	return nil
}

func (vanillaDomain) parseAsset([]byte) (asset.Base, bool) {
	return asset.Native(), true
}

func (zsaDomain) Name() string        { return "zsa" }
func (zsaDomain) Version() byte       { return VersionZSA }
func (zsaDomain) CompactSize() int    { return CompactSizeZSA }
func (zsaDomain) PlaintextSize() int  { return CompactSizeZSA + MemoSize }
func (zsaDomain) CiphertextSize() int { return CompactSizeZSA + MemoSize + TagSize }

func (zsaDomain) encodeAsset(dst []byte, a asset.Base) error {
	b := a.Bytes()
	copy(dst[CompactSizeVanilla:CompactSizeZSA], b[:])
	return nil
}

func (zsaDomain) parseAsset(compact []byte) (asset.Base, bool) {
	a, err := asset.FromBytes(compact[CompactSizeVanilla:CompactSizeZSA])
	if err != nil {
		return asset.Base{}, false
	}
	return a, true
}

func encodePlaintext(d Domain, n note.Note, memo Memo) ([]byte, error) {
	pt := make([]byte, d.PlaintextSize())
	pt[0] = d.Version()
	div := n.Recipient().Diversifier()
	copy(pt[1:12], div[:])
	binary.LittleEndian.PutUint64(pt[12:20], uint64(n.Value()))
	rseed := n.RandomSeed()
	copy(pt[20:52], rseed[:])
	if err := d.encodeAsset(pt, n.Asset()); err != nil {
		return nil, err
	}
	copy(pt[d.CompactSize():], memo[:])
	return pt, nil
}

type compactFields struct {
	d     keys.Diversifier
	value uint64
	rseed [note.RandomSeedSize]byte
	asset asset.Base
}

// parseCompact rejects unknown version bytes before anything else is read.
func parseCompact(d Domain, pt []byte) (compactFields, bool) {
	if len(pt) < d.CompactSize() || pt[0] != d.Version() {
		return compactFields{}, false
	}
	var f compactFields
	copy(f.d[:], pt[1:12])
	f.value = binary.LittleEndian.Uint64(pt[12:20])
	copy(f.rseed[:], pt[20:52])
	a, ok := d.parseAsset(pt)
	if !ok {
		return compactFields{}, false
	}
	f.asset = a
	return f, true
}
