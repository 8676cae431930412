// commitments.go - Transaction id and authorizing data digests of a bundle.

package bundle

import (
	"encoding/binary"
	"hash"

	"zsapool/internal/noteenc"
	"zsapool/internal/primitives"
)

const (
	personalBundle         = "ZTxIdOrchardHash"
	personalActionsCompact = "ZTxIdOrcActCHash"
	personalActionsMemos   = "ZTxIdOrcActMHash"
	personalActionsNonce   = "ZTxIdOrcActNHash"
	personalActionGroups   = "ZTxIdOrcActGHash"
	personalBurn           = "ZTxIdOrcBurnHash"
	personalAuth           = "ZTxAuthOrchaHash"
	personalAuthGroups     = "ZTxAuthOrcAGHash"
)

// Digest is a 32-byte BLAKE2b commitment.
type Digest [32]byte

// EmptyCommitment is the transaction id digest of a transaction without a bundle.
func EmptyCommitment() Digest { return finish(primitives.NewHasher(personalBundle, 32)) }

// EmptyAuthorizingCommitment is the authorizing data digest of a transaction
// without a bundle.
func EmptyAuthorizingCommitment() Digest { return finish(primitives.NewHasher(personalAuth, 32)) }

// Commitment is the digest of the effecting data of the bundle. It does not cover
// any authorization, so it can be signed before the bundle is authorized.
func Commitment[A, T any](b *Bundle[A, T]) Digest {
	h := primitives.NewHasher(personalBundle, 32)
	if !b.flags.zsa {
		writeActions(h, b.actions, noteenc.CompactSizeVanilla)
		h.Write([]byte{b.flags.Byte()})
		writeI64(h, int64(b.valueBalance))
		anchor := b.anchor.Bytes()
		h.Write(anchor[:])
		return finish(h)
	}

	agh := primitives.NewHasher(personalActionGroups, 32)
	writeActions(agh, b.actions, noteenc.CompactSizeZSA)
	agh.Write([]byte{b.flags.Byte()})
	anchor := b.anchor.Bytes()
	agh.Write(anchor[:])
	var expiry [4]byte
	binary.LittleEndian.PutUint32(expiry[:], b.expiryHeight)
	agh.Write(expiry[:])
	digest := finish(agh)
	h.Write(digest[:])

	bh := primitives.NewHasher(personalBurn, 32)
	for _, item := range b.burn {
		ab := item.Asset.Bytes()
		bh.Write(ab[:])
		var amount [8]byte
		binary.LittleEndian.PutUint64(amount[:], uint64(item.Amount))
		bh.Write(amount[:])
	}
	digest = finish(bh)
	h.Write(digest[:])
	writeI64(h, int64(b.valueBalance))
	return finish(h)
}

// AuthorizingCommitment is the digest of the proof and signatures of an authorized
// bundle.
func AuthorizingCommitment(b *AuthorizedBundle) Digest {
	h := primitives.NewHasher(personalAuth, 32)
	if !b.flags.zsa {
		h.Write(b.auth.proof)
		for _, a := range b.actions {
			h.Write(a.auth[:])
		}
		h.Write(b.auth.bindingSig[:])
		return finish(h)
	}

	agh := primitives.NewHasher(personalAuthGroups, 32)
	agh.Write(b.auth.proof)
	for _, a := range b.actions {
		agh.Write(a.auth[:])
	}
	digest := finish(agh)
	h.Write(digest[:])
	h.Write(b.auth.bindingSig[:])
	return finish(h)
}

// writeActions writes the compact, memo and remaining parts of every action into
// three sub-hashes and their digests into h.
func writeActions[A any](h hash.Hash, actions []Action[A], compactSize int) {
	ch := primitives.NewHasher(personalActionsCompact, 32)
	mh := primitives.NewHasher(personalActionsMemos, 32)
	nh := primitives.NewHasher(personalActionsNonce, 32)
	memoEnd := compactSize + noteenc.MemoSize
	for _, a := range actions {
		nf := a.nf.Bytes()
		cmx := a.cmx.Bytes()
		enc := a.encNote.EncCiphertext
		ch.Write(nf[:])
		ch.Write(cmx[:])
		ch.Write(a.encNote.EphemeralKey[:])
		ch.Write(clip(enc, 0, compactSize))

		mh.Write(clip(enc, compactSize, memoEnd))

		cv := a.cvNet.Bytes()
		rk := a.rk.Bytes()
		nh.Write(cv[:])
		nh.Write(rk[:])
		nh.Write(clip(enc, memoEnd, len(enc)))
		nh.Write(a.encNote.OutCiphertext[:])
	}
	for _, sub := range []hash.Hash{ch, mh, nh} {
		d := finish(sub)
		h.Write(d[:])
	}
}

// clip returns b[from:to] bounded by len(b).
func clip(b []byte, from, to int) []byte {
	if to > len(b) {
		to = len(b)
	}
	if from > to {
		return nil
	}
	return b[from:to]
}

func writeI64(h hash.Hash, v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	h.Write(buf[:])
}

func finish(h hash.Hash) Digest {
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}
