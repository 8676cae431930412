package issuance

import (
	"encoding/binary"

	"zsapool/internal/bundle"
	"zsapool/internal/primitives"
)

const (
	personalIssue     = "ZTxIdOrcZSAIssue"
	personalIssueAuth = "ZTxAuthZSAOrHash"
)

// EmptyCommitment is the transaction id digest of a transaction without issuance.
func EmptyCommitment() bundle.Digest { return primitives.Blake2b256(personalIssue) }

// EmptyAuthorizingCommitment is the authorizing data digest of a transaction
// without issuance.
func EmptyAuthorizingCommitment() bundle.Digest { return primitives.Blake2b256(personalIssueAuth) }

// Commitment is the digest of the effecting data of an issue bundle: every note,
// every description with its finalize flag, and the issuer key.
func Commitment[T any](b *IssueBundle[T]) bundle.Digest {
	h := primitives.NewHasher(personalIssue, 32)
	for _, a := range b.actions {
		for _, n := range a.notes {
			recipient := n.Recipient().Bytes()
			h.Write(recipient[:])
			var v [8]byte
			binary.LittleEndian.PutUint64(v[:], uint64(n.Value()))
			h.Write(v[:])
			ab := n.Asset().Bytes()
			h.Write(ab[:])
			rho := n.Rho().Bytes()
			h.Write(rho[:])
			rseed := n.RandomSeed()
			h.Write(rseed[:])
		}
		h.Write(a.assetDesc)
		if a.finalize {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}
	h.Write(b.ik.Encode())
	var d bundle.Digest
	copy(d[:], h.Sum(nil))
	return d
}

// AuthorizingCommitment is the digest of the issuer signature.
func AuthorizingCommitment(b *IssueBundle[Signed]) bundle.Digest {
	return primitives.Blake2b256(personalIssueAuth, b.auth.sig.Encode())
}
