package noteenc

import (
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"zsapool/internal/keys"
	"zsapool/internal/note"
	"zsapool/internal/primitives"
	"zsapool/internal/value"
)

const (
	personalKDF = "Zcash_OrchardKDF"
	personalOCK = "Zcash_Orchardock"
)

var zeroNonce [chacha20poly1305.NonceSize]byte

// kdf derives the symmetric key from the shared secret and the ephemeral key.
func kdf(shared primitives.Point, epk [EphemeralKeySize]byte) [32]byte {
	s := shared.Bytes()
	return primitives.Blake2b256(personalKDF, s[:], epk[:])
}

// prfOck derives the outgoing cipher key.
func prfOck(ovk keys.OutgoingViewingKey, cv value.Commitment, cmx note.ExtractedCommitment, epk [EphemeralKeySize]byte) [32]byte {
	cvb := cv.Bytes()
	cmxb := cmx.Bytes()
	return primitives.Blake2b256(personalOCK, ovk[:], cvb[:], cmxb[:], epk[:])
}

// NoteEncryption holds the state needed to encrypt one output note.
type NoteEncryption struct {
	domain Domain
	epk    primitives.Point
	esk    primitives.Scalar
	note   note.Note
	memo   Memo
	ovk    *keys.OutgoingViewingKey
}

// NewNoteEncryption prepares encryption of n. A nil ovk makes the output
// unrecoverable by the sender.
func NewNoteEncryption(d Domain, ovk *keys.OutgoingViewingKey, n note.Note, memo Memo) (*NoteEncryption, error) {
	if d.Version() == VersionVanilla && !n.Asset().IsNative() {
		return nil, fmt.Errorf("noteenc: %s domain cannot encrypt asset %s", d.Name(), n.Asset())
	}
	esk := n.Esk()
	return &NoteEncryption{
		domain: d,
		epk:    n.Recipient().GD().Mul(esk),
		esk:    esk,
		note:   n,
		memo:   memo,
		ovk:    ovk,
	}, nil
}

// EphemeralKey returns the encoded epk sent alongside the ciphertext.
func (e *NoteEncryption) EphemeralKey() [EphemeralKeySize]byte {
	return e.epk.Bytes()
}

// EncryptNotePlaintext produces the recipient ciphertext.
func (e *NoteEncryption) EncryptNotePlaintext() ([]byte, error) {
	pt, err := encodePlaintext(e.domain, e.note, e.memo)
	if err != nil {
		return nil, err
	}
	shared := e.note.Recipient().PkD().Mul(e.esk)
	key := kdf(shared, e.EphemeralKey())
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, zeroNonce[:], pt, nil), nil
}

// EncryptOutgoingPlaintext produces the sender's recovery ciphertext.
func (e *NoteEncryption) EncryptOutgoingPlaintext(cv value.Commitment, cmx note.ExtractedCommitment, rng io.Reader) ([OutCiphertextSize]byte, error) {
	var out [OutCiphertextSize]byte
	var ock [32]byte
	var pt [OutPlaintextSize]byte

	if e.ovk != nil {
		ock = prfOck(*e.ovk, cv, cmx, e.EphemeralKey())
		pkd := e.note.Recipient().PkD().Bytes()
		copy(pt[:32], pkd[:])
		copy(pt[32:], e.esk[:])
	} else {
		// indistinguishable from a recoverable output
		if _, err := io.ReadFull(rng, ock[:]); err != nil {
			return out, fmt.Errorf("sample ock: %w", err)
		}
		if _, err := io.ReadFull(rng, pt[:]); err != nil {
			return out, fmt.Errorf("sample outgoing plaintext: %w", err)
		}
	}

	aead, err := chacha20poly1305.New(ock[:])
	if err != nil {
		return out, err
	}
	copy(out[:], aead.Seal(nil, zeroNonce[:], pt[:], nil))
	return out, nil
}
