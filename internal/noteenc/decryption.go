package noteenc

import (
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"

	"zsapool/internal/keys"
	"zsapool/internal/note"
	"zsapool/internal/primitives"
	"zsapool/internal/value"
)

// Output is the part of an action a receiver needs for trial decryption. For a
// compact output EncCiphertext holds only the compact prefix.
type Output struct {
	Rho           note.Rho
	EphemeralKey  [EphemeralKeySize]byte
	Cmx           note.ExtractedCommitment
	EncCiphertext []byte
}

// Compact truncates the ciphertext to the compact prefix of d.
func (o Output) Compact(d Domain) Output {
	if len(o.EncCiphertext) > d.CompactSize() {
		o.EncCiphertext = o.EncCiphertext[:d.CompactSize()]
	}
	return o
}

// Decrypted is a successfully decrypted note.
type Decrypted struct {
	Note      note.Note
	Recipient keys.Address
	Memo      Memo
}

// TryNoteDecryption attempts to decrypt out with ivk.
func TryNoteDecryption(d Domain, ivk keys.IncomingViewingKey, out Output) (Decrypted, bool) {
	if len(out.EncCiphertext) != d.CiphertextSize() {
		return Decrypted{}, false
	}
	epk, err := primitives.PointFromBytes(out.EphemeralKey[:])
	if err != nil {
		return Decrypted{}, false
	}
	return decryptWithShared(d, ivk, epk.Mul(ivk.Scalar()), out)
}

func decryptWithShared(d Domain, ivk keys.IncomingViewingKey, shared primitives.Point, out Output) (Decrypted, bool) {
	key := kdf(shared, out.EphemeralKey)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return Decrypted{}, false
	}
	pt, err := aead.Open(nil, zeroNonce[:], out.EncCiphertext, nil)
	if err != nil {
		return Decrypted{}, false
	}
	f, ok := parseCompact(d, pt)
	if !ok {
		return Decrypted{}, false
	}
	recipient := ivk.AddressFor(f.d)
	n, ok := validNote(f, recipient, out)
	if !ok {
		return Decrypted{}, false
	}
	var memo Memo
	copy(memo[:], pt[d.CompactSize():])
	return Decrypted{Note: n, Recipient: recipient, Memo: memo}, true
}

// TryCompactNoteDecryption decrypts the compact prefix of out without the memo.
func TryCompactNoteDecryption(d Domain, ivk keys.IncomingViewingKey, out Output) (note.Note, keys.Address, bool) {
	if len(out.EncCiphertext) < d.CompactSize() {
		return note.Note{}, keys.Address{}, false
	}
	epk, err := primitives.PointFromBytes(out.EphemeralKey[:])
	if err != nil {
		return note.Note{}, keys.Address{}, false
	}
	return compactWithShared(d, ivk, epk.Mul(ivk.Scalar()), out)
}

func compactWithShared(d Domain, ivk keys.IncomingViewingKey, shared primitives.Point, out Output) (note.Note, keys.Address, bool) {
	key := kdf(shared, out.EphemeralKey)
	// the AEAD encrypts the plaintext starting at block 1; block 0 keys Poly1305
	c, err := chacha20.NewUnauthenticatedCipher(key[:], zeroNonce[:])
	if err != nil {
		return note.Note{}, keys.Address{}, false
	}
	c.SetCounter(1)
	pt := make([]byte, d.CompactSize())
	c.XORKeyStream(pt, out.EncCiphertext[:d.CompactSize()])

	f, ok := parseCompact(d, pt)
	if !ok {
		return note.Note{}, keys.Address{}, false
	}
	recipient := ivk.AddressFor(f.d)
	n, ok := validNote(f, recipient, out)
	if !ok {
		return note.Note{}, keys.Address{}, false
	}
	return n, recipient, true
}

// TryOutputRecoveryWithOvk lets the sender decrypt an output they created.
func TryOutputRecoveryWithOvk(d Domain, ovk keys.OutgoingViewingKey, out Output, cv value.Commitment, outCiphertext [OutCiphertextSize]byte) (Decrypted, bool) {
	if len(out.EncCiphertext) != d.CiphertextSize() {
		return Decrypted{}, false
	}
	ock := prfOck(ovk, cv, out.Cmx, out.EphemeralKey)
	aead, err := chacha20poly1305.New(ock[:])
	if err != nil {
		return Decrypted{}, false
	}
	op, err := aead.Open(nil, zeroNonce[:], outCiphertext[:], nil)
	if err != nil {
		return Decrypted{}, false
	}
	pkd, err := primitives.PointFromBytes(op[:32])
	if err != nil {
		return Decrypted{}, false
	}
	esk, err := primitives.ScalarFromBytes(op[32:])
	if err != nil {
		return Decrypted{}, false
	}

	key := kdf(pkd.Mul(esk), out.EphemeralKey)
	aead, err = chacha20poly1305.New(key[:])
	if err != nil {
		return Decrypted{}, false
	}
	pt, err := aead.Open(nil, zeroNonce[:], out.EncCiphertext, nil)
	if err != nil {
		return Decrypted{}, false
	}
	f, ok := parseCompact(d, pt)
	if !ok {
		return Decrypted{}, false
	}
	recipient, err := keys.AddressFromBytes(append(f.d[:], op[:32]...))
	if err != nil {
		return Decrypted{}, false
	}
	n, ok := validNote(f, recipient, out)
	if !ok || n.Esk() != esk {
		return Decrypted{}, false
	}
	var memo Memo
	copy(memo[:], pt[d.CompactSize():])
	return Decrypted{Note: n, Recipient: recipient, Memo: memo}, true
}

// validNote rebuilds the note and checks it against the public epk and cmx.
func validNote(f compactFields, recipient keys.Address, out Output) (note.Note, bool) {
	rseed, ok := note.RandomSeedFromBytes(f.rseed, out.Rho)
	if !ok {
		return note.Note{}, false
	}
	n, ok := note.FromParts(recipient, value.NoteValue(f.value), f.asset, out.Rho, rseed)
	if !ok {
		return note.Note{}, false
	}
	if recipient.GD().Mul(n.Esk()).Bytes() != out.EphemeralKey {
		return note.Note{}, false
	}
	if n.Commitment().Extract() != out.Cmx {
		return note.Note{}, false
	}
	return n, true
}
