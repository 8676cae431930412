// issuance.go - Issuer key pair for custom assets (BIP-340 Schnorr over secp256k1).

package keys

import (
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

const (
	// IssuanceKeySize is the length of an issuance authorizing key.
	IssuanceKeySize = 32
	// IssuanceValidatingKeySize is the algorithm byte followed by an x-only public key.
	IssuanceValidatingKeySize = 1 + schnorr.PubKeyBytesLen
	// IssuanceAuthSigSize is the algorithm byte followed by a BIP-340 signature.
	IssuanceAuthSigSize = 1 + schnorr.SignatureSize

	// issuanceAlgBIP340 identifies the BIP-340 scheme in encodings.
	issuanceAlgBIP340 = 0x00
)

var (
	// ErrInvalidIssuanceKey is returned for out-of-range issuance keys.
	ErrInvalidIssuanceKey = errors.New("keys: invalid issuance key")
	// ErrInvalidIssuanceSig is returned when an issuance signature fails to parse or verify.
	ErrInvalidIssuanceSig = errors.New("keys: invalid issuance signature")
)

// IssuanceAuthorizingKey signs issuance bundles.
type IssuanceAuthorizingKey struct {
	sk *btcec.PrivateKey
}

// NewIssuanceAuthorizingKey samples a key from rng.
func NewIssuanceAuthorizingKey(rng io.Reader) (IssuanceAuthorizingKey, error) {
	for {
		var b [IssuanceKeySize]byte
		if _, err := io.ReadFull(rng, b[:]); err != nil {
			return IssuanceAuthorizingKey{}, fmt.Errorf("sample issuance key: %w", err)
		}
		if isk, err := IssuanceAuthorizingKeyFromBytes(b[:]); err == nil {
			return isk, nil
		}
	}
}

// IssuanceAuthorizingKeyFromBytes accepts a scalar in [1, n).
func IssuanceAuthorizingKeyFromBytes(b []byte) (IssuanceAuthorizingKey, error) {
	if len(b) != IssuanceKeySize {
		return IssuanceAuthorizingKey{}, fmt.Errorf("%w: length %d", ErrInvalidIssuanceKey, len(b))
	}
	var s btcec.ModNScalar
	if overflow := s.SetByteSlice(b); overflow || s.IsZero() {
		return IssuanceAuthorizingKey{}, ErrInvalidIssuanceKey
	}
	return IssuanceAuthorizingKey{sk: btcec.PrivKeyFromScalar(&s)}, nil
}

func (k IssuanceAuthorizingKey) Bytes() [IssuanceKeySize]byte {
	var out [IssuanceKeySize]byte
	copy(out[:], k.sk.Serialize())
	return out
}

// ValidatingKey returns the matching public key.
func (k IssuanceAuthorizingKey) ValidatingKey() IssuanceValidatingKey {
	return IssuanceValidatingKey{pk: k.sk.PubKey()}
}

// Sign signs a 32-byte sighash. BIP-340 nonces are derived deterministically.
func (k IssuanceAuthorizingKey) Sign(sighash [32]byte) (IssuanceAuthSig, error) {
	sig, err := schnorr.Sign(k.sk, sighash[:])
	if err != nil {
		return IssuanceAuthSig{}, fmt.Errorf("issuance sign: %w", err)
	}
	var out IssuanceAuthSig
	copy(out.sig[:], sig.Serialize())
	return out, nil
}

// IssuanceValidatingKey identifies an issuer; asset identifiers are derived from it.
type IssuanceValidatingKey struct {
	pk *btcec.PublicKey
}

// IssuanceValidatingKeyFromBytes decodes the algorithm byte and x-only key.
func IssuanceValidatingKeyFromBytes(b []byte) (IssuanceValidatingKey, error) {
	if len(b) != IssuanceValidatingKeySize || b[0] != issuanceAlgBIP340 {
		return IssuanceValidatingKey{}, ErrInvalidIssuanceKey
	}
	pk, err := schnorr.ParsePubKey(b[1:])
	if err != nil {
		return IssuanceValidatingKey{}, fmt.Errorf("%w: %v", ErrInvalidIssuanceKey, err)
	}
	return IssuanceValidatingKey{pk: pk}, nil
}

// Encode returns 0x00 || x-only public key.
func (k IssuanceValidatingKey) Encode() []byte {
	return append([]byte{issuanceAlgBIP340}, schnorr.SerializePubKey(k.pk)...)
}

// Equal compares keys by encoding.
func (k IssuanceValidatingKey) Equal(o IssuanceValidatingKey) bool {
	if k.pk == nil || o.pk == nil {
		return k.pk == o.pk
	}
	return string(k.Encode()) == string(o.Encode())
}

// Verify checks sig over sighash.
func (k IssuanceValidatingKey) Verify(sighash [32]byte, sig IssuanceAuthSig) error {
	s, err := schnorr.ParseSignature(sig.sig[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIssuanceSig, err)
	}
	if !s.Verify(sighash[:], k.pk) {
		return ErrInvalidIssuanceSig
	}
	return nil
}

// IssuanceAuthSig is a BIP-340 signature over an issuance bundle sighash.
type IssuanceAuthSig struct {
	sig [schnorr.SignatureSize]byte
}

// IssuanceAuthSigFromBytes decodes 0x00 || signature.
func IssuanceAuthSigFromBytes(b []byte) (IssuanceAuthSig, error) {
	if len(b) != IssuanceAuthSigSize || b[0] != issuanceAlgBIP340 {
		return IssuanceAuthSig{}, ErrInvalidIssuanceSig
	}
	var out IssuanceAuthSig
	copy(out.sig[:], b[1:])
	return out, nil
}

// Encode returns 0x00 || signature.
func (s IssuanceAuthSig) Encode() []byte {
	return append([]byte{issuanceAlgBIP340}, s.sig[:]...)
}
