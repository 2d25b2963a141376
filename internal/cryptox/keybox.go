// Package cryptox seals custodial wallet private keys at rest.
//
// Current envelope: "v2.<salt>.<nonce>.<tag>.<ciphertext>", every segment
// standard base64, AES-256-GCM under a key derived with scrypt from the
// server secret and a per-record salt. Older records use the three segment
// form "<nonce>.<tag>.<ciphertext>" keyed by SHA-256 of the secret.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/slkzgm/beezie-backend/internal/common"
	"golang.org/x/crypto/scrypt"
)

var (
	// ErrMalformed reports an envelope that does not have the expected shape.
	ErrMalformed = errors.New("encrypted key is malformed")
	// ErrDecrypt reports an envelope that parsed but failed authentication.
	ErrDecrypt = errors.New("unable to decrypt private key")
)

const (
	envelopeVersion = "v2"
	saltSize        = 16
	nonceSize       = 12
	tagSize         = 16
	keySize         = 32

	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1
)

// KeyBox encrypts and decrypts private keys with one server secret.
type KeyBox struct {
	secret    []byte
	legacyKey []byte
}

func NewKeyBox(secret string) (*KeyBox, error) {
	if secret == "" {
		return nil, errors.New("encryption secret must not be empty")
	}
	legacy := sha256.Sum256([]byte(secret))
	return &KeyBox{secret: []byte(secret), legacyKey: legacy[:]}, nil
}

// EncryptPrivateKey seals plain into a v2 envelope.
func (b *KeyBox) EncryptPrivateKey(plain string) (string, error) {
	if plain == "" {
		return "", errors.New("plain key must not be empty")
	}

	salt := common.GenerateRandByteArray(saltSize)
	nonce := common.GenerateRandByteArray(nonceSize)

	key, err := b.deriveKey(salt)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(key)

	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}

	sealed := aead.Seal(nil, nonce, []byte(plain), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	enc := base64.StdEncoding
	return strings.Join([]string{
		envelopeVersion,
		enc.EncodeToString(salt),
		enc.EncodeToString(nonce),
		enc.EncodeToString(tag),
		enc.EncodeToString(ct),
	}, "."), nil
}

// DecryptPrivateKey opens an envelope produced by EncryptPrivateKey or by
// the legacy scheme. It returns ErrMalformed or ErrDecrypt on failure.
func (b *KeyBox) DecryptPrivateKey(envelope string) (string, error) {
	parts := strings.Split(envelope, ".")

	if parts[0] == envelopeVersion {
		if len(parts) != 5 {
			return "", ErrMalformed
		}
		segs, err := decodeSegments(parts[1:])
		if err != nil {
			return "", err
		}
		key, err := b.deriveKey(segs[0])
		if err != nil {
			return "", ErrDecrypt
		}
		defer common.WipeByteArray(key)
		return open(key, segs[1], segs[2], segs[3])
	}

	if len(parts) != 3 {
		return "", ErrMalformed
	}
	segs, err := decodeSegments(parts)
	if err != nil {
		return "", err
	}
	return open(b.legacyKey, segs[0], segs[1], segs[2])
}

func (b *KeyBox) deriveKey(salt []byte) ([]byte, error) {
	return scrypt.Key(b.secret, salt, scryptN, scryptR, scryptP, keySize)
}

func decodeSegments(parts []string) ([][]byte, error) {
	out := make([][]byte, len(parts))
	for i, p := range parts {
		if p == "" {
			return nil, ErrMalformed
		}
		v, err := base64.StdEncoding.DecodeString(p)
		if err != nil {
			return nil, ErrMalformed
		}
		out[i] = v
	}
	return out, nil
}

func open(key, nonce, tag, ct []byte) (string, error) {
	if len(nonce) != nonceSize || len(tag) != tagSize {
		return "", ErrDecrypt
	}
	aead, err := newGCM(key)
	if err != nil {
		return "", ErrDecrypt
	}
	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
