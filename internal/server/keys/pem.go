package keys

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// ParsePrivateKeyPEM parses a PKCS#8 "PRIVATE KEY" block holding an Ed25519 key.
func ParsePrivateKeyPEM(doc []byte) (ed25519.PrivateKey, error) {
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(doc)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return key, nil
}

// ParsePublicKeyPEM parses a PKIX "PUBLIC KEY" block. A private key PEM is
// accepted too and reduced to its public half.
func ParsePublicKeyPEM(doc []byte) (ed25519.PublicKey, error) {
	if parsed, err := jwt.ParseEdPublicKeyFromPEM(doc); err == nil {
		if key, ok := parsed.(ed25519.PublicKey); ok {
			return key, nil
		}
		return nil, errors.New("invalid ed25519 public key type")
	}
	priv, err := ParsePrivateKeyPEM(doc)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	return priv.Public().(ed25519.PublicKey), nil
}

// MarshalPrivateKeyPEM encodes key as a PKCS#8 PEM block.
func MarshalPrivateKeyPEM(key ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// MarshalPublicKeyPEM encodes key as a PKIX PEM block.
func MarshalPublicKeyPEM(key ed25519.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
