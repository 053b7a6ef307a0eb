package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
)

// RSAKeyBits is the modulus size of every relay key pair.
const RSAKeyBits = 2048

// oaepOverhead is the OAEP padding cost with SHA-256 as both hash and MGF1.
const oaepOverhead = 2*sha256.Size + 2

var (
	// ErrMessageTooLong is returned when a plaintext does not fit in a
	// single RSA-OAEP block.
	ErrMessageTooLong = errors.New("crypto: message too long for RSA-OAEP")

	// ErrNotRSAKey is returned when an imported key is not an RSA key.
	ErrNotRSAKey = errors.New("crypto: key is not an RSA key")

	errNilKey = errors.New("crypto: nil key")
)

// KeyPair is a relay's asymmetric identity. It is generated once at startup
// and the private half never leaves the process.
type KeyPair struct {
	Public  *rsa.PublicKey
	Private *rsa.PrivateKey
}

// GenerateKeyPair creates a fresh RSA-2048 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	return generateKeyPair(rand.Reader, RSAKeyBits)
}

func generateKeyPair(r io.Reader, bits int) (*KeyPair, error) {
	priv, err := rsa.GenerateKey(r, bits)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to generate RSA key: %w", err)
	}
	return &KeyPair{Public: &priv.PublicKey, Private: priv}, nil
}

// MaxOAEPPlaintext returns the largest plaintext pub can encrypt.
func MaxOAEPPlaintext(pub *rsa.PublicKey) int {
	return pub.Size() - oaepOverhead
}

// EncryptOAEP encrypts plaintext under pub with RSA-OAEP/SHA-256.
func EncryptOAEP(plaintext []byte, pub *rsa.PublicKey) ([]byte, error) {
	if pub == nil {
		return nil, errNilKey
	}
	if limit := MaxOAEPPlaintext(pub); len(plaintext) > limit {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLong, len(plaintext), limit)
	}
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
}

// DecryptOAEP opens a ciphertext produced by EncryptOAEP for priv.
func DecryptOAEP(ciphertext []byte, priv *rsa.PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, &DecryptError{Op: "rsa-oaep", Err: errNilKey}
	}
	plaintext, err := rsa.DecryptOAEP(sha256.New(), nil, priv, ciphertext, nil)
	if err != nil {
		return nil, &DecryptError{Op: "rsa-oaep", Err: err}
	}
	return plaintext, nil
}

// ExportPublicKey returns the base64 SPKI form of pub, as published to the
// registry.
func ExportPublicKey(pub *rsa.PublicKey) (string, error) {
	if pub == nil {
		return "", errNilKey
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return Encode(der), nil
}

// ImportPublicKey parses a key produced by ExportPublicKey.
func ImportPublicKey(s string) (*rsa.PublicKey, error) {
	der, err := Decode(s)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, &FormatError{Field: "public key", Err: err}
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, &FormatError{Field: "public key", Err: ErrNotRSAKey}
	}
	return pub, nil
}

// ExportPrivateKey returns the base64 PKCS#8 form of priv. Nothing in the
// relay serves this; it exists for tooling and tests.
func ExportPrivateKey(priv *rsa.PrivateKey) (string, error) {
	if priv == nil {
		return "", errNilKey
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", err
	}
	return Encode(der), nil
}

// ImportPrivateKey parses a key produced by ExportPrivateKey.
func ImportPrivateKey(s string) (*rsa.PrivateKey, error) {
	der, err := Decode(s)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, &FormatError{Field: "private key", Err: err}
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, &FormatError{Field: "private key", Err: ErrNotRSAKey}
	}
	return priv, nil
}

// WrapKey encrypts a hop key under the hop's public key and returns the
// text placed in the frame.
func WrapKey(key SymmetricKey, pub *rsa.PublicKey) (string, error) {
	ct, err := EncryptOAEP(key[:], pub)
	if err != nil {
		return "", err
	}
	return Encode(ct), nil
}

// UnwrapKey reverses WrapKey with the relay's private key.
func UnwrapKey(wrapped string, priv *rsa.PrivateKey) (SymmetricKey, error) {
	var key SymmetricKey
	ct, err := Decode(wrapped)
	if err != nil {
		return key, err
	}
	raw, err := DecryptOAEP(ct, priv)
	if err != nil {
		return key, err
	}
	if len(raw) != SymmetricKeySize {
		return key, &DecryptError{Op: "unwrap", Err: fmt.Errorf("key is %d bytes, want %d", len(raw), SymmetricKeySize)}
	}
	copy(key[:], raw)
	return key, nil
}
