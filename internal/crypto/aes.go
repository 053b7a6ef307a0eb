package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// SymmetricKeySize is the AES-256 key size in bytes.
const SymmetricKeySize = 32

// IVSize is the length of the initialization vector prepended to every
// symmetric ciphertext.
const IVSize = aes.BlockSize

var (
	errCiphertextLength = errors.New("ciphertext is not IV plus whole blocks")
	errPadding          = errors.New("invalid padding")
)

// SymmetricKey is a per-hop AES-256 key. A new one is drawn for every hop of
// every message.
type SymmetricKey [SymmetricKeySize]byte

// GenerateSymmetricKey draws a fresh key.
func GenerateSymmetricKey() (SymmetricKey, error) {
	var k SymmetricKey
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return k, fmt.Errorf("crypto: failed to generate symmetric key: %w", err)
	}
	return k, nil
}

// EncryptCBC encrypts plaintext with AES-256-CBC under a fresh random IV and
// returns IV||ciphertext.
func EncryptCBC(key SymmetricKey, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	padded := pad(plaintext, aes.BlockSize)
	out := make([]byte, IVSize+len(padded))
	iv := out[:IVSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate IV: %w", err)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[IVSize:], padded)
	return out, nil
}

// DecryptCBC splits the leading IV off data and decrypts the rest.
//
// CBC carries no integrity check: a ciphertext that was tampered with, or
// that belongs to another key, can still unpad cleanly and yield garbage.
// Only length and padding failures are reported.
func DecryptCBC(key SymmetricKey, data []byte) ([]byte, error) {
	if len(data) < IVSize+aes.BlockSize || (len(data)-IVSize)%aes.BlockSize != 0 {
		return nil, &DecryptError{Op: "aes-cbc", Err: errCiphertextLength}
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, &DecryptError{Op: "aes-cbc", Err: err}
	}
	plaintext := make([]byte, len(data)-IVSize)
	cipher.NewCBCDecrypter(block, data[:IVSize]).CryptBlocks(plaintext, data[IVSize:])
	plaintext, err = unpad(plaintext, aes.BlockSize)
	if err != nil {
		return nil, &DecryptError{Op: "aes-cbc", Err: err}
	}
	return plaintext, nil
}

// SealText encrypts a string and returns the payload text of a frame.
func SealText(key SymmetricKey, plaintext string) (string, error) {
	ct, err := EncryptCBC(key, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return Encode(ct), nil
}

// OpenText reverses SealText.
func OpenText(key SymmetricKey, payload string) (string, error) {
	ct, err := Decode(payload)
	if err != nil {
		return "", err
	}
	plaintext, err := DecryptCBC(key, ct)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// pad applies PKCS#7 padding.
func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	out := make([]byte, len(b), len(b)+n)
	copy(out, b)
	for i := 0; i < n; i++ {
		out = append(out, byte(n))
	}
	return out
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size {
		return nil, errPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errPadding
		}
	}
	return b[:len(b)-n], nil
}
