// Package crypto holds the primitives every onion layer is built from:
// RSA-OAEP relay keys that wrap per-hop AES-CBC keys, and the base64 text
// form in which keys and ciphertext travel inside a frame.
package crypto

import (
	"encoding/base64"
)

var encoding = base64.StdEncoding

// Encode renders raw bytes in their transportable text form.
func Encode(b []byte) string {
	return encoding.EncodeToString(b)
}

// Decode reverses Encode.
func Decode(s string) ([]byte, error) {
	b, err := encoding.DecodeString(s)
	if err != nil {
		return nil, &FormatError{Field: "base64", Err: err}
	}
	return b, nil
}
