// Package onion builds and peels layered messages.
//
// A layer on the wire is ASCII text:
//
//	| next hop address | wrapped key length | wrapped key | payload   |
//	| 10 digits        | 4 digits           | L chars     | remainder |
//
// Both numeric fields are zero-padded decimal. The wrapped key is the hop's
// AES key encrypted under the hop's RSA key; the payload is the base64 of
// IV||AES-CBC ciphertext. Once decrypted, a payload is either the next layer
// or, at the last hop, the plaintext; the two are indistinguishable to the
// relay.
package onion

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/zeropr/onion/internal/crypto"
)

const (
	// AddressWidth is the width of the next hop address field.
	AddressWidth = 10

	// KeyLengthWidth is the width of the wrapped key length field.
	KeyLengthWidth = 4

	// HeaderLength is the fixed prefix preceding the wrapped key.
	HeaderLength = AddressWidth + KeyLengthWidth

	// MaxAddress is the largest address the header can carry.
	MaxAddress uint64 = 9999999999

	// MaxWrappedKeyLength is the longest wrapped key the header can carry.
	MaxWrappedKeyLength = 9999
)

var (
	errAddressRange   = errors.New("address does not fit in 10 digits")
	errKeyLengthRange = errors.New("wrapped key does not fit in 4 digits")
	errTruncated      = errors.New("truncated")
	errNonNumeric     = errors.New("not a decimal number")
)

// Layer is one parsed onion layer.
type Layer struct {
	Address    uint64
	WrappedKey string
	Payload    string
}

// Marshal renders l in wire form. Out of range fields are rejected rather
// than truncated.
func (l *Layer) Marshal() (string, error) {
	if l.Address > MaxAddress {
		return "", &crypto.FormatError{Field: "address", Err: fmt.Errorf("%w: %d", errAddressRange, l.Address)}
	}
	if len(l.WrappedKey) > MaxWrappedKeyLength {
		return "", &crypto.FormatError{Field: "key length", Err: fmt.Errorf("%w: %d", errKeyLengthRange, len(l.WrappedKey))}
	}

	var b strings.Builder
	b.Grow(HeaderLength + len(l.WrappedKey) + len(l.Payload))
	fmt.Fprintf(&b, "%0*d%0*d", AddressWidth, l.Address, KeyLengthWidth, len(l.WrappedKey))
	b.WriteString(l.WrappedKey)
	b.WriteString(l.Payload)
	return b.String(), nil
}

// Parse splits a wire string into its fields.
func Parse(wire string) (*Layer, error) {
	if len(wire) < HeaderLength {
		return nil, &crypto.FormatError{Field: "header", Err: fmt.Errorf("%w: %d < %d chars", errTruncated, len(wire), HeaderLength)}
	}
	addr, err := parseDigits(wire[:AddressWidth])
	if err != nil {
		return nil, &crypto.FormatError{Field: "address", Err: err}
	}
	keyLen, err := parseDigits(wire[AddressWidth:HeaderLength])
	if err != nil {
		return nil, &crypto.FormatError{Field: "key length", Err: err}
	}

	end := HeaderLength + int(keyLen)
	if len(wire) < end {
		return nil, &crypto.FormatError{Field: "wrapped key", Err: fmt.Errorf("%w: %d < %d chars", errTruncated, len(wire), end)}
	}
	return &Layer{
		Address:    addr,
		WrappedKey: wire[HeaderLength:end],
		Payload:    wire[end:],
	}, nil
}

// parseDigits accepts only ASCII digits: no sign, no spaces.
func parseDigits(s string) (uint64, error) {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("%w: %q", errNonNumeric, s)
		}
	}
	return strconv.ParseUint(s, 10, 64)
}
