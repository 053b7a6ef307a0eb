package onion

import (
	"errors"
	"fmt"

	"github.com/zeropr/onion/internal/circuit"
	"github.com/zeropr/onion/internal/crypto"
)

// ErrEmptyCircuit is returned when there is no relay to send through.
var ErrEmptyCircuit = errors.New("onion: circuit has no hops")

// AddressFunc maps a relay identifier to the address it listens on.
type AddressFunc func(id int) uint64

// Encoder wraps plaintexts in one layer per circuit hop.
type Encoder struct {
	relayAddress AddressFunc
}

// NewEncoder creates an encoder that addresses inner hops with relayAddress.
func NewEncoder(relayAddress AddressFunc) *Encoder {
	return &Encoder{relayAddress: relayAddress}
}

// Encode builds the wire message for c, innermost layer first. The last hop
// forwards the plaintext to finalAddress; every other hop forwards to the
// next relay. Every hop gets its own fresh symmetric key.
func (e *Encoder) Encode(c circuit.Circuit, plaintext string, finalAddress uint64) (string, error) {
	if len(c) == 0 {
		return "", ErrEmptyCircuit
	}

	acc := plaintext
	for i := len(c) - 1; i >= 0; i-- {
		hop := c[i]

		next := finalAddress
		if i < len(c)-1 {
			next = e.relayAddress(c[i+1].ID)
		}
		if next > MaxAddress {
			return "", &crypto.FormatError{Field: "address", Err: fmt.Errorf("%w: %d", errAddressRange, next)}
		}

		key, err := crypto.GenerateSymmetricKey()
		if err != nil {
			return "", err
		}
		payload, err := crypto.SealText(key, acc)
		if err != nil {
			return "", fmt.Errorf("onion: hop %d (node %d): %w", i, hop.ID, err)
		}
		pub, err := crypto.ImportPublicKey(hop.PubKey)
		if err != nil {
			return "", fmt.Errorf("onion: hop %d (node %d): %w", i, hop.ID, err)
		}
		wrapped, err := crypto.WrapKey(key, pub)
		if err != nil {
			return "", fmt.Errorf("onion: hop %d (node %d): %w", i, hop.ID, err)
		}

		layer := Layer{Address: next, WrappedKey: wrapped, Payload: payload}
		if acc, err = layer.Marshal(); err != nil {
			return "", fmt.Errorf("onion: hop %d (node %d): %w", i, hop.ID, err)
		}
	}
	return acc, nil
}
