package crypto

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	testKeysOnce sync.Once
	testKeys     [2]*KeyPair
	testKeysErr  error
)

func keyPairs(t *testing.T) (*KeyPair, *KeyPair) {
	t.Helper()
	testKeysOnce.Do(func() {
		for i := range testKeys {
			testKeys[i], testKeysErr = GenerateKeyPair()
			if testKeysErr != nil {
				return
			}
		}
	})
	require.NoError(t, testKeysErr)
	return testKeys[0], testKeys[1]
}

func TestGenerateKeyPair(t *testing.T) {
	require := require.New(t)

	kp, _ := keyPairs(t)
	require.Equal(RSAKeyBits, kp.Public.N.BitLen())
	require.Equal(65537, kp.Public.E)
	require.Equal(190, MaxOAEPPlaintext(kp.Public))
}

func TestOAEPRoundTrip(t *testing.T) {
	require := require.New(t)

	kp, _ := keyPairs(t)
	for _, n := range []int{0, 1, 32, 190} {
		msg := bytes.Repeat([]byte{0x5a}, n)
		ct, err := EncryptOAEP(msg, kp.Public)
		require.NoError(err)
		require.Len(ct, kp.Public.Size())

		pt, err := DecryptOAEP(ct, kp.Private)
		require.NoError(err)
		require.Equal(msg, pt)
	}
}

func TestOAEPTooLong(t *testing.T) {
	require := require.New(t)

	kp, _ := keyPairs(t)
	_, err := EncryptOAEP(make([]byte, 191), kp.Public)
	require.ErrorIs(err, ErrMessageTooLong)
}

func TestOAEPWrongKey(t *testing.T) {
	require := require.New(t)

	a, b := keyPairs(t)
	ct, err := EncryptOAEP([]byte("hop key"), a.Public)
	require.NoError(err)

	_, err = DecryptOAEP(ct, b.Private)
	var de *DecryptError
	require.True(errors.As(err, &de))

	ct[10] ^= 0xff
	_, err = DecryptOAEP(ct, a.Private)
	require.True(errors.As(err, &de))
}

func TestKeyExportImport(t *testing.T) {
	require := require.New(t)

	kp, _ := keyPairs(t)

	pubText, err := ExportPublicKey(kp.Public)
	require.NoError(err)
	pub, err := ImportPublicKey(pubText)
	require.NoError(err)
	require.True(kp.Public.Equal(pub))

	privText, err := ExportPrivateKey(kp.Private)
	require.NoError(err)
	priv, err := ImportPrivateKey(privText)
	require.NoError(err)
	require.True(kp.Private.Equal(priv))

	var fe *FormatError
	_, err = ImportPublicKey("not base64!")
	require.True(errors.As(err, &fe))
	_, err = ImportPublicKey(Encode([]byte("not DER")))
	require.True(errors.As(err, &fe))
	_, err = ImportPrivateKey(pubText)
	require.True(errors.As(err, &fe))
}

func TestWrapUnwrapKey(t *testing.T) {
	require := require.New(t)

	a, b := keyPairs(t)
	key, err := GenerateSymmetricKey()
	require.NoError(err)

	wrapped, err := WrapKey(key, a.Public)
	require.NoError(err)
	require.Len(wrapped, 344)

	got, err := UnwrapKey(wrapped, a.Private)
	require.NoError(err)
	require.Equal(key, got)

	_, err = UnwrapKey(wrapped, b.Private)
	var de *DecryptError
	require.True(errors.As(err, &de))

	_, err = UnwrapKey("%%%", a.Private)
	var fe *FormatError
	require.True(errors.As(err, &fe))

	// A correctly wrapped blob of the wrong size is not a hop key.
	short, err := EncryptOAEP([]byte("short"), a.Public)
	require.NoError(err)
	_, err = UnwrapKey(Encode(short), a.Private)
	require.True(errors.As(err, &de))
}
