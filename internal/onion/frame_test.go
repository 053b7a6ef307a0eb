package onion

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeropr/onion/internal/crypto"
)

func TestLayerMarshal(t *testing.T) {
	require := require.New(t)

	l := &Layer{Address: 4001, WrappedKey: "KEY", Payload: "PAYLOAD"}
	wire, err := l.Marshal()
	require.NoError(err)
	require.Equal("00000040010003KEYPAYLOAD", wire)

	got, err := Parse(wire)
	require.NoError(err)
	require.Equal(l, got)
}

func TestLayerMarshalBounds(t *testing.T) {
	require := require.New(t)

	var fe *crypto.FormatError

	_, err := (&Layer{Address: MaxAddress}).Marshal()
	require.NoError(err)

	_, err = (&Layer{Address: MaxAddress + 1}).Marshal()
	require.True(errors.As(err, &fe))
	require.Equal("address", fe.Field)

	_, err = (&Layer{WrappedKey: strings.Repeat("k", MaxWrappedKeyLength)}).Marshal()
	require.NoError(err)

	_, err = (&Layer{WrappedKey: strings.Repeat("k", MaxWrappedKeyLength+1)}).Marshal()
	require.True(errors.As(err, &fe))
	require.Equal("key length", fe.Field)
}

func TestParseEmptyFields(t *testing.T) {
	require := require.New(t)

	l, err := Parse("00000030000000")
	require.NoError(err)
	require.Equal(uint64(3000), l.Address)
	require.Empty(l.WrappedKey)
	require.Empty(l.Payload)
}

func TestParseMalformed(t *testing.T) {
	for _, tc := range []struct {
		name  string
		wire  string
		field string
	}{
		{"empty", "", "header"},
		{"short header", "0000004001000", "header"},
		{"letters in address", "00000040x10003KEYP", "address"},
		{"signed address", "+0000040010003KEYP", "address"},
		{"space in length", "0000004001 003KEYP", "key length"},
		{"negative length", "0000004001-003KEYP", "key length"},
		{"key truncated", "0000004001004KEY", "key length"},
		{"key shorter than length", "00000040010010KEY", "wrapped key"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.wire)
			var fe *crypto.FormatError
			require.True(t, errors.As(err, &fe), "%v", err)
			require.Equal(t, tc.field, fe.Field)
		})
	}
}
