package crypto

import (
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	require := require.New(t)

	for _, n := range []int{0, 1, 2, 3, 16, 255, 1024} {
		b := make([]byte, n)
		_, err := rand.Read(b)
		require.NoError(err)

		out, err := Decode(Encode(b))
		require.NoError(err)
		require.Equal(b, out)
	}
}

func TestDecodeMalformed(t *testing.T) {
	require := require.New(t)

	for _, s := range []string{"!!!!", "abc", "YWJj=ZA==", "\x00\x01"} {
		_, err := Decode(s)
		require.Error(err)

		var fe *FormatError
		require.True(errors.As(err, &fe), "input %q", s)
	}
}
