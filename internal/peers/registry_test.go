package peers

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeropr/onion/internal/crypto"
)

var (
	pubKeyOnce sync.Once
	pubKeyText string
	pubKeyErr  error
)

func testPubKey(t *testing.T) string {
	t.Helper()
	pubKeyOnce.Do(func() {
		var kp *crypto.KeyPair
		kp, pubKeyErr = crypto.GenerateKeyPair()
		if pubKeyErr != nil {
			return
		}
		pubKeyText, pubKeyErr = crypto.ExportPublicKey(kp.Public)
	})
	require.NoError(t, pubKeyErr)
	return pubKeyText
}

func TestRegistry(t *testing.T) {
	require := require.New(t)

	pub := testPubKey(t)
	r := NewRegistry()
	require.Equal(0, r.Count())

	for _, id := range []int{7, 0, 3} {
		require.NoError(r.Register(Node{ID: id, PubKey: pub}))
	}
	require.Equal(3, r.Count())

	all := r.GetAll()
	require.Equal([]int{0, 3, 7}, []int{all[0].ID, all[1].ID, all[2].ID})

	snap, err := r.Snapshot(context.Background())
	require.NoError(err)
	require.Equal(all, snap)

	n, ok := r.Get(3)
	require.True(ok)
	require.Equal(pub, n.PubKey)

	r.Remove(3)
	_, ok = r.Get(3)
	require.False(ok)
	require.Equal(2, r.Count())
}

func TestRegistryRejectsInvalid(t *testing.T) {
	require := require.New(t)

	r := NewRegistry()
	require.ErrorIs(r.Register(Node{ID: -1, PubKey: testPubKey(t)}), ErrInvalidNode)
	require.ErrorIs(r.Register(Node{ID: 1, PubKey: "garbage"}), ErrInvalidNode)
	require.Equal(0, r.Count())
}

func TestRegistryReplace(t *testing.T) {
	require := require.New(t)

	kp, err := crypto.GenerateKeyPair()
	require.NoError(err)
	other, err := crypto.ExportPublicKey(kp.Public)
	require.NoError(err)

	r := NewRegistry()
	require.NoError(r.Register(Node{ID: 1, PubKey: testPubKey(t)}))
	require.NoError(r.Register(Node{ID: 1, PubKey: other}))
	require.Equal(1, r.Count())

	n, _ := r.Get(1)
	require.Equal(other, n.PubKey)
}
