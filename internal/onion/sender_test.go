package onion

import (
	"context"
	"errors"
	mRand "math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeropr/onion/internal/circuit"
	"github.com/zeropr/onion/internal/peers"
)

type staticSource struct {
	nodes []peers.Node
	err   error
}

func (s staticSource) Snapshot(context.Context) ([]peers.Node, error) {
	return s.nodes, s.err
}

func TestSenderSend(t *testing.T) {
	require := require.New(t)

	n := newTestNet(t)
	policy := circuit.New(mRand.New(mRand.NewSource(7)), circuit.DefaultLength, 0, nil)
	s := NewSender(staticSource{nodes: n.nodes}, policy, n.loop, relayAddress)

	c, err := s.Send(context.Background(), "hello", userAddress)
	require.NoError(err)
	require.Len(c, 3)
	require.ElementsMatch([]int{0, 1, 2}, c.IDs())
	require.Equal([]string{"hello"}, n.received)

	exit, ok := n.relays[c[2].ID].Observation()
	require.True(ok)
	require.Equal("hello", exit.Decrypted)
}

func TestSenderEmptyRegistry(t *testing.T) {
	require := require.New(t)

	n := newTestNet(t)
	s := NewSender(staticSource{}, circuit.NewDefault(nil), n.loop, relayAddress)

	c, err := s.Send(context.Background(), "hello", userAddress)
	require.ErrorIs(err, ErrEmptyCircuit)
	require.Empty(c)
	require.Empty(n.received)
}

func TestSenderRegistryFailure(t *testing.T) {
	require := require.New(t)

	n := newTestNet(t)
	boom := errors.New("registry down")
	s := NewSender(staticSource{err: boom}, circuit.NewDefault(nil), n.loop, relayAddress)

	_, err := s.Send(context.Background(), "hello", userAddress)
	require.ErrorIs(err, boom)
}

func TestSenderEntryUnreachable(t *testing.T) {
	require := require.New(t)

	n := newTestNet(t)
	n.loop.Detach(relayAddress(0))

	policy := circuit.New(nil, circuit.DefaultLength, 0, nil)
	s := NewSender(staticSource{nodes: n.nodes[:1]}, policy, n.loop, relayAddress)

	c, err := s.Send(context.Background(), "hello", userAddress)
	require.Error(err)
	require.Equal([]int{0}, c.IDs())
	require.Empty(n.received)
}
