package onion

import (
	"context"
	"fmt"

	"github.com/zeropr/onion/internal/circuit"
	"github.com/zeropr/onion/internal/peers"
	"github.com/zeropr/onion/internal/transport"
)

// Sender sends plaintexts through freshly selected circuits.
type Sender struct {
	source       peers.Source
	policy       *circuit.Policy
	encoder      *Encoder
	transport    transport.Transport
	relayAddress AddressFunc
}

// NewSender creates a sender. relayAddress locates relays both for the inner
// hops of the onion and for the entry hop.
func NewSender(source peers.Source, policy *circuit.Policy, t transport.Transport, relayAddress AddressFunc) *Sender {
	return &Sender{
		source:       source,
		policy:       policy,
		encoder:      NewEncoder(relayAddress),
		transport:    t,
		relayAddress: relayAddress,
	}
}

// Send delivers message to destination and returns the circuit used. The
// circuit is returned even when delivery fails, once it has been chosen.
// There is no acknowledgement past the entry relay's answer, which itself
// only arrives after every downstream hop has answered.
func (s *Sender) Send(ctx context.Context, message string, destination uint64) (circuit.Circuit, error) {
	nodes, err := s.source.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("onion: registry snapshot: %w", err)
	}

	c := s.policy.Select(nodes)
	if len(c) == 0 {
		return c, ErrEmptyCircuit
	}

	wire, err := s.encoder.Encode(c, message, destination)
	if err != nil {
		return c, err
	}
	if err := s.transport.Deliver(ctx, s.relayAddress(c[0].ID), wire); err != nil {
		return c, err
	}
	return c, nil
}
