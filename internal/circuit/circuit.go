// Package circuit selects the ordered relay path a message traverses.
package circuit

import (
	crand "crypto/rand"
	"encoding/binary"
	mRand "math/rand"
	"sync"

	"github.com/zeropr/onion/internal/peers"
)

const (
	// DefaultLength is the number of hops in a full circuit.
	DefaultLength = 3

	// DefaultDiagnosticProbability is the chance that Select returns the
	// diagnostic circuit instead of a random one.
	DefaultDiagnosticProbability = 0.03
)

// DefaultDiagnosticIDs is the fixed relay path used for reproducible testing
// of a running network.
var DefaultDiagnosticIDs = []int{0, 1, 7}

// Circuit is an ordered relay path, entry hop first.
type Circuit []peers.Node

// IDs returns the relay identifiers of c in path order.
func (c Circuit) IDs() []int {
	ids := make([]int, 0, len(c))
	for _, n := range c {
		ids = append(ids, n.ID)
	}
	return ids
}

// Policy picks circuits from registry snapshots. It is safe for concurrent
// use.
type Policy struct {
	sync.Mutex

	rng           *mRand.Rand
	length        int
	diagnosticP   float64
	diagnosticIDs []int
}

// New creates a policy. A nil rng is replaced by one seeded from
// crypto/rand; tests pass a fixed source to pin the outcome.
func New(rng *mRand.Rand, length int, diagnosticP float64, diagnosticIDs []int) *Policy {
	if rng == nil {
		rng = NewMath()
	}
	if length <= 0 {
		length = DefaultLength
	}
	ids := make([]int, len(diagnosticIDs))
	copy(ids, diagnosticIDs)
	return &Policy{
		rng:           rng,
		length:        length,
		diagnosticP:   diagnosticP,
		diagnosticIDs: ids,
	}
}

// NewDefault creates a policy with the default length and diagnostic branch.
func NewDefault(rng *mRand.Rand) *Policy {
	return New(rng, DefaultLength, DefaultDiagnosticProbability, DefaultDiagnosticIDs)
}

// Select returns a circuit drawn from snapshot. The snapshot is sorted by
// identifier first so a given random source always yields the same path.
// An empty snapshot yields an empty circuit.
func (p *Policy) Select(snapshot []peers.Node) Circuit {
	nodes := make([]peers.Node, len(snapshot))
	copy(nodes, snapshot)
	peers.SortByID(nodes)
	if len(nodes) == 0 {
		return Circuit{}
	}

	p.Lock()
	defer p.Unlock()

	if p.rng.Float64() < p.diagnosticP {
		return p.diagnostic(nodes)
	}

	p.rng.Shuffle(len(nodes), func(i, j int) {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	})
	n := p.length
	if len(nodes) < n {
		n = len(nodes)
	}
	return Circuit(nodes[:n])
}

// diagnostic returns the designated path, dropping members that are not
// registered. The result can be shorter than the policy length, or empty.
func (p *Policy) diagnostic(nodes []peers.Node) Circuit {
	byID := make(map[int]peers.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	c := make(Circuit, 0, p.length)
	for _, id := range p.diagnosticIDs {
		if len(c) == p.length {
			break
		}
		if n, ok := byID[id]; ok {
			c = append(c, n)
		}
	}
	return c
}

// NewMath returns a math/rand generator seeded from crypto/rand.
func NewMath() *mRand.Rand {
	var seed [8]byte
	if _, err := crand.Read(seed[:]); err != nil {
		panic("circuit: failed to seed math/rand: " + err.Error())
	}
	return mRand.New(mRand.NewSource(int64(binary.LittleEndian.Uint64(seed[:]))))
}
