package peers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zeropr/onion/internal/crypto"
)

// ErrInvalidNode is returned when a registration carries a negative id or a
// public key that does not parse.
var ErrInvalidNode = errors.New("peers: invalid node")

// Node is a relay descriptor as published to the registry.
type Node struct {
	ID     int    `json:"nodeId"`
	PubKey string `json:"pubKey"`
}

// Source serves registry snapshots.
type Source interface {
	Snapshot(ctx context.Context) ([]Node, error)
}

// Registry stores registered relays
type Registry struct {
	nodes map[int]Node
	mu    sync.RWMutex
}

// NewRegistry creates a new node registry
func NewRegistry() *Registry {
	return &Registry{
		nodes: make(map[int]Node),
	}
}

// Register adds or replaces a node. A relay registers once at startup; a
// restarted relay comes back with a new key and replaces its old entry.
func (r *Registry) Register(node Node) error {
	if node.ID < 0 {
		return fmt.Errorf("%w: id %d", ErrInvalidNode, node.ID)
	}
	if _, err := crypto.ImportPublicKey(node.PubKey); err != nil {
		return fmt.Errorf("%w: node %d: %v", ErrInvalidNode, node.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nodes[node.ID] = node
	return nil
}

// Get retrieves a node by ID
func (r *Registry) Get(id int) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[id]
	return node, ok
}

// GetAll returns all nodes ordered by ID
func (r *Registry) GetAll() []Node {
	r.mu.RLock()
	nodes := make([]Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		nodes = append(nodes, node)
	}
	r.mu.RUnlock()

	SortByID(nodes)
	return nodes
}

// Snapshot implements Source.
func (r *Registry) Snapshot(context.Context) ([]Node, error) {
	return r.GetAll(), nil
}

// Remove removes a node by ID
func (r *Registry) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.nodes, id)
}

// Count returns the number of nodes
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.nodes)
}

// SortByID orders nodes by ascending ID in place.
func SortByID(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].ID < nodes[j].ID
	})
}
