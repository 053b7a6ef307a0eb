package onion

import (
	"context"
	"sync"
	"sync/atomic"

	"gopkg.in/op/go-logging.v1"

	"github.com/zeropr/onion/internal/crypto"
	"github.com/zeropr/onion/internal/transport"
)

// State is the position of a Processor in its per-message cycle.
type State int32

const (
	StateIdle State = iota
	StateParsingFrame
	StateDecryptingKey
	StateDecryptingPayload
	StateForwarding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateParsingFrame:
		return "parsing-frame"
	case StateDecryptingKey:
		return "decrypting-key"
	case StateDecryptingPayload:
		return "decrypting-payload"
	case StateForwarding:
		return "forwarding"
	default:
		return "unknown"
	}
}

// Observation is what a relay retains about the last message it peeled.
type Observation struct {
	Raw         string `json:"raw"`
	Decrypted   string `json:"decrypted"`
	Destination uint64 `json:"destination"`
}

// Processor peels the layers addressed to one relay identity.
//
// Peeling is serialized: one message is parsed and decrypted to completion
// before the next is admitted. Forwarding runs after the peel lock is
// released. Only the last Observation is kept.
type Processor struct {
	peelLock sync.Mutex

	keys      *crypto.KeyPair
	transport transport.Transport
	log       *logging.Logger

	state atomic.Int32

	obsLock   sync.RWMutex
	obs       *Observation
	onObserve func(Observation)
}

// NewProcessor creates a processor owning keys. Peeled payloads are handed
// to t.
func NewProcessor(keys *crypto.KeyPair, t transport.Transport, log *logging.Logger) *Processor {
	return &Processor{
		keys:      keys,
		transport: t,
		log:       log,
	}
}

// OnObserve registers fn to be called with every new observation.
func (p *Processor) OnObserve(fn func(Observation)) {
	p.obsLock.Lock()
	defer p.obsLock.Unlock()

	p.onObserve = fn
}

// State returns the current state.
func (p *Processor) State() State {
	return State(p.state.Load())
}

func (p *Processor) setState(s State) {
	p.state.Store(int32(s))
}

// Observation returns the last observation, if any message was peeled.
func (p *Processor) Observation() (Observation, bool) {
	p.obsLock.RLock()
	defer p.obsLock.RUnlock()

	if p.obs == nil {
		return Observation{}, false
	}
	return *p.obs, true
}

// Parse reads the frame header.
func (p *Processor) Parse(wire string) (*Layer, error) {
	p.setState(StateParsingFrame)
	return Parse(wire)
}

// DecryptKey unwraps the hop key with this relay's private key.
func (p *Processor) DecryptKey(wrapped string) (crypto.SymmetricKey, error) {
	p.setState(StateDecryptingKey)
	return crypto.UnwrapKey(wrapped, p.keys.Private)
}

// DecryptPayload opens this relay's layer, yielding either the next layer or
// the plaintext.
func (p *Processor) DecryptPayload(key crypto.SymmetricKey, payload string) (string, error) {
	p.setState(StateDecryptingPayload)
	return crypto.OpenText(key, payload)
}

// Forward hands payload to address, whatever it holds.
func (p *Processor) Forward(ctx context.Context, address uint64, payload string) error {
	p.setState(StateForwarding)
	defer p.setState(StateIdle)

	p.log.Debugf("Forwarding %d bytes to %d", len(payload), address)
	return p.transport.Deliver(ctx, address, payload)
}

// Handle processes one inbound wire message: parse, decrypt, record and
// forward. Any error aborts the message at this hop.
func (p *Processor) Handle(ctx context.Context, wire string) error {
	layer, payload, err := p.peel(wire)
	if err != nil {
		p.setState(StateIdle)
		p.log.Warningf("Dropping message: %v", err)
		return err
	}

	p.record(Observation{Raw: wire, Decrypted: payload, Destination: layer.Address})

	if err := p.Forward(ctx, layer.Address, payload); err != nil {
		p.log.Warningf("Forward to %d failed: %v", layer.Address, err)
		return err
	}
	return nil
}

func (p *Processor) peel(wire string) (*Layer, string, error) {
	p.peelLock.Lock()
	defer p.peelLock.Unlock()

	layer, err := p.Parse(wire)
	if err != nil {
		return nil, "", err
	}
	key, err := p.DecryptKey(layer.WrappedKey)
	if err != nil {
		return nil, "", err
	}
	payload, err := p.DecryptPayload(key, layer.Payload)
	if err != nil {
		return nil, "", err
	}
	return layer, payload, nil
}

func (p *Processor) record(o Observation) {
	p.obsLock.Lock()
	p.obs = &o
	fn := p.onObserve
	p.obsLock.Unlock()

	if fn != nil {
		fn(o)
	}
}
