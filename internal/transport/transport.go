// Package transport delivers framed messages to nodes addressed by a numeric
// endpoint.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// ErrNoRoute is returned when nothing listens on an address.
var ErrNoRoute = errors.New("transport: no route to address")

// Transport is a request/response delivery primitive. Deliver blocks until
// the recipient has accepted or rejected the message.
type Transport interface {
	Deliver(ctx context.Context, address uint64, message string) error
}

// TransportError reports that the next hop was unreachable or answered with
// a failure.
type TransportError struct {
	Address uint64
	Status  int
	Err     error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport error: %d: status %d: %v", e.Address, e.Status, e.Err)
	}
	return fmt.Sprintf("transport error: %d: %v", e.Address, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// MessageBody is the JSON body of POST /message.
type MessageBody struct {
	Message string `json:"message"`
}

// Resolver maps an address to the base URL of the node listening on it.
type Resolver func(address uint64) string

// HostResolver treats the address as a TCP port on host.
func HostResolver(host string) Resolver {
	return func(address uint64) string {
		return fmt.Sprintf("http://%s:%d", host, address)
	}
}

// HTTP delivers messages as POST /message requests.
type HTTP struct {
	client  *http.Client
	resolve Resolver
}

// NewHTTP creates an HTTP transport with a pooled client.
func NewHTTP(resolve Resolver, timeout time.Duration) *HTTP {
	c := cleanhttp.DefaultPooledClient()
	c.Timeout = timeout
	return &HTTP{
		client:  c,
		resolve: resolve,
	}
}

// Deliver implements Transport.
func (t *HTTP) Deliver(ctx context.Context, address uint64, message string) error {
	body, err := json.Marshal(MessageBody{Message: message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.resolve(address)+"/message", bytes.NewReader(body))
	if err != nil {
		return &TransportError{Address: address, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return &TransportError{Address: address, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		detail := strings.TrimSpace(string(b))
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return &TransportError{Address: address, Status: resp.StatusCode, Err: errors.New(detail)}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Handler accepts a delivered message.
type Handler interface {
	HandleMessage(ctx context.Context, message string) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, message string) error

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx context.Context, message string) error {
	return f(ctx, message)
}

// Loopback delivers messages to handlers in the same process.
type Loopback struct {
	handlers map[uint64]Handler
	mu       sync.RWMutex
}

// NewLoopback creates an empty loopback transport.
func NewLoopback() *Loopback {
	return &Loopback{
		handlers: make(map[uint64]Handler),
	}
}

// Attach routes address to h.
func (l *Loopback) Attach(address uint64, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.handlers[address] = h
}

// Detach removes the route for address.
func (l *Loopback) Detach(address uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.handlers, address)
}

// Deliver implements Transport.
func (l *Loopback) Deliver(ctx context.Context, address uint64, message string) error {
	l.mu.RLock()
	h, ok := l.handlers[address]
	l.mu.RUnlock()

	if !ok {
		return &TransportError{Address: address, Err: ErrNoRoute}
	}
	if err := h.HandleMessage(ctx, message); err != nil {
		return &TransportError{Address: address, Err: err}
	}
	return nil
}
