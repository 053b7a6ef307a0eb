package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/zeropr/onion/internal/circuit"
	"github.com/zeropr/onion/internal/config"
	"github.com/zeropr/onion/internal/crypto"
	"github.com/zeropr/onion/internal/log"
	"github.com/zeropr/onion/internal/onion"
	"github.com/zeropr/onion/internal/peers"
	"github.com/zeropr/onion/internal/transport"
)

const (
	numRelays = 3
	numUsers  = 2
)

var (
	keysOnce sync.Once
	keys     [numRelays]*crypto.KeyPair
	keysErr  error
)

// network runs a registry, relays and users on httptest servers. Node
// addresses are mapped onto the test servers' URLs.
type network struct {
	cfg     *config.Config
	urls    map[uint64]string
	servers []*httptest.Server

	registry    *Registry
	registryURL string
	relays      []*Relay
	relayURLs   []string
	users       []*User
	userURLs    []string
}

func newNetwork(t *testing.T, register bool) *network {
	t.Helper()
	require := require.New(t)

	keysOnce.Do(func() {
		for i := range keys {
			if keys[i], keysErr = crypto.GenerateKeyPair(); keysErr != nil {
				return
			}
		}
	})
	require.NoError(keysErr)

	n := &network{
		cfg:  config.Default(),
		urls: make(map[uint64]string),
	}
	t.Cleanup(func() {
		for _, s := range n.servers {
			s.Close()
		}
	})

	backend := log.NewDiscard()
	resolve := func(address uint64) string {
		if u, ok := n.urls[address]; ok {
			return u
		}
		return "http://127.0.0.1:1"
	}
	tr := transport.NewHTTP(resolve, 5*time.Second)

	n.registry = NewRegistry(peers.NewRegistry(), nil, backend.GetLogger("registry"), true)
	n.registryURL = n.serve(n.registry.Handler())

	for i := 0; i < numRelays; i++ {
		p := onion.NewProcessor(keys[i], tr, backend.GetLogger(fmt.Sprintf("relay:%d", i)))
		r := NewRelay(i, p, backend.GetLogger(fmt.Sprintf("relay:%d", i)), true)
		u := n.serve(r.Handler())
		n.urls[n.cfg.Network.RelayAddress(i)] = u
		n.relays = append(n.relays, r)
		n.relayURLs = append(n.relayURLs, u)
	}

	client := peers.NewClient(n.registryURL, 5*time.Second)
	for i := 0; i < numUsers; i++ {
		policy := circuit.New(rand.New(rand.NewSource(int64(i+1))), circuit.DefaultLength, 0, nil)
		sender := onion.NewSender(client, policy, tr, n.cfg.Network.RelayAddress)
		u := NewUser(i, sender, n.cfg.Network, backend.GetLogger(fmt.Sprintf("user:%d", i)), true)
		url := n.serve(u.Handler())
		n.urls[n.cfg.Network.UserAddress(i)] = url
		n.users = append(n.users, u)
		n.userURLs = append(n.userURLs, url)
	}

	if register {
		for i := 0; i < numRelays; i++ {
			pub, err := crypto.ExportPublicKey(keys[i].Public)
			require.NoError(err)
			require.NoError(client.Register(context.Background(), peers.Node{ID: i, PubKey: pub}))
		}
	}
	return n
}

func (n *network) serve(h http.Handler) string {
	s := httptest.NewServer(h)
	n.servers = append(n.servers, s)
	return s.URL
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func post(t *testing.T, url string, v any) (int, string) {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func getResult(t *testing.T, url string) any {
	t.Helper()
	status, body := get(t, url)
	require.Equal(t, http.StatusOK, status)
	var r resultResponse
	require.NoError(t, json.Unmarshal([]byte(body), &r))
	return r.Result
}

func TestStatusAndCORS(t *testing.T) {
	require := require.New(t)

	backend := log.NewDiscard()
	withMetrics := httptest.NewServer(NewRegistry(peers.NewRegistry(), nil, backend.GetLogger("registry"), true).Handler())
	defer withMetrics.Close()
	without := httptest.NewServer(NewRegistry(peers.NewRegistry(), nil, backend.GetLogger("registry"), false).Handler())
	defer without.Close()

	status, body := get(t, withMetrics.URL+"/status")
	require.Equal(http.StatusOK, status)
	require.Equal(statusLive, body)

	req, err := http.NewRequest(http.MethodOptions, withMetrics.URL+"/registerNode", nil)
	require.NoError(err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(err)
	resp.Body.Close()
	require.Equal(http.StatusOK, resp.StatusCode)
	require.Equal("*", resp.Header.Get("Access-Control-Allow-Origin"))

	status, body = get(t, withMetrics.URL+"/metrics")
	require.Equal(http.StatusOK, status)
	require.Contains(body, "onion_registry_nodes")

	status, _ = get(t, without.URL+"/metrics")
	require.Equal(http.StatusNotFound, status)
}

func TestShutdownBeforeListen(t *testing.T) {
	s := newServer(log.NewDiscard().GetLogger("test"), false)
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestEndToEnd(t *testing.T) {
	require := require.New(t)
	n := newNetwork(t, true)

	for _, u := range n.userURLs {
		require.Nil(getResult(t, u+"/getLastReceivedMessage"))
		require.Nil(getResult(t, u+"/getLastSentMessage"))
		require.Nil(getResult(t, u+"/getLastCircuit"))
	}

	status, body := post(t, n.userURLs[0]+"/sendMessage", SendMessageBody{Message: "Hello World!", DestinationUserID: 1})
	require.Equal(http.StatusOK, status, body)
	require.Equal(replySuccess, body)

	require.Equal("Hello World!", getResult(t, n.userURLs[1]+"/getLastReceivedMessage"))
	require.Equal("Hello World!", getResult(t, n.userURLs[0]+"/getLastSentMessage"))
	require.Nil(getResult(t, n.userURLs[0]+"/getLastReceivedMessage"))

	ids, ok := getResult(t, n.userURLs[0]+"/getLastCircuit").([]any)
	require.True(ok)
	require.Len(ids, numRelays)
	seen := make(map[float64]bool)
	for _, id := range ids {
		seen[id.(float64)] = true
	}
	require.Len(seen, numRelays)

	// The exit relay forwarded the plaintext to user 1; every other relay
	// forwarded to the next relay in the circuit.
	exit := int(ids[len(ids)-1].(float64))
	require.Equal("Hello World!", getResult(t, n.relayURLs[exit]+"/getLastReceivedDecryptedMessage"))
	require.Equal(float64(n.cfg.Network.UserAddress(1)), getResult(t, n.relayURLs[exit]+"/getLastMessageDestination"))
	for i := 0; i < len(ids)-1; i++ {
		hop := int(ids[i].(float64))
		next := int(ids[i+1].(float64))
		require.Equal(float64(n.cfg.Network.RelayAddress(next)), getResult(t, n.relayURLs[hop]+"/getLastMessageDestination"))
		require.Equal(getResult(t, n.relayURLs[hop]+"/getLastReceivedDecryptedMessage"),
			getResult(t, n.relayURLs[next]+"/getLastReceivedEncryptedMessage"))
	}
}

func TestSendMessageFailures(t *testing.T) {
	require := require.New(t)
	n := newNetwork(t, false)

	// No relays registered.
	status, body := post(t, n.userURLs[0]+"/sendMessage", SendMessageBody{Message: "hi", DestinationUserID: 1})
	require.Equal(http.StatusInternalServerError, status)
	require.Equal(replySendFailed, body)
	require.Equal("hi", getResult(t, n.userURLs[0]+"/getLastSentMessage"))

	status, _ = post(t, n.userURLs[0]+"/sendMessage", SendMessageBody{Message: "hi", DestinationUserID: -1})
	require.Equal(http.StatusBadRequest, status)

	resp, err := http.Post(n.userURLs[0]+"/sendMessage", "application/json", strings.NewReader("{"))
	require.NoError(err)
	resp.Body.Close()
	require.Equal(http.StatusBadRequest, resp.StatusCode)
}

func TestRelayRejectsMalformed(t *testing.T) {
	require := require.New(t)
	n := newNetwork(t, false)

	status, body := post(t, n.relayURLs[0]+"/message", transport.MessageBody{Message: "not an onion"})
	require.Equal(http.StatusInternalServerError, status)
	require.Contains(body, "format error")

	require.Nil(getResult(t, n.relayURLs[0]+"/getLastReceivedEncryptedMessage"))
	require.Nil(getResult(t, n.relayURLs[0]+"/getLastReceivedDecryptedMessage"))
	require.Nil(getResult(t, n.relayURLs[0]+"/getLastMessageDestination"))
}

func TestRelayReportsForwardFailure(t *testing.T) {
	require := require.New(t)
	n := newNetwork(t, false)

	pub, err := crypto.ExportPublicKey(keys[0].Public)
	require.NoError(err)
	enc := onion.NewEncoder(n.cfg.Network.RelayAddress)
	// Nothing listens on user 7.
	wire, err := enc.Encode(circuit.Circuit{{ID: 0, PubKey: pub}}, "lost", n.cfg.Network.UserAddress(7))
	require.NoError(err)

	status, body := post(t, n.relayURLs[0]+"/message", transport.MessageBody{Message: wire})
	require.Equal(http.StatusInternalServerError, status)
	require.Contains(body, "transport error")

	// The relay peeled the layer before forwarding failed.
	require.Equal("lost", getResult(t, n.relayURLs[0]+"/getLastReceivedDecryptedMessage"))
	require.Equal(wire, getResult(t, n.relayURLs[0]+"/getLastReceivedEncryptedMessage"))
}

func TestRelayObserveStream(t *testing.T) {
	require := require.New(t)
	n := newNetwork(t, false)

	pub, err := crypto.ExportPublicKey(keys[0].Public)
	require.NoError(err)
	enc := onion.NewEncoder(n.cfg.Network.RelayAddress)
	c := circuit.Circuit{{ID: 0, PubKey: pub}}

	first, err := enc.Encode(c, "first", n.cfg.Network.UserAddress(0))
	require.NoError(err)
	status, body := post(t, n.relayURLs[0]+"/message", transport.MessageBody{Message: first})
	require.Equal(http.StatusOK, status, body)

	wsURL := "ws" + strings.TrimPrefix(n.relayURLs[0], "http") + "/ws/observe"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// The current observation is sent on connect.
	var obs onion.Observation
	require.NoError(conn.ReadJSON(&obs))
	require.Equal("first", obs.Decrypted)
	require.Equal(n.cfg.Network.UserAddress(0), obs.Destination)

	second, err := enc.Encode(c, "second", n.cfg.Network.UserAddress(1))
	require.NoError(err)
	status, body = post(t, n.relayURLs[0]+"/message", transport.MessageBody{Message: second})
	require.Equal(http.StatusOK, status, body)

	require.NoError(conn.ReadJSON(&obs))
	require.Equal("second", obs.Decrypted)
	require.Equal(second, obs.Raw)
	require.Equal(n.cfg.Network.UserAddress(1), obs.Destination)
	require.Equal("second", getResult(t, n.userURLs[1]+"/getLastReceivedMessage"))
}
