package server

import (
	"net/http"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"github.com/zeropr/onion/internal/config"
	"github.com/zeropr/onion/internal/metrics"
	"github.com/zeropr/onion/internal/onion"
	"github.com/zeropr/onion/internal/transport"
)

const replySendFailed = "Error sending message"

// SendMessageBody is the body of POST /sendMessage.
type SendMessageBody struct {
	Message           string `json:"message"`
	DestinationUserID int    `json:"destinationUserId"`
}

// User is an endpoint that sends through circuits and receives plaintexts
// from exit relays.
type User struct {
	*Server

	id      int
	sender  *onion.Sender
	network *config.Network

	mu           sync.RWMutex
	lastReceived *string
	lastSent     *string
	lastCircuit  []int
}

// NewUser creates user node id.
func NewUser(id int, sender *onion.Sender, network *config.Network, log *logging.Logger, withMetrics bool) *User {
	u := &User{
		Server:  newServer(log, withMetrics),
		id:      id,
		sender:  sender,
		network: network,
	}

	u.router.HandleFunc("/message", u.handleMessage).Methods("POST")
	u.router.HandleFunc("/sendMessage", u.handleSendMessage).Methods("POST")
	u.router.HandleFunc("/getLastReceivedMessage", u.handleGetLastReceived).Methods("GET")
	u.router.HandleFunc("/getLastSentMessage", u.handleGetLastSent).Methods("GET")
	u.router.HandleFunc("/getLastCircuit", u.handleGetLastCircuit).Methods("GET")
	return u
}

func (u *User) handleMessage(w http.ResponseWriter, r *http.Request) {
	var body transport.MessageBody
	if err := decodeBody(w, r, &body); err != nil {
		writeText(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	u.mu.Lock()
	u.lastReceived = &body.Message
	u.mu.Unlock()

	metrics.ObserveReceived(u.id)
	u.log.Infof("Received %d bytes", len(body.Message))
	writeText(w, http.StatusOK, replySuccess)
}

func (u *User) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var body SendMessageBody
	if err := decodeBody(w, r, &body); err != nil {
		writeText(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !u.network.ValidUser(body.DestinationUserID) {
		writeText(w, http.StatusBadRequest, "Invalid destinationUserId")
		return
	}

	u.mu.Lock()
	u.lastSent = &body.Message
	u.mu.Unlock()

	c, err := u.sender.Send(r.Context(), body.Message, u.network.UserAddress(body.DestinationUserID))
	if c != nil {
		u.mu.Lock()
		u.lastCircuit = c.IDs()
		u.mu.Unlock()
	}
	metrics.ObserveSend(u.id, err)
	if err != nil {
		u.log.Errorf("Send to user %d failed: %v", body.DestinationUserID, err)
		writeText(w, http.StatusInternalServerError, replySendFailed)
		return
	}

	u.log.Infof("Sent to user %d via %v", body.DestinationUserID, c.IDs())
	writeText(w, http.StatusOK, replySuccess)
}

func (u *User) handleGetLastReceived(w http.ResponseWriter, r *http.Request) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	writeResult(w, u.lastReceived)
}

func (u *User) handleGetLastSent(w http.ResponseWriter, r *http.Request) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	writeResult(w, u.lastSent)
}

func (u *User) handleGetLastCircuit(w http.ResponseWriter, r *http.Request) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	writeResult(w, u.lastCircuit)
}
