package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"gopkg.in/op/go-logging.v1"

	"github.com/zeropr/onion/internal/metrics"
	"github.com/zeropr/onion/internal/onion"
	"github.com/zeropr/onion/internal/sessions"
	"github.com/zeropr/onion/internal/transport"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Relay serves one relay's Processor.
type Relay struct {
	*Server

	id        int
	processor *onion.Processor
	watchers  *sessions.Manager
}

// NewRelay creates a relay node around p.
func NewRelay(id int, p *onion.Processor, log *logging.Logger, withMetrics bool) *Relay {
	r := &Relay{
		Server:    newServer(log, withMetrics),
		id:        id,
		processor: p,
		watchers:  sessions.NewManager(),
	}
	p.OnObserve(r.broadcast)

	r.router.HandleFunc("/message", r.handleMessage).Methods("POST")
	r.router.HandleFunc("/getLastReceivedEncryptedMessage", r.handleGetLastEncrypted).Methods("GET")
	r.router.HandleFunc("/getLastReceivedDecryptedMessage", r.handleGetLastDecrypted).Methods("GET")
	r.router.HandleFunc("/getLastMessageDestination", r.handleGetLastDestination).Methods("GET")
	r.router.HandleFunc("/ws/observe", r.handleObserve)
	return r
}

func (r *Relay) handleMessage(w http.ResponseWriter, req *http.Request) {
	var body transport.MessageBody
	if err := decodeBody(w, req, &body); err != nil {
		writeText(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := r.processor.Handle(req.Context(), body.Message)
	metrics.ObserveRelay(r.id, err)
	if err != nil {
		writeText(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeText(w, http.StatusOK, replySuccess)
}

func (r *Relay) handleGetLastEncrypted(w http.ResponseWriter, req *http.Request) {
	obs, ok := r.processor.Observation()
	if !ok {
		writeResult(w, nil)
		return
	}
	writeResult(w, obs.Raw)
}

func (r *Relay) handleGetLastDecrypted(w http.ResponseWriter, req *http.Request) {
	obs, ok := r.processor.Observation()
	if !ok {
		writeResult(w, nil)
		return
	}
	writeResult(w, obs.Decrypted)
}

func (r *Relay) handleGetLastDestination(w http.ResponseWriter, req *http.Request) {
	obs, ok := r.processor.Observation()
	if !ok {
		writeResult(w, nil)
		return
	}
	writeResult(w, obs.Destination)
}

func (r *Relay) broadcast(obs onion.Observation) {
	if r.watchers.Count() == 0 {
		return
	}
	b, err := json.Marshal(obs)
	if err != nil {
		r.log.Errorf("Failed to encode observation: %v", err)
		return
	}
	r.watchers.Broadcast(b)
}

// handleObserve streams every new observation to a websocket watcher,
// starting with the current one if any.
func (r *Relay) handleObserve(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warningf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	session := r.watchers.Create(req.RemoteAddr)
	defer r.watchers.Remove(session.ID)
	r.log.Debugf("Watcher %s connected from %s", session.ID, session.Remote)

	if obs, ok := r.processor.Observation(); ok {
		if err := conn.WriteJSON(obs); err != nil {
			return
		}
	}

	// The read side only detects the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-session.Updates():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				r.log.Debugf("Watcher %s write error: %v", session.ID, err)
				return
			}
		case <-closed:
			r.log.Debugf("Watcher %s disconnected", session.ID)
			return
		}
	}
}
