package server

import (
	"net/http"

	"gopkg.in/op/go-logging.v1"

	"github.com/zeropr/onion/internal/discovery"
	"github.com/zeropr/onion/internal/metrics"
	"github.com/zeropr/onion/internal/peers"
)

// Registry is the node directory relays publish their keys to.
type Registry struct {
	*Server

	registry  *peers.Registry
	discovery *discovery.Service
}

// NewRegistry creates a registry node. disc may be nil when mDNS is off.
func NewRegistry(registry *peers.Registry, disc *discovery.Service, log *logging.Logger, withMetrics bool) *Registry {
	r := &Registry{
		Server:    newServer(log, withMetrics),
		registry:  registry,
		discovery: disc,
	}

	r.router.HandleFunc("/registerNode", r.handleRegisterNode).Methods("POST")
	r.router.HandleFunc("/getNodeRegistry", r.handleGetNodeRegistry).Methods("GET")
	return r
}

// ListenAndServe serves the registry on addr, announcing it while running.
func (r *Registry) ListenAndServe(addr string) error {
	if r.discovery != nil {
		if err := r.discovery.StartBroadcast(); err != nil {
			r.log.Warningf("mDNS announce failed: %v", err)
		} else {
			defer r.discovery.StopBroadcast()
		}
	}
	return r.Server.ListenAndServe(addr)
}

func (r *Registry) handleRegisterNode(w http.ResponseWriter, req *http.Request) {
	var node peers.Node
	if err := decodeBody(w, req, &node); err != nil {
		writeText(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := r.registry.Register(node); err != nil {
		r.log.Warningf("Rejected registration: %v", err)
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}
	metrics.RegistryNodes.Set(float64(r.registry.Count()))

	r.log.Noticef("Registered node %d", node.ID)
	writeText(w, http.StatusOK, replySuccess)
}

func (r *Registry) handleGetNodeRegistry(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, peers.SnapshotResponse{Nodes: r.registry.GetAll()})
}
