// Package metrics defines the prometheus collectors shared by every node.
package metrics

import (
	"errors"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zeropr/onion/internal/crypto"
	"github.com/zeropr/onion/internal/transport"
)

const (
	LabelStatusSuccess = "success"
	LabelStatusFail    = "fail"

	KindFormat    = "format"
	KindDecrypt   = "decrypt"
	KindTransport = "transport"
	KindOther     = "other"
)

var (
	// RelayMessages counts messages handled per relay by outcome.
	RelayMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onion",
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Number of onion layers handled by a relay",
		}, []string{"node", "status"})

	// RelayErrors counts relay failures per error kind.
	RelayErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onion",
			Subsystem: "relay",
			Name:      "errors_total",
			Help:      "Number of relay failures by kind",
		}, []string{"node", "kind"})

	// UserSends counts send attempts per user by outcome.
	UserSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onion",
			Subsystem: "user",
			Name:      "sends_total",
			Help:      "Number of messages sent through a circuit",
		}, []string{"node", "status"})

	// UserReceived counts plaintexts delivered to users.
	UserReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onion",
			Subsystem: "user",
			Name:      "received_total",
			Help:      "Number of messages received from exit relays",
		}, []string{"node"})

	// RegistryNodes is the number of registered relays.
	RegistryNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "onion",
			Subsystem: "registry",
			Name:      "nodes",
			Help:      "Number of relays in the registry",
		})

	registerOnce sync.Once
)

// Register adds the collectors to the default registry. It may be called
// by every node in the process; only the first call registers.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RelayMessages, RelayErrors, UserSends, UserReceived, RegistryNodes)
	})
}

// ErrorKind classifies err for the errors_total label.
func ErrorKind(err error) string {
	var (
		fe *crypto.FormatError
		de *crypto.DecryptError
		te *transport.TransportError
	)
	switch {
	case errors.As(err, &te):
		return KindTransport
	case errors.As(err, &fe):
		return KindFormat
	case errors.As(err, &de):
		return KindDecrypt
	default:
		return KindOther
	}
}

// ObserveRelay records the outcome of one relay message.
func ObserveRelay(id int, err error) {
	node := strconv.Itoa(id)
	if err != nil {
		RelayMessages.WithLabelValues(node, LabelStatusFail).Inc()
		RelayErrors.WithLabelValues(node, ErrorKind(err)).Inc()
		return
	}
	RelayMessages.WithLabelValues(node, LabelStatusSuccess).Inc()
}

// ObserveSend records the outcome of one user send.
func ObserveSend(id int, err error) {
	status := LabelStatusSuccess
	if err != nil {
		status = LabelStatusFail
	}
	UserSends.WithLabelValues(strconv.Itoa(id), status).Inc()
}

// ObserveReceived records one plaintext delivered to a user.
func ObserveReceived(id int) {
	UserReceived.WithLabelValues(strconv.Itoa(id)).Inc()
}
