package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"gopkg.in/op/go-logging.v1"
)

const (
	serviceType = "_onionreg._tcp"
	domain      = "local."

	roleRegistry = "registry"
)

// ErrNotFound is returned when no registry answered before the timeout.
var ErrNotFound = errors.New("discovery: no registry found")

// Service announces the registry node over mDNS
type Service struct {
	instance     string
	port         int
	version      string
	server       *zeroconf.Server
	log          *logging.Logger
	broadcasting bool
	mu           sync.Mutex
}

// NewService creates a new announcement service for a registry on port
func NewService(instance string, port int, version string, log *logging.Logger) *Service {
	return &Service{
		instance: instance,
		port:     port,
		version:  version,
		log:      log,
	}
}

// StartBroadcast starts announcing the registry
func (s *Service) StartBroadcast() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broadcasting {
		return fmt.Errorf("discovery: already broadcasting")
	}

	server, err := zeroconf.Register(
		s.instance,
		serviceType,
		domain,
		s.port,
		[]string{"role=" + roleRegistry, "version=" + s.version},
		nil,
	)
	if err != nil {
		return fmt.Errorf("discovery: failed to register service: %w", err)
	}

	s.server = server
	s.broadcasting = true
	s.log.Noticef("Broadcasting registry as '%s' on port %d", s.instance, s.port)
	return nil
}

// StopBroadcast stops announcing
func (s *Service) StopBroadcast() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		s.server.Shutdown()
		s.server = nil
		s.broadcasting = false
		s.log.Notice("Broadcast stopped")
	}
}

// IsBroadcasting returns whether we're currently broadcasting
func (s *Service) IsBroadcasting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.broadcasting
}

// Lookup browses for an announced registry and returns its base URL. When
// instance is not empty only that instance is accepted.
func Lookup(ctx context.Context, instance string, timeout time.Duration, log *logging.Logger) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("discovery: failed to create resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	found := make(chan string, 1)
	go func() {
		for entry := range entries {
			url, ok := registryURL(entry, instance)
			if !ok {
				continue
			}
			log.Noticef("Discovered registry %s at %s", entry.Instance, url)
			select {
			case found <- url:
			default:
			}
			cancel()
		}
	}()

	if err := resolver.Browse(ctx, serviceType, domain, entries); err != nil {
		return "", fmt.Errorf("discovery: browse: %w", err)
	}
	<-ctx.Done()

	select {
	case url := <-found:
		return url, nil
	default:
		return "", ErrNotFound
	}
}

// registryURL builds the registry base URL from a zeroconf entry.
func registryURL(entry *zeroconf.ServiceEntry, instance string) (string, bool) {
	if entry == nil {
		return "", false
	}
	if instance != "" && entry.Instance != instance {
		return "", false
	}
	if txt := parseTXT(entry.Text); txt["role"] != roleRegistry {
		return "", false
	}

	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	default:
		return "", false
	}
	return "http://" + net.JoinHostPort(host, fmt.Sprint(entry.Port)), true
}

// parseTXT converts zeroconf TXT records into a key/value map.
func parseTXT(records []string) map[string]string {
	values := make(map[string]string, len(records))
	for _, record := range records {
		if record == "" {
			continue
		}

		if eq := strings.IndexByte(record, '='); eq >= 0 {
			key := strings.TrimSpace(record[:eq])
			value := strings.TrimSpace(record[eq+1:])
			if key != "" {
				values[key] = value
			}
			continue
		}

		values[strings.TrimSpace(record)] = ""
	}
	return values
}
