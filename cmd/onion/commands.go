package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/spf13/cobra"

	"github.com/zeropr/onion/internal/circuit"
	"github.com/zeropr/onion/internal/config"
	"github.com/zeropr/onion/internal/crypto"
	"github.com/zeropr/onion/internal/discovery"
	"github.com/zeropr/onion/internal/log"
	"github.com/zeropr/onion/internal/onion"
	"github.com/zeropr/onion/internal/peers"
	"github.com/zeropr/onion/internal/server"
	"github.com/zeropr/onion/internal/transport"
)

func newRegistryCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "registry",
		Short: "Run the relay registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeCfg, backend, err := load(cfg)
			if err != nil {
				return err
			}
			logger := backend.GetLogger("registry")
			reg := newRegistryNode(nodeCfg, backend, peers.NewRegistry())
			return serve(backend, logger, []listener{reg})
		},
	}
}

func newRelayCommand(cfg *Config) *cobra.Command {
	var id int

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run one relay and register it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeCfg, backend, err := load(cfg)
			if err != nil {
				return err
			}
			if !nodeCfg.Network.ValidRelay(id) {
				return fmt.Errorf("invalid argument: relay id %d is outside [0, %d)", id, nodeCfg.Network.MaxRelays)
			}
			logger := backend.GetLogger(fmt.Sprintf("relay:%d", id))

			relay, desc, err := newRelayNode(nodeCfg, backend, id, newTransport(nodeCfg))
			if err != nil {
				return err
			}
			baseURL, err := registryURL(cmd.Context(), nodeCfg, backend)
			if err != nil {
				return err
			}
			client := peers.NewClient(baseURL, nodeCfg.Network.Timeout())
			if err := client.Register(cmd.Context(), desc); err != nil {
				return fmt.Errorf("failed to register relay %d: %v", id, err)
			}
			logger.Noticef("Registered with %s", baseURL)
			return serve(backend, logger, []listener{relay})
		},
	}
	cmd.Flags().IntVar(&id, "id", 0, "relay identifier")
	return cmd
}

func newUserCommand(cfg *Config) *cobra.Command {
	var id int

	cmd := &cobra.Command{
		Use:   "user",
		Short: "Run one user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeCfg, backend, err := load(cfg)
			if err != nil {
				return err
			}
			if !nodeCfg.Network.ValidUser(id) {
				return fmt.Errorf("invalid argument: user id %d is outside [0, %d)", id, nodeCfg.Network.MaxUsers)
			}
			logger := backend.GetLogger(fmt.Sprintf("user:%d", id))

			baseURL, err := registryURL(cmd.Context(), nodeCfg, backend)
			if err != nil {
				return err
			}
			source := peers.NewClient(baseURL, nodeCfg.Network.Timeout())
			user := newUserNode(nodeCfg, backend, id, source, newTransport(nodeCfg))
			return serve(backend, logger, []listener{user})
		},
	}
	cmd.Flags().IntVar(&id, "id", 0, "user identifier")
	return cmd
}

func newNetworkCommand(cfg *Config) *cobra.Command {
	var relays, users int

	cmd := &cobra.Command{
		Use:   "network",
		Short: "Run a registry, relays and users in one process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeCfg, backend, err := load(cfg)
			if err != nil {
				return err
			}
			if relays < 0 || relays > nodeCfg.Network.MaxRelays {
				return fmt.Errorf("invalid argument: --relays must be in [0, %d]", nodeCfg.Network.MaxRelays)
			}
			if users < 0 || users > nodeCfg.Network.MaxUsers {
				return fmt.Errorf("invalid argument: --users must be in [0, %d]", nodeCfg.Network.MaxUsers)
			}
			logger := backend.GetLogger("network")

			registry := peers.NewRegistry()
			listeners := []listener{newRegistryNode(nodeCfg, backend, registry)}

			tr := newTransport(nodeCfg)
			for i := 0; i < relays; i++ {
				relay, desc, err := newRelayNode(nodeCfg, backend, i, tr)
				if err != nil {
					return err
				}
				if err := registry.Register(desc); err != nil {
					return err
				}
				listeners = append(listeners, relay)
			}
			for i := 0; i < users; i++ {
				listeners = append(listeners, newUserNode(nodeCfg, backend, i, registry, tr))
			}

			logger.Noticef("Starting %d relays and %d users", relays, users)
			return serve(backend, logger, listeners)
		},
	}
	cmd.Flags().IntVar(&relays, "relays", 5, "number of relays")
	cmd.Flags().IntVar(&users, "users", 2, "number of users")
	return cmd
}

func newSendCommand(cfg *Config) *cobra.Command {
	var from, to int
	var message string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Ask a running user to send a message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeCfg, err := config.LoadFile(cfg.ConfigFile)
			if err != nil {
				return fmt.Errorf("failed to load config file '%v': %v", cfg.ConfigFile, err)
			}
			url := transport.HostResolver(nodeCfg.Network.Host)(nodeCfg.Network.UserAddress(from)) + "/sendMessage"
			reply, err := postSendMessage(cmd.Context(), url, server.SendMessageBody{
				Message:           message,
				DestinationUserID: to,
			}, nodeCfg.Network.Timeout())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "sending user")
	cmd.Flags().IntVar(&to, "to", 1, "destination user")
	cmd.Flags().StringVarP(&message, "message", "m", "", "message to send")
	cmd.MarkFlagRequired("message")
	return cmd
}

func newTransport(nodeCfg *config.Config) *transport.HTTP {
	return transport.NewHTTP(transport.HostResolver(nodeCfg.Network.Host), nodeCfg.Network.Timeout())
}

func listenAddr(port uint64) string {
	return net.JoinHostPort("", strconv.FormatUint(port, 10))
}

func newRegistryNode(nodeCfg *config.Config, backend *log.Backend, registry *peers.Registry) listener {
	var disc *discovery.Service
	if nodeCfg.Discovery.Enable {
		disc = discovery.NewService(
			resolveInstanceName(nodeCfg.Discovery.Instance),
			nodeCfg.Network.RegistryPort,
			versioninfo.Short(),
			backend.GetLogger("discovery"),
		)
	}
	reg := server.NewRegistry(registry, disc, backend.GetLogger("registry"), !nodeCfg.Metrics.Disable)
	return listener{
		name: "registry",
		addr: listenAddr(uint64(nodeCfg.Network.RegistryPort)),
		node: reg,
	}
}

func newRelayNode(nodeCfg *config.Config, backend *log.Backend, id int, tr transport.Transport) (listener, peers.Node, error) {
	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		return listener{}, peers.Node{}, fmt.Errorf("relay %d: failed to generate keys: %v", id, err)
	}
	pub, err := crypto.ExportPublicKey(keys.Public)
	if err != nil {
		return listener{}, peers.Node{}, fmt.Errorf("relay %d: failed to export key: %v", id, err)
	}

	logger := backend.GetLogger(fmt.Sprintf("relay:%d", id))
	p := onion.NewProcessor(keys, tr, logger)
	relay := server.NewRelay(id, p, logger, !nodeCfg.Metrics.Disable)
	return listener{
		name: fmt.Sprintf("relay %d", id),
		addr: listenAddr(nodeCfg.Network.RelayAddress(id)),
		node: relay,
	}, peers.Node{ID: id, PubKey: pub}, nil
}

func newUserNode(nodeCfg *config.Config, backend *log.Backend, id int, source peers.Source, tr transport.Transport) listener {
	policy := circuit.New(nil, nodeCfg.Circuit.Length, nodeCfg.Circuit.DiagnosticProbability, nodeCfg.Circuit.DiagnosticIDs)
	sender := onion.NewSender(source, policy, tr, nodeCfg.Network.RelayAddress)
	user := server.NewUser(id, sender, nodeCfg.Network, backend.GetLogger(fmt.Sprintf("user:%d", id)), !nodeCfg.Metrics.Disable)
	return listener{
		name: fmt.Sprintf("user %d", id),
		addr: listenAddr(nodeCfg.Network.UserAddress(id)),
		node: user,
	}
}

// registryURL returns the configured registry, or browses for one over mDNS
// when discovery is enabled and no RegistryURL is set.
func registryURL(ctx context.Context, nodeCfg *config.Config, backend *log.Backend) (string, error) {
	if !nodeCfg.Discovery.Enable || nodeCfg.Network.RegistryURL != "" {
		return nodeCfg.Network.Registry(), nil
	}

	timeout := time.Duration(nodeCfg.Discovery.BrowseTimeout) * time.Millisecond
	url, err := discovery.Lookup(ctx, lookupInstance(nodeCfg.Discovery.Instance), timeout, backend.GetLogger("discovery"))
	if err != nil {
		return "", fmt.Errorf("failed to discover registry: %v", err)
	}
	return url, nil
}

func postSendMessage(ctx context.Context, url string, body server.SendMessageBody, timeout time.Duration) (string, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	client := cleanhttp.DefaultClient()
	client.Timeout = timeout
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send failed: %v", err)
	}
	defer resp.Body.Close()

	reply, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	text := strings.TrimSpace(string(reply))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("send failed: %s: %s", resp.Status, text)
	}
	return text, nil
}
