// Package config provides the onion network configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/zeropr/onion/internal/circuit"
)

const (
	defaultLogLevel       = "NOTICE"
	defaultHost           = "localhost"
	defaultRegistryPort   = 8080
	defaultBaseRelayPort  = 4000
	defaultBaseUserPort   = 3000
	defaultMaxRelays      = 100
	defaultMaxUsers       = 100
	defaultRequestTimeout = 30 * 1000 // 30 sec.
	defaultBrowseTimeout  = 5 * 1000  // 5 sec.

	maxPort = 65535
)

// DefaultInstance is the mDNS instance name a registry announces by default.
const DefaultInstance = "onion-registry"

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl
	return nil
}

// Network describes where nodes listen. Relay i listens on BaseRelayPort+i
// and user i on BaseUserPort+i; the two ranges must not overlap.
type Network struct {
	// Host is the host every node is reached on.
	Host string

	// RegistryPort is the registry node's port.
	RegistryPort int

	// RegistryURL overrides Host:RegistryPort for reaching the registry.
	RegistryURL string

	// BaseRelayPort is the port of relay 0.
	BaseRelayPort int

	// BaseUserPort is the port of user 0.
	BaseUserPort int

	// MaxRelays bounds relay identifiers to [0, MaxRelays).
	MaxRelays int

	// MaxUsers bounds user identifiers to [0, MaxUsers).
	MaxUsers int

	// RequestTimeout is the per-hop request timeout in milliseconds.
	RequestTimeout int
}

func (nCfg *Network) applyDefaults() {
	if nCfg.Host == "" {
		nCfg.Host = defaultHost
	}
	if nCfg.RegistryPort == 0 {
		nCfg.RegistryPort = defaultRegistryPort
	}
	if nCfg.BaseRelayPort == 0 {
		nCfg.BaseRelayPort = defaultBaseRelayPort
	}
	if nCfg.BaseUserPort == 0 {
		nCfg.BaseUserPort = defaultBaseUserPort
	}
	if nCfg.MaxRelays == 0 {
		nCfg.MaxRelays = defaultMaxRelays
	}
	if nCfg.MaxUsers == 0 {
		nCfg.MaxUsers = defaultMaxUsers
	}
	if nCfg.RequestTimeout == 0 {
		nCfg.RequestTimeout = defaultRequestTimeout
	}
}

func (nCfg *Network) validate() error {
	if nCfg.MaxRelays < 0 || nCfg.MaxUsers < 0 {
		return errors.New("config: Network: MaxRelays and MaxUsers must be positive")
	}
	if nCfg.RequestTimeout < 0 {
		return errors.New("config: Network: RequestTimeout must be positive")
	}
	relayEnd := nCfg.BaseRelayPort + nCfg.MaxRelays
	userEnd := nCfg.BaseUserPort + nCfg.MaxUsers
	if nCfg.BaseRelayPort < 1 || relayEnd-1 > maxPort {
		return fmt.Errorf("config: Network: relay ports [%d, %d) out of range", nCfg.BaseRelayPort, relayEnd)
	}
	if nCfg.BaseUserPort < 1 || userEnd-1 > maxPort {
		return fmt.Errorf("config: Network: user ports [%d, %d) out of range", nCfg.BaseUserPort, userEnd)
	}
	if nCfg.BaseRelayPort < userEnd && nCfg.BaseUserPort < relayEnd {
		return fmt.Errorf("config: Network: relay ports [%d, %d) overlap user ports [%d, %d)",
			nCfg.BaseRelayPort, relayEnd, nCfg.BaseUserPort, userEnd)
	}
	inRelays := nCfg.RegistryPort >= nCfg.BaseRelayPort && nCfg.RegistryPort < relayEnd
	inUsers := nCfg.RegistryPort >= nCfg.BaseUserPort && nCfg.RegistryPort < userEnd
	if nCfg.RegistryPort < 1 || nCfg.RegistryPort > maxPort || inRelays || inUsers {
		return fmt.Errorf("config: Network: RegistryPort %d is invalid", nCfg.RegistryPort)
	}
	return nil
}

// RelayAddress returns the address relay id listens on.
func (nCfg *Network) RelayAddress(id int) uint64 {
	return uint64(nCfg.BaseRelayPort + id)
}

// UserAddress returns the address user id listens on.
func (nCfg *Network) UserAddress(id int) uint64 {
	return uint64(nCfg.BaseUserPort + id)
}

// ValidRelay reports whether id is a usable relay identifier.
func (nCfg *Network) ValidRelay(id int) bool {
	return id >= 0 && id < nCfg.MaxRelays
}

// ValidUser reports whether id is a usable user identifier.
func (nCfg *Network) ValidUser(id int) bool {
	return id >= 0 && id < nCfg.MaxUsers
}

// Registry returns the base URL of the registry node.
func (nCfg *Network) Registry() string {
	if nCfg.RegistryURL != "" {
		return strings.TrimRight(nCfg.RegistryURL, "/")
	}
	return fmt.Sprintf("http://%s:%d", nCfg.Host, nCfg.RegistryPort)
}

// Timeout returns RequestTimeout as a duration.
func (nCfg *Network) Timeout() time.Duration {
	return time.Duration(nCfg.RequestTimeout) * time.Millisecond
}

// Circuit is the circuit selection configuration.
type Circuit struct {
	// Length is the number of hops per circuit.
	Length int

	// DiagnosticProbability is the chance of picking the diagnostic circuit.
	DiagnosticProbability float64

	// DisableDiagnostic turns the diagnostic circuit off.
	DisableDiagnostic bool

	// DiagnosticIDs is the relay path of the diagnostic circuit.
	DiagnosticIDs []int
}

func (cCfg *Circuit) applyDefaults() {
	if cCfg.Length == 0 {
		cCfg.Length = circuit.DefaultLength
	}
	if cCfg.DiagnosticProbability == 0 {
		cCfg.DiagnosticProbability = circuit.DefaultDiagnosticProbability
	}
	if cCfg.DiagnosticIDs == nil {
		cCfg.DiagnosticIDs = append([]int{}, circuit.DefaultDiagnosticIDs...)
	}
	if cCfg.DisableDiagnostic {
		cCfg.DiagnosticProbability = 0
	}
}

func (cCfg *Circuit) validate() error {
	if cCfg.Length < 1 {
		return fmt.Errorf("config: Circuit: Length %d is invalid", cCfg.Length)
	}
	if cCfg.DiagnosticProbability < 0 || cCfg.DiagnosticProbability > 1 {
		return fmt.Errorf("config: Circuit: DiagnosticProbability %v is invalid", cCfg.DiagnosticProbability)
	}
	return nil
}

// Discovery is the mDNS configuration.
type Discovery struct {
	// Enable announces the registry and lets nodes find it over mDNS
	// when no RegistryURL is set.
	Enable bool

	// Instance is the mDNS instance name of the registry.
	Instance string

	// BrowseTimeout is how long to browse for the registry, in milliseconds.
	BrowseTimeout int
}

func (dCfg *Discovery) applyDefaults() {
	if dCfg.Instance == "" {
		dCfg.Instance = DefaultInstance
	}
	if dCfg.BrowseTimeout == 0 {
		dCfg.BrowseTimeout = defaultBrowseTimeout
	}
}

// Metrics is the prometheus configuration.
type Metrics struct {
	// Disable removes the /metrics route from every node.
	Disable bool
}

// Config is the top level configuration.
type Config struct {
	Logging   *Logging
	Network   *Network
	Circuit   *Circuit
	Discovery *Discovery
	Metrics   *Metrics
}

// FixupAndValidate applies defaults to config entries and validates the
// configuration sections.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Logging == nil {
		cfg.Logging = &Logging{}
	}
	if cfg.Network == nil {
		cfg.Network = &Network{}
	}
	if cfg.Circuit == nil {
		cfg.Circuit = &Circuit{}
	}
	if cfg.Discovery == nil {
		cfg.Discovery = &Discovery{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &Metrics{}
	}

	cfg.Network.applyDefaults()
	cfg.Circuit.applyDefaults()
	cfg.Discovery.applyDefaults()

	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	if err := cfg.Network.validate(); err != nil {
		return err
	}
	return cfg.Circuit.validate()
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := new(Config)
	if err := cfg.FixupAndValidate(); err != nil {
		panic("BUG: config: defaults do not validate: " + err.Error())
	}
	return cfg
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("config: no nil buffer as config file")
	}

	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config. An empty path yields the defaults.
func LoadFile(f string) (*Config, error) {
	if f == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
