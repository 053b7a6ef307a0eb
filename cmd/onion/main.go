package main

import (
	"context"
	"fmt"
	"os"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/zeropr/onion/internal/config"
	"github.com/zeropr/onion/internal/log"
)

// Config holds the command line configuration
type Config struct {
	ConfigFile string
}

// newRootCommand creates the root cobra command
func newRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "onion",
		Short: "Onion routing overlay nodes",
		Long: `onion runs the nodes of a small onion routing overlay.

A registry node keeps the public key of every relay. Relay nodes peel one
layer of each message they receive and forward the rest. User nodes wrap a
message in one layer per relay of a randomly chosen circuit and hand it to
the entry relay; the exit relay delivers the plaintext to the destination
user.`,
		Example: `  # Run a registry, five relays and two users in one process
  onion network --relays 5 --users 2

  # Run each node separately
  onion registry
  onion relay --id 0
  onion user --id 1

  # Ask user 0 to send a message to user 1
  onion send --from 0 --to 1 --message "Hello World!"`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&cfg.ConfigFile, "config", "f", "",
		"path to the configuration file (TOML format), defaults apply when empty")

	cmd.AddCommand(
		newRegistryCommand(&cfg),
		newRelayCommand(&cfg),
		newUserCommand(&cfg),
		newNetworkCommand(&cfg),
		newSendCommand(&cfg),
	)
	return cmd
}

func main() {
	rootCmd := newRootCommand()

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(versioninfo.Short()),
	); err != nil {
		os.Exit(1)
	}
}

// load reads the configuration and opens the log backend it names.
func load(cfg *Config) (*config.Config, *log.Backend, error) {
	nodeCfg, err := config.LoadFile(cfg.ConfigFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config file '%v': %v", cfg.ConfigFile, err)
	}
	backend, err := log.New(nodeCfg.Logging.File, nodeCfg.Logging.Level, nodeCfg.Logging.Disable)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %v", err)
	}
	return nodeCfg, backend, nil
}
