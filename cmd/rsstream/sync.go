package main

import (
	"github.com/pkg/errors"

	"github.com/spf13/cobra"

	"github.com/larsewi/librsync/logging"
	"github.com/larsewi/librsync/transfer"
)

// syncMain is the entry point for the sync command.
func syncMain(_ *cobra.Command, arguments []string) error {
	// Extract the file path.
	path := arguments[0]

	// Create a logger for the transfer.
	logger := logging.RootLogger.Sublogger("sync")

	// Connect to the serving peer.
	logger.Infof("Connecting to %s...", syncConfiguration.address)
	connection, err := transfer.Dial(syncConfiguration.address)
	if err != nil {
		return errors.Wrap(err, "unable to connect to server")
	}
	defer connection.Close()

	// Pull the served version of the file.
	return transfer.Pull(connection, path, logger)
}

// syncCommand is the sync command.
var syncCommand = &cobra.Command{
	Use:   "sync <file>",
	Short: "Update a local file to a serving peer's version using a delta",
	Args:  cobra.ExactArgs(1),
	RunE:  syncMain,
}

// syncConfiguration stores configuration for the sync command.
var syncConfiguration struct {
	// help indicates whether or not to show help information and exit.
	help bool
	// address is the server address to connect to.
	address string
}

func init() {
	// Grab a handle for the command line flags.
	flags := syncCommand.Flags()

	// Disable alphabetical sorting of flags in help output.
	flags.SortFlags = false

	// Manually add a help flag to override the default message. Cobra will
	// still implement its logic automatically.
	flags.BoolVarP(&syncConfiguration.help, "help", "h", false, "Show help information")

	// Wire up sync command flags.
	flags.StringVarP(&syncConfiguration.address, "address", "a", "127.0.0.1:"+transfer.DefaultPort, "Server address")
}
