package main

import (
	"github.com/pkg/errors"

	"github.com/spf13/cobra"

	"github.com/larsewi/librsync/logging"
	"github.com/larsewi/librsync/transfer"
)

// serveMain is the entry point for the serve command.
func serveMain(_ *cobra.Command, arguments []string) error {
	// Extract the file path.
	path := arguments[0]

	// Create a logger for the transfer.
	logger := logging.RootLogger.Sublogger("serve")

	// Wait for a single connection. The original copy of the file stays
	// untouched; the peer receives a delta against it.
	logger.Infof("Waiting for connection on %s...", serveConfiguration.address)
	connection, err := transfer.ListenAndAccept(serveConfiguration.address)
	if err != nil {
		return errors.Wrap(err, "unable to accept connection")
	}
	defer connection.Close()

	// Serve the transfer.
	return transfer.Serve(connection, path, logger)
}

// serveCommand is the serve command.
var serveCommand = &cobra.Command{
	Use:   "serve <file>",
	Short: "Serve a file to a connecting peer as a delta against its copy",
	Args:  cobra.ExactArgs(1),
	RunE:  serveMain,
}

// serveConfiguration stores configuration for the serve command.
var serveConfiguration struct {
	// help indicates whether or not to show help information and exit.
	help bool
	// address is the listen address.
	address string
}

func init() {
	// Grab a handle for the command line flags.
	flags := serveCommand.Flags()

	// Disable alphabetical sorting of flags in help output.
	flags.SortFlags = false

	// Manually add a help flag to override the default message. Cobra will
	// still implement its logic automatically.
	flags.BoolVarP(&serveConfiguration.help, "help", "h", false, "Show help information")

	// Wire up serve command flags.
	flags.StringVarP(&serveConfiguration.address, "address", "a", ":"+transfer.DefaultPort, "Listen address")
}
