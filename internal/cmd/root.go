package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cliflag "github.com/tomasbasham/cli-runtime/flag"
	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/printer"
	"github.com/tomasbasham/cli-runtime/templates"
)

var (
	rootLong = templates.LongDesc(`
		Scan trading cards with a camera or a hot folder, resolve them against
		the card catalog and add them to your inventory.

		Settings are read from cardscan.yaml, a .env file next to it and
		CARDSCAN_* environment variables.`)

	rootExamples = templates.Examples(`
		# Scan cards one at a time
		cardscan scan

		# Collect a batch and submit it at the end
		cardscan scan --batch

		# Run the scan station HTTP API
		cardscan serve --addr :9090`)

	// Injected at build time using ldflags.
	version = ""
	commit  = ""
)

// RootOptions defines the options shared by every `cardscan` command.
type RootOptions struct {
	ConfigPath string
	LogLevel   string

	iooption.IOStreams
}

// NewRootOptions provides an initialised RootOptions instance.
func NewRootOptions(streams iooption.IOStreams) *RootOptions {
	return &RootOptions{
		IOStreams: streams,
	}
}

// NewRootCommand creates the `cardscan` command with default arguments.
func NewRootCommand() *cobra.Command {
	options := NewRootOptions(iooption.IOStreams{
		In:     os.Stdin,
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	})

	return NewRootCommandWithArgs(options)
}

// NewRootCommandWithArgs creates the `cardscan` command and its nested
// children.
func NewRootCommandWithArgs(o *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "cardscan [command]",
		Version:               versionInfo(),
		DisableFlagsInUseLine: true,
		Short:                 "Trading card scanner",
		Long:                  rootLong,
		Example:               rootExamples,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}

	printerOpts := printer.WarningPrinterOptions{Color: true}
	printer := printer.NewWarningPrinter(o.ErrOut, printerOpts)
	cmd.SetGlobalNormalizationFunc(cliflag.WarnWordSepNormalizeFunc(printer))

	pflags := cmd.PersistentFlags()
	pflags.StringVarP(&o.ConfigPath, "config", "c", "", "Path to the config file (default: search ./cardscan.yaml and the user config dir)")
	pflags.StringVar(&o.LogLevel, "log-level", "", "Override the configured log level")

	cmd.AddCommand(NewScanCommand(NewScanOptions(o)))
	cmd.AddCommand(NewServeCommand(NewServeOptions(o)))
	cmd.AddCommand(NewInventoryCommand(NewInventoryOptions(o)))
	cmd.AddCommand(NewCardCommand(NewCardOptions(o)))
	cmd.AddCommand(NewWhoamiCommand(NewWhoamiOptions(o)))

	// The globlal normalisation function ensures that all flags specified meet
	// the desired format, changing users' input if necessary.
	cmd.SetGlobalNormalizationFunc(cliflag.WordSepNormalizeFunc())

	return cmd
}

func versionInfo() string {
	if version == "" {
		return ""
	}
	return fmt.Sprintf("%s (commit: %s)", version, commit)
}
