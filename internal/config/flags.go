package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bucky3",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Global flags
	flags.String("config", "", "Path to configuration file (JSON or YAML)")
	flags.String("log-level", "info", "Logging output verbosity (debug, info, warning, error)")
	flags.StringArray("metadata", nil, "Metadata tag in key=value form, applied to every sample (repeatable)")
	flags.Duration("join-timeout", 10*time.Second, "Grace period for child processes during shutdown")

	// Collector flags
	flags.Bool("disable-statsd", false, "Disable the statsd UDP collector")
	flags.String("statsd-ip", "127.0.0.1", "IP address to bind for the statsd UDP socket")
	flags.Int("statsd-port", 8125, "Port to bind for the statsd UDP socket")
	flags.Bool("enable-system-stats", false, "Enable collection of local system stats")
	flags.Duration("system-interval", 10*time.Second, "Sampling interval for system stats")

	// Client flags
	flags.Bool("disable-carbon", false, "Disable the carbon plaintext client")
	flags.String("carbon-host", "127.0.0.1:2003", "host:port of the carbon server")
	flags.Bool("enable-elastic", false, "Enable the bulk NDJSON HTTP client")
	flags.String("elastic-host", "127.0.0.1:9200", "host:port of the bulk HTTP endpoint")
	flags.String("elastic-compression", "identity", "Request compression for bulk uploads (gzip, deflate or identity)")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}
