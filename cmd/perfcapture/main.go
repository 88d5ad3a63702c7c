// Command perfcapture records per-core capture streams and decodes capture
// files.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "perfcapture",
		Short: "Record and inspect per-core capture streams",
		Long: `perfcapture samples every selected core into its own ring buffer and
streams the framed data to a file, a socket, a gRPC receiver or Kafka.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")

	cmd.AddCommand(newRecordCmd(opts))
	cmd.AddCommand(newDecodeCmd())
	cmd.AddCommand(newReceiveCmd(opts))
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
