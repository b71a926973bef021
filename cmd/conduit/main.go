// Command conduit is the operator-facing CLI for inspecting and exercising
// a running conduit deployment: listing active topics, inspecting a ring's
// configuration, echoing or rate-measuring a topic's traffic, launching a
// flow file, and recording topics to disk.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCmd(log *zap.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "conduit",
		Short:         "Inspect and exercise a conduit shared-memory pub/sub deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newTopicsCmd(),
		newInfoCmd(),
		newEchoCmd(),
		newHzCmd(),
		newFlowCmd(log),
		newRecordCmd(log),
	)

	return root
}

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "conduit: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := newRootCmd(log).Execute(); err != nil {
		log.Sugar().Errorf("%v", err)
		os.Exit(1)
	}
}
