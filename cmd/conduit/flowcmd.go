package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/venkisagunner93/conduit-go/flow"
)

func newFlowCmd(log *zap.Logger) *cobra.Command {
	flowCmd := &cobra.Command{
		Use:   "flow",
		Short: "Run a flow file",
	}
	flowCmd.AddCommand(newFlowRunCmd(log))
	return flowCmd
}

func newFlowRunCmd(log *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "run <file.flow.yaml>",
		Short: "Parse and run a flow file, launching and supervising its nodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			log.Info("loading flow", zap.String("file", path))
			cfg, err := flow.ParseFile(path)
			if err != nil {
				return err
			}
			log.Info("parsed flow", zap.Int("startup_steps", len(cfg.Startup)), zap.Int("shutdown_steps", len(cfg.Shutdown)))

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			executor := flow.NewExecutor(flow.Options{Logger: log})
			if err := executor.Run(ctx, cfg); err != nil {
				return fmt.Errorf("run flow: %w", err)
			}
			return nil
		},
	}
}
