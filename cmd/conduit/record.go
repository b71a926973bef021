package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/venkisagunner93/conduit-go/tank"
)

func newRecordCmd(log *zap.Logger) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "record <topic...>",
		Short: "Record one or more topics to a file until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return fmt.Errorf("output file required (-o)")
			}

			rec := tank.NewRecorder(output, tank.Options{Logger: log})
			for _, topic := range args {
				if err := rec.AddTopic(topic); err != nil {
					return err
				}
				log.Info("recording topic", zap.String("topic", topic))
			}

			if err := rec.Start(); err != nil {
				return fmt.Errorf("start recording: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			log.Info("recording to", zap.String("output", output))
			log.Info("press ctrl+c to stop")

			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()

		loop:
			for {
				select {
				case <-ctx.Done():
					break loop
				case <-ticker.C:
					log.Info("messages", zap.Uint64("count", rec.MessageCount()))
				}
			}

			if err := rec.Stop(); err != nil {
				return fmt.Errorf("stop recording: %w", err)
			}
			log.Info("stopped", zap.Uint64("total", rec.MessageCount()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file path")
	return cmd
}
