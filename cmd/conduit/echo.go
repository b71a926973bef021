package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/venkisagunner93/conduit-go/pubsub"
)

func newEchoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "echo <topic>",
		Short: "Print every message published on a topic as it arrives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := args[0]

			sub, err := pubsub.NewSubscriber(topic)
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", topic, err)
			}
			defer sub.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			for {
				msg, ok := sub.Wait(ctx)
				if !ok {
					if ctx.Err() != nil {
						return nil
					}
					continue
				}
				fmt.Printf("[seq=%d ts=%d size=%d]\n", msg.Sequence, msg.TimestampNS, len(msg.Data))
				printHex(msg.Data)
				fmt.Println("---")
			}
		},
	}
}

func printHex(data []byte) {
	for i, b := range data {
		if i > 0 && i%16 == 0 {
			fmt.Println()
		}
		fmt.Printf("%02x ", b)
	}
	fmt.Println()
}
