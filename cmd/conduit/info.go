package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/venkisagunner93/conduit-go/internal/ring"
	"github.com/venkisagunner93/conduit-go/internal/shm"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <topic>",
		Short: "Print a topic's ring configuration and activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := args[0]

			if !shm.Exists(topic) {
				return fmt.Errorf("topic not found: %s", topic)
			}

			reg, err := shm.Open(topic)
			if err != nil {
				return fmt.Errorf("open %s: %w", topic, err)
			}
			defer reg.Close()

			if len(reg.Data()) < ring.HeaderSize {
				return errors.New("region too small to be a valid ring")
			}
			stats := ring.Inspect(reg.Data())

			fmt.Printf("Topic:              %s\n", topic)
			fmt.Printf("Slot count:         %d\n", stats.SlotCount)
			fmt.Printf("Slot size:          %d bytes\n", stats.SlotSize)
			fmt.Printf("Max subscribers:    %d\n", stats.MaxSubscribers)
			fmt.Printf("Active subscribers: %d\n", stats.ActiveSubscribers)
			fmt.Printf("Messages published: %d\n", stats.MessagesPublished)
			return nil
		},
	}
}
