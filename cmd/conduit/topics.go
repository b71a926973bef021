package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/venkisagunner93/conduit-go/internal/shm"
)

func newTopicsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "List active topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			topics, err := shm.ListTopics()
			if err != nil {
				return fmt.Errorf("list topics: %w", err)
			}
			if len(topics) == 0 {
				fmt.Println("No active topics.")
				return nil
			}
			for _, t := range topics {
				fmt.Println(t)
			}
			return nil
		},
	}
}
