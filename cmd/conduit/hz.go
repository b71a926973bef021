package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/venkisagunner93/conduit-go/pubsub"
)

func newHzCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hz <topic>",
		Short: "Print a topic's rolling publish rate once per second",
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

			var mu sync.Mutex
			var timestamps []time.Time

			go func() {
				for {
					msg, ok := sub.Wait(ctx)
					if !ok {
						if ctx.Err() != nil {
							return
						}
						continue
					}
					_ = msg
					now := time.Now()
					mu.Lock()
					timestamps = append(timestamps, now)
					timestamps = dropOlderThan(timestamps, now.Add(-time.Second))
					mu.Unlock()
				}
			}()

			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case now := <-ticker.C:
					mu.Lock()
					timestamps = dropOlderThan(timestamps, now.Add(-time.Second))
					n := len(timestamps)
					mu.Unlock()
					fmt.Printf("%s: %.1f Hz\n", topic, float64(n))
				}
			}
		},
	}
}

func dropOlderThan(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}
