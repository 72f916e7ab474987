package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/resourcetuner/resourcetuner/pkg/client"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Show recently applied/torn-down resource values",
	RunE:  runDump,
}

const dumpPollInterval = 500 * time.Millisecond

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().Bool("follow", false, "keep polling and print only new entries, like tail -f")
}

func runDump(cmd *cobra.Command, _ []string) error {
	follow, _ := cmd.Flags().GetBool("follow")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	daemonClient, err := dialDaemon(ctx)
	if err != nil {
		return err
	}
	defer daemonClient.Close()

	events, err := daemonClient.Dump()
	if err != nil {
		return fmt.Errorf("failed to dump events: %w", err)
	}
	for _, e := range events {
		printEvent(e)
	}

	if !follow {
		return nil
	}

	printed := len(events)
	for {
		time.Sleep(dumpPollInterval)

		events, err := daemonClient.Dump()
		if err != nil {
			return fmt.Errorf("failed to poll events: %w", err)
		}

		// The buffer is a fixed-size ring: if it shrank relative to our
		// last read, entries we'd already seen were evicted, so start
		// fresh rather than guess an offset into a reordered slice.
		if len(events) < printed {
			printed = 0
		}
		for _, e := range events[printed:] {
			printEvent(e)
		}
		printed = len(events)
	}
}

func printEvent(e client.AppliedEvent) {
	printInfo("%-7s resource=%d sub_index=%d value=%d priority=%d", e.Action, e.ResourceCode, e.SubIndex, e.Value, e.Priority)
}
