package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon's point-in-time diagnostic snapshot",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	daemonClient, err := dialDaemon(ctx)
	if err != nil {
		return err
	}
	defer daemonClient.Close()

	status, err := daemonClient.GetStatus()
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	printInfo("Uptime:              %s", humanize.Time(time.Now().Add(-time.Duration(status.UptimeSeconds)*time.Second)))
	printInfo("Queue depth:         %d", status.QueueDepth)
	printInfo("In-flight requests:  %s", humanize.Comma(status.InFlight))
	printInfo("Active client PIDs:  %d", status.ActivePIDs)
	return nil
}
