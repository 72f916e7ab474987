package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/resourcetuner/resourcetuner/pkg/client"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the resourcetunerd daemon",
	Long:  `Manage the resourcetunerd daemon lifecycle: start, stop, restart, status.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the resourcetunerd daemon",
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the resourcetunerd daemon",
	RunE:  runDaemonStop,
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the resourcetunerd daemon",
	RunE:  runDaemonRestart,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE:  runDaemonStatus,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonRestartCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
}

func runDaemonStart(_ *cobra.Command, _ []string) error {
	controlSock, rpcSock, pidPath := resolvedPaths()
	printVerbose("starting daemon...")
	if err := client.StartDaemon(client.Paths{ControlSock: controlSock, RPCSock: rpcSock, PID: pidPath}); err != nil {
		printVerbose("start failed: %v", err)
		return err
	}
	printVerbose("daemon started successfully")
	printInfo("Daemon started")
	return nil
}

func runDaemonStop(_ *cobra.Command, _ []string) error {
	controlSock, rpcSock, pidPath := resolvedPaths()

	if !client.IsDaemonRunning(pidPath) {
		return errors.New("daemon is not running")
	}

	printVerbose("stopping daemon...")
	if err := client.StopDaemon(client.Paths{ControlSock: controlSock, RPCSock: rpcSock, PID: pidPath}); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	printInfo("Daemon stopped")
	return nil
}

func runDaemonRestart(cmd *cobra.Command, args []string) error {
	_, _, pidPath := resolvedPaths()

	if client.IsDaemonRunning(pidPath) {
		if err := runDaemonStop(cmd, args); err != nil {
			return fmt.Errorf("failed to stop daemon: %w", err)
		}
	}

	if err := runDaemonStart(cmd, args); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	return nil
}

func runDaemonStatus(_ *cobra.Command, _ []string) error {
	controlSock, rpcSock, pidPath := resolvedPaths()

	if !client.IsDaemonRunning(pidPath) {
		printInfo("Daemon status: not running")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	daemonClient, err := client.ConnectWithContext(ctx, rpcSock, controlSock)
	if err != nil {
		printInfo("Daemon status: running (but not responding)")
		return nil
	}
	defer daemonClient.Close()

	serving, err := daemonClient.HealthCheck(ctx)
	if err != nil || !serving {
		printInfo("Daemon status: running (health check failed)")
		return nil
	}

	status, err := daemonClient.GetStatus()
	if err != nil {
		return fmt.Errorf("failed to get daemon status: %w", err)
	}

	printInfo("Daemon status: running")
	printInfo("  Uptime: %s", humanize.Time(time.Now().Add(-time.Duration(status.UptimeSeconds)*time.Second)))
	printInfo("  Queue depth: %d", status.QueueDepth)
	printInfo("  In-flight requests: %d", status.InFlight)
	printInfo("  Active client PIDs: %d", status.ActivePIDs)

	return nil
}
