package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/resourcetuner/resourcetuner/pkg/client"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/wire"
)

var tuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Submit a Tune request",
	Long:  `Submit a Tune request for one or more (resource, value) pairs and print the assigned handle.`,
	RunE:  runTune,
}

var retuneCmd = &cobra.Command{
	Use:   "retune <handle>",
	Short: "Restart an existing request's expiry timer",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetune,
}

var untuneCmd = &cobra.Command{
	Use:   "untune <handle>",
	Short: "Release an existing request",
	Args:  cobra.ExactArgs(1),
	RunE:  runUntune,
}

func init() {
	rootCmd.AddCommand(tuneCmd)
	rootCmd.AddCommand(retuneCmd)
	rootCmd.AddCommand(untuneCmd)

	tuneCmd.Flags().Int32("pid", 0, "client process id")
	tuneCmd.Flags().Int32("tid", 0, "client thread id (defaults to --pid)")
	tuneCmd.Flags().Uint8("priority", 0, "priority: 0=ThirdPartyLow 1=SystemLow 2=ThirdPartyHigh 3=SystemHigh")
	tuneCmd.Flags().Int64("duration", 0, "duration in milliseconds (0 = expire after 1 ms)")
	tuneCmd.Flags().Uint32SliceP("resource", "r", nil, "resource code (repeatable, paired positionally with --value)")
	tuneCmd.Flags().Int32SliceP("value", "e", nil, "value to apply (repeatable, paired positionally with --resource)")
	tuneCmd.Flags().Int32SliceP("sub-index", "s", nil, "logical sub-index per resource (repeatable, defaults to 0)")

	retuneCmd.Flags().Int64("duration", 0, "new duration in milliseconds")
}

func dialDaemon(ctx context.Context) (*client.Client, error) {
	controlSock, rpcSock, pidPath := resolvedPaths()
	if !client.IsDaemonRunning(pidPath) {
		return nil, errors.New("daemon is not running (start with: resourcetunerctl daemon start)")
	}
	return client.ConnectWithContext(ctx, rpcSock, controlSock)
}

func runTune(cmd *cobra.Command, _ []string) error {
	pid, _ := cmd.Flags().GetInt32("pid")
	tid, _ := cmd.Flags().GetInt32("tid")
	if tid == 0 {
		tid = pid
	}
	priority, _ := cmd.Flags().GetUint8("priority")
	duration, _ := cmd.Flags().GetInt64("duration")
	codes, _ := cmd.Flags().GetUint32Slice("resource")
	values, _ := cmd.Flags().GetInt32Slice("value")
	subIndexes, _ := cmd.Flags().GetInt32Slice("sub-index")

	if len(codes) == 0 || len(codes) != len(values) {
		return errors.New("--resource and --value must be specified an equal, non-zero number of times")
	}

	triples := make([]wire.Triple, len(codes))
	for i, code := range codes {
		var sub int32
		if i < len(subIndexes) {
			sub = subIndexes[i]
		}
		triples[i] = wire.Triple{ResourceCode: code, SubIndex: sub, Value: values[i]}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	daemonClient, err := dialDaemon(ctx)
	if err != nil {
		return err
	}
	defer daemonClient.Close()

	handle, err := daemonClient.Tune(pid, tid, priority, duration, triples)
	if err != nil {
		return fmt.Errorf("tune failed: %w", err)
	}

	printInfo("Handle: %d", handle)
	return nil
}

func runRetune(cmd *cobra.Command, args []string) error {
	handle, err := parseHandle(args[0])
	if err != nil {
		return err
	}
	duration, _ := cmd.Flags().GetInt64("duration")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	daemonClient, err := dialDaemon(ctx)
	if err != nil {
		return err
	}
	defer daemonClient.Close()

	if err := daemonClient.Retune(handle, duration); err != nil {
		return fmt.Errorf("retune failed: %w", err)
	}

	printInfo("Handle %d retuned", handle)
	return nil
}

func runUntune(_ *cobra.Command, args []string) error {
	handle, err := parseHandle(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	daemonClient, err := dialDaemon(ctx)
	if err != nil {
		return err
	}
	defer daemonClient.Close()

	if err := daemonClient.Untune(handle); err != nil {
		return fmt.Errorf("untune failed: %w", err)
	}

	printInfo("Handle %d untuned", handle)
	return nil
}

func parseHandle(s string) (int64, error) {
	var handle int64
	if _, err := fmt.Sscanf(s, "%d", &handle); err != nil {
		return 0, fmt.Errorf("invalid handle %q: %w", s, err)
	}
	return handle, nil
}
