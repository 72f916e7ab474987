// Package client provides a client for connecting to the resourcetunerd
// daemon. It wraps a persistent connection to rpc.sock for the
// Tune/Retune/Untune/Status/Dump protocol and a gRPC health check over
// control.sock for daemon liveness.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/resourcetuner/resourcetuner/pkg/tuner/config"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/wire"
	"github.com/resourcetuner/resourcetuner/pkg/tunerd"
)

// Client connects to the resourcetunerd daemon.
type Client struct {
	rpcConn     net.Conn
	healthConn  *grpc.ClientConn
	healthCheck grpc_health_v1.HealthClient
	mu          sync.Mutex // serializes rpc.sock frames: request/response must not interleave
}

// Status mirrors the daemon's point-in-time diagnostic snapshot.
type Status struct {
	UptimeSeconds int64
	QueueDepth    int
	InFlight      int64
	ActivePIDs    int
}

// AppliedEvent mirrors one entry of the daemon's diagnostic event buffer.
type AppliedEvent struct {
	Action       string
	ResourceCode uint32
	SubIndex     int32
	Value        int32
	Priority     uint8
}

// Paths configures socket and PID file locations for daemon operations.
// Empty fields use defaults.
type Paths struct {
	Binary      string // path to resourcetunerd binary (auto-discovered if empty)
	ControlSock string
	RPCSock     string
	PID         string
}

func (p Paths) withDefaults() Paths {
	if p.ControlSock == "" {
		p.ControlSock = config.DefaultControlSocketPath()
	}
	if p.RPCSock == "" {
		p.RPCSock = config.DefaultRPCSocketPath()
	}
	if p.PID == "" {
		p.PID = config.DefaultPIDPath()
	}
	return p
}

// Connect establishes a connection to resourcetunerd's rpc.sock and
// control.sock, using a default timeout of 5 seconds.
func Connect(rpcSockPath, controlSockPath string) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ConnectWithContext(ctx, rpcSockPath, controlSockPath)
}

// ConnectWithContext establishes a connection with a custom context.
func ConnectWithContext(ctx context.Context, rpcSockPath, controlSockPath string) (*Client, error) {
	if _, err := os.Stat(rpcSockPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("daemon rpc socket not found at %s", rpcSockPath)
	}

	dialer := net.Dialer{}
	rpcConn, err := dialer.DialContext(ctx, "unix", rpcSockPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rpc socket: %w", err)
	}

	target := "unix://" + controlSockPath
	//nolint:staticcheck // grpc.DialContext is deprecated but NewClient doesn't support blocking
	healthConn, err := grpc.DialContext(
		ctx,
		target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		_ = rpcConn.Close()
		return nil, fmt.Errorf("failed to connect to control socket: %w", err)
	}

	return &Client{
		rpcConn:     rpcConn,
		healthConn:  healthConn,
		healthCheck: grpc_health_v1.NewHealthClient(healthConn),
	}, nil
}

// Close closes both connections to the daemon.
func (c *Client) Close() error {
	var errs []error
	if c.rpcConn != nil {
		if err := c.rpcConn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.healthConn != nil {
		if err := c.healthConn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// call sends one wire.Request and returns the matching wire.Response.
// Serialized by c.mu: concurrent callers queue rather than interleave
// frames on the shared connection.
func (c *Client) call(req *wire.Request) (*wire.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := wire.WriteFrame(c.rpcConn, req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	var resp wire.Response
	if err := wire.ReadFrame(c.rpcConn, &resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if !resp.OK {
		return nil, errors.New(resp.Error)
	}
	return &resp, nil
}

// Tune submits a Tune request and returns the handle the daemon assigned.
func (c *Client) Tune(pid, tid int32, priority uint8, durationMs int64, resources []wire.Triple) (int64, error) {
	resp, err := c.call(&wire.Request{
		Op:         wire.OpTune,
		PID:        pid,
		TID:        tid,
		Priority:   priority,
		DurationMs: durationMs,
		Resources:  resources,
	})
	if err != nil {
		return 0, err
	}
	return resp.Handle, nil
}

// Retune restarts handle's expiry timer with a new duration.
func (c *Client) Retune(handle int64, durationMs int64) error {
	_, err := c.call(&wire.Request{Op: wire.OpRetune, Handle: handle, DurationMs: durationMs})
	return err
}

// Untune releases handle, tearing down its resources if it was the owner.
func (c *Client) Untune(handle int64) error {
	_, err := c.call(&wire.Request{Op: wire.OpUntune, Handle: handle})
	return err
}

// GetStatus returns the daemon's point-in-time diagnostic snapshot.
func (c *Client) GetStatus() (*Status, error) {
	resp, err := c.call(&wire.Request{Op: wire.OpStatus})
	if err != nil {
		return nil, err
	}
	if resp.Status == nil {
		return nil, errors.New("daemon returned no status")
	}
	return &Status{
		UptimeSeconds: resp.Status.UptimeSeconds,
		QueueDepth:    resp.Status.QueueDepth,
		InFlight:      resp.Status.InFlight,
		ActivePIDs:    resp.Status.ActivePIDs,
	}, nil
}

// Dump returns the most recent buffered applier/tear events.
func (c *Client) Dump() ([]AppliedEvent, error) {
	resp, err := c.call(&wire.Request{Op: wire.OpDump})
	if err != nil {
		return nil, err
	}
	out := make([]AppliedEvent, len(resp.Dump))
	for i, e := range resp.Dump {
		out[i] = AppliedEvent{Action: e.Action, ResourceCode: e.ResourceCode, SubIndex: e.SubIndex, Value: e.Value, Priority: e.Priority}
	}
	return out, nil
}

// HealthCheck queries the daemon's liveness over control.sock.
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	resp, err := c.healthCheck.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: "tunerd"})
	if err != nil {
		return false, fmt.Errorf("health check RPC failed: %w", err)
	}
	return resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING, nil
}

// EnsureDaemon ensures the daemon is running, starting it if necessary.
// Idempotent: returns nil if the daemon is already running.
func EnsureDaemon(paths Paths) error {
	return StartDaemon(paths)
}

// StartDaemon starts the resourcetunerd daemon in the background.
// Idempotent: returns nil if the daemon is already running.
func StartDaemon(paths Paths) error {
	paths = paths.withDefaults()

	if IsDaemonRunning(paths.PID) {
		return nil
	}

	binary, err := resolveBinary(paths.Binary)
	if err != nil {
		return fmt.Errorf("find resourcetunerd: %w", err)
	}

	statusPath := tunerd.StatusPath(config.DataDir())
	_ = os.Remove(statusPath)

	// Use exec.Command (not CommandContext) intentionally: daemon must outlive caller.
	cmd := exec.Command(binary) //nolint:gosec // binary path is validated
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	if cmd.Process != nil {
		_ = cmd.Process.Release()
	}

	for range 50 {
		time.Sleep(100 * time.Millisecond)

		if _, err := os.Stat(paths.RPCSock); err == nil {
			return nil
		}

		if status, err := tunerd.ReadStatus(statusPath); err == nil {
			switch status.Status {
			case "ready":
				return nil
			case "error":
				return fmt.Errorf("daemon failed to start: %s", status.Error)
			}
		}
	}

	return errors.New("daemon did not become ready within timeout")
}

// StopDaemon stops the daemon gracefully by signaling it.
// Idempotent: returns nil if the daemon is not running.
func StopDaemon(paths Paths) error {
	paths = paths.withDefaults()

	pid, err := readPIDFile(paths.PID)
	if err != nil {
		return nil // not running, nothing to do
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return nil // already gone
	}

	for range 40 {
		time.Sleep(250 * time.Millisecond)
		if !IsDaemonRunning(paths.PID) {
			return nil
		}
	}

	return errors.New("daemon did not stop within timeout")
}

// RestartDaemon stops and starts the daemon.
func RestartDaemon(paths Paths) error {
	if err := StopDaemon(paths); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	if err := StartDaemon(paths); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return nil
}

// resolveBinary finds the resourcetunerd binary path.
// Priority: configured path > same directory as executable > PATH.
func resolveBinary(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("configured binary not found: %s", configured)
		}
		return configured, nil
	}

	if execPath, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(execPath), "resourcetunerd")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	if path, err := exec.LookPath("resourcetunerd"); err == nil {
		return path, nil
	}

	return "", errors.New("resourcetunerd not found")
}

// IsDaemonRunning checks if the daemon is running based on the PID file.
func IsDaemonRunning(pidPath string) bool {
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = process.Signal(syscall.Signal(0))
	return err == nil
}

// readPIDFile reads a PID from a file.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, err
	}

	return pid, nil
}
