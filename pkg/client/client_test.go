// Package client provides a client for connecting to the resourcetunerd daemon.
package client

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/resourcetuner/resourcetuner/pkg/tuner/wire"
)

// fakeDaemon speaks the wire protocol over rpc.sock and serves a gRPC
// health check over control.sock, standing in for resourcetunerd in tests
// that exercise only the client's wire encoding and dispatch, not the
// daemon's own arbitration logic (covered in pkg/tunerd).
type fakeDaemon struct {
	rpcListener     net.Listener
	controlListener net.Listener
	grpcServer      *grpc.Server
	healthServer    *health.Server

	handler func(*wire.Request) *wire.Response
}

func startFakeDaemon(t *testing.T, handler func(*wire.Request) *wire.Response) (rpcSock, controlSock string) {
	dir := t.TempDir()
	rpcSock = dir + "/rpc.sock"
	controlSock = dir + "/control.sock"

	rpcListener, err := net.Listen("unix", rpcSock)
	require.NoError(t, err)
	controlListener, err := net.Listen("unix", controlSock)
	require.NoError(t, err)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("tunerd", grpc_health_v1.HealthCheckResponse_SERVING)
	grpcServer := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	d := &fakeDaemon{
		rpcListener:     rpcListener,
		controlListener: controlListener,
		grpcServer:      grpcServer,
		healthServer:    healthServer,
		handler:         handler,
	}

	go grpcServer.Serve(controlListener)
	go d.serveRPC()

	t.Cleanup(func() {
		grpcServer.Stop()
		_ = rpcListener.Close()
	})

	return rpcSock, controlSock
}

func (d *fakeDaemon) serveRPC() {
	for {
		conn, err := d.rpcListener.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			for {
				var req wire.Request
				if err := wire.ReadFrame(conn, &req); err != nil {
					return
				}
				resp := d.handler(&req)
				if err := wire.WriteFrame(conn, resp); err != nil {
					return
				}
			}
		}()
	}
}

func TestClient_Tune_ReturnsHandleFromResponse(t *testing.T) {
	rpcSock, controlSock := startFakeDaemon(t, func(req *wire.Request) *wire.Response {
		assert.Equal(t, wire.OpTune, req.Op)
		return &wire.Response{OK: true, Handle: 42}
	})

	c, err := Connect(rpcSock, controlSock)
	require.NoError(t, err)
	defer c.Close()

	handle, err := c.Tune(100, 200, 2, 5000, []wire.Triple{{ResourceCode: 1, Value: 500}})
	require.NoError(t, err)
	assert.Equal(t, int64(42), handle)
}

func TestClient_Tune_PropagatesDaemonError(t *testing.T) {
	rpcSock, controlSock := startFakeDaemon(t, func(req *wire.Request) *wire.Response {
		return &wire.Response{OK: false, Error: "unknown resource code"}
	})

	c, err := Connect(rpcSock, controlSock)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Tune(100, 200, 2, 5000, []wire.Triple{{ResourceCode: 99999, Value: 1}})
	assert.ErrorContains(t, err, "unknown resource code")
}

func TestClient_Retune_SendsHandleAndDuration(t *testing.T) {
	var gotHandle int64
	var gotDuration int64
	rpcSock, controlSock := startFakeDaemon(t, func(req *wire.Request) *wire.Response {
		gotHandle = req.Handle
		gotDuration = req.DurationMs
		return &wire.Response{OK: true}
	})

	c, err := Connect(rpcSock, controlSock)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Retune(7, 9000))
	assert.Equal(t, int64(7), gotHandle)
	assert.Equal(t, int64(9000), gotDuration)
}

func TestClient_Untune_SendsHandle(t *testing.T) {
	var gotOp wire.Op
	var gotHandle int64
	rpcSock, controlSock := startFakeDaemon(t, func(req *wire.Request) *wire.Response {
		gotOp = req.Op
		gotHandle = req.Handle
		return &wire.Response{OK: true}
	})

	c, err := Connect(rpcSock, controlSock)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Untune(7))
	assert.Equal(t, wire.OpUntune, gotOp)
	assert.Equal(t, int64(7), gotHandle)
}

func TestClient_GetStatus_DecodesSnapshot(t *testing.T) {
	rpcSock, controlSock := startFakeDaemon(t, func(req *wire.Request) *wire.Response {
		return &wire.Response{OK: true, Status: &wire.Status{UptimeSeconds: 60, QueueDepth: 3, InFlight: 2, ActivePIDs: 1}}
	})

	c, err := Connect(rpcSock, controlSock)
	require.NoError(t, err)
	defer c.Close()

	status, err := c.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, int64(60), status.UptimeSeconds)
	assert.Equal(t, 3, status.QueueDepth)
}

func TestClient_Dump_DecodesEvents(t *testing.T) {
	rpcSock, controlSock := startFakeDaemon(t, func(req *wire.Request) *wire.Response {
		return &wire.Response{OK: true, Dump: []wire.AppliedEvent{{Action: "Applied", ResourceCode: 1, Value: 500}}}
	})

	c, err := Connect(rpcSock, controlSock)
	require.NoError(t, err)
	defer c.Close()

	events, err := c.Dump()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Applied", events[0].Action)
}

func TestClient_HealthCheck_ReportsServing(t *testing.T) {
	rpcSock, controlSock := startFakeDaemon(t, func(req *wire.Request) *wire.Response {
		return &wire.Response{OK: true}
	})

	c, err := Connect(rpcSock, controlSock)
	require.NoError(t, err)
	defer c.Close()

	ok, err := c.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}
