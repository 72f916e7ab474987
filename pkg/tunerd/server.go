// Package tunerd wires every core component into one daemon process and
// serves it over two Unix sockets: control.sock for liveness/readiness
// probing and rpc.sock for the Tune/Retune/Untune/Status/Dump protocol.
package tunerd

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/resourcetuner/resourcetuner/pkg/tuner/cdm"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/coco"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/config"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/events"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/gc"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/logging"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/pulse"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/queue"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/ratelimiter"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/request"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/resource"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/target"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/timer"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/tunererr"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/wire"
)

const recentEventsCap = 256

// Config holds daemon configuration: socket paths and the tuning knobs of
// the components Server owns.
type Config struct {
	ControlSocketPath string
	RPCSocketPath     string

	MaxConcurrentRequests  int
	MaxResourcesPerRequest int
	PulseInterval          time.Duration
	GCInterval             time.Duration
	GCBatchCap             int
	RateLimiter            ratelimiter.Config
}

// owner records the client that opened a handle, so the consumer thread
// can erase CDM's handle tracking and the rate limiter's global slot when
// the handle's lifecycle ends, however it ends.
type owner struct {
	pid, tid int32
}

// Server owns one instance of every core component (no singletons) and is
// the sole process wiring them together: it does not itself hold any
// CocoTable state, only handles to the components that do.
type Server struct {
	cfg Config
	log *logging.Logger

	registry  *resource.Registry
	targets   *target.Registry
	cdmgr     *cdm.Manager
	limiter   *ratelimiter.Limiter
	q         *queue.Queue
	table     *coco.Table
	timers    *timer.Service
	bus       *events.Broadcaster
	deadPIDs  *pulse.DeadPIDQueue
	monitor   *pulse.Monitor
	collector *gc.Collector
	handles   request.HandleAllocator

	startedAt time.Time

	mu         sync.Mutex
	owners     map[int64]owner
	recent     []wire.AppliedEvent
	subscriber *events.Subscriber

	controlListener net.Listener
	rpcListener     net.Listener
	grpcServer      *grpc.Server
	healthServer    *health.Server

	wg sync.WaitGroup
}

// NewServer wires a Server from an already-sealed resource Registry and a
// populated target Registry. Both are supplied by the caller (cmd/resourcetunerd)
// since resource/target registration is out of scope for this package.
func NewServer(cfg Config, registry *resource.Registry, targets *target.Registry) *Server {
	s := &Server{
		cfg:      cfg,
		log:      logging.Get("tunerd"),
		registry: registry,
		targets:  targets,
		cdmgr:    cdm.NewManager(),
		q:        queue.New(cfg.MaxConcurrentRequests * 4),
		bus:      events.New(),
		deadPIDs: pulse.NewDeadPIDQueue(),
		owners:   make(map[int64]owner),
	}

	limiterCfg := cfg.RateLimiter
	limiterCfg.MaxConcurrentRequests = int64(cfg.MaxConcurrentRequests)
	s.limiter = ratelimiter.New(limiterCfg, s.cdmgr)

	s.timers = timer.New(s.onTimerFire)
	s.table = coco.New(registry, targets, s.timers, s.bus)
	s.monitor = pulse.New(s.cdmgr, s.deadPIDs, cfg.PulseInterval)
	s.collector = gc.New(s.cdmgr, s.deadPIDs, s.q, cfg.GCInterval, cfg.GCBatchCap)

	return s
}

// Serve creates both Unix sockets, starts the consumer loop and the
// background timer threads, and blocks until Close is called.
func (s *Server) Serve() error {
	s.startedAt = time.Now()
	s.subscriber = s.bus.Subscribe()

	if err := s.listen(); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.consumeRecentEvents()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitor.Run()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.collector.Run()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.consumeQueue()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.grpcServer.Serve(s.controlListener); err != nil {
			s.log.Warn("control socket server stopped", "error", err)
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serveRPC()
	}()

	s.wg.Wait()
	return nil
}

func (s *Server) listen() error {
	for _, path := range []string{s.cfg.ControlSocketPath, s.cfg.RPCSocketPath} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("tunerd: create socket dir: %w", err)
		}
		_ = os.Remove(path)
	}

	var lc net.ListenConfig
	controlListener, err := lc.Listen(context.Background(), "unix", s.cfg.ControlSocketPath)
	if err != nil {
		return fmt.Errorf("tunerd: listen control socket: %w", err)
	}
	s.controlListener = controlListener

	rpcListener, err := lc.Listen(context.Background(), "unix", s.cfg.RPCSocketPath)
	if err != nil {
		return fmt.Errorf("tunerd: listen rpc socket: %w", err)
	}
	s.rpcListener = rpcListener

	s.healthServer = health.NewServer()
	s.healthServer.SetServingStatus("tunerd", grpc_health_v1.HealthCheckResponse_SERVING)
	s.grpcServer = grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.healthServer)

	return nil
}

// Close stops every background thread, tears down every live CocoNode and
// restores defaults, and removes both sockets.
func (s *Server) Close() error {
	if s.healthServer != nil {
		s.healthServer.SetServingStatus("tunerd", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	if s.rpcListener != nil {
		_ = s.rpcListener.Close()
	}

	s.monitor.Stop()
	s.collector.Stop()
	s.q.Stop()
	s.table.Shutdown()
	s.timers.StopAll()
	s.bus.Close()

	s.wg.Wait()

	_ = os.Remove(s.cfg.ControlSocketPath)
	_ = os.Remove(s.cfg.RPCSocketPath)
	return nil
}

// Dispatch processes one wire.Request in-process, without going through a
// socket. perm is the permission class established for the connection the
// request arrived on (peerPermission for real RPC traffic); it is the only
// basis on which a Tune request's System-class priority is ever granted —
// the request's own priority field is self-reported by the caller and
// never confers permission by itself. Used directly by resourcetunerd's
// own tests and indirectly by serveRPC for every frame it reads.
func (s *Server) Dispatch(req *wire.Request, perm resource.Permission) (int64, error) {
	switch req.Op {
	case wire.OpTune:
		return s.dispatchTune(req, perm)
	case wire.OpRetune:
		return req.Handle, s.dispatchRetune(req)
	case wire.OpUntune:
		return req.Handle, s.dispatchUntune(req)
	default:
		return 0, fmt.Errorf("tunerd: unsupported op %q", req.Op)
	}
}

func (s *Server) dispatchTune(req *wire.Request, perm resource.Permission) (int64, error) {
	if len(req.Resources) == 0 {
		return 0, tunererr.ErrTooManyResources
	}
	if len(req.Resources) > s.cfg.MaxResourcesPerRequest {
		return 0, tunererr.ErrTooManyResources
	}
	if req.DurationMs < 0 {
		return 0, tunererr.ErrBadDuration
	}
	priority := request.Priority(req.Priority)
	if priority > request.SystemHigh {
		return 0, tunererr.ErrBadPriority
	}

	triples := make([]request.Triple, 0, len(req.Resources))
	for _, t := range req.Resources {
		if _, ok := s.registry.Get(resource.Code(t.ResourceCode)); !ok {
			return 0, tunererr.ErrUnknownResource
		}
		triples = append(triples, request.Triple{ResourceCode: resource.Code(t.ResourceCode), SubIndex: t.SubIndex, Value: t.Value})
	}

	if !s.cdmgr.Exists(req.PID, req.TID) {
		if err := s.cdmgr.Create(req.PID, req.TID, perm); err != nil {
			return 0, err
		}
	}

	if priority == request.SystemHigh || priority == request.SystemLow {
		actual, _ := s.cdmgr.PermissionOf(req.PID)
		if actual != resource.PermissionSystem {
			return 0, tunererr.ErrPermissionDenied
		}
	}

	nowMs := time.Now().UnixMilli()
	if err := s.limiter.AdmitPerClient(req.TID, nowMs); err != nil {
		return 0, err
	}
	if err := s.limiter.AcquireGlobal(); err != nil {
		return 0, err
	}

	handle := s.handles.Next()
	s.cdmgr.InsertHandle(req.TID, handle)

	s.mu.Lock()
	s.owners[handle] = owner{pid: req.PID, tid: req.TID}
	s.mu.Unlock()

	domainReq := &request.Request{
		Handle:     handle,
		ClientPID:  req.PID,
		ClientTID:  req.TID,
		Priority:   priority,
		Kind:       request.Tune,
		DurationMs: req.DurationMs,
		Resources:  triples,
	}

	if err := s.q.Push(domainReq); err != nil {
		s.limiter.ReleaseGlobal()
		s.cdmgr.DeleteHandle(req.TID, handle)
		s.mu.Lock()
		delete(s.owners, handle)
		s.mu.Unlock()
		return 0, err
	}

	return handle, nil
}

func (s *Server) dispatchRetune(req *wire.Request) error {
	return s.table.UpdateRequest(req.Handle, req.DurationMs)
}

func (s *Server) dispatchUntune(req *wire.Request) error {
	s.mu.Lock()
	own, ok := s.owners[req.Handle]
	s.mu.Unlock()
	if !ok {
		return tunererr.ErrUnknownHandle
	}

	return s.q.Push(&request.Request{
		Handle:    req.Handle,
		ClientPID: own.pid,
		ClientTID: own.tid,
		Kind:      request.Untune,
	})
}

// onTimerFire is the expiry timer's fire callback: it never mutates
// CocoTable directly, only submits a synthetic Untune onto the queue,
// preserving the single-writer discipline.
func (s *Server) onTimerFire(handle int64) {
	s.mu.Lock()
	own, ok := s.owners[handle]
	s.mu.Unlock()
	if !ok {
		return
	}

	_ = s.q.Push(&request.Request{
		Handle:    handle,
		ClientPID: own.pid,
		ClientTID: own.tid,
		Kind:      request.Untune,
		Synthetic: true,
	})
}

// consumeQueue is the sole mutator of CocoTable: it drains the Request
// Queue and processes one request end-to-end before taking the next.
func (s *Server) consumeQueue() {
	for {
		req, ok := s.q.Pop()
		if !ok {
			return
		}
		s.processRequest(req)
	}
}

func (s *Server) processRequest(req *request.Request) {
	switch req.Kind {
	case request.Tune:
		if err := s.table.InsertRequest(req, req.Handle); err != nil {
			s.log.Warn("tune insertion failed", "handle", req.Handle, "error", err)
		}
	case request.Untune:
		if err := s.table.RemoveRequest(req.Handle); err != nil {
			s.log.Warn("untune removal failed", "handle", req.Handle, "error", err)
		}
		s.mu.Lock()
		own, ok := s.owners[req.Handle]
		delete(s.owners, req.Handle)
		s.mu.Unlock()
		if ok {
			s.cdmgr.DeleteHandle(own.tid, req.Handle)
			s.limiter.ReleaseGlobal()
		}
	}
}

// consumeRecentEvents drains the diagnostic subscriber into a bounded ring
// buffer so Dump can answer a point-in-time snapshot without its own lock
// over CocoTable.
func (s *Server) consumeRecentEvents() {
	defer s.wg.Done()
	for evt := range s.subscriber.Events {
		wireEvt := wire.AppliedEvent{
			Action:       evt.Action.String(),
			ResourceCode: uint32(evt.ResourceCode),
			SubIndex:     evt.SubIndex,
			Value:        evt.Value,
			Priority:     uint8(evt.Priority),
		}
		s.mu.Lock()
		s.recent = append(s.recent, wireEvt)
		if len(s.recent) > recentEventsCap {
			s.recent = s.recent[len(s.recent)-recentEventsCap:]
		}
		s.mu.Unlock()
	}
}

// Status returns a point-in-time diagnostic snapshot.
func (s *Server) Status() *wire.Status {
	return &wire.Status{
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    s.q.Len(),
		InFlight:      s.limiter.InFlight(),
		ActivePIDs:    len(s.cdmgr.ActivePIDs()),
	}
}

// Dump returns the most recent buffered applier/tear events.
func (s *Server) Dump() []wire.AppliedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.AppliedEvent, len(s.recent))
	copy(out, s.recent)
	return out
}

// serveRPC accepts connections on rpc.sock and handles each on its own
// goroutine: one connection may carry many sequential frames.
func (s *Server) serveRPC() {
	for {
		conn, err := s.rpcListener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.handleRPCConn(conn)
		}()
	}
}

func (s *Server) handleRPCConn(conn net.Conn) {
	perm := peerPermission(conn)
	for {
		var req wire.Request
		if err := wire.ReadFrame(conn, &req); err != nil {
			return
		}

		resp := s.handleRPCRequest(&req, perm)
		if err := wire.WriteFrame(conn, resp); err != nil {
			return
		}
	}
}

func (s *Server) handleRPCRequest(req *wire.Request, perm resource.Permission) *wire.Response {
	switch req.Op {
	case wire.OpStatus:
		return &wire.Response{OK: true, Status: s.Status()}
	case wire.OpDump:
		return &wire.Response{OK: true, Dump: s.Dump()}
	default:
		handle, err := s.Dispatch(req, perm)
		if err != nil {
			return &wire.Response{OK: false, Error: err.Error()}
		}
		return &wire.Response{OK: true, Handle: handle}
	}
}

// Subscribe returns a live channel of applier/tear events for in-process
// callers. It is not exposed over rpc.sock; `resourcetunerctl dump --follow`
// polls Dump instead.
func (s *Server) Subscribe() *events.Subscriber {
	return s.bus.Subscribe()
}

// Unsubscribe releases a subscription returned by Subscribe.
func (s *Server) Unsubscribe(sub *events.Subscriber) {
	s.bus.Unsubscribe(sub.ID)
}

// DefaultConfig derives a Server Config from the on-disk configuration,
// substituting XDG default socket paths where the config leaves them empty.
func DefaultConfig(cfg *config.Config) Config {
	controlSock := cfg.Daemon.ControlSock
	if controlSock == "" {
		controlSock = config.DefaultControlSocketPath()
	}
	rpcSock := cfg.Daemon.RPCSock
	if rpcSock == "" {
		rpcSock = config.DefaultRPCSocketPath()
	}

	return Config{
		ControlSocketPath:      controlSock,
		RPCSocketPath:          rpcSock,
		MaxConcurrentRequests:  cfg.MaxConcurrentRequests,
		MaxResourcesPerRequest: cfg.MaxResourcesPerRequest,
		PulseInterval:          time.Duration(cfg.PulseDurationMs) * time.Millisecond,
		GCInterval:             time.Duration(cfg.GarbageCollection.DurationMs) * time.Millisecond,
		GCBatchCap:             cfg.GarbageCollection.BatchCap,
		RateLimiter: ratelimiter.Config{
			DeltaMs:       cfg.RateLimiter.DeltaMs,
			PenaltyFactor: cfg.RateLimiter.PenaltyFactor,
			RewardFactor:  cfg.RateLimiter.RewardFactor,
		},
	}
}
