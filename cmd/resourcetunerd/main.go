// Command resourcetunerd is the long-running daemon that arbitrates
// concurrent client requests to tune CPU governors, scheduler knobs,
// cgroup controllers, and other sysfs-backed resources.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/resourcetuner/resourcetuner/pkg/tuner/config"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/logging"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/resource"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/target"
	"github.com/resourcetuner/resourcetuner/pkg/tunerd"
)

// rotationFromConfig translates the on-disk, human-readable rotation
// settings (e.g. "10MB") into the byte-exact logging.RotationConfig the
// logger actually enforces.
func rotationFromConfig(rc config.RotationConfig) (logging.RotationConfig, error) {
	out := logging.DefaultRotationConfig()
	if rc.MaxSize != "" {
		size, err := humanize.ParseBytes(rc.MaxSize)
		if err != nil {
			return out, err
		}
		out.MaxSize = int64(size)
	}
	if rc.MaxAge != 0 {
		out.MaxAge = rc.MaxAge
	}
	if rc.MaxBackups != 0 {
		out.MaxBackups = rc.MaxBackups
	}
	out.Daily = rc.Daily
	return out, nil
}

// Resource codes for the built-in catalog. A production deployment would
// register its own codes here, one per sysfs node / cgroup controller /
// scheduler knob it exposes; these three stand in for that catalog.
const (
	codeCPUGovernor     resource.Code = 1
	codeSchedLatencyNs  resource.Code = 2
	codeCGroupCPUQuota  resource.Code = 3
)

const cpuCoreCount = 8

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if err := config.EnsureDataDir(); err != nil {
		log.Fatalf("failed to create data directory: %v", err)
	}
	if err := config.EnsureStateDir(); err != nil {
		log.Fatalf("failed to create state directory: %v", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	if cfg.Logging.Path != "" {
		logCfg.Path = cfg.Logging.Path
	}
	logCfg.Components = cfg.Logging.Components
	if rot, err := rotationFromConfig(cfg.Logging.Rotation); err != nil {
		log.Fatalf("invalid logging.rotation.max_size: %v", err)
	} else {
		logCfg.Rotation = rot
	}
	if err := logging.Init(logCfg); err != nil {
		log.Fatalf("failed to initialize logging: %v", err)
	}
	defer logging.Close()

	logger := logging.Get("tunerd")

	pidPath := cfg.Daemon.PIDPath
	if pidPath == "" {
		pidPath = config.DefaultPIDPath()
	}
	statusPath := tunerd.StatusPath(config.DataDir())

	if tunerd.IsDaemonRunning(pidPath) {
		fmt.Fprintln(os.Stderr, "resourcetunerd is already running")
		os.Exit(1)
	}

	registry, targets := buildCatalog()

	serverCfg := tunerd.DefaultConfig(cfg)
	srv := tunerd.NewServer(serverCfg, registry, targets)

	if err := tunerd.WritePIDFile(pidPath); err != nil {
		_ = tunerd.WriteStatusError(statusPath, err)
		log.Fatalf("failed to write PID file: %v", err)
	}
	defer func() {
		if err := tunerd.RemovePIDFile(pidPath); err != nil {
			logger.Warn("failed to remove PID file", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("shutting down")
		if err := srv.Close(); err != nil {
			logger.Warn("error during shutdown", "error", err)
		}
		_ = tunerd.RemoveStatus(statusPath)
	}()

	if err := tunerd.WriteStatusReady(statusPath); err != nil {
		logger.Warn("failed to write status file", "error", err)
	}

	logger.Info("resourcetunerd starting", "control_socket", serverCfg.ControlSocketPath, "rpc_socket", serverCfg.RPCSocketPath)

	if err := srv.Serve(); err != nil {
		_ = tunerd.WriteStatusError(statusPath, err)
		log.Fatalf("server error: %v", err)
	}
}

// buildCatalog seeds the illustrative built-in resource catalog: a
// Global CPU governor knob, a per-core scheduler-latency knob, and a
// cgroup CPU quota knob. Each descriptor is assembled with
// ResourceConfigBuilder and left without custom hooks, so Build
// substitutes the package's default sysfs-writing applier/tear pair for
// its ApplyType; a platform-specific catalog can still override WithHooks
// per resource to reach a non-numeric control file.
func buildCatalog() (*resource.Registry, *target.Registry) {
	registry := resource.NewRegistry()
	targets := target.NewRegistry()

	mustBuild(registry, resource.NewResourceConfigBuilder(codeCPUGovernor).
		WithPath("/sys/devices/system/cpu/cpu%d/cpufreq/scaling_governor").
		WithBounds(0, 4). // governor ordinal; the default applier writes the number itself
		WithPermission(resource.PermissionSystem).
		WithApplyType(resource.ApplyGlobal).
		WithPolicy(resource.HigherIsBetter).
		WithUnit("governor_ordinal"))

	mustBuild(registry, resource.NewResourceConfigBuilder(codeSchedLatencyNs).
		WithPath("/proc/sys/kernel/sched_latency_ns").
		WithBounds(1_000_000, 100_000_000).
		WithPermission(resource.PermissionThirdParty).
		WithApplyType(resource.ApplyCore).
		WithPolicy(resource.LowerIsBetter).
		WithUnit("nanoseconds"))

	mustBuild(registry, resource.NewResourceConfigBuilder(codeCGroupCPUQuota).
		WithPath("/sys/fs/cgroup/%d/cpu.max").
		WithBounds(10_000, 1_000_000).
		WithPermission(resource.PermissionThirdParty).
		WithApplyType(resource.ApplyCGroup).
		WithPolicy(resource.HigherIsBetter).
		WithUnit("microseconds"))

	for core := int32(0); core < cpuCoreCount; core++ {
		if err := targets.Map(uint32(codeSchedLatencyNs), core, core); err != nil {
			log.Fatalf("failed to map scheduler latency target: %v", err)
		}
	}

	registry.Seal()
	return registry, targets
}

func mustBuild(registry *resource.Registry, b *resource.ResourceConfigBuilder) {
	desc, err := b.Build()
	if err != nil {
		log.Fatalf("failed to build resource descriptor: %v", err)
	}
	if err := registry.Register(desc); err != nil {
		log.Fatalf("failed to register resource %d: %v", desc.Code, err)
	}
}
