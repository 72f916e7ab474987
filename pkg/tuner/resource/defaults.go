package resource

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// defaultHooks returns the applier/tear pair used when a resource is
// registered without custom hooks, keyed by ApplyType. Each writes a plain
// numeric value to a sysfs-style path built from the descriptor's path
// template and the resolved sub-index, following the os.WriteFile +
// fmt.Sprintf pattern used to drive cgroup controller files.
func defaultHooks(t ApplyType) (Applier, Tear) {
	switch t {
	case ApplyCore:
		return DefaultCoreApplier, defaultCoreTear
	case ApplyCluster:
		return DefaultClusterApplier, defaultClusterTear
	case ApplyCGroup:
		return DefaultCGroupApplier, defaultCGroupTear
	default:
		return DefaultGlobalApplier, defaultGlobalTear
	}
}

func writeNumericPath(path string, value int32) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(int(value))), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func resolvePath(template string, subIndex int32) string {
	if strings.Contains(template, "%d") {
		return fmt.Sprintf(template, subIndex)
	}
	return template
}

// DefaultGlobalApplier writes value to the resource's path template
// unmodified; Global resources have a single physical target (subIndex 0).
func DefaultGlobalApplier(desc *Descriptor, _ int32, value int32) error {
	clamped := desc.Clamp(value)
	desc.CaptureDefault(currentOrZero(desc.PathTemplate))
	return writeNumericPath(desc.PathTemplate, clamped)
}

func defaultGlobalTear(desc *Descriptor, _ int32) error {
	def, captured := desc.Default()
	if !captured {
		return nil
	}
	return writeNumericPath(desc.PathTemplate, def)
}

// DefaultCoreApplier writes value to the path for the resolved physical core.
func DefaultCoreApplier(desc *Descriptor, resolvedSubIndex int32, value int32) error {
	clamped := desc.Clamp(value)
	path := resolvePath(desc.PathTemplate, resolvedSubIndex)
	desc.CaptureDefault(currentOrZero(path))
	return writeNumericPath(path, clamped)
}

func defaultCoreTear(desc *Descriptor, resolvedSubIndex int32) error {
	def, captured := desc.Default()
	if !captured {
		return nil
	}
	return writeNumericPath(resolvePath(desc.PathTemplate, resolvedSubIndex), def)
}

// DefaultClusterApplier writes value to the path for the resolved physical cluster.
func DefaultClusterApplier(desc *Descriptor, resolvedSubIndex int32, value int32) error {
	clamped := desc.Clamp(value)
	path := resolvePath(desc.PathTemplate, resolvedSubIndex)
	desc.CaptureDefault(currentOrZero(path))
	return writeNumericPath(path, clamped)
}

func defaultClusterTear(desc *Descriptor, resolvedSubIndex int32) error {
	def, captured := desc.Default()
	if !captured {
		return nil
	}
	return writeNumericPath(resolvePath(desc.PathTemplate, resolvedSubIndex), def)
}

// DefaultCGroupApplier writes value to the path for the resolved cgroup id.
func DefaultCGroupApplier(desc *Descriptor, resolvedSubIndex int32, value int32) error {
	clamped := desc.Clamp(value)
	path := resolvePath(desc.PathTemplate, resolvedSubIndex)
	desc.CaptureDefault(currentOrZero(path))
	return writeNumericPath(path, clamped)
}

func defaultCGroupTear(desc *Descriptor, resolvedSubIndex int32) error {
	def, captured := desc.Default()
	if !captured {
		return nil
	}
	return writeNumericPath(resolvePath(desc.PathTemplate, resolvedSubIndex), def)
}

// currentOrZero best-effort reads the current numeric value at path, for
// default capture. A missing or unparsable node reads as zero rather than
// failing the apply — the first write still takes effect.
func currentOrZero(path string) int32 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return int32(v)
}
