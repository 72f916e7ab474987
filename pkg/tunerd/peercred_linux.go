//go:build linux

package tunerd

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/resourcetuner/resourcetuner/pkg/tuner/resource"
)

// peerPermission classifies the process on the other end of a Unix domain
// socket connection by its real, kernel-reported credentials (SO_PEERCRED),
// the way the daemon's permission split is meant to work: uid 0 (root) is
// PermissionSystem, everything else is PermissionThirdParty. This is the
// only trust boundary for the system class — a request's own priority
// field is self-reported by the caller and is never sufficient on its own.
func peerPermission(conn net.Conn) resource.Permission {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return resource.PermissionThirdParty
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return resource.PermissionThirdParty
	}

	var cred *unix.Ucred
	var credErr error
	if ctlErr := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); ctlErr != nil || credErr != nil || cred == nil {
		return resource.PermissionThirdParty
	}

	if cred.Uid == 0 {
		return resource.PermissionSystem
	}
	return resource.PermissionThirdParty
}
