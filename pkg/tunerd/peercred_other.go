//go:build !linux

package tunerd

import (
	"net"

	"github.com/resourcetuner/resourcetuner/pkg/tuner/resource"
)

// peerPermission has no portable equivalent of Linux's SO_PEERCRED outside
// this build, so every connection is treated as third-party.
func peerPermission(net.Conn) resource.Permission {
	return resource.PermissionThirdParty
}
