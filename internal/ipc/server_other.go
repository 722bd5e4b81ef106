//go:build !linux && !darwin

package ipc

import "net"

// GetPeerCredentials is not available on this platform; the socket file
// permissions are the only access control.
func GetPeerCredentials(net.Conn) (*PeerCredentials, error) {
	return nil, errPeerCredsUnsupported
}
