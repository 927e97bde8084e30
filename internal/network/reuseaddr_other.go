//go:build !linux

package network

import "net"

// ReuseAddrListenConfig returns a default net.ListenConfig on platforms
// where SO_REUSEADDR handling is either implicit or unsupported.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
