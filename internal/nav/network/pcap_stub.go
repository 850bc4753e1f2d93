//go:build !pcap
// +build !pcap

package network

import (
	"context"
	"errors"
)

// ErrPCAPDisabled is returned when the binary was built without pcap support.
var ErrPCAPDisabled = errors.New("PCAP support not enabled: rebuild with -tags=pcap to enable PCAP file reading")

// ReadPCAPFile is a stub implementation when PCAP support is disabled.
// Build with -tags=pcap to enable PCAP replay.
func ReadPCAPFile(ctx context.Context, pcapFile string, udpPort int, handler PacketHandler, realtime bool) (Stats, error) {
	return Stats{}, ErrPCAPDisabled
}
