//go:build pcap
// +build pcap

package network

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/banshee-data/navstack/internal/monitoring"
)

// ReadPCAPFile replays sensor datagrams captured on udpPort into handler.
// With realtime set, inter-packet gaps from the capture are reproduced.
// This function is only available when building with the 'pcap' build tag.
func ReadPCAPFile(ctx context.Context, pcapFile string, udpPort int, handler PacketHandler, realtime bool) (Stats, error) {
	var stats counters
	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open PCAP file %s: %w", pcapFile, err)
	}
	defer handle.Close()

	filterStr := fmt.Sprintf("udp port %d", udpPort)
	if err := handle.SetBPFFilter(filterStr); err != nil {
		return Stats{}, fmt.Errorf("failed to set BPF filter '%s': %w", filterStr, err)
	}
	monitoring.Logf("[network] PCAP replay of %s with filter %q", pcapFile, filterStr)

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return stats.snapshot(), ctx.Err()
		case packet := <-packetSource.Packets():
			if packet == nil {
				s := stats.snapshot()
				monitoring.Logf("[network] PCAP replay complete: %+v", s)
				return s, nil
			}
			udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
			if !ok || len(udp.Payload) == 0 {
				continue
			}

			ts := packet.Metadata().Timestamp
			if realtime && !last.IsZero() && ts.After(last) {
				select {
				case <-ctx.Done():
					return stats.snapshot(), ctx.Err()
				case <-time.After(ts.Sub(last)):
				}
			}
			last = ts

			if err := stats.handle(handler, udp.Payload); err != nil {
				monitoring.Debugf("[network] PCAP packet rejected: %v", err)
			}
		}
	}
}
