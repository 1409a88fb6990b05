//go:build !pcap
// +build !pcap

package network

import (
	"context"
	"errors"

	"github.com/banshee-data/myo.mouse/internal/emg/l1samples"
)

// ErrPCAPDisabled is returned by ReadPCAPFile in builds without libpcap.
var ErrPCAPDisabled = errors.New("PCAP support not enabled: rebuild with -tags=pcap to enable PCAP file reading")

// ReadPCAPFile is a stub implementation when PCAP support is disabled.
func ReadPCAPFile(ctx context.Context, pcapFile string, udpPort int, buf *l1samples.Buffer, stats *PacketStats) error {
	return ErrPCAPDisabled
}
