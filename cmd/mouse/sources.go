package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/banshee-data/myo.mouse/internal/emg/dataset"
	"github.com/banshee-data/myo.mouse/internal/emg/l1samples"
	"github.com/banshee-data/myo.mouse/internal/emg/network"
	"github.com/banshee-data/myo.mouse/internal/serialmux"
)

// Acquisition modes, one per run.
const (
	sourceSerial = "serial"
	sourceReplay = "replay"
	sourceUDP    = "udp"
	sourceMQTT   = "mqtt"
	sourcePCAP   = "pcap"
)

type sourceFlags struct {
	port      string
	replay    string
	udpListen string
	mqtt      string
	pcap      string
}

var errNoSource = errors.New("no acquisition source: set one of -port, -replay, -udp-listen, -mqtt or -pcap")

// sourceKind picks the single configured acquisition mode.
func sourceKind(f sourceFlags) (string, error) {
	var kinds []string
	if f.port != "" {
		kinds = append(kinds, sourceSerial)
	}
	if f.replay != "" {
		kinds = append(kinds, sourceReplay)
	}
	if f.udpListen != "" {
		kinds = append(kinds, sourceUDP)
	}
	if f.mqtt != "" {
		kinds = append(kinds, sourceMQTT)
	}
	if f.pcap != "" {
		kinds = append(kinds, sourcePCAP)
	}
	switch len(kinds) {
	case 0:
		return "", errNoSource
	case 1:
		return kinds[0], nil
	default:
		return "", fmt.Errorf("only one acquisition source may be set, got %v", kinds)
	}
}

// pcapSource replays captured sample datagrams into the buffer.
type pcapSource struct {
	file  string
	port  int
	stats network.PacketStats
}

func (s *pcapSource) Run(ctx context.Context, buf *l1samples.Buffer) error {
	defer buf.Close()
	err := network.ReadPCAPFile(ctx, s.file, s.port, buf, &s.stats)
	s.stats.LogStats("pcap")
	return err
}

// readReplay loads a recording for replay.
func readReplay(path, delimiter string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	comma := ','
	if delimiter != "" {
		comma = []rune(delimiter)[0]
	}
	return dataset.ReadCSV(f, comma)
}

// acquisition is the configured sample source. serialEMG is the armband
// bridge mux when reading from a serial port and nil otherwise.
type acquisition struct {
	kind      string
	source    l1samples.Source
	serialEMG serialmux.SerialMuxInterface
}

func openAcquisition(f sourceFlags, o sourceOptions) (acquisition, error) {
	kind, err := sourceKind(f)
	if err != nil {
		return acquisition{}, err
	}
	a := acquisition{kind: kind}
	switch kind {
	case sourceSerial:
		mux, err := serialmux.NewRealSerialMux(f.port, serialmux.PortOptions{BaudRate: o.baud})
		if err != nil {
			return acquisition{}, fmt.Errorf("failed to open EMG serial port: %w", err)
		}
		a.serialEMG = mux
		a.source = l1samples.NewLineSource(mux, nil)
	case sourceReplay:
		rows, err := readReplay(f.replay, o.delimiter)
		if err != nil {
			return acquisition{}, fmt.Errorf("failed to read replay recording: %w", err)
		}
		if a.source, err = l1samples.NewReplaySource(rows, o.rateHz, nil, o.loop); err != nil {
			return acquisition{}, err
		}
	case sourceUDP:
		a.source = network.NewUDPListener(network.UDPListenerConfig{Address: f.udpListen, RcvBuf: o.rcvBuf})
	case sourceMQTT:
		a.source = network.NewMQTTSource(network.MQTTConfig{Broker: f.mqtt, Topic: o.mqttTopic, QoS: 1})
	case sourcePCAP:
		a.source = &pcapSource{file: f.pcap, port: o.pcapPort}
	}
	return a, nil
}

// sourceOptions tune the selected source.
type sourceOptions struct {
	baud      int
	delimiter string
	rateHz    float64
	loop      bool
	rcvBuf    int
	mqttTopic string
	pcapPort  int
}
