// Package visualiser streams live classifier decisions over gRPC to
// external viewers (plotting dashboards, training games).
package visualiser

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/myo.mouse/internal/emg"
	"github.com/banshee-data/myo.mouse/internal/monitoring"
)

// Config holds configuration for the decision stream server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50051").
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients.
	MaxClients int

	// ClientBuffer is the per-client frame queue; slow clients drop frames.
	ClientBuffer int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50051",
		MaxClients:   5,
		ClientBuffer: 64,
	}
}

// Publisher fans decisions out to every connected Watch stream. It
// implements emg.DecisionSink and never blocks the control loop.
type Publisher struct {
	config Config
	server *grpc.Server

	clients   map[uint64]chan *structpb.Struct
	clientsMu sync.RWMutex
	nextID    atomic.Uint64

	frameCount    atomic.Uint64
	droppedFrames atomic.Uint64

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewPublisher creates a publisher; call Start or Serve to accept clients.
func NewPublisher(cfg Config) *Publisher {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultConfig().MaxClients
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = DefaultConfig().ClientBuffer
	}
	return &Publisher{
		config:  cfg,
		clients: make(map[uint64]chan *structpb.Struct),
	}
}

// Start binds Config.ListenAddr and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.server = grpc.NewServer(grpc.MaxRecvMsgSize(1 << 20))
	RegisterService(p.server, p)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		monitoring.Logf("[Visualiser] gRPC decision stream listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			monitoring.Logf("[Visualiser] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop ends every stream and stops the server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.clientsMu.Lock()
	for id, ch := range p.clients {
		close(ch)
		delete(p.clients, id)
	}
	p.clientsMu.Unlock()

	p.server.GracefulStop()
	p.wg.Wait()
	monitoring.Logf("[Visualiser] gRPC server stopped")
}

// RecordDecision implements emg.DecisionSink.
func (p *Publisher) RecordDecision(d emg.Decision) error {
	if !p.running.Load() {
		return nil
	}
	frame, err := DecisionFrame(d)
	if err != nil {
		return fmt.Errorf("encode decision frame: %w", err)
	}
	p.frameCount.Add(1)

	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	for _, ch := range p.clients {
		select {
		case ch <- frame:
		default:
			p.droppedFrames.Add(1)
		}
	}
	return nil
}

// Watch implements DecisionsServer.
func (p *Publisher) Watch(_ *emptypb.Empty, stream grpc.ServerStream) error {
	id, frames, err := p.addClient()
	if err != nil {
		return err
	}
	defer p.removeClient(id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(frame); err != nil {
				return err
			}
		}
	}
}

// Status implements DecisionsServer.
func (p *Publisher) Status(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	s := p.Stats()
	return structpb.NewStruct(map[string]any{
		"frames":  s.FrameCount,
		"dropped": s.DroppedFrames,
		"clients": s.ClientCount,
		"running": s.Running,
	})
}

func (p *Publisher) addClient() (uint64, <-chan *structpb.Struct, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if len(p.clients) >= p.config.MaxClients {
		return 0, nil, errTooManyClients
	}
	id := p.nextID.Add(1)
	ch := make(chan *structpb.Struct, p.config.ClientBuffer)
	p.clients[id] = ch
	monitoring.Logf("[Visualiser] Client connected: %d (total: %d)", id, len(p.clients))
	return id, ch, nil
}

func (p *Publisher) removeClient(id uint64) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if ch, ok := p.clients[id]; ok {
		close(ch)
		delete(p.clients, id)
		monitoring.Logf("[Visualiser] Client disconnected: %d (remaining: %d)", id, len(p.clients))
	}
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	p.clientsMu.RLock()
	clients := len(p.clients)
	p.clientsMu.RUnlock()
	return PublisherStats{
		FrameCount:    p.frameCount.Load(),
		DroppedFrames: p.droppedFrames.Load(),
		ClientCount:   clients,
		Running:       p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	FrameCount    uint64
	DroppedFrames uint64
	ClientCount   int
	Running       bool
}
