package visualiser

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/myo.mouse/internal/emg"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "myomouse.v1.Decisions"

// Full method names, for clients and interceptors.
const (
	WatchMethod  = "/" + ServiceName + "/Watch"
	StatusMethod = "/" + ServiceName + "/Status"
)

// DecisionsServer is the server API of the decisions service. Frames are
// google.protobuf.Struct values so clients need no generated code.
type DecisionsServer interface {
	Watch(*emptypb.Empty, grpc.ServerStream) error
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// ServiceDesc describes the decisions service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DecisionsServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Status",
		Handler:    statusHandler,
	}},
	Streams: []grpc.StreamDesc{{
		StreamName:    "Watch",
		Handler:       watchHandler,
		ServerStreams: true,
	}},
	Metadata: "myomouse/v1/decisions.proto",
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(DecisionsServer).Watch(in, stream)
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DecisionsServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StatusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DecisionsServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterService registers srv on s.
func RegisterService(s *grpc.Server, srv DecisionsServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// DecisionFrame encodes a decision as a stream frame.
func DecisionFrame(d emg.Decision) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"session":      d.SessionID,
		"window":       d.WindowIndex,
		"window_start": d.WindowStart.UTC().Format(time.RFC3339Nano),
		"class":        d.Prediction.Class,
		"confidence":   d.Prediction.Confidence,
		"intensity":    d.Prediction.Intensity,
		"accepted":     d.Accepted,
		"reason":       string(d.Reason),
		"vx":           d.Command.VX,
		"vy":           d.Command.VY,
		"latency_ms":   float64(d.Latency) / float64(time.Millisecond),
	})
}

// WatchClient receives decision frames.
type WatchClient struct {
	stream grpc.ClientStream
}

// Watch opens a decision stream on conn.
func Watch(ctx context.Context, conn grpc.ClientConnInterface) (*WatchClient, error) {
	stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], WatchMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &WatchClient{stream: stream}, nil
}

// Recv blocks for the next frame. It returns io.EOF when the server ends
// the stream.
func (w *WatchClient) Recv() (*structpb.Struct, error) {
	frame := new(structpb.Struct)
	if err := w.stream.RecvMsg(frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// Status fetches publisher counters.
func Status(ctx context.Context, conn grpc.ClientConnInterface) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, StatusMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// errTooManyClients is returned to clients beyond Config.MaxClients.
var errTooManyClients = status.Error(codes.ResourceExhausted, "too many decision stream clients")
