package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "miden.notetransport.v1.NoteTransport"

const (
	methodSendNote    = "/" + ServiceName + "/SendNote"
	methodFetchNotes  = "/" + ServiceName + "/FetchNotes"
	methodStreamNotes = "/" + ServiceName + "/StreamNotes"
	methodStats       = "/" + ServiceName + "/Stats"
)

type (
	// NoteTransportServer is implemented by the node's protocol surface.
	NoteTransportServer interface {
		SendNote(ctx context.Context, req *SendNoteRequest) (*SendNoteResponse, error)
		FetchNotes(ctx context.Context, req *FetchNotesRequest) (*FetchNotesResponse, error)
		StreamNotes(req *StreamNotesRequest, stream NoteTransportStreamNotesServer) error
		Stats(ctx context.Context, req *StatsRequest) (*StatsResponse, error)
	}

	// NoteTransportStreamNotesServer is the server side of StreamNotes.
	NoteTransportStreamNotesServer interface {
		Send(*Note) error
		grpc.ServerStream
	}

	streamNotesServer struct {
		grpc.ServerStream
	}
)

func (s *streamNotesServer) Send(n *Note) error {
	return s.ServerStream.SendMsg(n)
}

// RegisterNoteTransportServer registers srv on the gRPC server.
func RegisterNoteTransportServer(s grpc.ServiceRegistrar, srv NoteTransportServer) {
	s.RegisterService(&serviceDesc, srv)
}

// serviceDesc is maintained by hand; the wire schema is the CBOR
// message set in types.go rather than generated protobuf.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NoteTransportServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SendNote", Handler: sendNoteHandler},
		{MethodName: "FetchNotes", Handler: fetchNotesHandler},
		{MethodName: "Stats", Handler: statsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamNotes", Handler: streamNotesHandler, ServerStreams: true},
	},
	Metadata: "notetransport.cbor",
}

func sendNoteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SendNoteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NoteTransportServer).SendNote(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSendNote}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(NoteTransportServer).SendNote(ctx, req.(*SendNoteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func fetchNotesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(FetchNotesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NoteTransportServer).FetchNotes(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodFetchNotes}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(NoteTransportServer).FetchNotes(ctx, req.(*FetchNotesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func statsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StatsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NoteTransportServer).Stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodStats}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(NoteTransportServer).Stats(ctx, req.(*StatsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamNotesHandler(srv any, stream grpc.ServerStream) error {
	in := new(StreamNotesRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(NoteTransportServer).StreamNotes(in, &streamNotesServer{stream})
}

type (
	// NoteTransportClient calls the NoteTransport service.
	NoteTransportClient struct {
		cc grpc.ClientConnInterface
	}

	// NoteTransportStreamNotesClient is the client side of StreamNotes.
	NoteTransportStreamNotesClient interface {
		Recv() (*Note, error)
		grpc.ClientStream
	}

	streamNotesClient struct {
		grpc.ClientStream
	}
)

// NewNoteTransportClient wraps an established client connection. The
// connection must carry the CBOR codec, e.g. via
// grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpc.CodecName)).
func NewNoteTransportClient(cc grpc.ClientConnInterface) *NoteTransportClient {
	return &NoteTransportClient{cc: cc}
}

func (c *NoteTransportClient) SendNote(ctx context.Context, in *SendNoteRequest, opts ...grpc.CallOption) (*SendNoteResponse, error) {
	out := new(SendNoteResponse)
	if err := c.cc.Invoke(ctx, methodSendNote, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *NoteTransportClient) FetchNotes(ctx context.Context, in *FetchNotesRequest, opts ...grpc.CallOption) (*FetchNotesResponse, error) {
	out := new(FetchNotesResponse)
	if err := c.cc.Invoke(ctx, methodFetchNotes, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *NoteTransportClient) Stats(ctx context.Context, in *StatsRequest, opts ...grpc.CallOption) (*StatsResponse, error) {
	out := new(StatsResponse)
	if err := c.cc.Invoke(ctx, methodStats, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *NoteTransportClient) StreamNotes(ctx context.Context, in *StreamNotesRequest, opts ...grpc.CallOption) (NoteTransportStreamNotesClient, error) {
	cs, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], methodStreamNotes, opts...)
	if err != nil {
		return nil, err
	}
	stream := &streamNotesClient{cs}
	if err := stream.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return stream, nil
}

func (s *streamNotesClient) Recv() (*Note, error) {
	n := new(Note)
	if err := s.ClientStream.RecvMsg(n); err != nil {
		return nil, err
	}
	return n, nil
}
