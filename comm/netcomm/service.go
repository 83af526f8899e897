package netcomm

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

const (
	serviceName     = "sortlast.netcomm.Channel"
	exchangeMethod  = "/" + serviceName + "/Exchange"
	heartbeatMethod = "/" + serviceName + "/Heartbeat"
)

// channelServer is served by Server. Exchange is a bidirectional stream of
// wrapperspb.BytesValue envelopes; Heartbeat is an empty round trip.
type channelServer interface {
	exchange(stream grpc.ServerStream) error
	heartbeat(ctx context.Context) (*emptypb.Empty, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*channelServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Heartbeat", Handler: heartbeatHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Exchange",
			Handler:       exchangeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "netcomm",
}

func exchangeHandler(srv any, stream grpc.ServerStream) error {
	return srv.(channelServer).exchange(stream)
}

func heartbeatHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(channelServer).heartbeat(ctx)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: heartbeatMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, _ any) (any, error) {
		return srv.(channelServer).heartbeat(ctx)
	})
}
