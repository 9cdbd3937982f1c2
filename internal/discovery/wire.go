package discovery

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// The hub speaks google.protobuf.Struct messages:
//
//	Publish {service, addr}          -> {}
//	Remove  {service, addr}          -> {}
//	List    {}                       -> {records: [{service, addr}]}
//	Watch   {channel}                -> stream {ready} then {service, addr, removed}
//
// A publish conflict is reported as codes.AlreadyExists.
const (
	hubServiceName = "venue.discovery.v1.Discovery"
	publishMethod  = "/" + hubServiceName + "/Publish"
	removeMethod   = "/" + hubServiceName + "/Remove"
	listMethod     = "/" + hubServiceName + "/List"
	watchMethod    = "/" + hubServiceName + "/Watch"

	fieldService = "service"
	fieldAddr    = "addr"
	fieldRemoved = "removed"
	fieldRecords = "records"
	fieldChannel = "channel"
	fieldReady   = "ready"
)

type hubServer interface {
	Publish(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Remove(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	List(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Watch(req *structpb.Struct, stream grpc.ServerStream) error
}

var hubServiceDesc = grpc.ServiceDesc{
	ServiceName: hubServiceName,
	HandlerType: (*hubServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: unaryHandler(publishMethod, hubServer.Publish)},
		{MethodName: "Remove", Handler: unaryHandler(removeMethod, hubServer.Remove)},
		{MethodName: "List", Handler: unaryHandler(listMethod, hubServer.List)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "venue/discovery/v1/discovery.proto",
}

func unaryHandler(fullMethod string, call func(hubServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(hubServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(hubServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(hubServer).Watch(in, stream)
}

func encodeRecord(rec Record) *structpb.Struct {
	fields := map[string]*structpb.Value{
		fieldService: structpb.NewStringValue(rec.Service),
		fieldAddr:    structpb.NewStringValue(rec.Addr),
	}
	if rec.Removed {
		fields[fieldRemoved] = structpb.NewBoolValue(true)
	}
	return &structpb.Struct{Fields: fields}
}

func decodeRecord(msg *structpb.Struct) Record {
	fields := msg.GetFields()
	return Record{
		Service: fields[fieldService].GetStringValue(),
		Addr:    fields[fieldAddr].GetStringValue(),
		Removed: fields[fieldRemoved].GetBoolValue(),
	}
}

func encodeRecords(records []Record) *structpb.Struct {
	values := make([]*structpb.Value, len(records))
	for i, rec := range records {
		values[i] = structpb.NewStructValue(encodeRecord(rec))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldRecords: structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

func decodeRecords(msg *structpb.Struct) []Record {
	list := msg.GetFields()[fieldRecords].GetListValue()
	records := make([]Record, 0, len(list.GetValues()))
	for _, value := range list.GetValues() {
		records = append(records, decodeRecord(value.GetStructValue()))
	}
	return records
}

// tableStatus maps table errors onto gRPC status codes.
func tableStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, errInvalidRecord):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// statusError maps a hub status back onto table errors.
func statusError(op string, err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.AlreadyExists {
		return ErrConflict
	}
	return fmt.Errorf("discovery %s: %w", op, err)
}
