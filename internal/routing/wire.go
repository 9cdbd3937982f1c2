package routing

import (
	"context"
	"fmt"

	apperrors "github.com/louisbranch/venue/internal/platform/errors"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Wire shape of a cross-process call. Requests and responses are
// google.protobuf.Struct messages so no generated code is needed:
//
//	request  {caller: string, target: string, method: string, args: list}
//	response {result: value}
//
// Routing and callback failures travel as gRPC status errors carrying an
// errdetails.ErrorInfo whose reason is the venue error code.
const (
	routerServiceName = "venue.routing.v1.Router"
	routerCallMethod  = "/" + routerServiceName + "/Call"

	fieldCaller = "caller"
	fieldTarget = "target"
	fieldMethod = "method"
	fieldArgs   = "args"
	fieldResult = "result"
)

// routerServer is the server API of the Router service.
type routerServer interface {
	Call(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var routerServiceDesc = grpc.ServiceDesc{
	ServiceName: routerServiceName,
	HandlerType: (*routerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Call",
			Handler:    routerCallHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "venue/routing/v1/router.proto",
}

func routerCallHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(routerServer).Call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: routerCallMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(routerServer).Call(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RouterServer serves calls arriving from other processes against the
// handlers registered in a Directory.
type RouterServer struct {
	dir *Directory
}

// NewRouterServer creates the Router service for dir.
func NewRouterServer(dir *Directory) *RouterServer {
	return &RouterServer{dir: dir}
}

// Register attaches the Router service to a gRPC server.
func (s *RouterServer) Register(server *grpc.Server) {
	server.RegisterService(&routerServiceDesc, s)
}

// Call implements the Router service.
func (s *RouterServer) Call(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	call, err := decodeCall(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeEncodingFailed, "decode call", err).ToGRPCStatus()
	}
	result, err := s.dir.dispatchLocal(ctx, call)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := encodeResult(result)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeEncodingFailed,
			fmt.Sprintf("encode result of %s.%s", call.Target, call.Method), err).ToGRPCStatus()
	}
	return out, nil
}

func toStatus(err error) error {
	domainErr, ok := err.(*apperrors.Error)
	if !ok {
		domainErr = apperrors.Wrap(apperrors.CodeUnknown, "call failed", err)
	}
	return domainErr.ToGRPCStatus()
}

func encodeCall(call Call) (*structpb.Struct, error) {
	args := make([]any, len(call.Args))
	for i, arg := range call.Args {
		value, err := normalize(arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = value
	}
	return structpb.NewStruct(map[string]any{
		fieldCaller: call.Caller,
		fieldTarget: call.Target,
		fieldMethod: call.Method,
		fieldArgs:   args,
	})
}

func decodeCall(req *structpb.Struct) (Call, error) {
	if req == nil {
		return Call{}, fmt.Errorf("empty request")
	}
	fields := req.GetFields()
	call := Call{
		Caller: fields[fieldCaller].GetStringValue(),
		Target: fields[fieldTarget].GetStringValue(),
		Method: fields[fieldMethod].GetStringValue(),
	}
	if call.Target == "" || call.Method == "" {
		return Call{}, fmt.Errorf("target and method are required")
	}
	if list := fields[fieldArgs].GetListValue(); list != nil {
		call.Args = Args(list.AsSlice())
	}
	return call, nil
}

func encodeResult(result any) (*structpb.Struct, error) {
	value, err := normalize(result)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{fieldResult: value})
}

func decodeResult(resp *structpb.Struct) any {
	if resp == nil {
		return nil
	}
	value, ok := resp.GetFields()[fieldResult]
	if !ok {
		return nil
	}
	return value.AsInterface()
}
