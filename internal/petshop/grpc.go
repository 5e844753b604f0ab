package petshop

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wudi/petshop/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// PetshopServer is the gRPC surface of the petshop API. Messages are
// schema-less JSON objects carried as google.protobuf.Struct.
type PetshopServer interface {
	Json(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Csrf(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	PetPost(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PetPut(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PetFindByStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PetFindByTag(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Readiness(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Streaming(*structpb.Struct, grpc.ServerStream) error
}

// GRPCServer adapts a Service to PetshopServer.
type GRPCServer struct {
	svc *Service
}

// NewGRPCServer creates the gRPC adapter for svc.
func NewGRPCServer(svc *Service) *GRPCServer {
	return &GRPCServer{svc: svc}
}

// Register installs the service on gs.
func (s *GRPCServer) Register(gs grpc.ServiceRegistrar) {
	gs.RegisterService(&ServiceDesc, s)
}

// ServiceName implements middleware.Named.
func (s *GRPCServer) ServiceName() string {
	return ServiceName
}

func (s *GRPCServer) Json(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.svc.JSON(ctx, in)
}

func (s *GRPCServer) Csrf(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.svc.CSRF(ctx); err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) PetPost(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	body, err := structJSON(in)
	if err != nil {
		return nil, err
	}
	pet, err := s.svc.PetPost(ctx, body)
	if err != nil {
		return nil, err
	}
	return toStruct(pet)
}

func (s *GRPCServer) PetPut(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	body, err := structJSON(in)
	if err != nil {
		return nil, err
	}
	pet, err := s.svc.PetPut(ctx, body)
	if err != nil {
		return nil, err
	}
	return toStruct(pet)
}

func (s *GRPCServer) PetFindByStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	pets, err := s.svc.PetFindByStatus(ctx, stringList(in, "status"))
	if err != nil {
		return nil, err
	}
	return toStruct(petList{Pets: pets})
}

func (s *GRPCServer) PetFindByTag(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	pets, err := s.svc.PetFindByTag(ctx, stringList(in, "tags"))
	if err != nil {
		return nil, err
	}
	return toStruct(petList{Pets: pets})
}

func (s *GRPCServer) Readiness(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.svc.Readiness(ctx); err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

// Streaming echoes the request a fixed number of times.
func (s *GRPCServer) Streaming(in *structpb.Struct, stream grpc.ServerStream) error {
	ctx := stream.Context()
	for i := 0; i < s.svc.streamCount; i++ {
		if i > 0 {
			select {
			case <-time.After(s.svc.streamInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := stream.SendMsg(in); err != nil {
			return err
		}
	}
	return nil
}

type petList struct {
	Pets []store.Pet `json:"pets"`
}

func structJSON(in *structpb.Struct) ([]byte, error) {
	if in == nil {
		return []byte("{}"), nil
	}
	return protojson.Marshal(in)
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

// stringList reads key as either a string or a list of strings.
func stringList(in *structpb.Struct, key string) []string {
	v, ok := in.GetFields()[key]
	if !ok {
		return nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return []string{k.StringValue}
	case *structpb.Value_ListValue:
		var out []string
		for _, item := range k.ListValue.GetValues() {
			if s, ok := item.GetKind().(*structpb.Value_StringValue); ok {
				out = append(out, s.StringValue)
			}
		}
		return out
	}
	return nil
}

type unaryCall func(s PetshopServer, ctx context.Context, req proto.Message) (any, error)

func unaryMethod(name string, newReq func() proto.Message, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(PetshopServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(proto.Message))
			})
		},
	}
}

func newStruct() proto.Message { return &structpb.Struct{} }
func newEmpty() proto.Message  { return &emptypb.Empty{} }

// ServiceDesc describes petshop.Petshop for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PetshopServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Json", newStruct, func(s PetshopServer, ctx context.Context, req proto.Message) (any, error) {
			return s.Json(ctx, req.(*structpb.Struct))
		}),
		unaryMethod("Csrf", newEmpty, func(s PetshopServer, ctx context.Context, req proto.Message) (any, error) {
			return s.Csrf(ctx, req.(*emptypb.Empty))
		}),
		unaryMethod("PetPost", newStruct, func(s PetshopServer, ctx context.Context, req proto.Message) (any, error) {
			return s.PetPost(ctx, req.(*structpb.Struct))
		}),
		unaryMethod("PetPut", newStruct, func(s PetshopServer, ctx context.Context, req proto.Message) (any, error) {
			return s.PetPut(ctx, req.(*structpb.Struct))
		}),
		unaryMethod("PetFindByStatus", newStruct, func(s PetshopServer, ctx context.Context, req proto.Message) (any, error) {
			return s.PetFindByStatus(ctx, req.(*structpb.Struct))
		}),
		unaryMethod("PetFindByTag", newStruct, func(s PetshopServer, ctx context.Context, req proto.Message) (any, error) {
			return s.PetFindByTag(ctx, req.(*structpb.Struct))
		}),
		unaryMethod("Readiness", newEmpty, func(s PetshopServer, ctx context.Context, req proto.Message) (any, error) {
			return s.Readiness(ctx, req.(*emptypb.Empty))
		}),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "Streaming",
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := &structpb.Struct{}
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(PetshopServer).Streaming(in, stream)
			},
			ServerStreams: true,
		},
	},
	Metadata: "petshop.proto",
}
