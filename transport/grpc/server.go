package grpc

import (
	"context"
	"net"

	googlegrpc "google.golang.org/grpc"

	"raftcluster/raft"
)

// serverAdapter satisfies RaftServer over a live *raft.Controller,
// translating between the pointer request/response shapes grpc's
// generated-style dispatch expects and the Controller's plain value
// methods.
type serverAdapter struct {
	ctrl *raft.Controller
}

func (a *serverAdapter) AppendEntries(ctx context.Context, args *raft.AppendEntriesArgs) (*raft.Result[raft.AppendEntriesValue], error) {
	res, err := a.ctrl.AppendEntries(ctx, *args)
	return &res, err
}

func (a *serverAdapter) Vote(ctx context.Context, args *raft.VoteArgs) (*raft.Result[bool], error) {
	res, err := a.ctrl.Vote(ctx, *args)
	return &res, err
}

func (a *serverAdapter) PreVote(ctx context.Context, args *raft.PreVoteArgs) (*raft.Result[raft.PreVoteOutcome], error) {
	res, err := a.ctrl.PreVote(ctx, *args)
	return &res, err
}

func (a *serverAdapter) InstallSnapshot(ctx context.Context, args *raft.InstallSnapshotArgs) (*raft.Result[bool], error) {
	res, err := a.ctrl.InstallSnapshot(ctx, *args)
	return &res, err
}

func (a *serverAdapter) Synchronize(ctx context.Context, args *raft.SynchronizeArgs) (*raft.SynchronizeValue, error) {
	res, err := a.ctrl.Synchronize(ctx, *args)
	return &res, err
}

func (a *serverAdapter) Resign(ctx context.Context, _ *Empty) (*BoolValue, error) {
	ok, err := a.ctrl.Resign(ctx)
	if err != nil {
		return nil, err
	}
	_, term, _ := a.ctrl.GetState()
	return &BoolValue{Term: term, Value: ok}, nil
}

func appendEntriesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor googlegrpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(raft.AppendEntriesArgs)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftServer).AppendEntries(ctx, in)
	}
	info := &googlegrpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + methodAppendEntries}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RaftServer).AppendEntries(ctx, req.(*raft.AppendEntriesArgs))
	}
	return interceptor(ctx, in, info, handler)
}

func voteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor googlegrpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(raft.VoteArgs)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftServer).Vote(ctx, in)
	}
	info := &googlegrpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + methodVote}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RaftServer).Vote(ctx, req.(*raft.VoteArgs))
	}
	return interceptor(ctx, in, info, handler)
}

func preVoteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor googlegrpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(raft.PreVoteArgs)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftServer).PreVote(ctx, in)
	}
	info := &googlegrpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + methodPreVote}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RaftServer).PreVote(ctx, req.(*raft.PreVoteArgs))
	}
	return interceptor(ctx, in, info, handler)
}

func installSnapshotHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor googlegrpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(raft.InstallSnapshotArgs)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftServer).InstallSnapshot(ctx, in)
	}
	info := &googlegrpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + methodInstallSnapshot}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RaftServer).InstallSnapshot(ctx, req.(*raft.InstallSnapshotArgs))
	}
	return interceptor(ctx, in, info, handler)
}

func synchronizeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor googlegrpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(raft.SynchronizeArgs)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftServer).Synchronize(ctx, in)
	}
	info := &googlegrpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + methodSynchronize}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RaftServer).Synchronize(ctx, req.(*raft.SynchronizeArgs))
	}
	return interceptor(ctx, in, info, handler)
}

func resignHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor googlegrpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftServer).Resign(ctx, in)
	}
	info := &googlegrpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + methodResign}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RaftServer).Resign(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the hand-built equivalent of what protoc-gen-go-grpc would
// emit from a .proto file (see codec.go for why there is no .proto here).
var ServiceDesc = googlegrpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RaftServer)(nil),
	Methods: []googlegrpc.MethodDesc{
		{MethodName: methodAppendEntries, Handler: appendEntriesHandler},
		{MethodName: methodVote, Handler: voteHandler},
		{MethodName: methodPreVote, Handler: preVoteHandler},
		{MethodName: methodInstallSnapshot, Handler: installSnapshotHandler},
		{MethodName: methodSynchronize, Handler: synchronizeHandler},
		{MethodName: methodResign, Handler: resignHandler},
	},
	Streams:  []googlegrpc.StreamDesc{},
	Metadata: "raftcluster/transport/grpc",
}

// Server hosts a Controller's peer RPC surface over grpc.Server, grounded
// on the teacher's rpc_server.go GRPCRaftServer (minus its dependency on
// the missing generated kvstore/proto package).
type Server struct {
	grpcServer *googlegrpc.Server
	listener   net.Listener
}

// NewServer constructs a Server bound to address, ready to Serve once
// Start is called.
func NewServer(address string, ctrl *raft.Controller) (*Server, error) {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	gs := googlegrpc.NewServer()
	gs.RegisterService(&ServiceDesc, &serverAdapter{ctrl: ctrl})
	return &Server{grpcServer: gs, listener: lis}, nil
}

// Start serves until Stop is called. Intended to be run in its own
// goroutine.
func (s *Server) Start() error {
	return s.grpcServer.Serve(s.listener)
}

// Stop gracefully drains in-flight RPCs before returning.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

// Addr returns the listener's bound address, useful when address was
// passed as "host:0" for an OS-assigned port (tests do this).
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}
