package grpc

import (
	"context"
	"sync"

	googlegrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"raftcluster/raft"
)

// Peer implements raft.Member over a single grpc.ClientConn, grounded on
// the teacher's rpc_client.go GRPCRaftClient (one connection per remote
// address, lazily dialed and kept open). Every call is made with the gob
// content-subtype registered in codec.go so it travels through
// ServiceDesc's handlers on the far end without protobuf ever entering
// the picture.
type Peer struct {
	id       string
	endpoint string

	mu   sync.Mutex
	conn *googlegrpc.ClientConn

	replState raft.ReplicationState

	cancelMu sync.Mutex
	cancels  map[int]context.CancelFunc
	nextCall int
}

// NewPeer constructs a Peer that lazily dials endpoint on first use.
func NewPeer(id, endpoint string) *Peer {
	return &Peer{id: id, endpoint: endpoint, cancels: make(map[int]context.CancelFunc)}
}

func (p *Peer) ID() string       { return p.id }
func (p *Peer) Endpoint() string { return p.endpoint }
func (p *Peer) IsRemote() bool   { return true }

func (p *Peer) ReplicationState() *raft.ReplicationState { return &p.replState }

func (p *Peer) connection() (*googlegrpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return p.conn, nil
	}
	conn, err := googlegrpc.NewClient(p.endpoint,
		googlegrpc.WithTransportCredentials(insecure.NewCredentials()),
		googlegrpc.WithDefaultCallOptions(googlegrpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, err
	}
	p.conn = conn
	return conn, nil
}

// trackCall registers ctx's cancel function so CancelPendingRequests can
// abort every call currently in flight toward this peer (used when the
// controller steps down or shuts down).
func (p *Peer) trackCall(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancelMu.Lock()
	id := p.nextCall
	p.nextCall++
	p.cancels[id] = cancel
	p.cancelMu.Unlock()
	return ctx, func() {
		cancel()
		p.cancelMu.Lock()
		delete(p.cancels, id)
		p.cancelMu.Unlock()
	}
}

func (p *Peer) CancelPendingRequests() {
	p.cancelMu.Lock()
	defer p.cancelMu.Unlock()
	for id, cancel := range p.cancels {
		cancel()
		delete(p.cancels, id)
	}
}

func (p *Peer) invoke(ctx context.Context, method string, args, reply interface{}) error {
	conn, err := p.connection()
	if err != nil {
		return err
	}
	ctx, done := p.trackCall(ctx)
	defer done()
	return conn.Invoke(ctx, "/"+serviceName+"/"+method, args, reply)
}

func (p *Peer) AppendEntries(ctx context.Context, args raft.AppendEntriesArgs) (raft.Result[raft.AppendEntriesValue], error) {
	var reply raft.Result[raft.AppendEntriesValue]
	err := p.invoke(ctx, methodAppendEntries, &args, &reply)
	return reply, err
}

func (p *Peer) Vote(ctx context.Context, args raft.VoteArgs) (raft.Result[bool], error) {
	var reply raft.Result[bool]
	err := p.invoke(ctx, methodVote, &args, &reply)
	return reply, err
}

func (p *Peer) PreVote(ctx context.Context, args raft.PreVoteArgs) (raft.Result[raft.PreVoteOutcome], error) {
	var reply raft.Result[raft.PreVoteOutcome]
	err := p.invoke(ctx, methodPreVote, &args, &reply)
	return reply, err
}

func (p *Peer) InstallSnapshot(ctx context.Context, args raft.InstallSnapshotArgs) (raft.Result[bool], error) {
	var reply raft.Result[bool]
	err := p.invoke(ctx, methodInstallSnapshot, &args, &reply)
	return reply, err
}

func (p *Peer) Synchronize(ctx context.Context, args raft.SynchronizeArgs) (raft.SynchronizeValue, error) {
	var reply raft.SynchronizeValue
	err := p.invoke(ctx, methodSynchronize, &args, &reply)
	return reply, err
}

func (p *Peer) Resign(ctx context.Context) (bool, error) {
	var reply BoolValue
	err := p.invoke(ctx, methodResign, &Empty{}, &reply)
	return reply.Value, err
}

// Close releases the underlying connection.
func (p *Peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}
