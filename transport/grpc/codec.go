// Package grpc implements the transport-level Member (C5's remote peer
// collaborator): a google.golang.org/grpc client and server pair carrying
// the Raft peer RPCs (AppendEntries, Vote, PreVote, InstallSnapshot,
// Synchronize, Resign).
//
// The teacher's own grpc wiring (raft/rpc_server.go, raft/rpc_client.go)
// depended on a generated kvstore/proto package that is not present in
// this tree and cannot be regenerated without running protoc — forbidden
// for this build. Rather than fabricate a fake generated package, this
// adapter uses grpc's custom-codec extension point
// (google.golang.org/grpc/encoding) to register a gob codec and a
// hand-built grpc.ServiceDesc, so the RPCs still travel over a real
// grpc.Server/grpc.ClientConn — only the wire encoding differs from
// protobuf, which SPEC_FULL.md records as an explicit Non-goal (wire
// format is not externally specified).
package grpc

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

const codecName = "gob"

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// gobCodec implements google.golang.org/grpc/encoding.Codec using
// encoding/gob, the same serialization statemachine uses for its command
// and snapshot payloads, so one codec covers the whole module.
type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return codecName }
