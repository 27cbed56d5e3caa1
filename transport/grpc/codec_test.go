package grpc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"raftcluster/raft"
)

func TestGobCodecRoundTripsAppendEntriesArgs(t *testing.T) {
	codec := gobCodec{}
	require.Equal(t, "gob", codec.Name())

	args := raft.AppendEntriesArgs{
		Term:         4,
		LeaderID:     "node1",
		PrevLogIndex: 10,
		PrevLogTerm:  3,
		LeaderCommit: 9,
	}

	data, err := codec.Marshal(&args)
	require.NoError(t, err)

	var decoded raft.AppendEntriesArgs
	require.NoError(t, codec.Unmarshal(data, &decoded))
	require.Equal(t, args, decoded)
}

func TestGobCodecRoundTripsResult(t *testing.T) {
	codec := gobCodec{}
	result := raft.Result[bool]{Term: 7, Value: true}

	data, err := codec.Marshal(&result)
	require.NoError(t, err)

	var decoded raft.Result[bool]
	require.NoError(t, codec.Unmarshal(data, &decoded))
	require.Equal(t, result, decoded)
}
