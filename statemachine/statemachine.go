// Package statemachine implements the deterministic key-value state
// machine a committed log entry is applied to (raft.StateMachine).
// Adapted from the teacher's storage/store.go, which paired the same
// in-memory map with its own WAL for durability; that WAL is dropped here
// (not reused) because raftlog.FileLog already durably persists every
// entry this state machine will ever be asked to apply — a second,
// redundant write-ahead log would just be the same bytes written twice.
// See DESIGN.md for that justification. CreateSnapshot/RestoreSnapshot
// take over the WAL's old "recover on restart" job, driven by the
// controller instead of by this package recovering on its own.
package statemachine

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"
)

// ErrKeyNotFound matches the teacher's storage.ErrKeyNotFound.
var ErrKeyNotFound = errors.New("statemachine: key not found")

// Command is the serializable payload Replicate carries, adapted from the
// teacher's raft/util.go Command (previously KV-specific scaffolding
// living in the core raft package; moved here since it is this state
// machine's concern, not the controller's).
type Command struct {
	Type  string // "PUT" or "DELETE"
	Key   string
	Value []byte
}

// Store is the in-memory keyspace every committed Command is applied to.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates an empty Store. Its contents are rebuilt by the controller
// replaying the durable log (or installing a snapshot), not by reading
// anything from disk itself.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Get reads a key directly, bypassing the replicated log — callers that
// need linearizability must gate this behind Controller.ApplyReadBarrier.
func (s *Store) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Stats mirrors the teacher's Store.Stats shape.
func (s *Store) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{"num_keys": len(s.data)}
}

// Apply decodes and applies one committed Command, implementing
// raft.StateMachine.Apply. It is called only from the controller's single
// apply loop, so it never needs its own external synchronization beyond
// protecting concurrent Get calls.
func (s *Store) Apply(payload []byte) (interface{}, error) {
	var cmd Command
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&cmd); err != nil {
		return nil, fmt.Errorf("statemachine: decode command: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch cmd.Type {
	case "PUT":
		valueCopy := make([]byte, len(cmd.Value))
		copy(valueCopy, cmd.Value)
		s.data[cmd.Key] = valueCopy
		return nil, nil
	case "DELETE":
		delete(s.data, cmd.Key)
		return nil, nil
	default:
		return nil, fmt.Errorf("statemachine: unknown command type %q", cmd.Type)
	}
}

// CreateSnapshot serializes the entire keyspace, implementing
// raft.StateMachine.CreateSnapshot.
func (s *Store) CreateSnapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.data); err != nil {
		return nil, fmt.Errorf("statemachine: encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// RestoreSnapshot replaces the keyspace wholesale, implementing
// raft.StateMachine.RestoreSnapshot.
func (s *Store) RestoreSnapshot(snapshot []byte) error {
	var data map[string][]byte
	if err := gob.NewDecoder(bytes.NewReader(snapshot)).Decode(&data); err != nil {
		return fmt.Errorf("statemachine: decode snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	return nil
}

// EncodePut/EncodeDelete build the gob-encoded Command payloads
// Controller.Replicate expects, sparing callers (cmd/raftnode) from
// reaching into encoding/gob themselves.
func EncodePut(key string, value []byte) ([]byte, error) {
	return encodeCommand(Command{Type: "PUT", Key: key, Value: value})
}

func EncodeDelete(key string) ([]byte, error) {
	return encodeCommand(Command{Type: "DELETE", Key: key})
}

func encodeCommand(cmd Command) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cmd); err != nil {
		return nil, fmt.Errorf("statemachine: encode command: %w", err)
	}
	return buf.Bytes(), nil
}
