package raft

import "errors"

// Sentinel errors per spec §7, wrapped at call sites with fmt.Errorf("...: %w", ...).
var (
	ErrLogMismatch         = errors.New("raft: log mismatch at requested index")
	ErrStaleTerm           = errors.New("raft: stale term")
	ErrMemberUnavailable   = errors.New("raft: member unavailable")
	ErrNotLeader           = errors.New("raft: this node is not the leader")
	ErrLeaderUnavailable   = errors.New("raft: no leader currently known")
	ErrInvalidSourceState  = errors.New("raft: operation invalid from current role")
	ErrInvalidSourceToken  = errors.New("raft: stale generation token")
	ErrInternalBufferOverflow = errors.New("raft: internal buffer overflow")
	ErrCanceled            = errors.New("raft: operation canceled")
	ErrOutOfMemory         = errors.New("raft: out of memory")
	ErrMustRetry           = errors.New("raft: entry was superseded before commit; caller must retry")

	ErrConfigurationChangeInProgress = errors.New("raft: a configuration change is already in progress")
	ErrStandbyMode                   = errors.New("raft: node is in standby mode")
	ErrAlreadyStarted                = errors.New("raft: controller already started")
	ErrNotStarted                    = errors.New("raft: controller not started")
)
