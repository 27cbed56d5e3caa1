package raft

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"raftcluster/clusterconfig"
)

// leaderState implements C7's Leader role: one replicator per remote
// member (C5), a renewable lease (C3) for linearizable local reads, and
// the replication barrier (C6) that Replicate/ApplyReadBarrier/
// ForceReplication callers join. Grounded on the teacher's election.go
// becomeLeader/sendHeartbeats, generalized from a single synchronous
// fan-out to one long-lived goroutine per follower.
type leaderState struct {
	ctrl       *Controller
	generation uint64
	term       uint64
	cancel     context.CancelFunc

	lease *lease
	queue *replicationQueue

	// replMu guards replicators independently of ctrl.mu: membership
	// reconciliation (raft/membership.go) attaches/detaches replicators
	// from code paths that may run without ctrl.mu held.
	replMu      sync.Mutex
	replicators map[string]*replicator

	roundMu    sync.Mutex
	roundStart time.Time
	roundAcked map[string]bool

	// configBarrier lets ProposeConfiguration block until the proposal it
	// staged reaches joint quorum and is promoted (or this node stops
	// leading first). configBarrierVersion names which round of it is
	// current, since only one proposal may be outstanding at a time.
	// configDecided guards against onAcknowledgedRound's promotion and
	// stopLocked's step-down cancellation racing to complete() the same
	// still-current version twice (completionSource only rejects a stale
	// version, not a second completion of the current one).
	configBarrier        *completionSource[struct{}]
	configBarrierVersion uint64
	configDecided        atomic.Bool
}

func (s *leaderState) role() Role { return RoleLeader }

// becomeLeaderLocked must be called with ctrl.mu held, after a winning
// election tally (or a single-node cluster skipping straight to leader).
func (ctrl *Controller) becomeLeaderLocked(term uint64) {
	gen := ctrl.nextGeneration()
	_, cancel := context.WithCancel(ctrl.lifecycleCtx)
	members := ctrl.membersSnapshot()

	ls := &leaderState{
		ctrl:          ctrl,
		generation:    gen,
		term:          term,
		cancel:        cancel,
		lease:         newLease(),
		queue:         newReplicationQueue(),
		replicators:   make(map[string]*replicator, len(members)),
		roundStart:    ctrl.clock.Now(),
		roundAcked:    make(map[string]bool, len(members)),
		configBarrier: newCompletionSource[struct{}](),
	}
	ctrl.setStateLocked(ls, RoleLeader)
	ctrl.activeLeader.Store(ls)
	ctrl.leaderID = ctrl.localID
	ctrl.termCache.clear()
	recordLeaderTransition()

	for id, m := range members {
		r := newReplicator(ctrl, ls, m, term)
		ls.replicators[id] = r
		go r.run()
		r.trigger()
	}

	// A no-op entry committed under the new term lets the leader safely
	// advance commitIndex past entries left uncommitted by a predecessor
	// (the classic Raft "commit the current term" rule), mirrored from the
	// teacher's becomeLeader, which appended an empty AppendEntries round
	// immediately on taking office. It is appended after the replicators
	// have taken their NextIndex, so the first round's preceding entry is
	// one the followers may already hold.
	ctrl.log.AppendNoOpEntry(term)

	ctrl.events.fireLeaderChanged(ctrl.localID, term)

	if len(members) == 0 {
		// Single-node cluster: nothing to wait for, every entry commits solo.
		ls.roundAcked = map[string]bool{}
		ls.lease.renew(ls.roundStart, ctrl.cfg.ElectionTimeoutMin, ctrl.cfg.ClockDriftBound)
	}
}

func (s *leaderState) stopLocked() {
	s.ctrl.activeLeader.CompareAndSwap(s, nil)

	s.replMu.Lock()
	rs := make([]*replicator, 0, len(s.replicators))
	for _, r := range s.replicators {
		rs = append(rs, r)
	}
	s.replicators = nil
	s.replMu.Unlock()
	for _, r := range rs {
		r.stop()
	}

	s.lease.destroy()
	if s.configDecided.CompareAndSwap(false, true) {
		v := atomic.LoadUint64(&s.configBarrierVersion)
		s.configBarrier.complete(v, struct{}{}, ErrNotLeader)
	}
	s.cancel()
}

// attachMember starts a replicator for a newly reconciled member. A no-op
// if one already exists (idempotent against a reconcile racing a fresh
// becomeLeaderLocked fan-out).
func (s *leaderState) attachMember(m Member) {
	s.replMu.Lock()
	if _, ok := s.replicators[m.ID()]; ok {
		s.replMu.Unlock()
		return
	}
	r := newReplicator(s.ctrl, s, m, s.term)
	s.replicators[m.ID()] = r
	s.replMu.Unlock()

	go r.run()
	r.trigger()
}

// detachMember stops and forgets the replicator for a member removed by a
// reconciled configuration.
func (s *leaderState) detachMember(id string) {
	s.replMu.Lock()
	r, ok := s.replicators[id]
	if ok {
		delete(s.replicators, id)
	}
	s.replMu.Unlock()
	if ok {
		r.stop()
	}

	s.roundMu.Lock()
	delete(s.roundAcked, id)
	s.roundMu.Unlock()
}

func (s *leaderState) replicatorsSnapshot() []*replicator {
	s.replMu.Lock()
	defer s.replMu.Unlock()
	out := make([]*replicator, 0, len(s.replicators))
	for _, r := range s.replicators {
		out = append(out, r)
	}
	return out
}

// triggerAll wakes every replicator immediately, used by Replicate,
// ForceReplication and ProposeConfiguration instead of waiting for the
// next heartbeat tick.
func (s *leaderState) triggerAll() {
	for _, r := range s.replicatorsSnapshot() {
		r.trigger()
	}
}

// onAcknowledgedRound records that member acknowledged an AppendEntries
// round that started at start. Once a joint quorum (a strict majority of
// the active configuration, and, while a configuration change is
// outstanding, also a strict majority of the proposed configuration — spec
// §4.4 step 5) has acknowledged the round in progress, the lease is
// renewed and the replication barrier's current round completes (C6),
// unblocking anyone who joined it via Replicate/ApplyReadBarrier/
// ForceReplication. If the round also satisfies the proposed
// configuration's own quorum, the change is promoted to active.
func (s *leaderState) onAcknowledgedRound(memberID string, start time.Time) {
	if s.ctrl.activeLeader.Load() != s {
		return // stepped down; a late ack must not revive the lease
	}
	s.roundMu.Lock()
	if start.Before(s.roundStart) {
		s.roundMu.Unlock()
		return // stale ack from a round that already completed
	}
	s.roundAcked[memberID] = true

	acked := make(map[string]bool, len(s.roundAcked)+1)
	acked[s.ctrl.localID] = true
	for id, ok := range s.roundAcked {
		if ok {
			acked[id] = true
		}
	}

	active := s.ctrl.configStore.Active()
	proposed, hasProposed := s.ctrl.configStore.Proposed()
	var proposedPtr *clusterconfig.Configuration
	if hasProposed {
		proposedPtr = &proposed
	}

	if !jointQuorumReached(active, proposedPtr, acked) {
		s.roundMu.Unlock()
		return
	}

	s.lease.renew(s.roundStart, s.ctrl.cfg.ElectionTimeoutMin, s.ctrl.cfg.ClockDriftBound)
	s.queue.completeRound()
	s.roundStart = s.ctrl.clock.Now()
	s.roundAcked = make(map[string]bool, len(acked))
	s.roundMu.Unlock()

	if !hasProposed {
		return
	}
	// reconcileMembers must never be called with roundMu held (it may
	// detach a member, which re-locks roundMu to forget its ack).
	if err := s.ctrl.configStore.Apply(); err != nil {
		return
	}
	newActive := s.ctrl.configStore.Active()
	s.ctrl.logger.LogConfigApplied(newActive.Fingerprint)
	s.ctrl.reconcileMembers(newActive.Members)
	if s.configDecided.CompareAndSwap(false, true) {
		v := atomic.LoadUint64(&s.configBarrierVersion)
		s.configBarrier.complete(v, struct{}{}, nil)
	}
}

// computeCommitIndex returns the highest index acknowledged by a joint
// quorum: a strict majority of the active configuration, and, while a
// configuration change is outstanding, also a strict majority of the
// proposed configuration (spec §4.4 step 5) — the classic joint-consensus
// commit-index rule, the min of each configuration's own majority-match
// index.
func (s *leaderState) computeCommitIndex(selfIndex uint64) uint64 {
	lookup := func(id string) (uint64, bool) {
		m, ok := s.ctrl.memberByID(id)
		if !ok {
			return 0, false
		}
		return m.ReplicationState().MatchIndex, true
	}

	active := s.ctrl.configStore.Active()
	activeIdx := majorityMatchIndex(memberIDs(active), s.ctrl.localID, selfIndex, lookup)

	proposed, hasProposed := s.ctrl.configStore.Proposed()
	if !hasProposed {
		return activeIdx
	}
	proposedIdx := majorityMatchIndex(memberIDs(proposed), s.ctrl.localID, selfIndex, lookup)
	if proposedIdx < activeIdx {
		return proposedIdx
	}
	return activeIdx
}
