package raft

import (
	"context"
	"sync/atomic"
	"time"

	"raftcluster/clusterconfig"
	"raftcluster/failuredetector"
)

// replicator drives log replication toward a single Member on behalf of a
// leaderState (C5). One replicator per remote member, created when a node
// becomes leader and torn down on step-down. Adapted from the teacher's
// hashicorp/raft-derived followerReplication/replicate loop (grounded on
// other_examples' mauri870-raft replication.go): a trigger channel wakes
// the loop for an immediate send, and a clock-driven ticker provides the
// periodic heartbeat when nothing new has been proposed. Unlike that
// reference, there is no separate pipeline mode — every round is a single
// AppendEntries carrying zero or more entries, which keeps nextIndex/
// matchIndex bookkeeping (ReplicationState) trivial to reason about.
type replicator struct {
	ctrl   *Controller
	owner  *leaderState
	member Member
	term   uint64

	triggerCh chan struct{}
	stopCh    chan struct{}

	detector *failuredetector.Detector

	// lastSeenConfigFingerprint is the fingerprint this replicator last got
	// an acknowledged ApplyConfig round for, so it only proposes the active
	// configuration to a follower once, instead of on every heartbeat.
	lastSeenConfigFingerprint uint64
	// reportedUnavailable guards against firing Events.MemberUnavailable
	// repeatedly for the same outage (spec §4.11).
	reportedUnavailable atomic.Bool
}

func newReplicator(ctrl *Controller, owner *leaderState, member Member, term uint64) *replicator {
	rs := member.ReplicationState()
	rs.NextIndex = ctrl.log.LastEntryIndex() + 1
	rs.MatchIndex = 0

	return &replicator{
		ctrl:      ctrl,
		owner:     owner,
		member:    member,
		term:      term,
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		detector:  failuredetector.New(failuredetector.DefaultConfig(), ctrl.clock),
	}
}

// trigger wakes the replication loop for an immediate round, coalescing
// with any pending trigger already queued.
func (r *replicator) trigger() {
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

// stop signals the loop to exit without waiting for the round in flight:
// the caller usually holds ctrl.mu, and a round blocked on acquiring that
// same lock (advanceCommitIndex, noteHigherTerm) must be allowed to finish
// on its own. Whatever it does afterward is generation-guarded.
func (r *replicator) stop() {
	close(r.stopCh)
}

func (r *replicator) run() {
	heartbeat := heartbeatInterval(r.ctrl.cfg)
	ticker := r.ctrl.clock.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-r.triggerCh:
			r.round()
		case <-ticker.C():
			r.round()
		}
	}
}

// round performs one replication attempt: install a snapshot if the
// member has fallen behind the log's retained prefix, otherwise send an
// AppendEntries carrying everything from its nextIndex onward, plus
// whatever configuration side-channel the leader owes this follower this
// round (spec §4.8).
func (r *replicator) round() {
	start := r.ctrl.clock.Now()
	rs := r.member.ReplicationState()

	prevIndex := rs.NextIndex - 1
	prevTerm, ok := r.ctrl.termForIndex(prevIndex)
	if !ok {
		r.installSnapshot(start)
		return
	}
	rs.PrecedingIndex, rs.PrecedingTerm = prevIndex, prevTerm

	entries := r.ctrl.log.EntriesFrom(rs.NextIndex)
	// The follower has fallen behind the log's retained prefix: either the
	// batch opens with the compaction snapshot itself, or compaction left a
	// gap before the first retained entry (the preceding term can still be
	// a cache hit for a compacted index, so the check above isn't enough).
	if len(entries) > 0 && (entries[0].IsSnapshot || entries[0].Index != rs.NextIndex) {
		r.installSnapshot(start)
		return
	}

	ctx, cancel := context.WithTimeout(r.ctrl.lifecycleCtx, rpcTimeout(r.ctrl.cfg))
	defer cancel()

	// A configuration still being voted on is proposed every round (so a
	// new joiner starts replicating toward joint quorum immediately); once
	// it's active and this follower hasn't acked that fingerprint yet, it's
	// sent once more with ApplyConfig set (spec §4.8's apply row).
	var proposedConfig *clusterconfig.Configuration
	applyConfig := false
	if proposed, hasProposed := r.ctrl.configStore.Proposed(); hasProposed {
		proposedConfig = &proposed
	} else if active := r.ctrl.configStore.Active(); r.lastSeenConfigFingerprint != active.Fingerprint {
		proposedConfig = &active
		applyConfig = true
	}

	result, err := r.member.AppendEntries(ctx, AppendEntriesArgs{
		Term:           r.term,
		LeaderID:       r.ctrl.localID,
		PrevLogIndex:   prevIndex,
		PrevLogTerm:    prevTerm,
		Entries:        entries,
		LeaderCommit:   r.ctrl.log.LastCommittedEntryIndex(),
		ProposedConfig: proposedConfig,
		ApplyConfig:    applyConfig,
	})
	recordReplicationLatency(r.member.ID(), start)
	if err != nil {
		recordReplicationFailure(r.member.ID())
		r.checkHealth()
		return
	}

	r.detector.ReportHeartbeat()
	r.checkHealth()
	r.ctrl.logger.LogHeartbeatSent(r.term, 1)

	if result.Term > r.term {
		r.ctrl.noteHigherTerm(result.Term)
		return
	}

	if !result.Value.Success {
		if result.Value.ConfigMismatch {
			// Follower's staged configuration disagrees with ours; next
			// round resends the current proposal/active configuration
			// until it converges (spec §4.8, mismatch-and-apply row).
			r.ctrl.logger.LogConfigMismatch(r.member.ID())
			return
		}
		if rs.NextIndex > 1 {
			rs.NextIndex--
		}
		return
	}

	if applyConfig && proposedConfig != nil {
		r.lastSeenConfigFingerprint = proposedConfig.Fingerprint
	}
	if len(entries) > 0 {
		rs.MatchIndex = entries[len(entries)-1].Index
		rs.NextIndex = rs.MatchIndex + 1
	} else {
		rs.MatchIndex = prevIndex
	}
	r.ctrl.events.fireReplicationCompleted(r.member.ID(), rs.MatchIndex)
	r.owner.onAcknowledgedRound(r.member.ID(), start)
	r.ctrl.advanceCommitIndex(r.owner)
}

func (r *replicator) installSnapshot(start time.Time) {
	rs := r.member.ReplicationState()
	payload, index, term, err := r.ctrl.currentSnapshot()
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.ctrl.lifecycleCtx, snapshotRPCTimeout(r.ctrl.cfg))
	defer cancel()

	result, err := r.member.InstallSnapshot(ctx, InstallSnapshotArgs{
		Term:          r.term,
		LeaderID:      r.ctrl.localID,
		Snapshot:      payload,
		SnapshotIndex: index,
		SnapshotTerm:  term,
	})
	recordReplicationLatency(r.member.ID(), start)
	if err != nil {
		recordReplicationFailure(r.member.ID())
		r.checkHealth()
		return
	}

	r.detector.ReportHeartbeat()
	r.checkHealth()

	if result.Term > r.term {
		r.ctrl.noteHigherTerm(result.Term)
		return
	}
	if result.Value {
		rs.MatchIndex = index
		rs.NextIndex = index + 1
		r.owner.onAcknowledgedRound(r.member.ID(), start)
	}
}

// checkHealth consults the per-follower failure detector (spec §4.11) and
// fires Events.MemberUnavailable the moment it trips, exactly once per
// outage, with a LeadershipToken the handler can use to confirm this node
// is still the leader of the term that detected the problem before acting
// on it (e.g. proposing the member's removal).
func (r *replicator) checkHealth() {
	if r.detector.IsMonitoring() && !r.detector.IsHealthy() {
		if r.reportedUnavailable.CompareAndSwap(false, true) {
			r.ctrl.logger.LogMemberUnhealthy(r.member.ID())
			token := LeadershipToken{ctrl: r.ctrl, term: r.term, generation: r.owner.generation}
			r.ctrl.events.fireMemberUnavailable(r.member, token)
		}
		return
	}
	if r.detector.IsHealthy() {
		r.reportedUnavailable.Store(false)
	}
}

func heartbeatInterval(cfg Config) time.Duration {
	threshold := cfg.HeartbeatThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = 0.3
	}
	return time.Duration(float64(cfg.ElectionTimeoutMin) * threshold)
}

func rpcTimeout(cfg Config) time.Duration {
	return cfg.ElectionTimeoutMin
}

func snapshotRPCTimeout(cfg Config) time.Duration {
	return cfg.ElectionTimeoutMax * 4
}
