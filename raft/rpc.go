package raft

import "context"

// AppendEntries is the transport-independent handler a peer invokes (spec
// §4.8). Grounded on the teacher's election.go AppendEntries, extended
// with the configuration-fingerprint freshness check described in
// SPEC_FULL.md §9 Open Question #1.
func (ctrl *Controller) AppendEntries(ctx context.Context, args AppendEntriesArgs) (Result[AppendEntriesValue], error) {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()

	currentTerm := ctrl.log.Term()
	if args.Term < currentTerm {
		return Result[AppendEntriesValue]{Term: currentTerm, Value: AppendEntriesValue{Success: false}}, nil
	}
	if args.Term > currentTerm {
		ctrl.log.SetTerm(args.Term)
		currentTerm = args.Term
	}

	ctrl.leaderID = args.LeaderID
	ctrl.lastLeaderContact = ctrl.clock.Now()
	// A standby stays standby: it applies the leader's entries below as a
	// plain observer without rejoining the election-capable follower pool.
	if fs, ok := ctrl.state.(*followerState); ok && currentTerm == args.Term {
		fs.resetLocked("append entries from " + args.LeaderID)
	} else if _, standby := ctrl.state.(*standbyState); !standby {
		ctrl.becomeFollowerLocked(currentTerm, args.LeaderID)
	}
	ctrl.logger.LogAppendEntries(args.LeaderID, args.Term, args.PrevLogIndex, len(args.Entries))

	if !ctrl.log.Contains(args.PrevLogIndex, args.PrevLogTerm) {
		return Result[AppendEntriesValue]{Term: currentTerm, Value: AppendEntriesValue{Success: false}}, nil
	}

	if err := ctrl.log.AppendAndCommit(args.Entries, args.PrevLogIndex+1, true, args.LeaderCommit); err != nil {
		return Result[AppendEntriesValue]{Term: currentTerm, Value: AppendEntriesValue{Success: false}}, nil
	}

	configOK := ctrl.handleConfigLocked(args)

	ctrl.applyMu.Lock()
	ctrl.applyUpToLocked(ctrl.log.LastCommittedEntryIndex())
	ctrl.applyMu.Unlock()

	return Result[AppendEntriesValue]{Term: currentTerm, Value: AppendEntriesValue{Success: configOK, ConfigMismatch: !configOK}}, nil
}

// Vote handles RequestVote (spec §4.7): a binding vote that durably
// records votedFor.
func (ctrl *Controller) Vote(ctx context.Context, args VoteArgs) (Result[bool], error) {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()

	currentTerm := ctrl.log.Term()
	if args.Term < currentTerm {
		return Result[bool]{Term: currentTerm, Value: false}, nil
	}

	// Leader stickiness (spec §4.7): an unknown sender can't unseat a
	// leader this node heard from within the last election timeout.
	if _, known := ctrl.memberByID(args.CandidateID); !known && !ctrl.lastLeaderContact.IsZero() &&
		ctrl.clock.Now().Sub(ctrl.lastLeaderContact) < ctrl.cfg.ElectionTimeoutMin {
		ctrl.logger.LogVoteDenied(args.CandidateID, currentTerm, "unknown candidate while leader is live")
		return Result[bool]{Term: currentTerm, Value: false}, nil
	}

	if args.Term > currentTerm {
		ctrl.log.SetTerm(args.Term)
		currentTerm = args.Term
		if _, standby := ctrl.state.(*standbyState); !standby {
			ctrl.becomeFollowerLocked(currentTerm, "")
		}
	}

	if _, standby := ctrl.state.(*standbyState); standby || ctrl.standbyRequested {
		return Result[bool]{Term: currentTerm, Value: false}, nil
	}

	if !ctrl.log.IsVotedFor(args.CandidateID) {
		ctrl.logger.LogVoteDenied(args.CandidateID, currentTerm, "already voted this term")
		return Result[bool]{Term: currentTerm, Value: false}, nil
	}

	if !ctrl.isLogUpToDateLocked(args.LastLogIndex, args.LastLogTerm) {
		ctrl.logger.LogVoteDenied(args.CandidateID, currentTerm, "candidate log not up to date")
		return Result[bool]{Term: currentTerm, Value: false}, nil
	}

	ctrl.log.UpdateVotedFor(args.CandidateID)
	if fs, ok := ctrl.state.(*followerState); ok {
		fs.resetLocked("vote granted to " + args.CandidateID)
	}
	ctrl.logger.LogVoteGranted(args.CandidateID, currentTerm)
	return Result[bool]{Term: currentTerm, Value: true}, nil
}

// PreVote handles the non-binding pre-vote round (spec §4.6): it never
// mutates term or votedFor, only reports whether this node would grant a
// binding vote if asked.
func (ctrl *Controller) PreVote(ctx context.Context, args PreVoteArgs) (Result[PreVoteOutcome], error) {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()

	currentTerm := ctrl.log.Term()
	if _, ok := ctrl.state.(*leaderState); ok && args.NextTerm <= currentTerm+1 {
		return Result[PreVoteOutcome]{Term: currentTerm, Value: PreVoteRejectedByLeader}, nil
	}

	// AggressiveLeaderStickiness (spec §6): a follower that recently heard
	// from a leader refuses to encourage a challenger, even in the
	// non-binding pre-vote round, so a transient network hiccup on one link
	// can't trigger a needless election while the real leader is fine.
	if ctrl.cfg.AggressiveLeaderStickiness && !ctrl.lastLeaderContact.IsZero() {
		if ctrl.clock.Now().Sub(ctrl.lastLeaderContact) < ctrl.cfg.ElectionTimeoutMin {
			return Result[PreVoteOutcome]{Term: currentTerm, Value: PreVoteRejectedByFollower}, nil
		}
	}

	if !ctrl.isLogUpToDateLocked(args.LastLogIndex, args.LastLogTerm) {
		return Result[PreVoteOutcome]{Term: currentTerm, Value: PreVoteRejectedByFollower}, nil
	}
	return Result[PreVoteOutcome]{Term: currentTerm, Value: PreVoteAccepted}, nil
}

// InstallSnapshot handles InstallSnapshot (spec §4.9).
func (ctrl *Controller) InstallSnapshot(ctx context.Context, args InstallSnapshotArgs) (Result[bool], error) {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()

	currentTerm := ctrl.log.Term()
	if args.Term < currentTerm || args.SnapshotIndex <= ctrl.log.LastCommittedEntryIndex() {
		return Result[bool]{Term: currentTerm, Value: false}, nil
	}
	if args.Term > currentTerm {
		ctrl.log.SetTerm(args.Term)
		currentTerm = args.Term
	}
	ctrl.leaderID = args.LeaderID
	ctrl.lastLeaderContact = ctrl.clock.Now()
	if fs, ok := ctrl.state.(*followerState); ok {
		fs.resetLocked("install snapshot from " + args.LeaderID)
	} else if _, standby := ctrl.state.(*standbyState); !standby {
		ctrl.becomeFollowerLocked(currentTerm, args.LeaderID)
	}

	if err := ctrl.log.AppendSnapshot(args.Snapshot, args.SnapshotIndex, args.SnapshotTerm); err != nil {
		return Result[bool]{Term: currentTerm, Value: false}, nil
	}
	if err := ctrl.sm.RestoreSnapshot(args.Snapshot); err != nil {
		return Result[bool]{Term: currentTerm, Value: false}, nil
	}
	ctrl.termCache.clear()

	ctrl.applyMu.Lock()
	ctrl.lastApplied = args.SnapshotIndex
	ctrl.applyMu.Unlock()

	ctrl.logger.LogSnapshotInstalled(args.SnapshotIndex, args.SnapshotTerm)
	return Result[bool]{Term: currentTerm, Value: true}, nil
}

// Synchronize handles the read-barrier RPC (spec §4.10): the node reports
// whether it leads and its own committed index, so a follower's
// ApplyReadBarrier can wait until its log catches up to the leader's. A
// leader whose caller lags behind it also triggers an immediate round.
func (ctrl *Controller) Synchronize(ctx context.Context, args SynchronizeArgs) (SynchronizeValue, error) {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	ls, isLeader := ctrl.state.(*leaderState)
	if isLeader && args.CommitIndex < ctrl.log.LastCommittedEntryIndex() {
		ls.triggerAll()
	}
	return SynchronizeValue{IsLeader: isLeader, CommittedIndex: ctrl.log.LastCommittedEntryIndex()}, nil
}

// Resign asks a leader to step down immediately (used during planned
// maintenance / leadership transfer). Returns false if this node isn't
// leader.
func (ctrl *Controller) Resign(ctx context.Context) (bool, error) {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if _, ok := ctrl.state.(*leaderState); !ok {
		return false, nil
	}
	ctrl.becomeFollowerLocked(ctrl.log.Term(), "")
	return true, nil
}

// isLogUpToDateLocked implements the Raft "at least as up to date" log
// comparison (spec §4.7): compare terms first, then index, adapted from
// the teacher's election.go isLogUpToDate.
func (ctrl *Controller) isLogUpToDateLocked(lastLogIndex, lastLogTerm uint64) bool {
	ourIndex := ctrl.log.LastEntryIndex()
	ourTerm, _ := ctrl.termForIndex(ourIndex)
	if lastLogTerm != ourTerm {
		return lastLogTerm > ourTerm
	}
	return lastLogIndex >= ourIndex
}
