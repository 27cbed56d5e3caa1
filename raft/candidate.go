package raft

import (
	"context"
	"sync"

	"raftcluster/clusterconfig"
)

// candidateState implements C7's Candidate role, covering both phases the
// spec describes: an initial pre-vote round that never touches persistent
// term/vote state, and — once a pre-vote majority agrees the candidate's
// log is current enough to win — the real election that does increment the
// term and request binding votes (spec §4.6/§4.7). Grounded on the
// teacher's election.go startElection/requestVote, generalized to add the
// pre-vote phase and the generation-guarded async tally.
type candidateState struct {
	ctrl       *Controller
	generation uint64
	term       uint64 // set once the real election starts; 0 during pre-vote
	cancel     context.CancelFunc
}

func (s *candidateState) role() Role { return RoleCandidate }

// becomeCandidateLocked must be called with ctrl.mu held.
func (ctrl *Controller) becomeCandidateLocked(startWithPreVote bool) {
	gen := ctrl.nextGeneration()
	ctx, cancel := context.WithCancel(ctrl.lifecycleCtx)
	cs := &candidateState{ctrl: ctrl, generation: gen, cancel: cancel}
	ctrl.setStateLocked(cs, RoleCandidate)
	go cs.run(ctx, startWithPreVote)
}

func (s *candidateState) stopLocked() {
	s.cancel()
}

func (s *candidateState) run(ctx context.Context, preVote bool) {
	if preVote {
		recordElectionStarted()
		s.ctrl.logger.LogElectionStart(s.ctrl.log.Term()+1, true)
		if !s.runPreVote(ctx) {
			s.ctrl.abandonCandidacy(s.generation)
			return
		}
	}
	s.runElection(ctx)
}

func (s *candidateState) quorumArgs() (lastIndex, lastTerm uint64) {
	lastIndex = s.ctrl.log.LastEntryIndex()
	lastTerm, _ = s.ctrl.termForIndex(lastIndex)
	return
}

func (s *candidateState) jointConfigs() (clusterconfig.Configuration, *clusterconfig.Configuration) {
	active := s.ctrl.configStore.Active()
	proposed, hasProposed := s.ctrl.configStore.Proposed()
	if !hasProposed {
		return active, nil
	}
	return active, &proposed
}

// runPreVote asks every peer "would you vote for me if I started an
// election", without incrementing the term or recording a vote anywhere.
// A peer that still hears from a current leader rejects; this keeps a
// partitioned node from bumping the cluster's term on every one of its own
// futile timeouts (spec §4.6).
//
// Responses are tallied with a signed vote (spec §4.6): Accepted is +1,
// RejectedByFollower is -1, and a sitting leader's RejectedByLeader is a
// hard veto (tally := -infinity) rather than mere silence, since a live
// leader answering at all means this pre-vote must not proceed regardless
// of what anyone else says. The round proceeds iff a joint quorum (spec
// §4.4 step 5) of positive tallies is reached before every peer has
// answered or the veto fires.
func (s *candidateState) runPreVote(ctx context.Context) bool {
	lastIndex, lastTerm := s.quorumArgs()
	args := PreVoteArgs{NextTerm: s.ctrl.log.Term() + 1, LastLogIndex: lastIndex, LastLogTerm: lastTerm}

	members := s.ctrl.membersSnapshot()
	active, proposed := s.jointConfigs()

	cs := newCompletionSource[bool]()
	version := cs.reset()
	var mu sync.Mutex
	tally := map[string]int{s.ctrl.localID: 1}
	responded := map[string]bool{}
	decided := false

	checkLocked := func() {
		if decided {
			return
		}
		acked := make(map[string]bool, len(tally))
		for id, v := range tally {
			if v > 0 {
				acked[id] = true
			}
		}
		if jointQuorumReached(active, proposed, acked) {
			decided = true
			cs.complete(version, true, nil)
			return
		}
		if len(responded) == len(members) {
			decided = true
			cs.complete(version, false, nil)
		}
	}

	mu.Lock()
	checkLocked()
	mu.Unlock()

	for _, m := range members {
		go func(m Member) {
			result, err := m.PreVote(ctx, args)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				responded[m.ID()] = true
				checkLocked()
				return
			}
			if result.Term > args.NextTerm-1 {
				s.ctrl.noteHigherTerm(result.Term)
			}
			responded[m.ID()] = true
			switch result.Value {
			case PreVoteAccepted:
				tally[m.ID()] = 1
			case PreVoteRejectedByFollower:
				tally[m.ID()] = -1
			case PreVoteRejectedByLeader:
				if !decided {
					decided = true
					cs.complete(version, false, nil)
				}
				return
			}
			checkLocked()
		}(m)
	}
	go func() {
		<-ctx.Done()
		mu.Lock()
		defer mu.Unlock()
		if !decided {
			decided = true
			cs.complete(version, false, ctx.Err())
		}
	}()

	result, _ := cs.wait(ctx)
	return result
}

// runElection is the binding election: increments the term, votes for
// itself, and requests votes from every peer, deciding on the same joint
// quorum (spec §4.4 step 5) a configuration change in flight would need.
func (s *candidateState) runElection(ctx context.Context) {
	s.ctrl.mu.Lock()
	if cur, ok := s.ctrl.state.(*candidateState); !ok || cur.generation != s.generation {
		s.ctrl.mu.Unlock()
		return
	}
	term, err := s.ctrl.log.IncrementTerm(s.ctrl.localID)
	if err != nil {
		s.ctrl.mu.Unlock()
		return
	}
	s.term = term
	s.ctrl.mu.Unlock()

	recordElectionStarted()
	s.ctrl.logger.LogElectionStart(term, false)

	lastIndex, lastTerm := s.quorumArgs()
	args := VoteArgs{Term: term, CandidateID: s.ctrl.localID, LastLogIndex: lastIndex, LastLogTerm: lastTerm}

	members := s.ctrl.membersSnapshot()
	active, proposed := s.jointConfigs()

	cs := newCompletionSource[bool]()
	version := cs.reset()
	var mu sync.Mutex
	granted := map[string]bool{s.ctrl.localID: true}
	responded := map[string]bool{}
	votes := 1
	decided := false

	checkLocked := func() {
		if decided {
			return
		}
		if jointQuorumReached(active, proposed, granted) {
			decided = true
			cs.complete(version, true, nil)
			return
		}
		if len(responded) == len(members) {
			decided = true
			cs.complete(version, false, nil)
		}
	}

	mu.Lock()
	checkLocked()
	mu.Unlock()

	for _, m := range members {
		go func(m Member) {
			result, err := m.Vote(ctx, args)
			mu.Lock()
			defer mu.Unlock()
			responded[m.ID()] = true
			if err != nil {
				checkLocked()
				return
			}
			if result.Term > term {
				s.ctrl.noteHigherTerm(result.Term)
				checkLocked()
				return
			}
			if !result.Value {
				checkLocked()
				return
			}
			granted[m.ID()] = true
			votes++
			s.ctrl.logger.LogVoteGranted(m.ID(), term)
			checkLocked()
		}(m)
	}
	go func() {
		<-ctx.Done()
		mu.Lock()
		defer mu.Unlock()
		if !decided {
			decided = true
			cs.complete(version, false, ctx.Err())
		}
	}()

	won, _ := cs.wait(ctx)

	s.ctrl.mu.Lock()
	defer s.ctrl.mu.Unlock()
	if cur, ok := s.ctrl.state.(*candidateState); !ok || cur.generation != s.generation {
		return // superseded while the tally was in flight
	}
	needed := quorumSize(len(members) + 1)
	if won {
		s.ctrl.logger.LogElectionWon(term, uint64(votes), uint64(needed))
		s.ctrl.becomeLeaderLocked(term)
	} else {
		s.ctrl.logger.LogElectionLost(term, uint64(votes), uint64(needed))
		s.ctrl.becomeFollowerLocked(term, "")
	}
}

// abandonCandidacy reverts to Follower after a failed pre-vote round,
// guarded by generation so a stale round can't undo a newer transition.
func (ctrl *Controller) abandonCandidacy(generation uint64) {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if cur, ok := ctrl.state.(*candidateState); !ok || cur.generation != generation {
		return
	}
	ctrl.becomeFollowerLocked(ctrl.log.Term(), "")
}
