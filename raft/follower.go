package raft

import (
	"context"

	cfclock "code.cloudfoundry.org/clock"
)

// followerState implements C7's Follower role: wait for either an
// AppendEntries/InstallSnapshot from a leader or a vote granted to a
// candidate (both of which reset the election timer through
// followerState.resetLocked, called from the RPC handlers) before the election
// timeout elapses, at which point it converts to pre-vote candidate.
//
// generation is this state instance's weak-identity token (spec §9): the
// timer goroutine captures it at creation time and the controller checks
// it still matches the live state before acting on a fired timer, so a
// timer belonging to a since-replaced followerState can never trigger a
// stale transition.
type followerState struct {
	ctrl       *Controller
	generation uint64
	timer      cfclock.Timer
	cancel     context.CancelFunc
}

func (s *followerState) role() Role { return RoleFollower }

// newFollowerStateLocked starts the election timer and its watcher goroutine.
// Must be called with ctrl.mu held.
func (ctrl *Controller) newFollowerStateLocked() *followerState {
	gen := ctrl.nextGeneration()
	ctx, cancel := context.WithCancel(ctrl.lifecycleCtx)
	timeout := randomDuration(ctrl.cfg.ElectionTimeoutMin, ctrl.cfg.ElectionTimeoutMax)
	fs := &followerState{
		ctrl:       ctrl,
		generation: gen,
		timer:      ctrl.clock.NewTimer(timeout),
		cancel:     cancel,
	}
	go fs.watch(ctx)
	return fs
}

func (s *followerState) watch(ctx context.Context) {
	select {
	case <-s.timer.C():
		s.ctrl.onElectionTimeout(s.generation)
	case <-ctx.Done():
		s.timer.Stop()
	}
}

// resetLocked restarts the election timer in place, called whenever the
// follower observes activity from a legitimate leader or grants a vote.
// Must be called with ctrl.mu held.
func (s *followerState) resetLocked(reason string) {
	s.timer.Stop()
	timeout := randomDuration(s.ctrl.cfg.ElectionTimeoutMin, s.ctrl.cfg.ElectionTimeoutMax)
	s.timer.Reset(timeout)
	s.ctrl.logger.LogElectionTimerReset(reason)
}

func (s *followerState) stopLocked() {
	s.cancel()
}

// onElectionTimeout is invoked from the timer-watcher goroutine, outside
// ctrl.mu. It re-validates the generation under the lock before acting.
func (ctrl *Controller) onElectionTimeout(generation uint64) {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()

	fs, ok := ctrl.state.(*followerState)
	if !ok || fs.generation != generation {
		return // stale: superseded by a later transition
	}
	ctrl.logger.LogElectionTimeout()
	if ctrl.standbyRequested {
		return
	}
	ctrl.becomeCandidateLocked(true)
}
