package raft

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"raftcluster/clock"
	"raftcluster/clusterconfig"
	"raftcluster/raftlog"
)

// roleState is the sealed-variant interface every Controller.state value
// implements: a pointer to exactly one of followerState, candidateState,
// leaderState or standbyState at any moment (spec §3, "role-state
// polymorphism"). Each carries its own generation counter so goroutines
// spawned for a previous state can recognize themselves as stale once
// superseded, instead of being forcibly canceled from outside.
type roleState interface {
	role() Role
	stopLocked()
}

// Controller is the cluster controller named by the spec as C8: the single
// owner of role transitions, the transition lock, and the peer RPC
// surface. Adapted from the teacher's RaftNode (raft/raft_core.go),
// generalized from its fixed Follower/Candidate/Leader switch into the
// roleState interface above, and carrying the additional collaborators
// (lease, term cache, failure detector, cluster configuration store) the
// teacher's single-file node didn't need.
type Controller struct {
	// mu is the transition lock: every role transition, and every peer RPC
	// handler, runs with mu held so a role change can never interleave with
	// an RPC that assumes the old role.
	mu sync.Mutex

	localID string
	cfg     Config

	log         raftlog.Log
	configStore *clusterconfig.Store

	// membersMu guards members and memberFactory, independent of mu: a
	// config entry can be applied (and membership reconciled) from code
	// paths that do and don't hold mu, so membership bookkeeping can never
	// depend on mu without risking deadlock (see raft/membership.go).
	membersMu     sync.RWMutex
	members       map[string]Member // remote peers only; the local node is not one of its own Members
	memberFactory func(id, endpoint string) Member

	// activeLeader lets code outside the transition lock (membership
	// reconciliation) reach the current leaderState's replicator set
	// without acquiring mu. Set by becomeLeaderLocked, cleared by
	// leaderState.stopLocked.
	activeLeader atomic.Pointer[leaderState]

	sm     StateMachine
	clock  clock.Clock
	logger *Logger
	events Events

	lifecycleCtx    context.Context
	lifecycleCancel context.CancelFunc

	generation uint64 // atomic; next roleState generation token

	state             roleState
	leaderID          string
	lastLeaderContact time.Time

	termCache *termCache

	standbyRequested bool

	applyMu     sync.Mutex
	lastApplied uint64
	// applyResults hands a state-machine result from the apply loop to the
	// Replicate caller waiting on that index: a command is applied exactly
	// once, in the loop, never re-run to produce a return value. Guarded by
	// applyMu.
	applyResults map[uint64]*applyResult

	readyOnce sync.Once
	readyCh   chan struct{}

	started bool
	stopped bool
}

// NewController wires together the collaborators named in spec §6.
func NewController(localID string, cfg Config, log raftlog.Log, configStore *clusterconfig.Store, members map[string]Member, sm StateMachine, clk clock.Clock, logger *Logger, events Events) *Controller {
	if members == nil {
		members = make(map[string]Member)
	}
	// An inbound RPC may legitimately arrive before Start (the transport
	// binds first), and its handler may transition roles; give the
	// controller a usable lifecycle context from birth. Start replaces it
	// with one derived from the caller's.
	lifecycleCtx, lifecycleCancel := context.WithCancel(context.Background())
	return &Controller{
		localID:      localID,
		cfg:          cfg,
		log:          log,
		configStore:  configStore,
		members:      members,
		sm:           sm,
		clock:        clk,
		logger:       logger,
		events:       events,
		termCache:    newTermCache(),
		readyCh:      make(chan struct{}),
		applyResults: make(map[uint64]*applyResult),

		lifecycleCtx:    lifecycleCtx,
		lifecycleCancel: lifecycleCancel,
	}
}

// applyResult carries one applied command's outcome from applyUpToLocked
// to the Replicate caller that claimed its index.
type applyResult struct {
	value interface{}
	err   error
	done  bool
}

func (ctrl *Controller) nextGeneration() uint64 {
	return atomic.AddUint64(&ctrl.generation, 1)
}

// setStateLocked installs the new role state, stopping whatever the
// previous one was. Must be called with mu held.
func (ctrl *Controller) setStateLocked(next roleState, role Role) {
	old := ctrl.state
	var oldRole Role
	if old != nil {
		oldRole = old.role()
		old.stopLocked()
	}
	ctrl.state = next
	ctrl.logger.LogStateChange(oldRole, role, ctrl.log.Term())
	if role == RoleLeader || role == RoleFollower {
		ctrl.readyOnce.Do(func() {
			close(ctrl.readyCh)
			ctrl.events.fireReady()
		})
	}
}

// Start begins the controller's lifecycle: it becomes Follower (or
// Standby, if configured to start there) and the election-timeout watcher
// begins running.
func (ctrl *Controller) Start(ctx context.Context) error {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if ctrl.started {
		return ErrAlreadyStarted
	}
	ctrl.started = true
	ctrl.lifecycleCtx, ctrl.lifecycleCancel = context.WithCancel(ctx)

	if ctrl.cfg.Standby {
		ctrl.standbyRequested = true
		ctrl.becomeStandbyLocked(true)
	} else {
		ctrl.becomeFollowerLocked(ctrl.log.Term(), "")
	}
	return nil
}

// Stop tears down whatever role state is active and cancels every
// in-flight RPC the controller started.
func (ctrl *Controller) Stop() error {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if !ctrl.started || ctrl.stopped {
		return ErrNotStarted
	}
	ctrl.stopped = true
	// Standby(non-resumable) is the terminal state (spec §4.1):
	// RevertToNormalMode refuses it, and a standby never votes or elects.
	ctrl.becomeStandbyLocked(false)
	for _, m := range ctrl.membersSnapshot() {
		m.CancelPendingRequests()
	}
	ctrl.lifecycleCancel()
	return nil
}

// becomeFollowerLocked must be called with mu held.
func (ctrl *Controller) becomeFollowerLocked(term uint64, leaderID string) {
	if leaderID != "" {
		ctrl.leaderID = leaderID
	}
	fs := ctrl.newFollowerStateLocked()
	ctrl.setStateLocked(fs, RoleFollower)
}

// GetState reports the controller's current role, term and last-known
// leader id ("" if unknown).
func (ctrl *Controller) GetState() (Role, uint64, string) {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	role := RoleFollower
	if ctrl.state != nil {
		role = ctrl.state.role()
	}
	return role, ctrl.log.Term(), ctrl.leaderID
}

// WaitForLeader blocks until the controller has observed some leader (or
// become one itself) or ctx is done.
func (ctrl *Controller) WaitForLeader(ctx context.Context) error {
	for {
		ctrl.mu.Lock()
		known := ctrl.leaderID != ""
		ctrl.mu.Unlock()
		if known {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// EnableStandbyMode transitions the node to Standby, regardless of its
// current role; a standing leader first steps down.
func (ctrl *Controller) EnableStandbyMode() error {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	ctrl.standbyRequested = true
	ctrl.becomeStandbyLocked(true)
	return nil
}

// RevertToNormalMode leaves Standby and resumes ordinary Follower
// participation (voting, election timeouts). Valid only from a resumable
// Standby; in particular the terminal standby Stop installs stays put.
func (ctrl *Controller) RevertToNormalMode() error {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	ss, ok := ctrl.state.(*standbyState)
	if !ok || !ss.resumable {
		return ErrInvalidSourceState
	}
	ctrl.standbyRequested = false
	ctrl.logger.LogStandbyMode(false)
	ctrl.becomeFollowerLocked(ctrl.log.Term(), ctrl.leaderID)
	return nil
}

// ProposeConfiguration stages a configuration change and drives it to a
// joint-quorum commit, supplementing the spec's AppendEntries-side
// configuration handling (§4.8) with the entry point that actually
// originates a change (spec §4, "Supplement: ProposeConfiguration"). Only
// the leader may propose; only one proposal may be outstanding across the
// cluster at a time (clusterconfig.Store.Propose enforces this). It blocks
// until the new configuration has been acknowledged by a joint quorum of
// both the old and new member sets and promoted to active (spec §4.4 step
// 5), or until this node stops leading.
func (ctrl *Controller) ProposeConfiguration(members []clusterconfig.Member) error {
	ctrl.mu.Lock()
	ls, ok := ctrl.state.(*leaderState)
	if !ok {
		ctrl.mu.Unlock()
		return ErrNotLeader
	}
	ctrl.mu.Unlock()

	cfg, err := ctrl.configStore.Propose(members)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigurationChangeInProgress, err)
	}

	// Start replicating toward any brand-new member immediately, rather
	// than waiting for the next commit: a new member must receive and ack
	// entries before it can contribute to the joint quorum that promotes
	// the very configuration naming it.
	ctrl.reconcileMembers(unionMembers(ctrl.configStore.Active(), &cfg))

	version := ls.configBarrier.reset()
	atomic.StoreUint64(&ls.configBarrierVersion, version)
	ls.configDecided.Store(false)
	if _, pending := ctrl.configStore.Proposed(); !pending {
		// Already promoted by a round that finished before the reset.
		return nil
	}
	ls.triggerAll()

	_, err = ls.configBarrier.wait(context.Background())
	return err
}

// Replicate appends payload to the log and blocks until it has been
// committed by a quorum and applied to the state machine, returning the
// state machine's result.
func (ctrl *Controller) Replicate(ctx context.Context, payload []byte) (interface{}, error) {
	ctrl.mu.Lock()
	ls, ok := ctrl.state.(*leaderState)
	if !ok {
		ctrl.mu.Unlock()
		return nil, ErrNotLeader
	}
	ctrl.mu.Unlock()
	return ctrl.replicateWithLeader(ctx, ls, payload)
}

func (ctrl *Controller) replicateWithLeader(ctx context.Context, ls *leaderState, payload []byte) (interface{}, error) {
	start := ctrl.clock.Now()

	// The appended index must be claimed before any replication round can
	// commit and apply it, so the append happens under applyMu: the apply
	// loop can't run past the new entry until the claim is registered.
	ctrl.applyMu.Lock()
	index, err := ctrl.log.Append(raftlog.Entry{
		Term:      ls.term,
		Payload:   payload,
		Timestamp: ctrl.clock.Now().UnixNano(),
	})
	if err != nil {
		ctrl.applyMu.Unlock()
		return nil, fmt.Errorf("raft: append failed: %w", err)
	}
	res := &applyResult{}
	ctrl.applyResults[index] = res
	ctrl.applyMu.Unlock()

	ls.triggerAll()
	ctrl.advanceCommitIndex(ls) // handles the zero-peer cluster, where no replicator ever runs

	if err := ctrl.log.WaitForCommit(ctx, index); err != nil {
		ctrl.applyMu.Lock()
		delete(ctrl.applyResults, index)
		ctrl.applyMu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrCanceled, err)
	}
	recordCommitLatency(start)

	ctrl.applyMu.Lock()
	defer ctrl.applyMu.Unlock()
	ctrl.applyUpToLocked(index)
	delete(ctrl.applyResults, index)
	entry, ok := ctrl.log.EntryAt(index)
	if !ok {
		return nil, ErrLogMismatch
	}
	if entry.Term != ls.term {
		// A newer leader truncated and overwrote this index before it
		// committed (raftlog.FileLog.appendFromLocked); whatever is there
		// now belongs to a different command (spec §4.1: "iff the entry's
		// term still matches current term after commit").
		return nil, ErrMustRetry
	}
	return res.value, res.err
}

// ApplyReadBarrier blocks until it is safe to serve a linearizable local
// read: immediately if the leader's lease is still valid, otherwise after
// a full replication round confirms continued leadership. A follower
// instead asks the current leader for its commit index via Synchronize
// and blocks until its own log catches up (spec §4.1, §4.10, scenario 5).
func (ctrl *Controller) ApplyReadBarrier(ctx context.Context) error {
	ctrl.mu.Lock()
	if ls, ok := ctrl.state.(*leaderState); ok {
		ctrl.mu.Unlock()
		if ls.lease.valid(ctrl.clock.Now()) {
			return nil
		}
		return ctrl.ForceReplication()
	}
	leaderID := ctrl.leaderID
	ctrl.mu.Unlock()
	member, haveLeader := ctrl.memberByID(leaderID)

	if leaderID == "" || !haveLeader {
		return ErrLeaderUnavailable
	}

	result, err := member.Synchronize(ctx, SynchronizeArgs{CommitIndex: ctrl.log.LastCommittedEntryIndex()})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLeaderUnavailable, err)
	}
	if !result.IsLeader {
		return ErrLeaderUnavailable
	}
	return ctrl.log.WaitForCommit(ctx, result.CommittedIndex)
}

// ForceReplication blocks until the next full heartbeat round completes,
// joining the replication barrier (C6) rather than starting its own.
func (ctrl *Controller) ForceReplication() error {
	ctrl.mu.Lock()
	ls, ok := ctrl.state.(*leaderState)
	if !ok {
		ctrl.mu.Unlock()
		return ErrNotLeader
	}
	ctrl.mu.Unlock()

	ch := ls.queue.join()
	ls.triggerAll()
	<-ch
	return nil
}

// --- helpers consumed by replicator.go ---

func (ctrl *Controller) termForIndex(index uint64) (uint64, bool) {
	if index == 0 {
		return 0, true
	}
	if term, ok := ctrl.termCache.get(index); ok {
		return term, true
	}
	if entry, ok := ctrl.log.EntryAt(index); ok {
		ctrl.termCache.put(index, entry.Term)
		return entry.Term, true
	}
	term, err := ctrl.log.GetTerm(index)
	if err != nil {
		return 0, false
	}
	ctrl.termCache.put(index, term)
	return term, true
}

func (ctrl *Controller) noteHigherTerm(term uint64) {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	oldTerm := ctrl.log.Term()
	if term <= oldTerm {
		return
	}
	ctrl.log.SetTerm(term)
	ctrl.logger.LogStepDown(oldTerm, term)
	ctrl.becomeFollowerLocked(term, "")
}

func (ctrl *Controller) advanceCommitIndex(ls *leaderState) {
	ctrl.mu.Lock()
	if cur, ok := ctrl.state.(*leaderState); !ok || cur.generation != ls.generation {
		ctrl.mu.Unlock()
		return
	}
	ctrl.mu.Unlock()

	candidate := ls.computeCommitIndex(ctrl.log.LastEntryIndex())
	term, ok := ctrl.termForIndex(candidate)
	if !ok || term != ls.term {
		// Never commit an entry from a previous term by counting alone
		// (the standard Raft safety restriction).
		return
	}
	added, err := ctrl.log.Commit(candidate)
	if err != nil || added == 0 {
		return
	}
	newCommit := ctrl.log.LastCommittedEntryIndex()
	ctrl.logger.LogCommit(newCommit, ls.term)

	ctrl.applyMu.Lock()
	ctrl.applyUpToLocked(newCommit)
	ctrl.applyMu.Unlock()
}

// applyUpToLocked applies every committed-but-unapplied entry through
// index, in order. Caller holds applyMu.
func (ctrl *Controller) applyUpToLocked(index uint64) {
	for i := ctrl.lastApplied + 1; i <= index; i++ {
		entry, ok := ctrl.log.EntryAt(i)
		if !ok {
			break
		}
		var value interface{}
		var err error
		if entry.IsSnapshot {
			err = ctrl.sm.RestoreSnapshot(entry.Payload)
		} else {
			value, err = ctrl.sm.Apply(entry.Payload)
			ctrl.logger.LogApply(i, FormatIndex(i))
		}
		if res, ok := ctrl.applyResults[i]; ok {
			res.value, res.err = value, err
			res.done = true
		}
		ctrl.lastApplied = i
	}
}

func (ctrl *Controller) currentSnapshot() ([]byte, uint64, uint64, error) {
	payload, err := ctrl.sm.CreateSnapshot()
	if err != nil {
		return nil, 0, 0, err
	}
	index := ctrl.log.LastCommittedEntryIndex()
	term, _ := ctrl.termForIndex(index)
	return payload, index, term, nil
}
