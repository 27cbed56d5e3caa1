package raft

import "raftcluster/clusterconfig"

// SetMemberFactory installs the constructor used to create a transport
// Member for a cluster member added by a committed configuration change
// (spec §4, "Supplement: ProposeConfiguration"). Must be called before
// Start; cmd/raftnode wires this to transport/grpc.NewPeer. A Controller
// with no factory set can still shrink its membership (ProposeConfiguration
// removing a member never needs one), it just can't grow past the peers it
// was constructed with.
func (ctrl *Controller) SetMemberFactory(factory func(id, endpoint string) Member) {
	ctrl.membersMu.Lock()
	defer ctrl.membersMu.Unlock()
	ctrl.memberFactory = factory
}

// membersSnapshot returns a point-in-time copy of the remote member map,
// safe to range over without holding membersMu for the duration.
func (ctrl *Controller) membersSnapshot() map[string]Member {
	ctrl.membersMu.RLock()
	defer ctrl.membersMu.RUnlock()
	out := make(map[string]Member, len(ctrl.members))
	for id, m := range ctrl.members {
		out[id] = m
	}
	return out
}

func (ctrl *Controller) memberByID(id string) (Member, bool) {
	ctrl.membersMu.RLock()
	defer ctrl.membersMu.RUnlock()
	m, ok := ctrl.members[id]
	return m, ok
}

// reconcileMembers makes ctrl.members, and — if this node currently leads —
// the leader's replicator set, match cfgMembers. It is the missing wiring
// review comment #1 asked for: a committed configuration change actually
// adds/removes a Member and its replicator, instead of only updating
// clusterconfig.Store bookkeeping. Safe to call whether or not the caller
// holds ctrl.mu: it only ever takes membersMu and (transitively, through
// leaderState) replMu, never mu itself, so it can be driven both from
// handleConfigLocked (under mu) and from ProposeConfiguration and
// leaderState.onAcknowledgedRound (without it).
func (ctrl *Controller) reconcileMembers(cfgMembers []clusterconfig.Member) {
	wanted := make(map[string]clusterconfig.Member, len(cfgMembers))
	for _, m := range cfgMembers {
		if m.ID == ctrl.localID {
			continue
		}
		wanted[m.ID] = m
	}

	var added, removed []Member

	ctrl.membersMu.Lock()
	for id, m := range wanted {
		if _, ok := ctrl.members[id]; ok {
			continue
		}
		if ctrl.memberFactory == nil {
			continue
		}
		nm := ctrl.memberFactory(id, m.Endpoint)
		ctrl.members[id] = nm
		added = append(added, nm)
	}
	for id, m := range ctrl.members {
		if _, ok := wanted[id]; ok {
			continue
		}
		delete(ctrl.members, id)
		removed = append(removed, m)
	}
	ctrl.membersMu.Unlock()

	if len(added) == 0 && len(removed) == 0 {
		return
	}

	if ls := ctrl.activeLeader.Load(); ls != nil {
		for _, m := range added {
			ls.attachMember(m)
		}
		for _, m := range removed {
			ls.detachMember(m.ID())
		}
	}
	for _, m := range removed {
		m.CancelPendingRequests()
	}

	for _, m := range added {
		ctrl.logger.LogMemberAdded(m.ID())
		ctrl.events.fireMemberAdded(m.ID())
	}
	for _, m := range removed {
		ctrl.logger.LogMemberRemoved(m.ID())
		ctrl.events.fireMemberRemoved(m.ID())
	}
}

// unionMembers merges active and proposed (if any) by member id, active
// members first, preserving each Configuration's own ordering. A new
// replicator needs this union the moment a configuration is proposed: the
// new member must receive and ack log entries before it can contribute to
// the joint quorum that promotes the very proposal naming it (spec §4.4
// step 5).
func unionMembers(active clusterconfig.Configuration, proposed *clusterconfig.Configuration) []clusterconfig.Member {
	byID := make(map[string]clusterconfig.Member, len(active.Members))
	order := make([]string, 0, len(active.Members))
	for _, m := range active.Members {
		byID[m.ID] = m
		order = append(order, m.ID)
	}
	if proposed != nil {
		for _, m := range proposed.Members {
			if _, ok := byID[m.ID]; !ok {
				order = append(order, m.ID)
			}
			byID[m.ID] = m
		}
	}
	out := make([]clusterconfig.Member, len(order))
	for i, id := range order {
		out[i] = byID[id]
	}
	return out
}
