package raft

// handleConfigLocked implements the AppendEntries configuration-handling
// table (spec §4.8), driven by the (configFingerprintMatches, applyConfig)
// pair the leader attaches to every round. Before this, the fingerprint
// check only ever set a flag nothing read; now the follower actually
// adopts, applies or rejects a proposed configuration from this RPC,
// rather than from the unrelated log-apply path. Caller holds ctrl.mu.
// Returns the AppendEntries reply's Success value.
func (ctrl *Controller) handleConfigLocked(args AppendEntriesArgs) bool {
	proposed, hasProposed := ctrl.configStore.Proposed()

	var match bool
	if args.ProposedConfig == nil {
		match = !hasProposed
	} else {
		match = (hasProposed && proposed.Fingerprint == args.ProposedConfig.Fingerprint) ||
			ctrl.configStore.Active().Fingerprint == args.ProposedConfig.Fingerprint
	}

	switch {
	case match && args.ApplyConfig:
		active := ctrl.configStore.Active()
		if args.ProposedConfig != nil && active.Fingerprint == args.ProposedConfig.Fingerprint {
			return true // already replicated and applied; no-op
		}
		if err := ctrl.configStore.Apply(); err != nil {
			return true // nothing staged to apply; harmless no-op
		}
		newActive := ctrl.configStore.Active()
		ctrl.logger.LogConfigApplied(newActive.Fingerprint)
		ctrl.reconcileMembers(newActive.Members)
		return true

	case match && !args.ApplyConfig:
		return true // already proposed, waiting on the leader's quorum

	case !match && args.ApplyConfig:
		ctrl.logger.LogConfigMismatch(args.LeaderID)
		return false // reject; the leader must resend the proposal first

	default: // !match && !args.ApplyConfig
		if args.ProposedConfig != nil {
			ctrl.configStore.AdoptProposed(*args.ProposedConfig)
			ctrl.reconcileMembers(unionMembers(ctrl.configStore.Active(), args.ProposedConfig))
			ctrl.logger.LogConfigMismatch(args.LeaderID)
		}
		return true
	}
}
