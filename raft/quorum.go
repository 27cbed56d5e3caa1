package raft

import "raftcluster/clusterconfig"

// quorumSize is the strict-majority count for a set of n members (spec
// GLOSSARY, "Quorum: strict majority of the active configuration").
func quorumSize(n int) int {
	if n <= 0 {
		return 0
	}
	return n/2 + 1
}

// memberIDs extracts just the member ids from a Configuration, the shape
// the quorum helpers below want.
func memberIDs(cfg clusterconfig.Configuration) []string {
	ids := make([]string, len(cfg.Members))
	for i, m := range cfg.Members {
		ids[i] = m.ID
	}
	return ids
}

// hasQuorum reports whether acked reaches strict majority of ids.
func hasQuorum(ids []string, acked map[string]bool) bool {
	if len(ids) == 0 {
		return true
	}
	count := 0
	for _, id := range ids {
		if acked[id] {
			count++
		}
	}
	return count >= quorumSize(len(ids))
}

// jointQuorumReached implements the spec's joint-consensus quorum rule
// (§4.4 step 5, GLOSSARY "Quorum"): a strict majority of the active
// configuration, and — while a configuration change is outstanding — also
// a strict majority of the proposed configuration.
func jointQuorumReached(active clusterconfig.Configuration, proposed *clusterconfig.Configuration, acked map[string]bool) bool {
	if !hasQuorum(memberIDs(active), acked) {
		return false
	}
	if proposed != nil && !hasQuorum(memberIDs(*proposed), acked) {
		return false
	}
	return true
}

// majorityMatchIndex returns the highest index acknowledged (matched) by a
// strict majority of ids, looking up each remote id's match index through
// lookup (selfIndex stands in for localID without a lookup call).
func majorityMatchIndex(ids []string, localID string, selfIndex uint64, lookup func(id string) (uint64, bool)) uint64 {
	if len(ids) == 0 {
		return selfIndex
	}
	matches := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id == localID {
			matches = append(matches, selfIndex)
			continue
		}
		if idx, ok := lookup(id); ok {
			matches = append(matches, idx)
		} else {
			matches = append(matches, 0)
		}
	}
	// descending sort; the majority-th highest value is what a strict
	// majority has reached or surpassed (classic Raft commit-index rule).
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j] > matches[j-1]; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
	return matches[quorumSize(len(matches))-1]
}
