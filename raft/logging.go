// raft/logging.go
package raft

import (
	"github.com/sirupsen/logrus"
)

// Logger provides structured logging for the cluster controller. Adapted
// from the teacher's raft/logging.go, which wrapped stdlib log.Printf with
// a hand-rolled level filter and an emoji-decorated prefix per event type;
// here the same specialized per-event methods remain (same names, same
// emoji), but they delegate to a logrus.Entry so level filtering, output
// formatting and field attachment are the library's job, not ours.
type Logger struct {
	entry *logrus.Entry
}

// NewLogger creates a logger for a Raft node. level is one of logrus's
// levels (logrus.DebugLevel, logrus.InfoLevel, ...).
func NewLogger(nodeID string, level logrus.Level) *Logger {
	base := logrus.New()
	base.SetLevel(level)
	return &Logger{entry: base.WithField("node", nodeID)}
}

func (l *Logger) Debug(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// Specialized log functions for Raft events.

var roleEmoji = map[Role]string{
	RoleFollower:  "👤",
	RoleCandidate: "🗳️",
	RoleLeader:    "👑",
	RoleStandby:   "💤",
}

func (l *Logger) LogStateChange(oldState, newState Role, term uint64) {
	l.Info("%s %s → %s %s (term=%d)",
		roleEmoji[oldState], oldState,
		roleEmoji[newState], newState, term)
}

func (l *Logger) LogElectionStart(term uint64, preVote bool) {
	if preVote {
		l.Info("🔎 Starting pre-vote round for term %d", term)
	} else {
		l.Info("🗳️  Starting election for term %d", term)
	}
}

func (l *Logger) LogElectionWon(term, votes, needed uint64) {
	l.Info("👑 WON election for term %d (votes=%d/%d)", term, votes, needed)
}

func (l *Logger) LogElectionLost(term, votes, needed uint64) {
	l.Info("❌ LOST election for term %d (votes=%d/%d)", term, votes, needed)
}

func (l *Logger) LogVoteGranted(candidateID string, term uint64) {
	l.Info("✅ Granted vote to %s for term %d", candidateID, term)
}

func (l *Logger) LogVoteDenied(candidateID string, term uint64, reason string) {
	l.Info("❌ Denied vote to %s for term %d: %s", candidateID, term, reason)
}

func (l *Logger) LogHeartbeatSent(term uint64, peerCount int) {
	l.Debug("💓 Sent heartbeat to %d peers (term=%d)", peerCount, term)
}

func (l *Logger) LogHeartbeatReceived(leaderID string, term uint64) {
	l.Debug("💓 Received heartbeat from %s (term=%d)", leaderID, term)
}

func (l *Logger) LogAppendEntries(leaderID string, term, prevLogIndex uint64, entryCount int) {
	l.Debug("📥 Received AppendEntries from %s (term=%d, prevIndex=%d, entries=%d)",
		leaderID, term, prevLogIndex, entryCount)
}

func (l *Logger) LogCommit(index, term uint64) {
	l.Info("✅ Committed entry at index=%d (term=%d)", index, term)
}

func (l *Logger) LogApply(index uint64, command string) {
	l.Info("⚡ Applied command at index=%d: %s", index, command)
}

func (l *Logger) LogStepDown(oldTerm, newTerm uint64) {
	l.Info("⬇️  Stepping down: term %d → %d", oldTerm, newTerm)
}

func (l *Logger) LogElectionTimeout() {
	l.Debug("⏰ Election timeout - becoming candidate")
}

func (l *Logger) LogElectionTimerReset(reason string) {
	l.Debug("🔄 Election timer reset: %s", reason)
}

func (l *Logger) LogMemberUnhealthy(memberID string) {
	l.Warn("🚨 Member %s failed its liveness check", memberID)
}

func (l *Logger) LogSnapshotInstalled(index, term uint64) {
	l.Info("📦 Installed snapshot up to index=%d (term=%d)", index, term)
}

func (l *Logger) LogConfigMismatch(peerID string) {
	l.Warn("⚠️  Configuration fingerprint mismatch with %s", peerID)
}

func (l *Logger) LogConfigApplied(fingerprint uint64) {
	l.Info("🧩 Applied configuration (fingerprint=%d)", fingerprint)
}

func (l *Logger) LogMemberAdded(memberID string) {
	l.Info("➕ Member %s added to cluster configuration", memberID)
}

func (l *Logger) LogMemberRemoved(memberID string) {
	l.Info("➖ Member %s removed from cluster configuration", memberID)
}

func (l *Logger) LogStandbyMode(entering bool) {
	if entering {
		l.Info("💤 Entering standby mode")
	} else {
		l.Info("👤 Reverting to normal mode")
	}
}
