package raft

// standbyState implements C7's Standby role: the node keeps its log and
// configuration store current (it still accepts AppendEntries/
// InstallSnapshot as a plain observer) but never starts an election and
// never casts a vote, so it can sit warm without ever perturbing quorum
// math. Entered via EnableStandbyMode and left via RevertToNormalMode
// (spec §4, "Standby/resume semantics").
type standbyState struct {
	ctrl       *Controller
	generation uint64
	// resumable distinguishes a standby the operator asked for (and may
	// leave again via RevertToNormalMode) from the terminal standby Stop
	// installs, which nothing may resume from.
	resumable bool
}

func (s *standbyState) role() Role { return RoleStandby }

func (ctrl *Controller) becomeStandbyLocked(resumable bool) {
	gen := ctrl.nextGeneration()
	ss := &standbyState{ctrl: ctrl, generation: gen, resumable: resumable}
	ctrl.setStateLocked(ss, RoleStandby)
	ctrl.logger.LogStandbyMode(true)
}

func (s *standbyState) stopLocked() {}
