package main

import "time"

// This file implements the backlight state machine as a pure reducer:
//
//   - Events: what the loop observed (Observation) or shutdown
//   - Commands: side effects to run, in order (fades, restore, notifications)
//   - Reduce(): next state + commands, without performing I/O
//
// The daemon loop executes the commands through runEffect. Commands are
// ordered; a fade is emitted before the mode change it causes, matching the
// order the hardware sees.

// ReduceResult is the output of Reduce().
type ReduceResult struct {
	State    DaemonState
	Commands []Command
}

// Reduce applies one event. For an Observation the signals are evaluated in a
// fixed order: external change, then activity, then inactivity timeout. A
// hotkey-off and a key press in the same window therefore end in
// UserDisabled, while the activity timestamp is still refreshed.
func Reduce(s DaemonState, e Event, timeout time.Duration) ReduceResult {
	var cmds []Command

	setMode := func(to Mode, reason string) {
		if s.Mode == to {
			return
		}
		cmds = append(cmds, CmdModeChanged{From: s.Mode, To: to, Reason: reason})
		s.Mode = to
	}

	switch ev := e.(type) {
	case Observation:
		switch ev.External.Kind {
		case TurnedOn:
			if ev.External.Level != s.Target {
				cmds = append(cmds, CmdTargetChanged{Previous: s.Target, Target: ev.External.Level})
				s.Target = ev.External.Level
			}
			s.LastActivity = ev.Now
			setMode(ModeActive, "hotkey_on")

		case TurnedOff:
			setMode(ModeUserDisabled, "hotkey_off")
		}

		if ev.Activity {
			s.LastActivity = ev.Now
			if s.Mode == ModeDimmed {
				cmds = append(cmds, CmdFade{To: s.Target})
				setMode(ModeActive, "activity")
			}
		}

		if s.Mode == ModeActive && ev.Now.Sub(s.LastActivity) >= timeout {
			cmds = append(cmds, CmdFade{To: s.Dim})
			setMode(ModeDimmed, "inactivity")
		}

	case ShutdownRequested:
		// Exit posture is target regardless of mode.
		cmds = append(cmds, CmdRestore{Level: s.Target})

	default:
		// Unknown event type: no-op.
	}

	return ReduceResult{
		State:    s,
		Commands: cmds,
	}
}
