package main

import (
	"fmt"
	"time"
)

// ==============================
// Events
// ==============================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// Observation is what one loop iteration saw: the external-change poll result
// and whether any input produced data during the wait.
type Observation struct {
	External ExternalChange
	Activity bool
	Now      time.Time
}

func (Observation) eventMarker() {}

// ShutdownRequested is reduced once after the loop stops.
type ShutdownRequested struct{}

func (ShutdownRequested) eventMarker() {}

// ==============================
// Commands (side effects)
// ==============================

// Command is a side effect requested by the reducer and executed by runEffect.
type Command interface {
	commandMarker()
	String() string
}

// CmdFade ramps the surface from its current level to To.
type CmdFade struct {
	To int
}

func (CmdFade) commandMarker()   {}
func (c CmdFade) String() string { return fmt.Sprintf("CmdFade(to=%d)", c.To) }

// CmdRestore writes Level unconditionally (exit posture).
type CmdRestore struct {
	Level int
}

func (CmdRestore) commandMarker()   {}
func (c CmdRestore) String() string { return fmt.Sprintf("CmdRestore(level=%d)", c.Level) }

// CmdModeChanged records a transition for logging, metrics and observers.
type CmdModeChanged struct {
	From   Mode
	To     Mode
	Reason string
}

func (CmdModeChanged) commandMarker() {}
func (c CmdModeChanged) String() string {
	return fmt.Sprintf("CmdModeChanged(%s->%s, %s)", c.From, c.To, c.Reason)
}

// CmdTargetChanged records a new target level adopted from the hotkey.
type CmdTargetChanged struct {
	Previous int
	Target   int
}

func (CmdTargetChanged) commandMarker() {}
func (c CmdTargetChanged) String() string {
	return fmt.Sprintf("CmdTargetChanged(%d->%d)", c.Previous, c.Target)
}

// ==============================
// State broadcasts (observers)
// ==============================

// StateBroadcast is a state change pushed to websocket observers. Producers
// never block on it.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastModeChanged reports a mode transition.
type BroadcastModeChanged struct {
	From   Mode
	To     Mode
	Reason string
	At     time.Time
}

func (BroadcastModeChanged) broadcastMarker() {}

// BroadcastBrightnessChanged reports a level written by the daemon or adopted
// from the hotkey. Fades produce bursts of these.
type BroadcastBrightnessChanged struct {
	Level    int
	External bool
	At       time.Time
}

func (BroadcastBrightnessChanged) broadcastMarker() {}

// BroadcastTargetChanged reports a new target level.
type BroadcastTargetChanged struct {
	Target int
	At     time.Time
}

func (BroadcastTargetChanged) broadcastMarker() {}
