package main

import "time"

// Mode is the daemon's behavioral state.
type Mode int

const (
	// ModeActive: brightness at target, watching for inactivity.
	ModeActive Mode = iota
	// ModeDimmed: brightness at the dim level after inactivity; any activity
	// restores target.
	ModeDimmed
	// ModeUserDisabled: the hotkey turned the backlight off. The inactivity
	// timer is suspended and only an external "turned on" leaves this mode.
	ModeUserDisabled
)

var allModes = []Mode{ModeActive, ModeDimmed, ModeUserDisabled}

func (m Mode) String() string {
	switch m {
	case ModeActive:
		return "active"
	case ModeDimmed:
		return "dimmed"
	case ModeUserDisabled:
		return "user_disabled"
	default:
		return "unknown"
	}
}

// DaemonState is the reducer-owned control state.
//
// It is owned by the control loop goroutine. Observers only ever see a
// StateSnapshot copy.
type DaemonState struct {
	Mode Mode

	// Target is the "on" level restored on activity. A hotkey turn-on adopts
	// the level the user picked.
	Target int

	// Dim is the "away" level, already clamped to the surface range.
	Dim int

	LastActivity time.Time
}

// NewDaemonState returns the initial state: Active at target, with activity
// counted from now.
func NewDaemonState(target, dim int, now time.Time) DaemonState {
	return DaemonState{
		Mode:         ModeActive,
		Target:       target,
		Dim:          dim,
		LastActivity: now,
	}
}

// DeviceSnapshot describes one monitored input node.
type DeviceSnapshot struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

// StateSnapshot is an immutable copy of the daemon's state for observers
// (HTTP /state, websocket clients).
type StateSnapshot struct {
	Mode         string           `json:"mode"`
	Brightness   int              `json:"brightness"`
	Target       int              `json:"target"`
	Dim          int              `json:"dim"`
	Max          int              `json:"max"`
	LastActivity time.Time        `json:"last_activity"`
	Devices      []DeviceSnapshot `json:"devices"`
	At           time.Time        `json:"at"`
}

func buildSnapshot(s DaemonState, port *BrightnessPort, devices []*InputDevice, now time.Time) StateSnapshot {
	ds := make([]DeviceSnapshot, 0, len(devices))
	for _, d := range devices {
		ds = append(ds, DeviceSnapshot{Path: d.Path, Type: d.Type.String()})
	}
	return StateSnapshot{
		Mode:         s.Mode.String(),
		Brightness:   port.Current(),
		Target:       s.Target,
		Dim:          s.Dim,
		Max:          port.Max(),
		LastActivity: s.LastActivity,
		Devices:      ds,
		At:           now,
	}
}
