package main

import (
	"reflect"
	"testing"
	"time"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return t0.Add(time.Duration(sec * float64(time.Second)))
}

func testState(mode Mode) DaemonState {
	s := NewDaemonState(80, 0, t0)
	s.Mode = mode
	return s
}

const testTimeout = 5 * time.Second

func TestReduce_ActiveStaysActiveBeforeTimeout(t *testing.T) {
	rr := Reduce(testState(ModeActive), Observation{Now: at(4.9)}, testTimeout)

	if rr.State.Mode != ModeActive {
		t.Fatalf("expected active, got %v", rr.State.Mode)
	}
	if len(rr.Commands) != 0 {
		t.Fatalf("expected no commands, got %v", rr.Commands)
	}
}

func TestReduce_InactivityDims(t *testing.T) {
	rr := Reduce(testState(ModeActive), Observation{Now: at(5)}, testTimeout)

	want := []Command{
		CmdFade{To: 0},
		CmdModeChanged{From: ModeActive, To: ModeDimmed, Reason: "inactivity"},
	}
	if !reflect.DeepEqual(rr.Commands, want) {
		t.Fatalf("expected %v, got %v", want, rr.Commands)
	}
	if rr.State.Mode != ModeDimmed {
		t.Fatalf("expected dimmed, got %v", rr.State.Mode)
	}
}

func TestReduce_ActivityRefreshesTimestamp(t *testing.T) {
	rr := Reduce(testState(ModeActive), Observation{Activity: true, Now: at(4)}, testTimeout)
	if !rr.State.LastActivity.Equal(at(4)) {
		t.Fatalf("expected last activity at 4s, got %v", rr.State.LastActivity)
	}

	rr = Reduce(rr.State, Observation{Now: at(8.9)}, testTimeout)
	if rr.State.Mode != ModeActive {
		t.Fatalf("expected active 4.9s after activity, got %v", rr.State.Mode)
	}
}

func TestReduce_ActivityWhileDimmedRestoresTarget(t *testing.T) {
	s := testState(ModeDimmed)
	rr := Reduce(s, Observation{Activity: true, Now: at(20)}, testTimeout)

	want := []Command{
		CmdFade{To: 80},
		CmdModeChanged{From: ModeDimmed, To: ModeActive, Reason: "activity"},
	}
	if !reflect.DeepEqual(rr.Commands, want) {
		t.Fatalf("expected %v, got %v", want, rr.Commands)
	}
	if rr.State.Mode != ModeActive || !rr.State.LastActivity.Equal(at(20)) {
		t.Fatalf("unexpected state %+v", rr.State)
	}
}

func TestReduce_DimmedWithoutActivityIsQuiet(t *testing.T) {
	rr := Reduce(testState(ModeDimmed), Observation{Now: at(100)}, testTimeout)
	if rr.State.Mode != ModeDimmed || len(rr.Commands) != 0 {
		t.Fatalf("expected dimmed with no commands, got %v %v", rr.State.Mode, rr.Commands)
	}
}

func TestReduce_HotkeyOff(t *testing.T) {
	for _, mode := range []Mode{ModeActive, ModeDimmed} {
		obs := Observation{External: ExternalChange{Kind: TurnedOff, Previous: 80}, Now: at(1)}
		rr := Reduce(testState(mode), obs, testTimeout)

		want := []Command{CmdModeChanged{From: mode, To: ModeUserDisabled, Reason: "hotkey_off"}}
		if !reflect.DeepEqual(rr.Commands, want) {
			t.Fatalf("from %v: expected %v, got %v", mode, want, rr.Commands)
		}
		if rr.State.Target != 80 {
			t.Fatalf("expected target untouched, got %d", rr.State.Target)
		}
	}
}

func TestReduce_UserDisabledIgnoresActivityAndTimeout(t *testing.T) {
	s := testState(ModeUserDisabled)
	rr := Reduce(s, Observation{Activity: true, Now: at(60)}, testTimeout)
	if rr.State.Mode != ModeUserDisabled || len(rr.Commands) != 0 {
		t.Fatalf("expected user_disabled with no commands, got %v %v", rr.State.Mode, rr.Commands)
	}

	rr = Reduce(rr.State, Observation{Now: at(600)}, testTimeout)
	if rr.State.Mode != ModeUserDisabled || len(rr.Commands) != 0 {
		t.Fatalf("expected no timeout while user_disabled, got %v %v", rr.State.Mode, rr.Commands)
	}
}

func TestReduce_HotkeyOnAdoptsLevel(t *testing.T) {
	s := testState(ModeUserDisabled)
	obs := Observation{External: ExternalChange{Kind: TurnedOn, Level: 30}, Now: at(50)}
	rr := Reduce(s, obs, testTimeout)

	want := []Command{
		CmdTargetChanged{Previous: 80, Target: 30},
		CmdModeChanged{From: ModeUserDisabled, To: ModeActive, Reason: "hotkey_on"},
	}
	if !reflect.DeepEqual(rr.Commands, want) {
		t.Fatalf("expected %v, got %v", want, rr.Commands)
	}
	if rr.State.Target != 30 || !rr.State.LastActivity.Equal(at(50)) {
		t.Fatalf("unexpected state %+v", rr.State)
	}
}

func TestReduce_HotkeyOnWhileDimmedCancelsDim(t *testing.T) {
	obs := Observation{External: ExternalChange{Kind: TurnedOn, Level: 80}, Now: at(50)}
	rr := Reduce(testState(ModeDimmed), obs, testTimeout)

	// Same level as the target: no target change, and no fade since the
	// hardware is already there.
	want := []Command{CmdModeChanged{From: ModeDimmed, To: ModeActive, Reason: "hotkey_on"}}
	if !reflect.DeepEqual(rr.Commands, want) {
		t.Fatalf("expected %v, got %v", want, rr.Commands)
	}
}

func TestReduce_HotkeyOnWhileActiveOnlyChangesTarget(t *testing.T) {
	obs := Observation{External: ExternalChange{Kind: TurnedOn, Level: 100}, Now: at(2)}
	rr := Reduce(testState(ModeActive), obs, testTimeout)

	want := []Command{CmdTargetChanged{Previous: 80, Target: 100}}
	if !reflect.DeepEqual(rr.Commands, want) {
		t.Fatalf("expected %v, got %v", want, rr.Commands)
	}
}

func TestReduce_HotkeyOffWinsOverSameWindowActivity(t *testing.T) {
	obs := Observation{
		External: ExternalChange{Kind: TurnedOff, Previous: 80},
		Activity: true,
		Now:      at(3),
	}
	rr := Reduce(testState(ModeActive), obs, testTimeout)

	if rr.State.Mode != ModeUserDisabled {
		t.Fatalf("expected user_disabled, got %v", rr.State.Mode)
	}
	if !rr.State.LastActivity.Equal(at(3)) {
		t.Fatalf("expected activity timestamp refreshed, got %v", rr.State.LastActivity)
	}
}

func TestReduce_ZeroTimeoutDimsImmediately(t *testing.T) {
	rr := Reduce(testState(ModeActive), Observation{Now: t0}, 0)
	if rr.State.Mode != ModeDimmed {
		t.Fatalf("expected dimmed with zero timeout, got %v", rr.State.Mode)
	}
}

func TestReduce_ShutdownRestoresTarget(t *testing.T) {
	for _, mode := range allModes {
		rr := Reduce(testState(mode), ShutdownRequested{}, testTimeout)
		want := []Command{CmdRestore{Level: 80}}
		if !reflect.DeepEqual(rr.Commands, want) {
			t.Fatalf("from %v: expected %v, got %v", mode, want, rr.Commands)
		}
		if rr.State.Mode != mode {
			t.Fatalf("expected mode unchanged on shutdown, got %v", rr.State.Mode)
		}
	}
}
