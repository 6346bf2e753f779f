package main

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

// fakeClock is advanced by the scripted activity source.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

// scriptStep is one WaitForActivity call. before runs first (e.g. to simulate
// a hotkey by rewriting the sysfs file); advance defaults to the requested
// timeout.
type scriptStep struct {
	activity bool
	advance  time.Duration
	before   func()
}

// scriptedSource replays steps and cancels the run once they are used up.
type scriptedSource struct {
	clock   *fakeClock
	steps   []scriptStep
	cancel  context.CancelFunc
	devices []*InputDevice
	err     error

	waits  []time.Duration
	closed bool
}

func (s *scriptedSource) WaitForActivity(timeout time.Duration) (bool, error) {
	s.waits = append(s.waits, timeout)
	if len(s.waits) > len(s.steps) {
		if s.err != nil {
			return false, s.err
		}
		s.cancel()
		return false, nil
	}
	step := s.steps[len(s.waits)-1]
	if step.before != nil {
		step.before()
	}
	adv := step.advance
	if adv == 0 {
		adv = timeout
	}
	s.clock.t = s.clock.t.Add(adv)
	return step.activity, nil
}

func (s *scriptedSource) Devices() []*InputDevice { return s.devices }

func (s *scriptedSource) Close() error {
	s.closed = true
	return nil
}

func (s *scriptedSource) Add(dev *InputDevice) error { return errors.New("not supported") }
func (s *scriptedSource) Remove(path string) bool    { return false }
func (s *scriptedSource) Has(path string) bool       { return false }
func (s *scriptedSource) Full() bool                 { return true }

// fileRecorder writes through to the sysfs fixture and keeps the history.
type fileRecorder struct {
	w      sysfsWriter
	values []int
}

func (r *fileRecorder) WriteBrightness(v int) error {
	r.values = append(r.values, v)
	return r.w.WriteBrightness(v)
}

type daemonHarness struct {
	fixture sysfsFixture
	rec     *fileRecorder
	src     *scriptedSource
	clock   *fakeClock
	store   *stateStore
	bcasts  chan StateBroadcast
	d       *Daemon
	ctx     context.Context
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TimeoutSec = 5
	cfg.FadeSteps = 10
	cfg.TargetBrightness = 80
	cfg.DimBrightness = 0
	return cfg
}

func newDaemonHarness(t *testing.T, cfg Config, current int, steps ...scriptStep) *daemonHarness {
	t.Helper()
	f := newSysfsFixture(t, current, 100)
	rec := &fileRecorder{w: sysfsWriter{path: f.brightness}}
	port := f.openPort(t, rec)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clock := &fakeClock{t: t0}
	src := &scriptedSource{
		clock:   clock,
		steps:   steps,
		cancel:  cancel,
		devices: []*InputDevice{{Path: "/dev/input/event3", Type: DeviceKeyboard, fd: -1}},
	}
	store := &stateStore{}
	bcasts := make(chan StateBroadcast, 256)

	d := NewDaemon(cfg, port, src, nil, nil, bcasts, store, nil, testLogger())
	d.now = clock.Now
	d.fx.sleep = func(time.Duration) {}

	return &daemonHarness{
		fixture: f, rec: rec, src: src, clock: clock,
		store: store, bcasts: bcasts, d: d, ctx: ctx,
	}
}

func (h *daemonHarness) run(t *testing.T) {
	t.Helper()
	if err := h.d.Run(h.ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !h.src.closed {
		t.Fatalf("expected input devices closed on exit")
	}
}

func (h *daemonHarness) drainBroadcasts() []StateBroadcast {
	var out []StateBroadcast
	for {
		select {
		case b := <-h.bcasts:
			out = append(out, b)
		default:
			return out
		}
	}
}

func seq(from, to, step int) []int {
	var out []int
	if step > 0 {
		for v := from; v <= to; v += step {
			out = append(out, v)
		}
	} else {
		for v := from; v >= to; v += step {
			out = append(out, v)
		}
	}
	return out
}

func concat(parts ...[]int) []int {
	var out []int
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestDaemon_InactivityDimsWithRamp(t *testing.T) {
	h := newDaemonHarness(t, testConfig(), 80,
		scriptStep{advance: 4 * time.Second},
		scriptStep{advance: time.Second},
	)
	h.run(t)

	// start force, ramp 80 -> 0 in 10 steps, exit restore
	want := concat([]int{80}, seq(72, 0, -8), []int{80})
	if !reflect.DeepEqual(h.rec.values, want) {
		t.Fatalf("expected writes %v, got %v", want, h.rec.values)
	}
	if h.d.State().Mode != ModeDimmed {
		t.Fatalf("expected dimmed, got %v", h.d.State().Mode)
	}
	if h.fixture.read(t) != 80 {
		t.Fatalf("expected target restored on exit, got %d", h.fixture.read(t))
	}

	// Short waits while active, long ones once dimmed.
	if h.src.waits[0] != 200*time.Millisecond || h.src.waits[2] != 2*time.Second {
		t.Fatalf("unexpected poll timeouts %v", h.src.waits)
	}

	snap, ok := h.store.Load()
	if !ok || snap.Mode != "dimmed" || snap.Brightness != 80 || snap.Target != 80 {
		t.Fatalf("unexpected final snapshot %+v", snap)
	}
	if len(snap.Devices) != 1 || snap.Devices[0].Type != "keyboard" {
		t.Fatalf("expected one keyboard in snapshot, got %+v", snap.Devices)
	}
}

func TestDaemon_ActivityWhileDimmedRestoresTarget(t *testing.T) {
	h := newDaemonHarness(t, testConfig(), 80,
		scriptStep{advance: 5 * time.Second},
		scriptStep{activity: true, advance: 300 * time.Millisecond},
	)
	h.run(t)

	want := concat([]int{80}, seq(72, 0, -8), seq(8, 80, 8), []int{80})
	if !reflect.DeepEqual(h.rec.values, want) {
		t.Fatalf("expected writes %v, got %v", want, h.rec.values)
	}
	st := h.d.State()
	if st.Mode != ModeActive {
		t.Fatalf("expected active, got %v", st.Mode)
	}
	if !st.LastActivity.Equal(t0.Add(5300 * time.Millisecond)) {
		t.Fatalf("expected last activity refreshed, got %v", st.LastActivity)
	}

	var modes []string
	for _, b := range h.drainBroadcasts() {
		if m, ok := b.(BroadcastModeChanged); ok {
			modes = append(modes, m.From.String()+"->"+m.To.String()+":"+m.Reason)
		}
	}
	wantModes := []string{"active->dimmed:inactivity", "dimmed->active:activity"}
	if !reflect.DeepEqual(modes, wantModes) {
		t.Fatalf("expected mode broadcasts %v, got %v", wantModes, modes)
	}
}

func TestDaemon_HotkeyOffSuspendsDimming(t *testing.T) {
	var h *daemonHarness
	h = newDaemonHarness(t, testConfig(), 80,
		scriptStep{advance: time.Second, before: func() { h.fixture.set(t, 0) }},
		scriptStep{advance: 10 * time.Second},
		scriptStep{advance: 30 * time.Second},
	)
	h.run(t)

	// Nothing but the start and exit writes: no dim ramp while disabled.
	if want := []int{80, 80}; !reflect.DeepEqual(h.rec.values, want) {
		t.Fatalf("expected writes %v, got %v", want, h.rec.values)
	}
	if h.d.State().Mode != ModeUserDisabled {
		t.Fatalf("expected user_disabled, got %v", h.d.State().Mode)
	}
	for _, w := range h.src.waits[1:] {
		if w != 2*time.Second {
			t.Fatalf("expected idle poll timeouts after hotkey off, got %v", h.src.waits)
		}
	}

	var sawExternal bool
	for _, b := range h.drainBroadcasts() {
		if bc, ok := b.(BroadcastBrightnessChanged); ok && bc.External && bc.Level == 0 {
			sawExternal = true
		}
	}
	if !sawExternal {
		t.Fatalf("expected an external brightness broadcast")
	}
}

func TestDaemon_HotkeyOnAdoptsNewTarget(t *testing.T) {
	var h *daemonHarness
	h = newDaemonHarness(t, testConfig(), 80,
		scriptStep{advance: time.Second, before: func() { h.fixture.set(t, 0) }},
		scriptStep{advance: 20 * time.Second, before: func() { h.fixture.set(t, 60) }},
	)
	h.run(t)

	st := h.d.State()
	if st.Mode != ModeActive || st.Target != 60 {
		t.Fatalf("expected active at target 60, got %+v", st)
	}
	if !st.LastActivity.Equal(t0.Add(21 * time.Second)) {
		t.Fatalf("expected last activity at the hotkey, got %v", st.LastActivity)
	}
	// Exit restores the adopted target.
	if want := []int{80, 60}; !reflect.DeepEqual(h.rec.values, want) {
		t.Fatalf("expected writes %v, got %v", want, h.rec.values)
	}
	if h.fixture.read(t) != 60 {
		t.Fatalf("expected 60 on the surface, got %d", h.fixture.read(t))
	}
}

func TestDaemon_ShutdownMidFadeRestoresTarget(t *testing.T) {
	h := newDaemonHarness(t, testConfig(), 80,
		scriptStep{advance: 5 * time.Second},
		// Never reached: the run is canceled during the first fade.
		scriptStep{activity: true},
	)

	sleeps := 0
	h.d.fx.sleep = func(time.Duration) {
		sleeps++
		if sleeps == 3 {
			h.src.cancel()
		}
	}
	h.run(t)

	// Three steps land, then the in-progress fade stops and target is forced.
	want := []int{80, 72, 64, 56, 80}
	if !reflect.DeepEqual(h.rec.values, want) {
		t.Fatalf("expected writes %v, got %v", want, h.rec.values)
	}
	if h.fixture.read(t) != 80 {
		t.Fatalf("expected target on the surface, got %d", h.fixture.read(t))
	}
	if len(h.src.waits) != 1 {
		t.Fatalf("expected the loop to stop after the interrupted fade, got %d waits", len(h.src.waits))
	}
}

func TestDaemon_WaitErrorStopsLoopAndRestores(t *testing.T) {
	h := newDaemonHarness(t, testConfig(), 80,
		scriptStep{advance: 5 * time.Second},
	)
	h.src.err = errors.New("epoll_wait: EBADF")

	err := h.d.Run(h.ctx)
	if err == nil || err.Error() != "epoll_wait: EBADF" {
		t.Fatalf("expected wait error, got %v", err)
	}
	if h.fixture.read(t) != 80 {
		t.Fatalf("expected target restored after failure, got %d", h.fixture.read(t))
	}
}

func TestDaemon_DerivesTargetFromHardware(t *testing.T) {
	cfg := testConfig()
	cfg.TargetBrightness = targetFromHardware

	h := newDaemonHarness(t, cfg, 35)
	h.run(t)

	if h.d.State().Target != 35 {
		t.Fatalf("expected target from hardware, got %d", h.d.State().Target)
	}
}

func TestDeriveTarget(t *testing.T) {
	cases := []struct {
		configured, current, maxLevel, want int
	}{
		{80, 0, 100, 80},
		{150, 0, 100, 100},
		{targetFromHardware, 35, 100, 35},
		{targetFromHardware, 0, 100, 50},
		{targetFromHardware, 0, 3, 1},
		{0, 70, 100, 0},
	}
	for _, tc := range cases {
		if got := deriveTarget(tc.configured, tc.current, tc.maxLevel); got != tc.want {
			t.Errorf("deriveTarget(%d, %d, %d): expected %d, got %d",
				tc.configured, tc.current, tc.maxLevel, tc.want, got)
		}
	}
}

func TestStateStore_NilAndEmpty(t *testing.T) {
	var nilStore *stateStore
	if _, ok := nilStore.Load(); ok {
		t.Fatalf("expected nil store to be empty")
	}
	s := &stateStore{}
	if _, ok := s.Load(); ok {
		t.Fatalf("expected fresh store to be empty")
	}
	s.Store(StateSnapshot{Mode: "active"})
	if snap, ok := s.Load(); !ok || snap.Mode != "active" {
		t.Fatalf("expected stored snapshot, got %+v %v", snap, ok)
	}
}

func TestDaemon_HotkeyAboveMaxAdoptsMax(t *testing.T) {
	var h *daemonHarness
	h = newDaemonHarness(t, testConfig(), 80,
		scriptStep{advance: time.Second, before: func() { h.fixture.set(t, 250) }},
	)
	h.run(t)

	if got := h.d.State().Target; got != 100 {
		t.Fatalf("expected target clamped to max 100, got %d", got)
	}
	snap, _ := h.store.Load()
	if snap.Target != 100 || snap.Brightness != 100 {
		t.Fatalf("expected snapshot within max, got %+v", snap)
	}
}
