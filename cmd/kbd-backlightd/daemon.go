package main

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// ============================================================================
// Control loop
// ============================================================================
//
// One goroutine owns everything mutable: the backlight port, the monitored
// device set and DaemonState. Each iteration:
//
//  1. picks a wait timeout from the mode (short while Active)
//  2. waits for input activity (bounded)
//  3. applies hotplug changes
//  4. polls the surface for hotkey changes
//  5. reduces the observation and runs the resulting commands in order
//  6. publishes a snapshot for observers
//
// Shutdown is noticed at the top of the next iteration and between fade steps.
// ============================================================================

var errNoDevices = errors.New("no keyboard, mouse or touchpad input devices found")

// activitySource is the monitored device set plus the multiplexed wait.
type activitySource interface {
	deviceSet
	WaitForActivity(timeout time.Duration) (bool, error)
	Devices() []*InputDevice
	Close() error
}

// hotplugSource applies pending hotplug changes to the device set.
type hotplugSource interface {
	Apply(devs deviceSet, c deviceClassifier) bool
}

// Daemon wires the state machine to its collaborators.
type Daemon struct {
	cfg        Config
	port       *BrightnessPort
	monitor    activitySource
	hotplug    hotplugSource
	classifier deviceClassifier

	store *stateStore
	fx    *effectRunner
	state DaemonState

	now func() time.Time

	metrics *Metrics
	logger  *slog.Logger
}

// NewDaemon builds a daemon. hotplug, broadcasts and store may be nil.
func NewDaemon(
	cfg Config,
	port *BrightnessPort,
	monitor activitySource,
	hotplug hotplugSource,
	classifier deviceClassifier,
	broadcasts chan<- StateBroadcast,
	store *stateStore,
	metrics *Metrics,
	logger *slog.Logger,
) *Daemon {
	return &Daemon{
		cfg:        cfg,
		port:       port,
		monitor:    monitor,
		hotplug:    hotplug,
		classifier: classifier,
		store:      store,
		fx:         newEffectRunner(port, cfg, broadcasts, metrics, logger),
		now:        time.Now,
		metrics:    metrics,
		logger:     logger,
	}
}

// deriveTarget picks the "on" level: the configured one if set, else what the
// hardware shows if it is lit, else half of max.
func deriveTarget(configured, current, maxLevel int) int {
	switch {
	case configured >= 0:
		return clampInt(configured, 0, maxLevel)
	case current > 0:
		return clampInt(current, 0, maxLevel)
	default:
		return maxLevel / 2
	}
}

// start establishes the initial state: Active, surface forced to target.
func (d *Daemon) start() {
	target := deriveTarget(d.cfg.TargetBrightness, d.port.Current(), d.port.Max())
	dim := d.port.Clamp(d.cfg.DimBrightness)

	d.state = NewDaemonState(target, dim, d.now())
	d.port.Force(target)

	d.metrics.setTarget(target)
	d.metrics.setMode(d.state.Mode)
	d.metrics.setDevices(len(d.monitor.Devices()))

	d.logger.Info("daemon started",
		"target", target,
		"dim", dim,
		"max", d.port.Max(),
		"timeout", d.cfg.Timeout(),
		"fade_steps", d.cfg.FadeSteps,
		"fade_interval", d.cfg.FadeInterval(),
		"devices", len(d.monitor.Devices()),
	)
	d.publishSnapshot()
}

// Run executes the control loop until ctx is canceled, then releases the
// input devices and restores the target level. A non-nil error means the
// multiplexed wait itself failed.
func (d *Daemon) Run(ctx context.Context) error {
	d.start()

	var runErr error
	for ctx.Err() == nil {
		timeout := d.cfg.ActivePoll()
		if d.state.Mode != ModeActive {
			timeout = d.cfg.IdlePoll()
		}

		activity, err := d.monitor.WaitForActivity(timeout)
		if err != nil {
			d.logger.Error("waiting for input activity failed", "error", err)
			runErr = err
			break
		}

		if d.hotplug != nil {
			d.hotplug.Apply(d.monitor, d.classifier)
		}
		d.metrics.setDevices(len(d.monitor.Devices()))

		ext := d.port.DetectExternalChange()
		if ext.Kind != NoChange {
			d.logger.Info("external brightness change", "kind", ext.Kind, "level", ext.Level, "previous", ext.Previous)
			d.metrics.externalChange(ext.Kind)
			d.fx.publish(BroadcastBrightnessChanged{Level: ext.Level, External: true, At: time.Now()})
		}
		if activity {
			d.metrics.activitySeen()
		}

		d.apply(ctx, Observation{External: ext, Activity: activity, Now: d.now()})
		d.publishSnapshot()
	}

	d.logger.Info("daemon stopping", "mode", d.state.Mode)

	if err := d.monitor.Close(); err != nil {
		d.logger.Warn("closing input devices failed", "error", err)
	}
	// Fades are not wanted here; the restore is a single write.
	d.apply(context.Background(), ShutdownRequested{})
	d.publishSnapshot()

	return runErr
}

func (d *Daemon) apply(ctx context.Context, ev Event) {
	rr := Reduce(d.state, ev, d.cfg.Timeout())
	d.state = rr.State
	for _, cmd := range rr.Commands {
		d.fx.runEffect(ctx, cmd)
	}
}

func (d *Daemon) publishSnapshot() {
	if d.store == nil {
		return
	}
	d.store.Store(buildSnapshot(d.state, d.port, d.monitor.Devices(), d.now()))
}

// State returns a copy of the current control state. Only safe from the loop
// goroutine or after Run returns.
func (d *Daemon) State() DaemonState { return d.state }

// stateStore hands the latest snapshot to observers without locking the loop.
type stateStore struct {
	p atomic.Pointer[StateSnapshot]
}

func (s *stateStore) Store(snap StateSnapshot) {
	s.p.Store(&snap)
}

// Load returns the latest snapshot, if any was published.
func (s *stateStore) Load() (StateSnapshot, bool) {
	if s == nil {
		return StateSnapshot{}, false
	}
	p := s.p.Load()
	if p == nil {
		return StateSnapshot{}, false
	}
	return *p, true
}
