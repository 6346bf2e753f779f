package main

import (
	"context"
	"log/slog"
	"time"
)

// effectRunner executes reducer-emitted Commands against the backlight surface.
//
// Design rules:
//   - This is the only place that writes brightness during the run.
//   - It never calls Reduce(); the daemon loop sequences Reduce -> Commands -> runEffect.
//   - Observer notifications are best effort and never block.
type effectRunner struct {
	port *BrightnessPort

	fadeSteps    int
	fadeInterval time.Duration
	sleep        func(time.Duration)

	broadcasts chan<- StateBroadcast

	metrics *Metrics
	logger  *slog.Logger
}

func newEffectRunner(port *BrightnessPort, cfg Config, broadcasts chan<- StateBroadcast, metrics *Metrics, logger *slog.Logger) *effectRunner {
	return &effectRunner{
		port:         port,
		fadeSteps:    cfg.FadeSteps,
		fadeInterval: cfg.FadeInterval(),
		sleep:        time.Sleep,
		broadcasts:   broadcasts,
		metrics:      metrics,
		logger:       logger,
	}
}

// runEffect executes a single Command. ctx only affects fades: a canceled
// ctx stops a ramp at its next step boundary.
func (r *effectRunner) runEffect(ctx context.Context, cmd Command) {
	switch c := cmd.(type) {
	case CmdFade:
		from := r.port.Current()
		to := r.port.Clamp(c.To)
		if from == to {
			return
		}

		r.metrics.fadeStarted(from, to)
		r.logger.Debug("fading brightness", "from", from, "to", to, "steps", r.fadeSteps, "interval", r.fadeInterval)

		last, done := ramp(ctx, portWriter{r}, from, to, r.fadeSteps, r.fadeInterval, r.sleep)
		if !done {
			r.metrics.fadeCancelled()
			r.logger.Info("fade interrupted by shutdown", "from", from, "to", to, "last", last)
		}

	case CmdRestore:
		r.port.Force(c.Level)
		r.publish(BroadcastBrightnessChanged{Level: r.port.Current(), At: time.Now()})
		r.logger.Info("brightness restored", "level", r.port.Current())

	case CmdModeChanged:
		r.logger.Info("mode changed", "from", c.From, "to", c.To, "reason", c.Reason)
		r.metrics.transition(c.From, c.To)
		r.metrics.setMode(c.To)
		r.publish(BroadcastModeChanged{From: c.From, To: c.To, Reason: c.Reason, At: time.Now()})

	case CmdTargetChanged:
		r.logger.Info("target brightness adopted from hotkey", "previous", c.Previous, "target", c.Target)
		r.metrics.setTarget(c.Target)
		r.publish(BroadcastTargetChanged{Target: c.Target, At: time.Now()})

	default:
		r.logger.Warn("unknown command type", "command", cmd.String())
	}
}

func (r *effectRunner) publish(b StateBroadcast) {
	if r.broadcasts == nil {
		return
	}
	select {
	case r.broadcasts <- b:
	default:
		r.logger.Debug("state broadcast queue full, dropping", "broadcast", b)
	}
}

// portWriter forwards ramp writes to the port and reports each level that
// actually landed on the surface.
type portWriter struct {
	r *effectRunner
}

func (w portWriter) Write(value int) {
	before := w.r.port.Current()
	w.r.port.Write(value)
	if now := w.r.port.Current(); now != before {
		w.r.publish(BroadcastBrightnessChanged{Level: now, At: time.Now()})
	}
}
