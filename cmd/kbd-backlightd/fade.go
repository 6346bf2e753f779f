package main

import (
	"context"
	"time"
)

// levelWriter is the part of BrightnessPort a ramp needs.
type levelWriter interface {
	Write(value int)
}

// ramp moves the surface from `from` to `to` in roughly `steps` equal
// increments, sleeping `delay` between intermediate writes.
//
// The step is (to-from)/steps truncated toward zero, with a floor of one unit
// toward `to` when the gap is smaller than steps. Integer division drifts, so
// the final write is always exactly `to` rather than the overshot value.
//
// ctx is checked once per step boundary. A canceled ramp stops writing and
// returns the last value it wrote and false. The sleep itself is not
// interrupted.
func ramp(ctx context.Context, w levelWriter, from, to, steps int, delay time.Duration, sleep func(time.Duration)) (int, bool) {
	if from == to {
		return to, true
	}
	if steps < 1 {
		steps = 1
	}
	if sleep == nil {
		sleep = time.Sleep
	}

	step := (to - from) / steps
	if step == 0 {
		if to > from {
			step = 1
		} else {
			step = -1
		}
	}

	last := from
	v := from
	for {
		if ctx.Err() != nil {
			return last, false
		}

		v += step
		if (step > 0 && v >= to) || (step < 0 && v <= to) {
			w.Write(to)
			return to, true
		}

		w.Write(v)
		last = v
		sleep(delay)
	}
}
