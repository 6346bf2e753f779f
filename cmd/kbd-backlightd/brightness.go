package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// HardwareReadError reports that a backlight surface value could not be read
// or was out of range.
type HardwareReadError struct {
	Path string
	Err  error
}

func (e *HardwareReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *HardwareReadError) Unwrap() error { return e.Err }

// ExternalChangeKind classifies what the hotkey did to the surface.
type ExternalChangeKind int

const (
	NoChange ExternalChangeKind = iota
	TurnedOn
	TurnedOff
)

func (k ExternalChangeKind) String() string {
	switch k {
	case TurnedOn:
		return "turned_on"
	case TurnedOff:
		return "turned_off"
	default:
		return "no_change"
	}
}

// ExternalChange is the result of polling the surface for changes the daemon
// did not make. Level is the new on-device value, Previous what we last wrote.
type ExternalChange struct {
	Kind     ExternalChangeKind
	Level    int
	Previous int
}

// brightnessWriter performs the actual hardware write.
type brightnessWriter interface {
	WriteBrightness(value int) error
}

// sysfsWriter writes decimal ASCII into the LED class brightness attribute.
type sysfsWriter struct {
	path string
}

func (w sysfsWriter) WriteBrightness(value int) error {
	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(strconv.Itoa(value)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// BrightnessPort is the daemon's view of the single backlight surface.
//
// It is owned by the control loop and is not safe for concurrent use.
// lastWritten is only changed by Write/Force and by DetectExternalChange; it is
// the sole basis for telling our writes from the hotkey's.
type BrightnessPort struct {
	brightnessPath string
	maxPath        string
	writer         brightnessWriter

	max         int
	current     int
	lastWritten int
	hasWritten  bool

	writeFailing bool

	metrics *Metrics
	logger  *slog.Logger
}

// NewBrightnessPort creates a port reading from brightnessPath/maxPath and
// writing through w.
func NewBrightnessPort(brightnessPath, maxPath string, w brightnessWriter, metrics *Metrics, logger *slog.Logger) *BrightnessPort {
	if w == nil {
		w = sysfsWriter{path: brightnessPath}
	}
	return &BrightnessPort{
		brightnessPath: brightnessPath,
		maxPath:        maxPath,
		writer:         w,
		metrics:        metrics,
		logger:         logger,
	}
}

// Open reads max and current from the surface. Either failing is fatal to
// startup.
func (p *BrightnessPort) Open() error {
	if _, err := p.ReadMax(); err != nil {
		return err
	}
	cur, err := p.ReadCurrent()
	if err != nil {
		return err
	}
	p.current = clampInt(cur, 0, p.max)
	p.metrics.setBrightness(p.current)
	return nil
}

// ReadMax reads and caches the maximum supported level.
func (p *BrightnessPort) ReadMax() (int, error) {
	v, err := readIntFile(p.maxPath)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, &HardwareReadError{Path: p.maxPath, Err: fmt.Errorf("max brightness %d is not positive", v)}
	}
	p.max = v
	return v, nil
}

// ReadCurrent reads the level presently on the surface.
func (p *BrightnessPort) ReadCurrent() (int, error) {
	v, err := readIntFile(p.brightnessPath)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, &HardwareReadError{Path: p.brightnessPath, Err: fmt.Errorf("negative brightness %d", v)}
	}
	return v, nil
}

// Max returns the cached maximum level.
func (p *BrightnessPort) Max() int { return p.max }

// Current returns the in-memory current level.
func (p *BrightnessPort) Current() int { return p.current }

// LastWritten returns the last value the daemon wrote (or adopted from an
// external change) and whether there is one.
func (p *BrightnessPort) LastWritten() (int, bool) { return p.lastWritten, p.hasWritten }

// Clamp limits v to [0, max].
func (p *BrightnessPort) Clamp(v int) int { return clampInt(v, 0, p.max) }

// Write sets the level to value clamped to [0, max]. Writing the value that is
// already current is a no-op and touches no hardware. Failures leave the
// in-memory state unchanged and are not returned.
func (p *BrightnessPort) Write(value int) {
	value = p.Clamp(value)
	if value == p.current {
		return
	}
	p.write(value)
}

// Force writes value (clamped) even if it equals the in-memory current level.
// Used at startup and on exit so the surface and lastWritten agree.
func (p *BrightnessPort) Force(value int) {
	p.write(p.Clamp(value))
}

func (p *BrightnessPort) write(value int) {
	if err := p.writer.WriteBrightness(value); err != nil {
		p.metrics.writeFailed()
		if !p.writeFailing {
			p.writeFailing = true
			p.logger.Warn("brightness write failed", "path", p.brightnessPath, "value", value, "error", err)
		}
		return
	}
	if p.writeFailing {
		p.writeFailing = false
		p.logger.Info("brightness writes recovered", "path", p.brightnessPath)
	}
	p.current = value
	p.lastWritten = value
	p.hasWritten = true
	p.metrics.setBrightness(value)
}

// DetectExternalChange re-reads the surface and reports a change that the
// daemon did not write. The EC does not emit uevents for hotkey changes, so
// polling is the only way to see them. An unreadable surface counts as no
// change for this cycle.
func (p *BrightnessPort) DetectExternalChange() ExternalChange {
	actual, err := p.ReadCurrent()
	if err != nil {
		p.logger.Debug("brightness poll failed", "error", err)
		return ExternalChange{Kind: NoChange}
	}
	// A reading beyond max is adopted as max; the comparison uses the clamped
	// value so an out-of-range surface does not report a change every poll.
	actual = p.Clamp(actual)
	if !p.hasWritten || actual == p.lastWritten {
		return ExternalChange{Kind: NoChange}
	}

	prev := p.lastWritten
	p.current = actual
	p.lastWritten = actual
	p.metrics.setBrightness(actual)

	if actual > 0 {
		return ExternalChange{Kind: TurnedOn, Level: actual, Previous: prev}
	}
	return ExternalChange{Kind: TurnedOff, Level: 0, Previous: prev}
}

func readIntFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, &HardwareReadError{Path: path, Err: err}
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, &HardwareReadError{Path: path, Err: errors.New("empty value")}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, &HardwareReadError{Path: path, Err: err}
	}
	return v, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
