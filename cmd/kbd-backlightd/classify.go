package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	evdev "github.com/holoplot/go-evdev"
	"golang.org/x/sys/unix"
)

// DeviceType is what a monitored input node behaves like.
type DeviceType int

const (
	DeviceKeyboard DeviceType = iota + 1
	DeviceMouse
	DeviceTouchpad
)

func (t DeviceType) String() string {
	switch t {
	case DeviceKeyboard:
		return "keyboard"
	case DeviceMouse:
		return "mouse"
	case DeviceTouchpad:
		return "touchpad"
	default:
		return "unknown"
	}
}

// InputDevice is a classified input node held open (read-only, non-blocking)
// for activity monitoring.
type InputDevice struct {
	Path string
	Type DeviceType
	fd   int
}

// Close releases the node.
func (d *InputDevice) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}

// capabilityProbe answers "which codes does the node support for category X".
// *evdev.InputDevice satisfies it.
type capabilityProbe interface {
	CapableTypes() []evdev.EvType
	CapableEvents(t evdev.EvType) []evdev.EvCode
	Close() error
}

// letterKeys are the 26 alphabetic key codes.
var letterKeys = []evdev.EvCode{
	evdev.KEY_A, evdev.KEY_B, evdev.KEY_C, evdev.KEY_D, evdev.KEY_E, evdev.KEY_F,
	evdev.KEY_G, evdev.KEY_H, evdev.KEY_I, evdev.KEY_J, evdev.KEY_K, evdev.KEY_L,
	evdev.KEY_M, evdev.KEY_N, evdev.KEY_O, evdev.KEY_P, evdev.KEY_Q, evdev.KEY_R,
	evdev.KEY_S, evdev.KEY_T, evdev.KEY_U, evdev.KEY_V, evdev.KEY_W, evdev.KEY_X,
	evdev.KEY_Y, evdev.KEY_Z,
}

// classifyCapabilities applies the keyboard/mouse/touchpad heuristic. The order
// matters: a node with enough letter keys is a keyboard even if it also reports
// relative or absolute axes (laptop keyboards with a pointing stick, combo
// receivers).
func classifyCapabilities(p capabilityProbe) (DeviceType, bool) {
	types := make(map[evdev.EvType]bool)
	for _, t := range p.CapableTypes() {
		types[t] = true
	}

	if types[evdev.EV_KEY] {
		if countCodes(p.CapableEvents(evdev.EV_KEY), letterKeys...) >= minLetterKeys {
			return DeviceKeyboard, true
		}
	}

	if types[evdev.EV_REL] {
		if countCodes(p.CapableEvents(evdev.EV_REL), evdev.REL_X, evdev.REL_Y) == 2 {
			return DeviceMouse, true
		}
	}

	if types[evdev.EV_ABS] {
		if countCodes(p.CapableEvents(evdev.EV_ABS), evdev.ABS_X, evdev.ABS_Y) == 2 {
			return DeviceTouchpad, true
		}
	}

	return 0, false
}

// countCodes returns how many of want appear in have.
func countCodes(have []evdev.EvCode, want ...evdev.EvCode) int {
	set := make(map[evdev.EvCode]struct{}, len(have))
	for _, c := range have {
		set[c] = struct{}{}
	}
	n := 0
	for _, c := range want {
		if _, ok := set[c]; ok {
			n++
		}
	}
	return n
}

func openEvdevProbe(path string) (capabilityProbe, error) {
	dev, err := evdev.OpenWithFlags(path, os.O_RDONLY|unix.O_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func openInputNode(path string) (int, error) {
	return unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
}

// Classifier decides which input nodes are worth monitoring.
type Classifier struct {
	openProbe func(path string) (capabilityProbe, error)
	openNode  func(path string) (int, error)
	capacity  int
	logger    *slog.Logger
}

// NewClassifier returns a classifier backed by evdev capability queries.
func NewClassifier(logger *slog.Logger) *Classifier {
	return &Classifier{
		openProbe: openEvdevProbe,
		openNode:  openInputNode,
		capacity:  maxInputDevices,
		logger:    logger,
	}
}

// Classify probes path and, if it is a keyboard, mouse or touchpad, returns it
// opened for monitoring. Unopenable and uninteresting nodes are rejected.
func (c *Classifier) Classify(path string) (*InputDevice, bool) {
	probe, err := c.openProbe(path)
	if err != nil {
		c.logger.Warn("skipping unreadable input node", "path", path, "error", err)
		return nil, false
	}
	typ, ok := classifyCapabilities(probe)
	_ = probe.Close()
	if !ok {
		return nil, false
	}

	fd, err := c.openNode(path)
	if err != nil {
		c.logger.Warn("failed to open input device", "path", path, "error", err)
		return nil, false
	}
	return &InputDevice{Path: path, Type: typ, fd: fd}, true
}

// IsInputNode reports whether name looks like an evdev event node.
func IsInputNode(name string) bool {
	ok, _ := filepath.Match(inputNodePattern, name)
	return ok
}

// Enumerate classifies every event node in dir and returns the accepted ones,
// up to the classifier's capacity.
func (c *Classifier) Enumerate(dir string) ([]*InputDevice, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}

	var devices []*InputDevice
	for _, e := range entries {
		if len(devices) >= c.capacity {
			c.logger.Warn("input device limit reached", "limit", c.capacity)
			break
		}
		if e.IsDir() || !IsInputNode(e.Name()) {
			continue
		}

		path := filepath.Join(dir, e.Name())
		dev, ok := c.Classify(path)
		if !ok {
			continue
		}
		devices = append(devices, dev)
		c.logger.Info("monitoring device", "type", dev.Type, "path", dev.Path)
	}
	return devices, nil
}
