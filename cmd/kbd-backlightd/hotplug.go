package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// deviceSet is the monitored collection hotplug maintains.
type deviceSet interface {
	Add(dev *InputDevice) error
	Remove(path string) bool
	Has(path string) bool
	Full() bool
}

// deviceClassifier decides whether a node is worth monitoring.
type deviceClassifier interface {
	Classify(path string) (*InputDevice, bool)
}

// HotplugWatcher watches the input directory for event nodes appearing and
// disappearing. It does not run a goroutine of its own: the control loop calls
// Apply between iterations so the monitored set keeps a single owner.
type HotplugWatcher struct {
	watcher *fsnotify.Watcher
	dir     string
	logger  *slog.Logger
}

// NewHotplugWatcher starts watching dir.
func NewHotplugWatcher(dir string, logger *slog.Logger) (*HotplugWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &HotplugWatcher{watcher: w, dir: dir, logger: logger}, nil
}

// Apply drains every queued filesystem event without blocking and updates
// devs accordingly. It reports whether the monitored set changed.
//
// udev creates the node and then fixes its mode, so both Create and Chmod are
// treated as "try to add"; a node that is already monitored is left alone.
func (h *HotplugWatcher) Apply(devs deviceSet, c deviceClassifier) bool {
	changed := false
	for {
		select {
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return changed
			}
			if h.handle(ev, devs, c) {
				changed = true
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return changed
			}
			h.logger.Warn("input hotplug watcher error", "dir", h.dir, "error", err)

		default:
			return changed
		}
	}
}

func (h *HotplugWatcher) handle(ev fsnotify.Event, devs deviceSet, c deviceClassifier) bool {
	if !IsInputNode(filepath.Base(ev.Name)) {
		return false
	}

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		if devs.Remove(ev.Name) {
			h.logger.Info("input device removed", "path", ev.Name)
			return true
		}

	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Chmod):
		if devs.Has(ev.Name) {
			return false
		}
		if devs.Full() {
			h.logger.Warn("input device limit reached, ignoring new device", "path", ev.Name, "limit", maxInputDevices)
			return false
		}
		dev, ok := c.Classify(ev.Name)
		if !ok {
			return false
		}
		if err := devs.Add(dev); err != nil {
			h.logger.Warn("failed to monitor input device", "path", ev.Name, "error", err)
			_ = dev.Close()
			return false
		}
		h.logger.Info("monitoring device", "type", dev.Type, "path", dev.Path)
		return true
	}
	return false
}

// Close stops watching.
func (h *HotplugWatcher) Close() error {
	return h.watcher.Close()
}
