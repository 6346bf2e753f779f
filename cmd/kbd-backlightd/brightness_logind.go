package main

import (
	"fmt"
	"path/filepath"

	"github.com/godbus/dbus/v5"
)

const (
	logindDest      = "org.freedesktop.login1"
	logindSetBright = "org.freedesktop.login1.Session.SetBrightness"
)

// logindWriter writes brightness through systemd-logind, which lets an
// unprivileged user in an active session drive the LED without write access to
// sysfs. Reads still go through sysfs (logind has no getter).
type logindWriter struct {
	conn      *dbus.Conn
	obj       dbus.BusObject
	subsystem string
	name      string
}

func newLogindWriter(brightnessPath, sessionPath string) (*logindWriter, error) {
	subsystem, name, err := sysfsDeviceOf(brightnessPath)
	if err != nil {
		return nil, err
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	return &logindWriter{
		conn:      conn,
		obj:       conn.Object(logindDest, dbus.ObjectPath(sessionPath)),
		subsystem: subsystem,
		name:      name,
	}, nil
}

func (w *logindWriter) WriteBrightness(value int) error {
	return w.obj.Call(logindSetBright, 0, w.subsystem, w.name, uint32(value)).Err
}

func (w *logindWriter) Close() error {
	return w.conn.Close()
}

// sysfsDeviceOf maps /sys/class/<subsystem>/<name>/brightness to
// (subsystem, name) as logind expects them.
func sysfsDeviceOf(brightnessPath string) (string, string, error) {
	dev := filepath.Dir(filepath.Clean(brightnessPath))
	name := filepath.Base(dev)
	subsystem := filepath.Base(filepath.Dir(dev))
	switch subsystem {
	case "leds", "backlight":
		return subsystem, name, nil
	default:
		return "", "", fmt.Errorf("logind writes need a /sys/class/{leds,backlight}/<name>/brightness path, got %s", brightnessPath)
	}
}
