//go:build linux

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sys/unix"
)

// ActivityMonitor waits on all monitored input nodes with one epoll instance.
//
// Instead of:
//   - N goroutines, each blocking on read()
//
// We use:
//   - 1 epoll set owned by the control loop
//   - a bounded epoll_wait per iteration, so the loop can also poll the
//     backlight surface and notice shutdown
//
// Event payloads are never decoded: any readable bytes count as activity.
type ActivityMonitor struct {
	epfd     int
	devices  map[int]*InputDevice
	capacity int

	events []unix.EpollEvent
	buf    []byte

	logger *slog.Logger
}

const (
	maxEpollEvents = maxInputDevices
	// Enough for 64 struct input_event (24 bytes on 64-bit) per read.
	drainBufSize = 64 * 24
)

// NewActivityMonitor creates an empty monitor.
func NewActivityMonitor(logger *slog.Logger) (*ActivityMonitor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &ActivityMonitor{
		epfd:     epfd,
		devices:  make(map[int]*InputDevice),
		capacity: maxInputDevices,
		events:   make([]unix.EpollEvent, maxEpollEvents),
		buf:      make([]byte, drainBufSize),
		logger:   logger,
	}, nil
}

// Add registers dev for read readiness. The monitor takes ownership of dev.
func (m *ActivityMonitor) Add(dev *InputDevice) error {
	if m.Full() {
		return fmt.Errorf("input device limit (%d) reached", m.capacity)
	}
	event := unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(dev.fd),
	}
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, dev.fd, &event); err != nil {
		return fmt.Errorf("epoll_ctl_add %s: %w", dev.Path, err)
	}
	m.devices[dev.fd] = dev
	return nil
}

// Remove unregisters and closes the device at path, if monitored.
func (m *ActivityMonitor) Remove(path string) bool {
	for fd, dev := range m.devices {
		if dev.Path == path {
			m.drop(fd)
			return true
		}
	}
	return false
}

// Has reports whether path is monitored.
func (m *ActivityMonitor) Has(path string) bool {
	for _, dev := range m.devices {
		if dev.Path == path {
			return true
		}
	}
	return false
}

// Full reports whether the fixed device capacity is used up.
func (m *ActivityMonitor) Full() bool { return len(m.devices) >= m.capacity }

// Len returns the number of monitored devices.
func (m *ActivityMonitor) Len() int { return len(m.devices) }

// Devices returns the monitored devices ordered by path.
func (m *ActivityMonitor) Devices() []*InputDevice {
	out := make([]*InputDevice, 0, len(m.devices))
	for _, dev := range m.devices {
		out = append(out, dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// WaitForActivity blocks until any device is readable or timeout elapses, then
// drains every ready device completely. It reports whether any bytes were read.
// Devices that hang up (unplugged) are dropped.
func (m *ActivityMonitor) WaitForActivity(timeout time.Duration) (bool, error) {
	n, err := unix.EpollWait(m.epfd, m.events, int(timeout.Milliseconds()))
	if err != nil {
		// Signal delivery interrupts epoll_wait; the caller re-checks shutdown.
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, fmt.Errorf("epoll_wait: %w", err)
	}

	activity := false
	var gone []int

	for i := 0; i < n; i++ {
		fd := int(m.events[i].Fd)
		dev, ok := m.devices[fd]
		if !ok {
			continue
		}

		got, err := m.drain(fd)
		if got {
			activity = true
		}
		if err != nil || m.events[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			m.logger.Info("input device gone", "type", dev.Type, "path", dev.Path, "error", err)
			gone = append(gone, fd)
		}
	}

	for _, fd := range gone {
		m.drop(fd)
	}
	return activity, nil
}

// drain reads fd until it would block. Buffering in the kernel must not grow
// between polls, so everything available is consumed every time.
func (m *ActivityMonitor) drain(fd int) (bool, error) {
	got := false
	for {
		n, err := unix.Read(fd, m.buf)
		switch {
		case n > 0:
			got = true
			continue
		case err == nil:
			// EOF
			return got, nil
		case errors.Is(err, unix.EAGAIN):
			return got, nil
		case errors.Is(err, unix.EINTR):
			continue
		default:
			return got, err
		}
	}
}

func (m *ActivityMonitor) drop(fd int) {
	dev, ok := m.devices[fd]
	if !ok {
		return
	}
	_ = unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	_ = dev.Close()
	delete(m.devices, fd)
}

// Close releases every monitored device and the epoll instance.
func (m *ActivityMonitor) Close() error {
	for fd := range m.devices {
		m.drop(fd)
	}
	return unix.Close(m.epfd)
}
