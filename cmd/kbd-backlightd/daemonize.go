package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// isDetached reports whether this process is the detached child.
func isDetached() bool {
	return os.Getenv(detachedEnv) == "1"
}

// getDaemonSysProcAttr puts the child in its own session, away from the
// controlling terminal.
func getDaemonSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setsid: true,
	}
}

// detach re-executes the binary with args in a new session, stdio on
// /dev/null and the working directory at /. It returns the child's pid; the
// caller is expected to exit.
func detach(args []string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("locate executable: %w", err)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd := exec.Command(exe, args...)
	cmd.Env = append(os.Environ(), detachedEnv+"=1")
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.Dir = "/"
	cmd.SysProcAttr = getDaemonSysProcAttr()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start detached process: %w", err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	return pid, nil
}
