package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ttrace/internal/config"
	"ttrace/internal/protocol"
)

// EnsureRuntimeDir creates the directory holding the socket if it doesn't exist.
func EnsureRuntimeDir(socketPath string) error {
	return os.MkdirAll(filepath.Dir(socketPath), 0o700)
}

// WritePID stores the provided pid into the pid file.
func WritePID(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0o600)
}

// RemovePID removes the pid file if it exists.
func RemovePID(path string) error {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// RunningPID returns the pid stored in the pid file if any.
func RunningPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file %s: %w", path, err)
	}
	return pid, nil
}

// IsRunning pings the daemon on socketPath and reports whether it answered PONG.
func IsRunning(socketPath string) bool {
	if _, err := os.Stat(socketPath); err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	reply, err := NewClient(socketPath).Ping(ctx)
	if err != nil {
		return false
	}
	return reply+"\n" == protocol.Pong
}

// StopRunningDaemon asks the daemon to stop over the socket and waits for it
// to go away. With force, a daemon that ignores the request (or cannot be
// reached but still has a live pid) is sent SIGTERM and then SIGKILL.
func StopRunningDaemon(cfg config.Config, force bool) error {
	timeout := cfg.StopTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	err := NewClient(cfg.SocketPath).Stop(ctx)
	cancel()
	if err == nil {
		if waitForShutdown(cfg.SocketPath, timeout) {
			return nil
		}
	} else if !errors.Is(err, ErrDaemonUnreachable) {
		return err
	}

	pid, perr := RunningPID(cfg.PIDPath())
	if perr != nil {
		if errors.Is(perr, os.ErrNotExist) {
			if IsRunning(cfg.SocketPath) {
				return fmt.Errorf("daemon is running but PID file %q is missing; stop it manually", cfg.PIDPath())
			}
			return nil
		}
		return fmt.Errorf("unable to read daemon PID: %w", perr)
	}
	if pid == os.Getpid() {
		return errors.New("refusing to stop current process")
	}
	if !force {
		if err != nil {
			// unreachable and not forced: nothing answered, so nothing to stop
			return nil
		}
		return fmt.Errorf("daemon process %d did not exit after %s", pid, protocol.VerbStop)
	}

	if !looksLikeDaemon(pid) {
		_ = RemovePID(cfg.PIDPath())
		return fmt.Errorf("PID file %q names process %d which is not a ttrace daemon; removed stale PID file", cfg.PIDPath(), pid)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := sendSignal(proc, cfg.PIDPath(), syscall.SIGTERM); err != nil {
		return err
	}
	if waitForShutdown(cfg.SocketPath, timeout) {
		return nil
	}
	if err := sendSignal(proc, cfg.PIDPath(), syscall.SIGKILL); err != nil {
		return err
	}
	if waitForShutdown(cfg.SocketPath, 2*time.Second) {
		// SIGKILL skips the shutdown routine, so clean up after it.
		_ = os.Remove(cfg.SocketPath)
		_ = RemovePID(cfg.PIDPath())
		return nil
	}
	return fmt.Errorf("daemon process %d did not exit after SIGKILL", pid)
}

func sendSignal(proc *os.Process, pidPath string, sig syscall.Signal) error {
	if err := proc.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			_ = RemovePID(pidPath)
			return nil
		}
		return err
	}
	return nil
}

func waitForShutdown(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !IsRunning(socketPath) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}
