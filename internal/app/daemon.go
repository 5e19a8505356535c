package app

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"ttrace/internal/config"
	"ttrace/internal/daemon"
)

var (
	stopDaemon  = daemon.StopRunningDaemon
	spawnDaemon = spawnBackgroundDaemon
)

// DaemonStatus represents current information about the daemon process.
type DaemonStatus struct {
	Running    bool
	PID        int
	Command    string
	SocketPath string
	StatsPath  string
}

// Status returns whether the daemon is running and its PID if known.
func (a *App) Status() (DaemonStatus, error) {
	cfg, err := a.Config()
	if err != nil {
		return DaemonStatus{}, err
	}
	st := DaemonStatus{SocketPath: cfg.SocketPath, StatsPath: cfg.StatsPath()}
	if !daemonIsRunning(cfg.SocketPath) {
		return st, nil
	}
	st.Running = true
	pid, err := daemon.RunningPID(cfg.PIDPath())
	if err != nil {
		return st, err
	}
	st.PID = pid
	st.Command = daemon.ProcessCommand(pid)
	return st, nil
}

// StopDaemon attempts to stop the running daemon.
func (a *App) StopDaemon(force bool) error {
	cfg, err := a.Config()
	if err != nil {
		return err
	}
	return stopDaemon(cfg, force)
}

// StartDaemon launches `ttrace daemon run` detached from the terminal and
// waits until it answers. With force an already running daemon is stopped first.
func (a *App) StartDaemon(force bool) (DaemonStatus, error) {
	cfg, err := a.Config()
	if err != nil {
		return DaemonStatus{}, err
	}
	if daemonIsRunning(cfg.SocketPath) {
		if !force {
			st, _ := a.Status()
			return st, daemon.ErrAlreadyRunning
		}
		if err := stopDaemon(cfg, true); err != nil {
			return DaemonStatus{}, fmt.Errorf("stop running daemon: %w", err)
		}
	}

	if err := spawnDaemon(cfg, a.cfgPath); err != nil {
		return DaemonStatus{}, err
	}

	deadline := time.Now().Add(cfg.StartTimeout)
	for !daemonIsRunning(cfg.SocketPath) {
		if time.Now().After(deadline) {
			return DaemonStatus{}, fmt.Errorf("daemon did not come up within %s; see %s", cfg.StartTimeout, cfg.LogPath())
		}
		time.Sleep(50 * time.Millisecond)
	}
	return a.Status()
}

func spawnBackgroundDaemon(cfg config.Config, cfgPath string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	logFile, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open daemon log: %w", err)
	}
	defer logFile.Close()

	args := []string{"daemon", "run"}
	if cfgPath != "" {
		args = append(args, "--config", cfgPath)
	}
	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.Dir = "/"
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	if err := child.Process.Release(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
