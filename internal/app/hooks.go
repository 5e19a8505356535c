package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"ttrace/internal/protocol"
)

// BeginParams describes a command the shell is about to run.
type BeginParams struct {
	PID     uint32
	Command string
	Timeout time.Duration
}

// EndParams describes a command that just finished.
type EndParams struct {
	PID      uint32
	ExitCode int32
	Timeout  time.Duration
}

// Begin notifies the daemon that a command started. Multi-line commands are
// folded onto one line, since the protocol is line-delimited.
func (a *App) Begin(ctx context.Context, params BeginParams) error {
	command := strings.Join(strings.FieldsFunc(params.Command, func(r rune) bool {
		return r == '\n' || r == '\r'
	}), " ")
	if strings.TrimSpace(command) == "" {
		return errors.New("command must not be empty")
	}
	return a.send(ctx, params.Timeout, protocol.CommandBegin{PID: params.PID, Command: command})
}

// End notifies the daemon that a command finished.
func (a *App) End(ctx context.Context, params EndParams) error {
	return a.send(ctx, params.Timeout, protocol.CommandEnd{PID: params.PID, ExitCode: params.ExitCode})
}
