// Package protocol implements the newline-delimited request grammar spoken
// between the shell hooks and the daemon.
//
//	STOP
//	HEALTH_CHECK
//	COMMAND_BEGIN <pid> <command...>
//	COMMAND_END <pid> <exit_code>
//	GET_STATS
//
// A bare PING line is accepted by the daemon as a legacy liveness probe and is
// answered with PONG. It has no Request value.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	VerbStop         = "STOP"
	VerbHealthCheck  = "HEALTH_CHECK"
	VerbCommandBegin = "COMMAND_BEGIN"
	VerbCommandEnd   = "COMMAND_END"
	VerbGetStats     = "GET_STATS"

	LegacyPing = "PING"
	Pong       = "PONG\n"
)

// ErrMalformedRequest is wrapped by every Parse failure.
var ErrMalformedRequest = errors.New("malformed request")

// Request is one of Stop, HealthCheck, CommandBegin, CommandEnd or GetStats.
type Request interface {
	fmt.Stringer
	request()
}

type Stop struct{}

type HealthCheck struct{}

// CommandBegin announces that pid started running Command.
type CommandBegin struct {
	PID     uint32
	Command string
}

// CommandEnd announces that the command started by pid exited with ExitCode.
// Negative codes are allowed (signal termination).
type CommandEnd struct {
	PID      uint32
	ExitCode int32
}

type GetStats struct{}

func (Stop) request()         {}
func (HealthCheck) request()  {}
func (CommandBegin) request() {}
func (CommandEnd) request()   {}
func (GetStats) request()     {}

func (Stop) String() string        { return VerbStop }
func (HealthCheck) String() string { return VerbHealthCheck }
func (GetStats) String() string    { return VerbGetStats }

func (r CommandBegin) String() string {
	return VerbCommandBegin + " " + strconv.FormatUint(uint64(r.PID), 10) + " " + r.Command
}

func (r CommandEnd) String() string {
	return VerbCommandEnd + " " + strconv.FormatUint(uint64(r.PID), 10) + " " + strconv.FormatInt(int64(r.ExitCode), 10)
}

// Parse decodes a single request line. A trailing newline (LF or CRLF) is
// ignored; the command text of COMMAND_BEGIN is otherwise kept verbatim.
func Parse(line string) (Request, error) {
	line = trimEOL(line)

	verb, rest, hasArgs := strings.Cut(line, " ")
	switch verb {
	case VerbStop, VerbHealthCheck, VerbGetStats:
		if hasArgs && strings.TrimSpace(rest) != "" {
			return nil, malformed("%s takes no arguments", verb)
		}
		switch verb {
		case VerbStop:
			return Stop{}, nil
		case VerbHealthCheck:
			return HealthCheck{}, nil
		default:
			return GetStats{}, nil
		}

	case VerbCommandBegin:
		pidField, command, ok := strings.Cut(rest, " ")
		if !hasArgs || pidField == "" {
			return nil, malformed("%s: missing pid", verb)
		}
		pid, err := parsePID(pidField)
		if err != nil {
			return nil, err
		}
		if !ok || command == "" {
			return nil, malformed("%s: missing command", verb)
		}
		return CommandBegin{PID: pid, Command: command}, nil

	case VerbCommandEnd:
		pidField, codeField, ok := strings.Cut(rest, " ")
		if !hasArgs || pidField == "" {
			return nil, malformed("%s: missing pid", verb)
		}
		pid, err := parsePID(pidField)
		if err != nil {
			return nil, err
		}
		if !ok || codeField == "" {
			return nil, malformed("%s: missing exit code", verb)
		}
		if strings.Contains(codeField, " ") {
			return nil, malformed("%s: unexpected trailing fields", verb)
		}
		code, err := strconv.ParseInt(codeField, 10, 32)
		if err != nil {
			return nil, malformed("%s: invalid exit code %q", verb, codeField)
		}
		return CommandEnd{PID: pid, ExitCode: int32(code)}, nil

	case "":
		return nil, malformed("empty request")
	default:
		return nil, malformed("unknown verb %q", verb)
	}
}

// IsLegacyPing reports whether line is the bare PING probe.
func IsLegacyPing(line string) bool {
	return strings.TrimSpace(line) == LegacyPing
}

// Encode renders r as a newline-terminated line. Requests that would not
// survive a round trip through Parse are rejected.
func Encode(r Request) ([]byte, error) {
	if r == nil {
		return nil, errors.New("encode: nil request")
	}
	if b, ok := r.(CommandBegin); ok {
		if b.Command == "" {
			return nil, errors.New("encode: command must not be empty")
		}
		if strings.ContainsAny(b.Command, "\r\n") {
			return nil, errors.New("encode: command must be a single line")
		}
	}
	return []byte(r.String() + "\n"), nil
}

func parsePID(s string) (uint32, error) {
	pid, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, malformed("invalid pid %q", s)
	}
	return uint32(pid), nil
}

func trimEOL(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedRequest, fmt.Sprintf(format, args...))
}
