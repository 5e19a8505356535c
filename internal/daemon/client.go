package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"ttrace/internal/ledger"
	"ttrace/internal/protocol"
)

// ErrDaemonUnreachable means nothing accepted a connection on the socket:
// the daemon is not running or its socket file is stale or missing.
var ErrDaemonUnreachable = errors.New("daemon unreachable")

const defaultClientTimeout = 2 * time.Second

// Client speaks the one-request-per-connection protocol over the UNIX socket.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient returns a client for the socket at path. Calls without a context
// deadline are bounded by a default timeout.
func NewClient(path string) *Client {
	return &Client{socketPath: path, timeout: defaultClientTimeout}
}

// SocketPath returns the socket the client dials.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// Send delivers a request that expects no reply.
func (c *Client) Send(ctx context.Context, req protocol.Request) error {
	line, err := protocol.Encode(req)
	if err != nil {
		return err
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Write(line); err != nil {
		return fmt.Errorf("send %s: %w", verbOf(req), err)
	}
	return nil
}

// Ping sends the legacy PING probe and returns the trimmed reply.
func (c *Client) Ping(ctx context.Context) (string, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, protocol.LegacyPing+"\n"); err != nil {
		return "", fmt.Errorf("send ping: %w", err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && reply != "") {
		return "", fmt.Errorf("read ping reply: %w", err)
	}
	return strings.TrimSpace(reply), nil
}

// Stats asks for the aggregates. The daemon closes the connection after the
// JSON body, so the reply is read to end of stream.
func (c *Client) Stats(ctx context.Context) (ledger.Stats, error) {
	line, err := protocol.Encode(protocol.GetStats{})
	if err != nil {
		return nil, err
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := conn.Write(line); err != nil {
		return nil, fmt.Errorf("send %s: %w", protocol.VerbGetStats, err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}
	body, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("read stats: %w", err)
	}
	if len(body) == 0 {
		return nil, errors.New("daemon returned an empty stats response")
	}

	var stats ledger.Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	if stats == nil {
		stats = ledger.Stats{}
	}
	return stats, nil
}

// Stop asks the daemon to persist and exit. No reply is sent.
func (c *Client) Stop(ctx context.Context) error {
	return c.Send(ctx, protocol.Stop{})
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w at %s: %v", ErrDaemonUnreachable, c.socketPath, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	return conn, nil
}

func verbOf(req protocol.Request) string {
	verb, _, _ := strings.Cut(req.String(), " ")
	return verb
}
