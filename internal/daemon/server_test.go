package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttrace/internal/config"
	"ttrace/internal/ledger"
	"ttrace/internal/protocol"
	"ttrace/internal/store"
)

// testConfig keeps the socket under a short directory; t.TempDir paths can
// exceed the sun_path limit.
func testConfig(t *testing.T) config.Config {
	t.Helper()
	sockDir, err := os.MkdirTemp("", "ttrace")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(sockDir) })

	return config.Config{
		SocketPath:   filepath.Join(sockDir, "d.sock"),
		DataDir:      t.TempDir(),
		StartTimeout: time.Second,
		StopTimeout:  time.Second,
	}
}

type runningServer struct {
	srv    *Server
	cfg    config.Config
	cancel context.CancelFunc
	errc   chan error
}

func startServer(t *testing.T, cfg config.Config) *runningServer {
	t.Helper()
	srv, err := StartDaemon(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	rs := &runningServer{srv: srv, cfg: cfg, cancel: cancel, errc: make(chan error, 1)}
	go func() { rs.errc <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-srv.Done():
		case <-time.After(2 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return rs
}

func (rs *runningServer) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-rs.errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

// exchange sends one raw line and returns everything the daemon wrote back.
func exchange(t *testing.T, path, line string) string {
	t.Helper()
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	_, err = io.WriteString(conn, line)
	require.NoError(t, err)
	require.NoError(t, conn.(*net.UnixConn).CloseWrite())

	body, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(body)
}

func TestLegacyPingGetsPong(t *testing.T) {
	rs := startServer(t, testConfig(t))
	assert.Equal(t, "PONG\n", exchange(t, rs.cfg.SocketPath, "PING\n"))
}

func TestHealthCheckGetsPong(t *testing.T) {
	rs := startServer(t, testConfig(t))
	assert.Equal(t, "PONG\n", exchange(t, rs.cfg.SocketPath, "HEALTH_CHECK\n"))
	assert.True(t, IsRunning(rs.cfg.SocketPath))
}

func TestBeginEndThenStats(t *testing.T) {
	rs := startServer(t, testConfig(t))
	client := NewClient(rs.cfg.SocketPath)
	ctx := context.Background()

	require.NoError(t, client.Send(ctx, protocol.CommandBegin{PID: 42, Command: "git status"}))
	require.Eventually(t, func() bool {
		_, ok := rs.srv.Ledger().Pending(42)
		return ok
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, client.Send(ctx, protocol.CommandEnd{PID: 42, ExitCode: 0}))
	require.Eventually(t, func() bool { return rs.srv.Ledger().InFlight() == 0 }, time.Second, 5*time.Millisecond)

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	require.Contains(t, stats, "git status")
	s := stats["git status"]
	assert.Equal(t, uint64(1), s.Count)
	assert.Equal(t, uint64(1), s.SuccessCount)
	assert.Zero(t, s.FailCount)
	assert.GreaterOrEqual(t, s.LastRunDuration, 50*time.Millisecond)

	// GET_STATS persists as a side effect.
	onDisk, err := store.New(rs.cfg.StatsPath()).Load()
	require.NoError(t, err)
	assert.Equal(t, stats, onDisk)
}

func TestEndWithoutBeginIsIgnored(t *testing.T) {
	rs := startServer(t, testConfig(t))

	assert.Empty(t, exchange(t, rs.cfg.SocketPath, "COMMAND_END 999 1\n"))
	assert.Equal(t, "{}", exchange(t, rs.cfg.SocketPath, "GET_STATS\n"))
	assert.Zero(t, rs.srv.Ledger().InFlight())
}

func TestMalformedRequestIsDropped(t *testing.T) {
	rs := startServer(t, testConfig(t))

	assert.Empty(t, exchange(t, rs.cfg.SocketPath, "GARBAGE_COMMAND_DOES_NOT_EXIST\n"))
	assert.Empty(t, exchange(t, rs.cfg.SocketPath, "COMMAND_BEGIN nope ls\n"))
	// Still serving.
	assert.Equal(t, "PONG\n", exchange(t, rs.cfg.SocketPath, "PING\n"))
}

func TestUnterminatedLineIsServed(t *testing.T) {
	rs := startServer(t, testConfig(t))
	assert.Equal(t, "PONG\n", exchange(t, rs.cfg.SocketPath, "PING"))
}

func TestSecondBeginOverwritesFirst(t *testing.T) {
	rs := startServer(t, testConfig(t))
	client := NewClient(rs.cfg.SocketPath)
	ctx := context.Background()

	pendingIs := func(cmd string) func() bool {
		return func() bool {
			p, ok := rs.srv.Ledger().Pending(100)
			return ok && p.Command == cmd
		}
	}

	require.NoError(t, client.Send(ctx, protocol.CommandBegin{PID: 100, Command: "sleep 1"}))
	require.Eventually(t, pendingIs("sleep 1"), time.Second, 5*time.Millisecond)
	require.NoError(t, client.Send(ctx, protocol.CommandBegin{PID: 100, Command: "sleep 2"}))
	require.Eventually(t, pendingIs("sleep 2"), time.Second, 5*time.Millisecond)

	require.NoError(t, client.Send(ctx, protocol.CommandEnd{PID: 100, ExitCode: 0}))
	require.Eventually(t, func() bool { return rs.srv.Ledger().InFlight() == 0 }, time.Second, 5*time.Millisecond)

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.NotContains(t, stats, "sleep 1")
	assert.Equal(t, uint64(1), stats["sleep 2"].Count)
}

func TestStopPersistsAndUnlinks(t *testing.T) {
	rs := startServer(t, testConfig(t))
	client := NewClient(rs.cfg.SocketPath)
	ctx := context.Background()

	require.NoError(t, client.Send(ctx, protocol.CommandBegin{PID: 1, Command: "make"}))
	require.Eventually(t, func() bool { return rs.srv.Ledger().InFlight() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, client.Send(ctx, protocol.CommandEnd{PID: 1, ExitCode: 2}))
	require.Eventually(t, func() bool { return rs.srv.Ledger().InFlight() == 0 }, time.Second, 5*time.Millisecond)

	assert.Empty(t, exchange(t, rs.cfg.SocketPath, "STOP\n"))
	require.NoError(t, rs.wait(t))

	_, err := os.Stat(rs.cfg.SocketPath)
	assert.True(t, os.IsNotExist(err), "socket file should be removed")
	_, err = os.Stat(rs.cfg.PIDPath())
	assert.True(t, os.IsNotExist(err), "pid file should be removed")

	onDisk, err := store.New(rs.cfg.StatsPath()).Load()
	require.NoError(t, err)
	require.Contains(t, onDisk, "make")
	assert.Equal(t, uint64(1), onDisk["make"].Count)
	assert.Equal(t, uint64(1), onDisk["make"].FailCount)

	_, err = client.Ping(ctx)
	assert.ErrorIs(t, err, ErrDaemonUnreachable)
	assert.False(t, IsRunning(rs.cfg.SocketPath))
}

func TestContextCancelShutsDown(t *testing.T) {
	rs := startServer(t, testConfig(t))
	rs.cancel()
	require.NoError(t, rs.wait(t))

	_, err := os.Stat(rs.cfg.SocketPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(rs.cfg.StatsPath())
	assert.NoError(t, err, "shutdown always writes the stats file")
}

func TestStatsSurviveRestart(t *testing.T) {
	cfg := testConfig(t)
	rs := startServer(t, cfg)
	client := NewClient(cfg.SocketPath)
	ctx := context.Background()

	require.NoError(t, client.Send(ctx, protocol.CommandBegin{PID: 5, Command: "ls"}))
	require.Eventually(t, func() bool { return rs.srv.Ledger().InFlight() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, client.Send(ctx, protocol.CommandEnd{PID: 5, ExitCode: 0}))
	require.Eventually(t, func() bool { return rs.srv.Ledger().InFlight() == 0 }, time.Second, 5*time.Millisecond)
	// An unmatched begin is lost across the restart.
	require.NoError(t, client.Send(ctx, protocol.CommandBegin{PID: 6, Command: "vim"}))
	require.Eventually(t, func() bool { return rs.srv.Ledger().InFlight() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, client.Stop(ctx))
	require.NoError(t, rs.wait(t))

	rs2 := startServer(t, cfg)
	assert.Zero(t, rs2.srv.Ledger().InFlight())
	stats, err := NewClient(cfg.SocketPath).Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats["ls"].Count)

	assert.Empty(t, exchange(t, cfg.SocketPath, "COMMAND_END 6 0\n"))
	stats, err = NewClient(cfg.SocketPath).Stats(ctx)
	require.NoError(t, err)
	assert.NotContains(t, stats, "vim")
}

func TestStartRemovesStaleSocket(t *testing.T) {
	cfg := testConfig(t)

	ln, err := net.Listen("unix", cfg.SocketPath)
	require.NoError(t, err)
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, ln.Close())
	_, err = os.Stat(cfg.SocketPath)
	require.NoError(t, err, "stale socket should exist before start")

	rs := startServer(t, cfg)
	assert.Equal(t, "PONG\n", exchange(t, rs.cfg.SocketPath, "PING\n"))
}

func TestStartRefusesWhenRunning(t *testing.T) {
	cfg := testConfig(t)
	startServer(t, cfg)

	_, err := StartDaemon(cfg)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestStartFailsOnCorruptStats(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.StatsPath(), []byte("not json"), 0o600))

	_, err := StartDaemon(cfg)
	assert.Error(t, err)
	_, statErr := os.Stat(cfg.SocketPath)
	assert.True(t, os.IsNotExist(statErr), "no socket should be bound")
}

func TestStartWritesPID(t *testing.T) {
	rs := startServer(t, testConfig(t))
	pid, err := RunningPID(rs.cfg.PIDPath())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestCloseIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	srv, err := StartDaemon(cfg)
	require.NoError(t, err)

	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())
	<-srv.Done()
}

func newDispatchServer(t *testing.T) *Server {
	t.Helper()
	st := store.New(filepath.Join(t.TempDir(), "stats.json"))
	return newServer(nil, "", "", ledger.New(nil), st)
}

func TestDispatch(t *testing.T) {
	s := newDispatchServer(t)

	assert.Equal(t, result{reply: []byte("PONG\n")}, s.dispatch("PING\n"))
	assert.Equal(t, result{reply: []byte("PONG\n")}, s.dispatch("HEALTH_CHECK\n"))
	assert.Equal(t, result{shutdown: true}, s.dispatch("STOP\n"))
	assert.Equal(t, result{}, s.dispatch("NOPE\n"))

	assert.Equal(t, result{}, s.dispatch("COMMAND_BEGIN 1234 ls -l\n"))
	p, ok := s.ledger.Pending(1234)
	require.True(t, ok)
	assert.Equal(t, "ls -l", p.Command)

	assert.Equal(t, result{}, s.dispatch("COMMAND_END 1234 0\n"))
	assert.Zero(t, s.ledger.InFlight())

	res := s.dispatch("GET_STATS\n")
	var stats ledger.Stats
	require.NoError(t, json.Unmarshal(res.reply, &stats))
	assert.Equal(t, uint64(1), stats["ls -l"].SuccessCount)
	assert.False(t, res.shutdown)

	onDisk, err := s.store.Load()
	require.NoError(t, err)
	assert.Equal(t, stats, onDisk)
}

func TestDispatchGetStatsRepliesWhenSaveFails(t *testing.T) {
	// A directory where the file should be makes the rename fail.
	dir := t.TempDir()
	path := filepath.Join(dir, "stats.json")
	require.NoError(t, os.Mkdir(path, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(path, "keep"), nil, 0o600))

	s := newServer(nil, "", "", ledger.New(ledger.Stats{"a": {Count: 1, SuccessCount: 1}}), store.New(path))
	res := s.dispatch("GET_STATS\n")
	assert.JSONEq(t, `{"a":{"count":1,"total_duration":0,"last_run_duration":0,"success_count":1,"fail_count":0}}`, string(res.reply))
}
