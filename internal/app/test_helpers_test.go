package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"ttrace/internal/config"
	"ttrace/internal/ledger"
	"ttrace/internal/protocol"
)

type fakeClient struct {
	ping  func(ctx context.Context) (string, error)
	send  func(ctx context.Context, req protocol.Request) error
	stats func(ctx context.Context) (ledger.Stats, error)
}

func (f *fakeClient) Ping(ctx context.Context) (string, error) {
	if f.ping != nil {
		return f.ping(ctx)
	}
	return "", errors.New("ping not stubbed")
}

func (f *fakeClient) Send(ctx context.Context, req protocol.Request) error {
	if f.send != nil {
		return f.send(ctx, req)
	}
	return errors.New("send not stubbed")
}

func (f *fakeClient) Stats(ctx context.Context) (ledger.Stats, error) {
	if f.stats != nil {
		return f.stats(ctx)
	}
	return nil, errors.New("stats not stubbed")
}

var testConfig = config.Config{
	SocketPath:   "/tmp/ttrace-test/ttrace.sock",
	DataDir:      "/tmp/ttrace-test/data",
	StartTimeout: 200 * time.Millisecond,
	StopTimeout:  200 * time.Millisecond,
}

func stubDaemon(t *testing.T, running bool, client daemonClient) {
	t.Helper()
	resetDaemonDeps()
	origLoad := loadConfig
	loadConfig = func(string) (config.Config, error) { return testConfig, nil }
	daemonIsRunning = func(path string) bool {
		if path != testConfig.SocketPath {
			t.Fatalf("unexpected socket path %q", path)
		}
		return running
	}
	if client == nil {
		client = &fakeClient{}
	}
	newDaemonClient = func(string) daemonClient { return client }
	t.Cleanup(func() {
		resetDaemonDeps()
		loadConfig = origLoad
	})
}
