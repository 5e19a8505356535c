package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"ttrace/internal/config"
	"ttrace/internal/ledger"
	"ttrace/internal/store"

	"golang.org/x/sync/errgroup"
)

// ErrAlreadyRunning is returned by StartDaemon when another daemon answers on the socket.
var ErrAlreadyRunning = errors.New("daemon is already running")

// Server wraps the UNIX listener and owns the ledger for the lifetime of the process.
type Server struct {
	ln      net.Listener
	path    string
	pidPath string

	ledger *ledger.Ledger
	store  *store.Store

	stopOnce sync.Once
	stopCh   chan struct{}

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// StartDaemon loads persisted statistics, binds the socket and writes the PID
// file. Connections are not accepted until Serve is called.
func StartDaemon(cfg config.Config) (*Server, error) {
	st := store.New(cfg.StatsPath())
	initial, err := st.Load()
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	log.Printf("Loaded %d command aggregates from %s", len(initial), st.Path())

	if err := EnsureRuntimeDir(cfg.SocketPath); err != nil {
		return nil, fmt.Errorf("create runtime dir: %w", err)
	}

	path := cfg.SocketPath
	if _, err := os.Stat(path); err == nil {
		if IsRunning(path) {
			return nil, fmt.Errorf("%w on %s", ErrAlreadyRunning, path)
		}
		log.Printf("Removing stale socket at %s", path)
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, err
	}

	s := newServer(ln, path, cfg.PIDPath(), ledger.New(initial), st)
	if err := WritePID(s.pidPath, os.Getpid()); err != nil {
		s.Close()
		return nil, err
	}
	log.Printf("Daemon listening on %s", path)
	return s, nil
}

func newServer(ln net.Listener, path, pidPath string, l *ledger.Ledger, st *store.Store) *Server {
	return &Server{
		ln:      ln,
		path:    path,
		pidPath: pidPath,
		ledger:  l,
		store:   st,
		stopCh:  make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

// Serve accepts connections until ctx is cancelled or a client sends STOP,
// then runs the shutdown routine. It returns the shutdown result.
func (s *Server) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.acceptLoop)
	g.Go(func() error {
		select {
		case <-gctx.Done():
			if ctx.Err() != nil {
				log.Printf("Shutdown requested: %v", context.Cause(ctx))
			}
		case <-s.stopCh:
			log.Printf("Shutdown requested by client")
		case <-s.closed:
		}
		return s.Close()
	})
	return g.Wait()
}

// RequestStop asks Serve to shut down. Safe to call more than once and from any goroutine.
func (s *Server) RequestStop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Done is closed once the shutdown routine has finished.
func (s *Server) Done() <-chan struct{} {
	return s.closed
}

// Ledger exposes the shared state, mainly for tests and status reporting.
func (s *Server) Ledger() *ledger.Ledger {
	return s.ledger
}

// Close stops accepting connections, persists the aggregates under the ledger
// lock and unlinks the socket and PID files. Only the first call does any
// work; later calls return the same result.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		defer close(s.closed)
		var errs []error

		if s.ln != nil {
			if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, fmt.Errorf("close listener: %w", err))
			}
		}

		if _, err := s.ledger.Persist(s.store.Save); err != nil {
			log.Printf("Failed to save state during shutdown: %v", err)
			errs = append(errs, err)
		} else {
			log.Printf("State saved to %s", s.store.Path())
		}

		if s.path != "" {
			if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, fmt.Errorf("remove socket: %w", err))
			}
		}
		if s.pidPath != "" {
			if err := RemovePID(s.pidPath); err != nil {
				errs = append(errs, fmt.Errorf("remove pid file: %w", err))
			}
		}

		s.closeErr = errors.Join(errs...)
		log.Printf("Daemon has shut down.")
	})
	return s.closeErr
}

func (s *Server) acceptLoop() error {
	var backoff time.Duration
	for {
		c, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			// EMFILE and friends: back off like net/http and keep serving.
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			log.Printf("Failed to accept connection: %v; retrying in %v", err, backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		go s.handleConnection(c)
	}
}

// handleConnection serves exactly one request line and closes the connection.
func (s *Server) handleConnection(c net.Conn) {
	br := bufio.NewReader(c)
	line, err := br.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if !errors.Is(err, io.EOF) {
			log.Printf("Error reading request: %v", err)
		}
		c.Close()
		return
	}

	res := s.dispatch(line)
	if len(res.reply) > 0 {
		if _, err := c.Write(res.reply); err != nil {
			log.Printf("Failed to write response: %v", err)
		}
	}
	c.Close()

	if res.shutdown {
		s.RequestStop()
	}
}
