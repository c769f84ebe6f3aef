package enginetest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/lming/mimir/pkg/engine"
)

// Launcher implements engine.Launcher with an in-process Server per
// launch. It counts launches so tests can assert that concurrent instance
// lookups coalesce into a single engine start.
type Launcher struct {
	mu       sync.Mutex
	launches int

	// FailLaunch, when set, makes every Launch return this error.
	FailLaunch error
	// HoldReady, when set, serves nothing so readiness polling times out.
	HoldReady bool
}

func NewLauncher() *Launcher {
	return &Launcher{}
}

// Launches reports how many engines were started.
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

func (l *Launcher) Launch(_ context.Context, cfg engine.LaunchConfig) (engine.Process, error) {
	l.mu.Lock()
	l.launches++
	fail := l.FailLaunch
	hold := l.HoldReady
	l.mu.Unlock()

	if fail != nil {
		return nil, fail
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}

	proc := &serverProcess{
		exited: make(chan struct{}),
	}
	if hold {
		// Accept connections but never answer, so /health never succeeds.
		proc.shutdown = func() { _ = ln.Close() }
		go func() {
			for {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				_ = conn.Close()
			}
		}()
		return proc, nil
	}

	api := NewServer(cfg.MasterKey)
	httpSrv := &http.Server{Handler: api}
	proc.shutdown = func() {
		_ = httpSrv.Close()
		api.Close()
	}
	go func() {
		if err := httpSrv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			proc.setErr(err)
		}
	}()
	return proc, nil
}

// serverProcess adapts the in-process server to the Process contract:
// SIGTERM and Kill both shut the server down and unblock Wait.
type serverProcess struct {
	mu       sync.Mutex
	err      error
	stopped  bool
	shutdown func()
	exited   chan struct{}
}

func (p *serverProcess) setErr(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}

func (p *serverProcess) stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.shutdown()
	close(p.exited)
}

func (p *serverProcess) Signal(_ os.Signal) error {
	p.stop()
	return nil
}

func (p *serverProcess) Wait() error {
	<-p.exited
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *serverProcess) Kill() error {
	p.stop()
	return nil
}
