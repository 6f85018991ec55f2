package isolation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/nhle/inboxdigest/internal/bus"
)

// StartFunc starts an in-process worker and returns its stop func.
type StartFunc func() (stop func(), err error)

// LocalHost runs the worker as goroutines in this process, on the memory
// transport.
type LocalHost struct {
	start StartFunc

	mu      sync.Mutex
	running map[string]func()
}

// NewLocalHost creates a host that uses start to bring a worker up.
func NewLocalHost(start StartFunc) *LocalHost {
	return &LocalHost{start: start, running: make(map[string]func())}
}

// Instances implements Host.
func (h *LocalHost) Instances(_ context.Context, url string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.running[url]; ok {
		return 1, nil
	}
	return 0, nil
}

// Create implements Host.
func (h *LocalHost) Create(_ context.Context, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.running[url]; ok {
		return nil
	}
	stop, err := h.start()
	if err != nil {
		return fmt.Errorf("starting local worker: %w", err)
	}
	h.running[url] = stop
	return nil
}

// Close stops every worker the host started.
func (h *LocalHost) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for url, stop := range h.running {
		stop()
		delete(h.running, url)
	}
}

// ProcessHost runs the worker as a separate inboxdigest-worker process
// reached over NATS. A worker counts as live when it answers DB/PING.
type ProcessHost struct {
	binary    string
	args      []string
	transport bus.Transport

	probeTimeout time.Duration
	readyTimeout time.Duration

	mu    sync.Mutex
	procs []process
}

type process struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// NewProcessHost creates a host that launches binary with args. t must be
// the same NATS transport the coordinator talks to the worker over.
func NewProcessHost(binary string, args []string, t bus.Transport) *ProcessHost {
	return &ProcessHost{
		binary:       binary,
		args:         args,
		transport:    t,
		probeTimeout: time.Second,
		readyTimeout: 10 * time.Second,
	}
}

// Instances implements Host. It counts at most one: NATS delivers the
// probe to a single responder.
func (h *ProcessHost) Instances(ctx context.Context, _ string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, h.probeTimeout)
	defer cancel()

	_, err := bus.Call(ctx, h.transport, bus.CoordinatorWorker, bus.WorkerCoordinator,
		bus.CoordinatorToWorker(bus.PingMsg{}))
	switch {
	case err == nil:
		return 1, nil
	case errors.Is(err, bus.ErrNoListener), errors.Is(err, context.DeadlineExceeded):
		return 0, nil
	default:
		return 0, err
	}
}

// Create implements Host.
func (h *ProcessHost) Create(ctx context.Context, url string) error {
	// Not CommandContext: the worker outlives the request that started it.
	cmd := exec.Command(h.binary, h.args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", h.binary, err)
	}
	log.Printf("[isolation] started %s (pid %d)", h.binary, cmd.Process.Pid)

	exited := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		exited <- cmd.Wait()
		close(done)
	}()

	h.mu.Lock()
	h.procs = append(h.procs, process{cmd: cmd, done: done})
	h.mu.Unlock()

	deadline := time.NewTimer(h.readyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case err := <-exited:
			return fmt.Errorf("worker exited during startup: %v", err)
		case <-deadline.C:
			_ = cmd.Process.Kill()
			return fmt.Errorf("worker at %s not ready after %s", url, h.readyTimeout)
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if n, err := h.Instances(ctx, url); err == nil && n > 0 {
				return nil
			}
		}
	}
}

// Close terminates the worker processes this host started.
func (h *ProcessHost) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.procs {
		select {
		case <-p.done:
		default:
			_ = p.cmd.Process.Signal(os.Interrupt)
		}
	}
	h.procs = nil
}
