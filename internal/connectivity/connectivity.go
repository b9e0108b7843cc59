// Package connectivity abstracts the runtime's "is the network up" signal so
// the delivery client and flush triggers never read an ambient global. The
// outbox is handed a Source; production wires the probing Watcher, tests
// wire a fake.
package connectivity

import (
	"log/slog"
	"net"
	"sync"
	"time"
)

// Source reports whether the agent currently has a network path and lets
// callers subscribe to offline→online transitions.
type Source interface {
	// Online reports the last observed connectivity state.
	Online() bool

	// OnOnline registers fn to be called on every offline→online
	// transition. Callbacks run sequentially on the watcher goroutine and
	// must not block for long.
	OnOnline(fn func())
}

// DialFunc matches net.DialTimeout. Injected so tests can script probes.
type DialFunc func(network, addr string, timeout time.Duration) (net.Conn, error)

// Watcher is the production Source. It probes a well-known address with a
// TCP dial on a fixed interval and tracks the resulting state.
//
// The probe address defaults to a public DNS resolver; point it at the
// integration endpoint's host instead if the agent runs in a network where
// outbound 53/tcp is filtered.
type Watcher struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
	dial     DialFunc

	mu     sync.Mutex
	online bool
	subs   []func()

	done chan struct{}
	wg   sync.WaitGroup
}

var _ Source = (*Watcher)(nil)

// NewWatcher builds a Watcher. Start must be called before the state is
// meaningful; until the first probe completes the watcher reports offline.
func NewWatcher(addr string, interval, timeout time.Duration) *Watcher {
	return &Watcher{
		addr:     addr,
		interval: interval,
		timeout:  timeout,
		dial:     net.DialTimeout,
		done:     make(chan struct{}),
	}
}

// Start runs the first probe synchronously (so callers observe a real state
// immediately after Start returns) and then launches the probe loop.
func (w *Watcher) Start() {
	w.probe()
	w.wg.Add(1)
	go w.loop()
}

// Stop terminates the probe loop and waits for it to exit.
func (w *Watcher) Stop() {
	close(w.done)
	w.wg.Wait()
}

// Online reports the last probed state.
func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// OnOnline registers fn for offline→online transitions.
func (w *Watcher) OnOnline(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.subs, fn)
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.probe()
		}
	}
}

// probe dials the probe address once and updates the state. Subscribers fire
// only on the offline→online edge, outside the lock.
func (w *Watcher) probe() {
	conn, err := w.dial("tcp", w.addr, w.timeout)
	up := err == nil
	if conn != nil {
		_ = conn.Close()
	}

	w.mu.Lock()
	wasOnline := w.online
	w.online = up
	var subs []func()
	if up && !wasOnline {
		subs = append(subs, w.subs...)
	}
	w.mu.Unlock()

	if up && !wasOnline {
		slog.Info("network online", "probe_addr", w.addr)
	} else if !up && wasOnline {
		slog.Info("network offline", "probe_addr", w.addr, "err", err)
	}

	for _, fn := range subs {
		fn()
	}
}
