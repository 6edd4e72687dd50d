// Package stream keeps one websocket open to the worker's progress endpoint
// and fans batch_progress events out to subscribers. A dropped connection is
// retried after a fixed delay until Disconnect is called.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/victorarias/c0lor-mem/internal/bridge"
	"github.com/victorarias/c0lor-mem/internal/client"
	"github.com/victorarias/c0lor-mem/internal/config"
	"github.com/victorarias/c0lor-mem/internal/protocol"
)

const (
	readLimit    = 1 << 20
	writeTimeout = 2 * time.Second
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler receives batch progress events. It runs on the read goroutine, so
// a slow handler delays the events behind it.
type Handler func(protocol.ProgressEvent)

type subscription struct {
	id uint64
	fn Handler
}

type logFunc func(format string, args ...interface{})

type Options struct {
	// ReconnectDelay is the fixed wait after an unexpected close.
	ReconnectDelay time.Duration
	Logf           func(format string, args ...interface{})
}

// Manager owns the single stream connection.
type Manager struct {
	source client.InfoSource
	delay  time.Duration
	logf   atomic.Value // logFunc

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	cancel  context.CancelFunc
	timer   *time.Timer
	stopped bool
	// gen identifies the current session; stale goroutines compare against it.
	gen uint64
	wg  sync.WaitGroup

	subsMu sync.Mutex
	subs   []subscription
	nextID uint64
}

// New builds a manager reading BackendInfo from source.
func New(source client.InfoSource, opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = config.DefaultReconnectDelay
	}
	if opts.Logf == nil {
		opts.Logf = func(string, ...interface{}) {}
	}
	m := &Manager{
		source: source,
		delay:  opts.ReconnectDelay,
	}
	m.logf.Store(logFunc(opts.Logf))
	return m
}

var (
	defaultOnce    sync.Once
	defaultManager *Manager
)

// Default returns the process-wide manager bound to bridge.Default(). Every
// caller shares its connection and reconnect timer.
func Default() *Manager {
	defaultOnce.Do(func() {
		defaultManager = New(bridge.Default(), Options{ReconnectDelay: config.ReconnectDelay()})
	})
	return defaultManager
}

// SetLogger replaces the log function.
func (m *Manager) SetLogger(logf func(format string, args ...interface{})) {
	if logf != nil {
		m.logf.Store(logFunc(logf))
	}
}

func (m *Manager) log(format string, args ...interface{}) {
	m.logf.Load().(logFunc)(format, args...)
}

// State returns the connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens the stream in the background. It does nothing while a
// connection is open or being opened, or when no worker has been announced.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = false
	m.connectLocked()
}

func (m *Manager) connectLocked() {
	if m.state == Connecting || m.state == Connected {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	info, err := m.source.Info()
	if err != nil {
		m.log("stream: connect skipped: %v", err)
		return
	}
	url, err := client.StreamURL(info)
	if err != nil {
		m.log("stream: connect skipped: %v", err)
		return
	}

	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.state = Connecting
	m.wg.Add(1)
	go m.run(ctx, m.gen, url)
}

func (m *Manager) run(ctx context.Context, gen uint64, url string) {
	defer m.wg.Done()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		m.closed(gen, err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.conn = conn
	m.state = Connected
	m.mu.Unlock()
	m.log("stream: connected")

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			m.closed(gen, err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		m.dispatch(data)
	}
}

// closed ends session gen and schedules a reconnect unless Disconnect ran.
func (m *Manager) closed(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.conn = nil
	m.state = Closed
	if m.stopped {
		return
	}

	m.log("stream: connection lost: %v, reconnecting in %v", err, m.delay)
	var t *time.Timer
	t = time.AfterFunc(m.delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.timer != t || m.stopped {
			return
		}
		m.timer = nil
		m.connectLocked()
	})
	m.timer = t
}

func (m *Manager) dispatch(data []byte) {
	evt, err := protocol.ParseEvent(data)
	if err != nil {
		return
	}

	m.subsMu.Lock()
	snapshot := append([]subscription(nil), m.subs...)
	m.subsMu.Unlock()

	for _, s := range snapshot {
		s.fn(evt)
	}
}

// Disconnect closes the connection and cancels any pending reconnect. The
// manager stays idle until Connect is called again.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.conn = nil
	if m.state != Disconnected {
		m.state = Closed
	}
}

// Close disconnects and waits for the session goroutine to exit. It must
// not be called from a Handler.
func (m *Manager) Close() {
	m.Disconnect()
	m.wg.Wait()
}

// Subscribe registers fn and returns a function that removes it. Both are
// safe to call from inside a Handler; the change applies from the next event.
func (m *Manager) Subscribe(fn Handler) func() {
	m.subsMu.Lock()
	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscription{id: id, fn: fn})
	m.subsMu.Unlock()

	return func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// SendCancel asks the worker to cancel batchID over the open stream. It
// reports whether the frame was written, not whether the worker acted on
// it. When not connected it does nothing.
func (m *Manager) SendCancel(batchID string) bool {
	if batchID == "" {
		return false
	}
	m.mu.Lock()
	conn := m.conn
	connected := m.state == Connected
	m.mu.Unlock()
	if !connected || conn == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(protocol.CancelFrame(batchID))); err != nil {
		m.log("stream: send cancel %s: %v", batchID, err)
		return false
	}
	return true
}
