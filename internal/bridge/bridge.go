// Package bridge hands the running worker's address and token to the UI
// side. It holds the last announced BackendInfo and tells listeners about
// every change, so a reloaded UI can ask again without restarting the worker.
package bridge

import (
	"sync"
	"sync/atomic"

	"github.com/victorarias/c0lor-mem/internal/protocol"
)

// Announcement is what listeners receive. Ready is false after a withdraw.
type Announcement struct {
	Info  protocol.BackendInfo
	Ready bool
}

type listener struct {
	id uint64
	fn func(Announcement)
}

// Bridge is safe for concurrent use.
type Bridge struct {
	current atomic.Pointer[protocol.BackendInfo]

	mu        sync.Mutex
	listeners []listener
	nextID    uint64
}

func New() *Bridge {
	return &Bridge{}
}

var (
	defaultOnce   sync.Once
	defaultBridge *Bridge
)

// Default returns the process-wide bridge.
func Default() *Bridge {
	defaultOnce.Do(func() {
		defaultBridge = New()
	})
	return defaultBridge
}

// Announce publishes info as the live worker.
func (b *Bridge) Announce(info protocol.BackendInfo) {
	b.current.Store(&info)
	b.notify(Announcement{Info: info, Ready: true})
}

// Withdraw marks the worker gone.
func (b *Bridge) Withdraw() {
	if b.current.Swap(nil) == nil {
		return
	}
	b.notify(Announcement{})
}

// Reload re-delivers the current state to every listener. The worker is
// not touched.
func (b *Bridge) Reload() {
	if info := b.current.Load(); info != nil {
		b.notify(Announcement{Info: *info, Ready: true})
		return
	}
	b.notify(Announcement{})
}

// Current returns the announced info, if any.
func (b *Bridge) Current() (protocol.BackendInfo, bool) {
	info := b.current.Load()
	if info == nil {
		return protocol.BackendInfo{}, false
	}
	return *info, true
}

// Info satisfies client.InfoSource.
func (b *Bridge) Info() (protocol.BackendInfo, error) {
	info, ok := b.Current()
	if !ok {
		return protocol.BackendInfo{}, protocol.ErrBackendNotReady
	}
	return info, nil
}

// Listen registers fn for future announcements and returns a function that
// removes it. Callbacks run on the announcing goroutine, in registration order.
func (b *Bridge) Listen(fn func(Announcement)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, listener{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, l := range b.listeners {
			if l.id == id {
				b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

// Updates returns a channel fed with announcements. The channel keeps only
// the latest undelivered one; stop unregisters and closes it.
func (b *Bridge) Updates() (<-chan Announcement, func()) {
	ch := make(chan Announcement, 1)
	var closeOnce sync.Once
	var mu sync.Mutex
	closed := false

	unlisten := b.Listen(func(a Announcement) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case <-ch:
		default:
		}
		ch <- a
	})
	stop := func() {
		closeOnce.Do(func() {
			unlisten()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
	return ch, stop
}

func (b *Bridge) notify(a Announcement) {
	b.mu.Lock()
	snapshot := append([]listener(nil), b.listeners...)
	b.mu.Unlock()
	for _, l := range snapshot {
		l.fn(a)
	}
}
