package bridge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/victorarias/c0lor-mem/internal/protocol"
)

func TestBridge_AnnounceAndWithdraw(t *testing.T) {
	b := New()
	_, err := b.Info()
	require.True(t, errors.Is(err, protocol.ErrBackendNotReady))

	var got []Announcement
	stop := b.Listen(func(a Announcement) { got = append(got, a) })
	defer stop()

	info := protocol.BackendInfo{BaseURL: "http://127.0.0.1:18100", Token: "tok"}
	b.Announce(info)

	current, ok := b.Current()
	require.True(t, ok)
	require.Equal(t, info, current)

	b.Withdraw()
	b.Withdraw() // second withdraw is silent

	_, ok = b.Current()
	require.False(t, ok)
	require.Equal(t, []Announcement{{Info: info, Ready: true}, {}}, got)
}

func TestBridge_ReloadRedelivers(t *testing.T) {
	b := New()
	info := protocol.BackendInfo{BaseURL: "http://127.0.0.1:18101", Token: "tok"}
	b.Announce(info)

	var got []Announcement
	b.Listen(func(a Announcement) { got = append(got, a) })

	b.Reload()
	b.Reload()
	require.Equal(t, []Announcement{{Info: info, Ready: true}, {Info: info, Ready: true}}, got)
}

func TestBridge_ListenOrderAndUnsubscribe(t *testing.T) {
	b := New()
	var order []string
	stopA := b.Listen(func(Announcement) { order = append(order, "a") })
	b.Listen(func(Announcement) { order = append(order, "b") })

	b.Reload()
	stopA()
	stopA()
	b.Reload()

	require.Equal(t, []string{"a", "b", "b"}, order)
}

func TestBridge_Updates(t *testing.T) {
	b := New()
	ch, stop := b.Updates()

	b.Announce(protocol.BackendInfo{BaseURL: "http://127.0.0.1:1", Token: "a"})
	b.Announce(protocol.BackendInfo{BaseURL: "http://127.0.0.1:2", Token: "b"})

	// Only the latest undelivered announcement is kept.
	a := <-ch
	require.True(t, a.Ready)
	require.Equal(t, "b", a.Info.Token)

	stop()
	stop()
	_, open := <-ch
	require.False(t, open)

	b.Withdraw() // no panic after stop
}

func TestDefault_IsSingleton(t *testing.T) {
	require.Same(t, Default(), Default())
}
