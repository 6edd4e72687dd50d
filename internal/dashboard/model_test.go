package dashboard

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/victorarias/c0lor-mem/internal/protocol"
	"github.com/victorarias/c0lor-mem/internal/status"
	"github.com/victorarias/c0lor-mem/internal/stream"
)

type fakeStream struct {
	state     stream.State
	connected bool
	sent      []string
}

func (f *fakeStream) State() stream.State { return f.state }

func (f *fakeStream) SendCancel(id string) bool {
	if !f.connected {
		return false
	}
	f.sent = append(f.sent, id)
	return true
}

type fakeCanceller struct {
	ids []string
	err error
}

func (f *fakeCanceller) CancelBatch(_ context.Context, id string) (bool, error) {
	f.ids = append(f.ids, id)
	return f.err == nil, f.err
}

type fakeBackend struct {
	info protocol.BackendInfo
}

func (f fakeBackend) Info() (protocol.BackendInfo, error) {
	if f.info.IsZero() {
		return protocol.BackendInfo{}, protocol.ErrBackendNotReady
	}
	return f.info, nil
}

func (f fakeBackend) IsRunning() bool { return !f.info.IsZero() }

func batch(id string, completed int) status.Batch {
	return status.Batch{ProgressEvent: protocol.ProgressEvent{
		BatchID: id, Status: protocol.BatchRunning, Total: 10, Completed: completed,
	}}
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_Init(t *testing.T) {
	m := NewModel(Deps{})
	if m.cursor != 0 {
		t.Errorf("initial cursor = %d, want 0", m.cursor)
	}
	if !strings.Contains(m.View(), "No batches") {
		t.Errorf("empty view should say no batches:\n%s", m.View())
	}
}

func TestModel_MoveCursor(t *testing.T) {
	m := NewModel(Deps{})
	m.batches = []status.Batch{batch("1", 0), batch("2", 0), batch("3", 0)}

	m.moveCursor(1)
	m.moveCursor(1)
	m.moveCursor(1)
	if m.cursor != 2 {
		t.Errorf("cursor at bottom = %d, want 2", m.cursor)
	}
	m.moveCursor(-5)
	if m.cursor != 0 {
		t.Errorf("cursor at top = %d, want 0", m.cursor)
	}
}

func TestModel_RefreshSnapshot(t *testing.T) {
	tracker := status.NewTracker()
	tracker.Update(batch("b1", 3).ProgressEvent)
	m := NewModel(Deps{
		Backend: fakeBackend{info: protocol.BackendInfo{BaseURL: "http://127.0.0.1:18100", Token: "secret"}},
		Stream:  &fakeStream{state: stream.Connected},
		Tracker: tracker,
	})

	m.Update(m.refresh())

	if !m.ready || m.conn != stream.Connected {
		t.Errorf("ready=%v conn=%v", m.ready, m.conn)
	}
	view := m.View()
	for _, want := range []string{"http://127.0.0.1:18100", "connected", "b1 3/10", "1 running"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if strings.Contains(view, "secret") {
		t.Error("view must not show the token")
	}
}

func TestModel_CancelOverStream(t *testing.T) {
	fs := &fakeStream{state: stream.Connected, connected: true}
	fc := &fakeCanceller{}
	m := NewModel(Deps{Stream: fs, Canceller: fc})
	m.batches = []status.Batch{batch("b1", 1)}

	_, cmd := m.Update(key("c"))
	if cmd == nil {
		t.Fatal("expected cancel command")
	}
	m.Update(cmd())

	if len(fs.sent) != 1 || fs.sent[0] != "b1" {
		t.Errorf("stream cancels = %v", fs.sent)
	}
	if len(fc.ids) != 0 {
		t.Errorf("http fallback used: %v", fc.ids)
	}
	if !strings.Contains(m.notice, "cancel sent") {
		t.Errorf("notice = %q", m.notice)
	}
}

func TestModel_CancelFallsBackToHTTP(t *testing.T) {
	fs := &fakeStream{state: stream.Closed}
	fc := &fakeCanceller{}
	m := NewModel(Deps{Stream: fs, Canceller: fc})
	m.batches = []status.Batch{batch("b1", 1)}

	_, cmd := m.Update(key("c"))
	m.Update(cmd())

	if len(fc.ids) != 1 || fc.ids[0] != "b1" {
		t.Errorf("http cancels = %v", fc.ids)
	}
	if m.notice != "cancelled b1" {
		t.Errorf("notice = %q", m.notice)
	}
}

func TestModel_CancelError(t *testing.T) {
	fc := &fakeCanceller{err: errors.New("boom")}
	m := NewModel(Deps{Canceller: fc})
	m.batches = []status.Batch{batch("b1", 1)}

	_, cmd := m.Update(key("c"))
	m.Update(cmd())

	if m.err == nil || !strings.Contains(m.View(), "boom") {
		t.Errorf("error not shown:\n%s", m.View())
	}
}

func TestModel_CancelIgnoresFinishedBatch(t *testing.T) {
	m := NewModel(Deps{Canceller: &fakeCanceller{}})
	done := batch("b1", 10)
	done.Status = protocol.BatchCompleted
	m.batches = []status.Batch{done}

	if _, cmd := m.Update(key("c")); cmd != nil {
		t.Error("finished batch should not be cancellable")
	}
}

func TestModel_ReloadCallsBridge(t *testing.T) {
	reloads := 0
	m := NewModel(Deps{Reload: func() { reloads++ }})

	_, cmd := m.Update(key("r"))
	if reloads != 1 {
		t.Errorf("reloads = %d, want 1", reloads)
	}
	if cmd == nil {
		t.Error("reload should trigger a refresh")
	}
}

func TestProgressBar(t *testing.T) {
	bar := progressBar(protocol.ProgressEvent{Total: 4, Completed: 1, Failed: 1})
	if got := strings.Count(bar, "█"); got != barWidth/2 {
		t.Errorf("filled = %d, want %d", got, barWidth/2)
	}
	if bar := progressBar(protocol.ProgressEvent{}); strings.Contains(bar, "█") {
		t.Errorf("empty batch bar = %q", bar)
	}
}
