package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/victorarias/c0lor-mem/internal/protocol"
	"github.com/victorarias/c0lor-mem/internal/status"
	"github.com/victorarias/c0lor-mem/internal/stream"
)

const (
	refreshInterval = 500 * time.Millisecond
	cancelTimeout   = 5 * time.Second
	barWidth        = 20
	ruleWidth       = 60
)

var (
	runningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	titleStyle     = lipgloss.NewStyle().Bold(true)
)

// Backend reports whether the worker is up.
type Backend interface {
	Info() (protocol.BackendInfo, error)
	IsRunning() bool
}

// Stream is the progress connection as the dashboard sees it.
type Stream interface {
	State() stream.State
	SendCancel(batchID string) bool
}

// Canceller cancels a batch over HTTP when the stream is down.
type Canceller interface {
	CancelBatch(ctx context.Context, batchID string) (bool, error)
}

// Deps are the dashboard's collaborators. Any of them may be nil.
type Deps struct {
	Backend   Backend
	Stream    Stream
	Tracker   *status.Tracker
	Canceller Canceller
	// Reload re-announces the worker to the UI side.
	Reload func()
}

// Model is the bubbletea model for the dashboard
type Model struct {
	deps    Deps
	batches []status.Batch
	cursor  int
	ready   bool
	info    protocol.BackendInfo
	conn    stream.State
	notice  string
	err     error
}

// NewModel creates a new dashboard model
func NewModel(deps Deps) *Model {
	return &Model{deps: deps}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.refresh, TickCmd())
}

type snapshotMsg struct {
	batches []status.Batch
	ready   bool
	info    protocol.BackendInfo
	conn    stream.State
}

type noticeMsg struct {
	text string
}

type errMsg struct {
	err error
}

type tickMsg struct{}

// refresh reads the tracker and backend state. It never touches the network.
func (m *Model) refresh() tea.Msg {
	var msg snapshotMsg
	if m.deps.Tracker != nil {
		msg.batches = m.deps.Tracker.Batches()
	}
	if m.deps.Backend != nil && m.deps.Backend.IsRunning() {
		if info, err := m.deps.Backend.Info(); err == nil {
			msg.ready = true
			msg.info = info
		}
	}
	if m.deps.Stream != nil {
		msg.conn = m.deps.Stream.State()
	}
	return msg
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			m.moveCursor(-1)
		case "down", "j":
			m.moveCursor(1)
		case "c", "x":
			if b := m.SelectedBatch(); b != nil && !b.IsTerminal() {
				return m, m.cancelBatch(b.BatchID)
			}
		case "r":
			if m.deps.Reload != nil {
				m.deps.Reload()
				m.notice = "reloaded backend info"
			}
			return m, m.refresh
		}
	case snapshotMsg:
		m.batches = msg.batches
		m.ready = msg.ready
		m.info = msg.info
		m.conn = msg.conn
		if m.cursor >= len(m.batches) && len(m.batches) > 0 {
			m.cursor = len(m.batches) - 1
		}
	case noticeMsg:
		m.notice = msg.text
		m.err = nil
	case errMsg:
		m.err = msg.err
	case tickMsg:
		return m, tea.Batch(m.refresh, TickCmd())
	}
	return m, nil
}

func (m *Model) moveCursor(delta int) {
	m.cursor += delta
	if m.cursor < 0 {
		m.cursor = 0
	}
	if m.cursor >= len(m.batches) && len(m.batches) > 0 {
		m.cursor = len(m.batches) - 1
	}
}

// SelectedBatch returns the batch under the cursor.
func (m *Model) SelectedBatch() *status.Batch {
	if m.cursor >= 0 && m.cursor < len(m.batches) {
		return &m.batches[m.cursor]
	}
	return nil
}

// cancelBatch prefers the stream and falls back to HTTP when it is down.
func (m *Model) cancelBatch(batchID string) tea.Cmd {
	return func() tea.Msg {
		if m.deps.Stream != nil && m.deps.Stream.SendCancel(batchID) {
			return noticeMsg{text: "cancel sent for " + batchID}
		}
		if m.deps.Canceller == nil {
			return errMsg{err: fmt.Errorf("cancel %s: stream not connected", batchID)}
		}
		ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
		defer cancel()
		cancelled, err := m.deps.Canceller.CancelBatch(ctx, batchID)
		if err != nil {
			return errMsg{err: err}
		}
		if !cancelled {
			return noticeMsg{text: batchID + " was not running"}
		}
		return noticeMsg{text: "cancelled " + batchID}
	}
}

// View renders the dashboard
func (m *Model) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("c0lor-mem") + "\n")
	if m.ready {
		fmt.Fprintf(&s, "Backend: %s  %s\n", completedStyle.Render("● ready"), m.info.BaseURL)
	} else {
		fmt.Fprintf(&s, "Backend: %s\n", mutedStyle.Render("◌ not ready"))
	}
	fmt.Fprintf(&s, "Stream:  %s\n", m.conn)
	s.WriteString(strings.Repeat("─", ruleWidth) + "\n")

	if len(m.batches) == 0 {
		s.WriteString("No batches\n")
	}
	for i, b := range m.batches {
		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}
		fmt.Fprintf(&s, "%s%s %s %s\n", cursor, indicator(b.Status), progressBar(b.ProgressEvent), status.Label(b.ProgressEvent))
	}

	s.WriteString(strings.Repeat("─", ruleWidth) + "\n")
	s.WriteString(status.Format(m.batches) + "\n")
	if m.err != nil {
		s.WriteString(failedStyle.Render("Error: "+m.err.Error()) + "\n")
	} else if m.notice != "" {
		s.WriteString(mutedStyle.Render(m.notice) + "\n")
	}
	s.WriteString("[c] Cancel   [r] Reload   [q] Quit\n")
	return s.String()
}

func indicator(batchStatus string) string {
	switch batchStatus {
	case protocol.BatchCompleted:
		return completedStyle.Render("✓")
	case protocol.BatchFailed:
		return failedStyle.Render("✗")
	case protocol.BatchCancelled:
		return mutedStyle.Render("◌")
	default:
		return runningStyle.Render("●")
	}
}

func progressBar(evt protocol.ProgressEvent) string {
	filled := 0
	if evt.Total > 0 {
		filled = evt.Done() * barWidth / evt.Total
	}
	if filled > barWidth {
		filled = barWidth
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("·", barWidth-filled) + "]"
}

// TickCmd returns a command that ticks for auto-refresh
func TickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}
