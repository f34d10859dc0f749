package chattui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/agusx1211/parley/internal/chat"
	"github.com/agusx1211/parley/pkg/protocol"
)

// Stats is the optional usage-reporting surface of the backend client.
type Stats interface {
	SessionStats(ctx context.Context, sessionKey string) (*protocol.Usage, error)
}

// Model is the chat TUI: a session sidebar, the active session's transcript,
// and a composer. All conversation state lives in the engine; the model only
// reads snapshots and forwards actions.
type Model struct {
	engine *chat.Engine
	stats  Stats

	keys   []string
	active int

	input textarea.Model

	width  int
	height int

	scrollPos  int
	autoScroll bool

	spinnerTick int
	usage       *protocol.Usage
	connErr     error

	quitting bool
}

// New builds the model for the given sessions; the first one is active.
func New(engine *chat.Engine, stats Stats, sessionKeys []string) Model {
	input := textarea.New()
	input.Prompt = ""
	input.Placeholder = "Message the agent..."
	input.ShowLineNumbers = false
	input.SetHeight(3)
	input.Focus()

	return Model{
		engine:     engine,
		stats:      stats,
		keys:       sessionKeys,
		input:      input,
		autoScroll: true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m Model) activeKey() string {
	if len(m.keys) == 0 {
		return ""
	}
	if m.active < 0 || m.active >= len(m.keys) {
		return m.keys[0]
	}
	return m.keys[m.active]
}

func (m Model) activeRecord() *chat.SessionRecord {
	key := m.activeKey()
	if key == "" {
		return nil
	}
	rec, ok := m.engine.Snapshot(key)
	if !ok {
		return nil
	}
	return rec
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.SetWidth(m.transcriptWidth())
		if m.autoScroll {
			m.scrollPos = m.maxScroll()
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case SessionUpdatedMsg:
		if msg.Key == m.activeKey() && m.autoScroll {
			m.scrollPos = m.maxScroll()
		}
		return m, nil

	case StatsMsg:
		if msg.Key == m.activeKey() && msg.Err == nil {
			m.usage = msg.Usage
		}
		return m, nil

	case ConnLostMsg:
		m.connErr = msg.Err
		return m, nil

	case tickMsg:
		m.spinnerTick++
		return m, tickCmd()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := m.activeKey()

	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "enter":
		text := m.input.Value()
		if text == "" || key == "" {
			return m, nil
		}
		m.input.Reset()
		m.autoScroll = true
		go m.engine.Send(context.Background(), key, text)
		return m, nil

	case "esc":
		if key != "" {
			go m.engine.Abort(context.Background(), key)
		}
		return m, nil

	case "ctrl+r":
		if key != "" {
			go m.engine.Regenerate(context.Background(), key)
		}
		return m, nil

	case "ctrl+x":
		if key != "" {
			m.engine.ClearHistory(key)
			m.scrollPos = 0
			m.autoScroll = true
		}
		return m, nil

	case "ctrl+s":
		if key != "" && m.stats != nil {
			return m, m.fetchStats(key)
		}
		return m, nil

	case "tab":
		return m.switchSession(1), nil
	case "shift+tab":
		return m.switchSession(-1), nil

	case "pgup":
		m.scrollUp(m.transcriptHeight())
		return m, nil
	case "pgdown":
		m.scrollDown(m.transcriptHeight())
		return m, nil
	case "ctrl+u":
		m.scrollUp(3)
		return m, nil
	case "ctrl+d":
		m.scrollDown(3)
		return m, nil
	case "ctrl+g":
		m.scrollPos = m.maxScroll()
		m.autoScroll = true
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// switchSession moves the active session by delta, persisting and restoring
// scroll positions through the record's pass-through scroll state.
func (m Model) switchSession(delta int) Model {
	if len(m.keys) < 2 {
		return m
	}
	if key := m.activeKey(); key != "" {
		pos, bottom := m.scrollPos, m.autoScroll
		m.engine.Store().Update(key, func(r *chat.SessionRecord) {
			r.Scroll = chat.ScrollState{Offset: pos, AtBottom: bottom}
		})
	}

	m.active = (m.active + delta + len(m.keys)) % len(m.keys)
	m.usage = nil

	next := m.activeKey()
	if rec, ok := m.engine.Snapshot(next); ok && rec.HistoryLoaded {
		m.scrollPos = rec.Scroll.Offset
		m.autoScroll = rec.Scroll.AtBottom
		if m.autoScroll {
			m.scrollPos = m.maxScroll()
		}
	} else {
		m.scrollPos = 0
		m.autoScroll = true
		go m.engine.LoadHistory(context.Background(), next)
	}
	return m
}

func (m Model) fetchStats(key string) tea.Cmd {
	stats := m.stats
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		usage, err := stats.SessionStats(ctx, key)
		return StatsMsg{Key: key, Usage: usage, Err: err}
	}
}

// --- Scrolling ---

func (m *Model) scrollDown(n int) {
	ms := m.maxScroll()
	m.scrollPos += n
	if m.scrollPos > ms {
		m.scrollPos = ms
	}
	m.autoScroll = m.scrollPos >= ms
}

func (m *Model) scrollUp(n int) {
	m.scrollPos -= n
	if m.scrollPos < 0 {
		m.scrollPos = 0
	}
	m.autoScroll = false
}

func (m Model) maxScroll() int {
	total := len(m.transcriptLines())
	vh := m.transcriptHeight()
	if total <= vh {
		return 0
	}
	return total - vh
}
