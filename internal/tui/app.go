// Package tui is the terminal front end over the messaging sync core. It
// renders the conversation directory and the open session; all state lives in
// the core, the TUI only projects it.
package tui

import (
	"context"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/google/uuid"

	"github.com/fleetmsg/fleetmsg/internal/models"
	synccore "github.com/fleetmsg/fleetmsg/internal/sync"
)

const defaultRefreshInterval = 500 * time.Millisecond

type refreshTickMsg struct{}

func refreshTickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(time.Time) tea.Msg { return refreshTickMsg{} })
}

// signals carries bus notifications across the bubbletea value-copy boundary.
type signals struct {
	mu           sync.Mutex
	logoutReason string
}

func (s *signals) setLogout(reason string) {
	s.mu.Lock()
	s.logoutReason = reason
	s.mu.Unlock()
}

func (s *signals) logout() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logoutReason
}

// Model is the bubbletea model for the messaging client.
type Model struct {
	core     *synccore.Core
	refresh  time.Duration
	signals  *signals
	busSubID string

	width  int
	height int

	conversations []models.Conversation
	cursor        int

	filter    string
	filtering bool

	focusDetail bool
	session     synccore.Snapshot

	// scroll is the line offset above the newest message; 0 means pinned to
	// the bottom.
	scroll int

	composing bool
	compose   string

	logoutReason string
	quitting     bool
}

// New creates the TUI model and attaches it to the core's event bus for the
// forced-logout signal.
func New(core *synccore.Core, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = defaultRefreshInterval
	}
	sig := &signals{}
	subID := "tui:" + uuid.NewString()
	_ = core.Bus.Subscribe(subID, synccore.Filter{
		Types: []synccore.EventType{synccore.EventForcedLogout},
	}, func(evt synccore.Event) {
		sig.setLogout(evt.Reason)
	})

	return Model{
		core:          core,
		refresh:       refresh,
		signals:       sig,
		busSubID:      subID,
		conversations: core.Directory.Conversations(),
	}
}

// Init starts the refresh tick.
func (m Model) Init() tea.Cmd {
	return refreshTickCmd(m.refresh)
}

// Update handles bubbletea messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case refreshTickMsg:
		m.conversations = m.core.Directory.Conversations()
		m.session = m.core.Session.Snapshot()
		if reason := m.signals.logout(); reason != "" {
			m.logoutReason = reason
		}
		m.clampCursor()
		return m, refreshTickCmd(m.refresh)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.logoutReason != "" {
		m.quitting = true
		return m, tea.Quit
	}

	if m.filtering {
		return m.handleFilterKey(msg)
	}
	if m.composing {
		return m.handleComposeKey(msg)
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		_ = m.core.Bus.Unsubscribe(m.busSubID)
		return m, tea.Quit

	case "/":
		if !m.focusDetail {
			m.filtering = true
		}
		return m, nil

	case "esc":
		if m.focusDetail {
			m.focusDetail = false
		} else {
			m.filter = ""
		}
		return m, nil

	case "up", "k":
		if m.focusDetail {
			m.scrollBy(1)
		} else if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case "down", "j":
		if m.focusDetail {
			m.scrollBy(-1)
		} else {
			m.cursor++
			m.clampCursor()
		}
		return m, nil

	case "G":
		if m.focusDetail {
			m.scroll = 0
			m.core.Session.SetAtBottom(true)
		}
		return m, nil

	case "i":
		if m.focusDetail && !m.session.Conversation.IsChannel() {
			m.composing = true
		}
		return m, nil

	case "enter":
		if !m.focusDetail {
			m.openSelected()
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleFilterKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.filtering = false
		m.filter = ""
	case "enter":
		m.filtering = false
	case "backspace":
		if len(m.filter) > 0 {
			m.filter = m.filter[:len(m.filter)-1]
		}
	default:
		if msg.Type == tea.KeyRunes {
			m.filter += string(msg.Runes)
		}
	}
	m.cursor = 0
	return m, nil
}

func (m Model) handleComposeKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.composing = false
		m.compose = ""
	case "enter":
		text := m.compose
		// Clear immediately; the send never blocks further input.
		m.compose = ""
		m.composing = false
		if text != "" {
			_ = m.core.Session.Send(context.Background(), text)
		}
	case "backspace":
		if len(m.compose) > 0 {
			m.compose = m.compose[:len(m.compose)-1]
		}
	default:
		if msg.Type == tea.KeyRunes || msg.Type == tea.KeySpace {
			m.compose += string(msg.Runes)
		}
	}
	return m, nil
}

func (m *Model) openSelected() {
	visible := m.visibleConversations()
	if m.cursor < 0 || m.cursor >= len(visible) {
		return
	}
	conv := visible[m.cursor]
	m.core.Session.Select(context.Background(), conv)
	m.session = m.core.Session.Snapshot()
	m.focusDetail = true
	m.scroll = 0
	m.core.Session.SetAtBottom(true)
}

// scrollBy moves the detail viewport. Position is reported to the session on
// every scroll event so merges know whether to stick to the bottom.
func (m *Model) scrollBy(up int) {
	m.scroll += up
	if m.scroll < 0 {
		m.scroll = 0
	}
	if max := len(m.session.Messages) - 1; m.scroll > max && max >= 0 {
		m.scroll = max
	}
	m.core.Session.SetAtBottom(m.scroll == 0)
}

func (m *Model) clampCursor() {
	visible := m.visibleConversations()
	if m.cursor >= len(visible) {
		m.cursor = len(visible) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}
