package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fleetmsg/fleetmsg/internal/models"
	synccore "github.com/fleetmsg/fleetmsg/internal/sync"
	"github.com/fleetmsg/fleetmsg/internal/transport"
	"github.com/fleetmsg/fleetmsg/internal/view"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	unreadStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	badgeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	errorStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	senderStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75"))
	pendingStyle  = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("241"))
	borderStyle   = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, true, false, false).BorderForeground(lipgloss.Color("238"))
)

const (
	listWidth      = 38
	minDetailWidth = 30
)

func (m Model) visibleConversations() []models.Conversation {
	return view.FilterConversations(m.conversations, m.filter)
}

// View renders the directory pane and, when a session is open, the detail
// pane beside it.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.logoutReason != "" {
		return errorStyle.Render("Signed out: "+m.logoutReason) + "\n\n" +
			dimStyle.Render("Press any key to exit.") + "\n"
	}

	height := m.height - 2
	if height < 4 {
		height = 20
	}

	left := m.renderList(height)
	if !m.focusDetail {
		return left + "\n" + m.renderFooter()
	}

	detailWidth := m.width - listWidth - 3
	if detailWidth < minDetailWidth {
		detailWidth = minDetailWidth
	}
	right := m.renderDetail(detailWidth, height)
	body := lipgloss.JoinHorizontal(lipgloss.Top, borderStyle.Render(left), right)
	return body + "\n" + m.renderFooter()
}

func (m Model) renderList(height int) string {
	var b strings.Builder

	header := titleStyle.Render("Conversations")
	if total := m.core.Unread.TotalUnread(); total > 0 {
		header += " " + unreadStyle.Render(fmt.Sprintf("(%d unread)", total))
	}
	b.WriteString(header + "\n")

	if err := m.core.Directory.LastError(); err != nil {
		b.WriteString(warnStyle.Render("showing cached data: "+transport.Humanize(err)) + "\n")
	} else if m.core.Directory.Stale() {
		b.WriteString(warnStyle.Render("showing cached data") + "\n")
	}
	if m.filtering || m.filter != "" {
		b.WriteString(dimStyle.Render("/"+m.filter) + "\n")
	}

	visible := m.visibleConversations()
	if len(visible) == 0 {
		b.WriteString(dimStyle.Render("  no conversations") + "\n")
		return b.String()
	}

	summary := m.core.Unread.Summary()
	now := time.Now()
	for i, conv := range visible {
		if i >= height-3 {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  ... %d more", len(visible)-i)))
			break
		}
		b.WriteString(m.renderListRow(conv, summary, i == m.cursor, now) + "\n")
	}
	return b.String()
}

func (m Model) renderListRow(conv models.Conversation, summary models.UnreadSummary, selected bool, now time.Time) string {
	cursor := "  "
	if selected {
		cursor = "> "
	}

	marker := "  "
	if summary.Has(conv.Key()) {
		marker = unreadStyle.Render("● ")
	}

	title := view.Truncate(conv.Title, listWidth-14)
	if selected {
		title = selectedStyle.Render(title)
	}
	if conv.IsChannel() {
		title = badgeStyle.Render("#") + title
	}

	when := dimStyle.Render(view.RelativeTime(conv.UpdatedAt, now))
	return cursor + marker + title + " " + when
}

func (m Model) renderDetail(width, height int) string {
	var b strings.Builder
	snap := m.session

	header := titleStyle.Render(snap.Conversation.Title)
	if snap.Conversation.IsChannel() {
		header += " " + badgeStyle.Render("#channel") + dimStyle.Render(" read-only")
	}
	b.WriteString(header + "\n")
	b.WriteString(m.renderPhase(snap) + "\n\n")

	rows := height - 6
	if rows < 3 {
		rows = 3
	}
	b.WriteString(renderMessages(snap.Messages, m.scroll, rows, width))

	if m.composing {
		b.WriteString("\n" + senderStyle.Render("> ") + m.compose + "█")
	} else if !snap.Conversation.IsChannel() {
		b.WriteString("\n" + dimStyle.Render("press i to write"))
	}
	return b.String()
}

func (m Model) renderPhase(snap synccore.Snapshot) string {
	switch snap.Phase {
	case synccore.PhaseFastLoading:
		return dimStyle.Render("loading...")
	case synccore.PhaseFastLoaded, synccore.PhaseStreamAttaching:
		return dimStyle.Render("loading history...")
	case synccore.PhaseLive:
		return unreadStyle.Render("live")
	case synccore.PhaseErrored:
		return errorStyle.Render(snap.Err)
	}
	if snap.Err != "" {
		return warnStyle.Render(snap.Err)
	}
	return ""
}

// renderMessages shows the window of messages ending scroll lines above the
// newest one.
func renderMessages(messages []models.Message, scroll, rows, width int) string {
	if len(messages) == 0 {
		return dimStyle.Render("no messages yet") + "\n"
	}

	end := len(messages) - scroll
	if end < 1 {
		end = 1
	}
	start := end - rows
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	now := time.Now()
	for _, msg := range messages[start:end] {
		b.WriteString(renderMessage(msg, width, now) + "\n")
	}
	return b.String()
}

func renderMessage(msg models.Message, width int, now time.Time) string {
	sender := senderStyle.Render(view.Initials(msg.SenderRole))
	when := dimStyle.Render(view.RelativeTime(msg.CreatedAt, now))
	text := msg.Text
	if msg.Title != "" {
		text = msg.Title + ": " + text
	}
	text = view.Truncate(text, width-10)
	if msg.Pending {
		return sender + " " + pendingStyle.Render(text+" (sending)")
	}
	return sender + " " + text + " " + when
}

func (m Model) renderFooter() string {
	if m.focusDetail {
		return dimStyle.Render("j/k scroll · G bottom · i write · esc back · q quit")
	}
	return dimStyle.Render("j/k move · enter open · / filter · q quit")
}
