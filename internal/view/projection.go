// Package view derives stateless display projections from the sync core's
// data: list filtering, avatar initials, and timestamp formatting.
package view

import (
	"fmt"
	"strings"
	"time"

	"github.com/fleetmsg/fleetmsg/internal/models"
)

// FilterConversations returns the conversations whose title or last message
// text contains the query, case-insensitive. An empty query returns the input
// unchanged. Input order is preserved.
func FilterConversations(conversations []models.Conversation, query string) []models.Conversation {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return conversations
	}
	filtered := make([]models.Conversation, 0, len(conversations))
	for _, conv := range conversations {
		if strings.Contains(strings.ToLower(conv.Title), query) ||
			strings.Contains(strings.ToLower(conv.LastMessageText), query) {
			filtered = append(filtered, conv)
		}
	}
	return filtered
}

// Initials derives an avatar label from the first letter of up to the first
// two whitespace-separated tokens of a display name.
func Initials(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "?"
	}
	initials := string([]rune(fields[0])[0])
	if len(fields) > 1 {
		initials += string([]rune(fields[1])[0])
	}
	return strings.ToUpper(initials)
}

// RelativeTime formats a unix-seconds timestamp relative to now.
func RelativeTime(unixSec int64, now time.Time) string {
	if unixSec <= 0 {
		return "unknown"
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	delta := now.Sub(time.Unix(unixSec, 0))
	if delta < 0 {
		delta = -delta
	}
	switch {
	case delta < time.Minute:
		return fmt.Sprintf("%ds ago", int(delta.Seconds()))
	case delta < time.Hour:
		return fmt.Sprintf("%dm ago", int(delta.Minutes()))
	case delta < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(delta.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(delta.Hours()/24))
	}
}

// AbsoluteTime formats a unix-seconds timestamp for detail display.
func AbsoluteTime(unixSec int64) string {
	if unixSec <= 0 {
		return "unknown"
	}
	return time.Unix(unixSec, 0).UTC().Format("Jan 2 15:04")
}

// Truncate shortens s to at most max runes, appending an ellipsis when it
// had to cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}
