// Package models defines the messaging domain types shared across fleetmsg.
package models

import "strings"

// Kind distinguishes the two conversation variants.
type Kind string

const (
	// KindThread is a two-party direct thread (carrier/driver/admin).
	KindThread Kind = "thread"

	// KindChannel is a one-way broadcast channel scoped to an audience.
	KindChannel Kind = "channel"
)

// Conversation is the addressable unit of messaging. Thread and channel ids
// live in separate server-side namespaces, so identity is always the
// kind-qualified Key, never the bare ID.
type Conversation struct {
	ID    string `json:"id"`
	Kind  Kind   `json:"kind"`
	Title string `json:"title"`

	// Audience is set for channels only (e.g. "all", "driver").
	Audience string `json:"audience,omitempty"`

	LastMessageTitle string `json:"last_message_title,omitempty"`
	LastMessageText  string `json:"last_message_text,omitempty"`
	LastMessageAt    int64  `json:"last_message_at"`

	// UpdatedAt orders the directory listing (descending).
	UpdatedAt int64 `json:"updated_at"`
}

// Key returns the namespaced identity. A thread and a channel with colliding
// ids must never merge, so every map in the client is keyed by this.
func (c Conversation) Key() string {
	return string(c.Kind) + ":" + c.ID
}

// IsChannel reports whether the conversation is a broadcast channel.
func (c Conversation) IsChannel() bool {
	return c.Kind == KindChannel
}

// Merge overlays the non-zero fields of a partial delta onto c. Directory
// stream deltas may carry only the fields that changed.
func (c Conversation) Merge(delta Conversation) Conversation {
	out := c
	if strings.TrimSpace(delta.Title) != "" {
		out.Title = delta.Title
	}
	if strings.TrimSpace(delta.Audience) != "" {
		out.Audience = delta.Audience
	}
	if delta.LastMessageTitle != "" {
		out.LastMessageTitle = delta.LastMessageTitle
	}
	if delta.LastMessageText != "" {
		out.LastMessageText = delta.LastMessageText
	}
	if delta.LastMessageAt > 0 {
		out.LastMessageAt = delta.LastMessageAt
	}
	if delta.UpdatedAt > 0 {
		out.UpdatedAt = delta.UpdatedAt
	}
	return out
}
