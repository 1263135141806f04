package models

// UnreadStatus is the per-conversation slice of the unread summary.
type UnreadStatus struct {
	HasUnread     bool  `json:"has_unread"`
	LastMessageAt int64 `json:"last_message_at"`
}

// UnreadSummary is owned by the server; the client treats it as a cache that
// is re-fetched wholesale, never patched additively.
type UnreadSummary struct {
	TotalUnread int `json:"total_unread"`

	// PerConversation is keyed by the namespaced conversation key.
	PerConversation map[string]UnreadStatus `json:"per_conversation"`
}

// Clone returns a deep copy safe to hand across goroutines.
func (s UnreadSummary) Clone() UnreadSummary {
	out := UnreadSummary{TotalUnread: s.TotalUnread}
	if s.PerConversation != nil {
		out.PerConversation = make(map[string]UnreadStatus, len(s.PerConversation))
		for k, v := range s.PerConversation {
			out.PerConversation[k] = v
		}
	}
	return out
}

// Has reports whether the conversation with the given key has unread messages.
func (s UnreadSummary) Has(key string) bool {
	if s.PerConversation == nil {
		return false
	}
	return s.PerConversation[key].HasUnread
}
