package models

// Message is a single entry in a conversation. Messages are immutable once
// observed; the client only ever appends to its local view.
type Message struct {
	// ID is unique within a conversation. The transport does not guarantee
	// any ordering relationship between ids and timestamps.
	ID string `json:"id"`

	ConversationID string `json:"conversation_id"`

	// Title is set on broadcast announcements, empty on thread messages.
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`

	// SenderRole identifies the authoring side ("admin", "driver", "carrier").
	SenderRole string `json:"sender_role"`

	// CreatedAt is unix seconds. Not guaranteed non-decreasing per
	// conversation under clock skew or re-delivery; consumers sort.
	CreatedAt int64 `json:"created_at"`

	// Pending marks a locally appended optimistic message that has not been
	// echoed by the server yet. Never set on wire messages.
	Pending bool `json:"-"`
}
