package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyIsNamespacedByKind(t *testing.T) {
	direct := Conversation{ID: "42", Kind: KindThread}
	broadcast := Conversation{ID: "42", Kind: KindChannel}

	require.Equal(t, "thread:42", direct.Key())
	require.Equal(t, "channel:42", broadcast.Key())
	require.NotEqual(t, direct.Key(), broadcast.Key())
}

func TestIsChannel(t *testing.T) {
	require.True(t, Conversation{Kind: KindChannel}.IsChannel())
	require.False(t, Conversation{Kind: KindThread}.IsChannel())
}

func TestMergeOverlaysOnlySetFields(t *testing.T) {
	base := Conversation{
		ID:              "t1",
		Kind:            KindThread,
		Title:           "Carrier A",
		LastMessageText: "old news",
		LastMessageAt:   100,
		UpdatedAt:       100,
	}

	merged := base.Merge(Conversation{
		ID:              "t1",
		Kind:            KindThread,
		LastMessageText: "fresh news",
		LastMessageAt:   200,
		UpdatedAt:       200,
	})

	require.Equal(t, "Carrier A", merged.Title)
	require.Equal(t, "fresh news", merged.LastMessageText)
	require.Equal(t, int64(200), merged.LastMessageAt)
	require.Equal(t, int64(200), merged.UpdatedAt)

	// An empty delta changes nothing.
	require.Equal(t, merged, merged.Merge(Conversation{ID: "t1", Kind: KindThread}))
}

func TestUnreadSummaryClone(t *testing.T) {
	original := UnreadSummary{
		TotalUnread: 2,
		PerConversation: map[string]UnreadStatus{
			"thread:t1": {HasUnread: true},
		},
	}

	clone := original.Clone()
	clone.PerConversation["thread:t1"] = UnreadStatus{HasUnread: false}
	clone.PerConversation["thread:t2"] = UnreadStatus{HasUnread: true}

	require.True(t, original.Has("thread:t1"))
	require.False(t, original.Has("thread:t2"))
}

func TestUnreadSummaryHas(t *testing.T) {
	require.False(t, UnreadSummary{}.Has("thread:t1"))

	summary := UnreadSummary{PerConversation: map[string]UnreadStatus{
		"thread:t1": {HasUnread: true},
		"thread:t2": {HasUnread: false},
	}}
	require.True(t, summary.Has("thread:t1"))
	require.False(t, summary.Has("thread:t2"))
	require.False(t, summary.Has("thread:t3"))
}
