// Package sync implements the real-time messaging synchronization core: the
// conversation directory, the unread tracker, and the per-conversation
// session controller.
package sync

import (
	"sort"

	"github.com/fleetmsg/fleetmsg/internal/models"
)

// Merge combines two message collections into one deduplicated set ordered
// ascending by created_at. Every mutation of a session's message collection
// goes through here: the fast page, the background fill, and push appends.
//
// Messages are immutable, so a duplicate id is content-identical and the
// later arrival simply wins. Ties on created_at keep first-insertion order,
// which makes the output deterministic for a given input order without
// trusting the transport's timestamps to be strictly monotonic.
func Merge(primary, secondary []models.Message) []models.Message {
	if len(primary) == 0 && len(secondary) == 0 {
		return nil
	}

	index := make(map[string]int, len(primary)+len(secondary))
	merged := make([]models.Message, 0, len(primary)+len(secondary))

	insert := func(msg models.Message) {
		if at, ok := index[msg.ID]; ok {
			merged[at] = msg
			return
		}
		index[msg.ID] = len(merged)
		merged = append(merged, msg)
	}

	for _, msg := range primary {
		insert(msg)
	}
	for _, msg := range secondary {
		insert(msg)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt < merged[j].CreatedAt
	})
	return merged
}

// lastTimestamp returns the newest created_at in an ascending collection.
func lastTimestamp(messages []models.Message) int64 {
	if len(messages) == 0 {
		return 0
	}
	return messages[len(messages)-1].CreatedAt
}

// dropPending removes the optimistic local message with the given id, used
// when the server echo for a send arrives.
func dropPending(messages []models.Message, localID string) []models.Message {
	for i := range messages {
		if messages[i].ID == localID && messages[i].Pending {
			return append(messages[:i:i], messages[i+1:]...)
		}
	}
	return messages
}
