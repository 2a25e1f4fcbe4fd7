package connector

import "sort"

// SortAscending orders messages ascending by timestamp, in place. Platform
// APIs return history in whatever order they like (Telegram returns reverse
// chronological); the UI contract is chronological, so every fetch path
// normalizes through here.
func SortAscending(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp < msgs[j].Timestamp
	})
}

// MergeRecent merges per-chat message pages into a single slice ordered
// descending by timestamp and truncated to limit. Pages from failed per-chat
// fetches are simply absent; the merge never aborts on partial input.
func MergeRecent(pages [][]Message, limit int) []Message {
	var merged []Message
	for _, page := range pages {
		merged = append(merged, page...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp > merged[j].Timestamp
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
