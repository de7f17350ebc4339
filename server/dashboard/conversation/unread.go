package conversation

import "chatdesk/server/dashboard/domain"

// UnreadCount counts the trailing run of inbound messages newer than
// lastViewed that no outbound message answers. msgs must be sorted ascending
// by resolved timestamp. System messages are neither inbound nor outbound.
func UnreadCount(msgs []domain.Message, lastViewed int64) int {
	count := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.IsSystem() || m.IsReaction() {
			continue
		}
		if m.IsOutbound {
			// everything older is answered
			break
		}
		if ResolveTimestamp(m) > lastViewed {
			count++
		}
	}
	return count
}
