package conversation

import (
	"sort"
	"unicode/utf8"

	commonlog "chatdesk/server/common/log"
	"chatdesk/server/dashboard/domain"
)

// FoldReactions removes reaction pseudo-messages from msgs and attaches their
// counts to the messages they target. Every returned message carries a
// non-nil Reactions slice. The input slice is not modified.
func FoldReactions(msgs []domain.Message) []domain.Message {
	counts := map[string]map[string]int{}
	visible := make([]domain.Message, 0, len(msgs))

	for _, m := range msgs {
		if !m.IsReaction() {
			visible = append(visible, m)
			continue
		}
		target, emoji, ok := reactionKey(m)
		if !ok {
			commonlog.Warnf("event=reaction_fold status=dropped message_id=%s idmessage=%s reason=missing_target_or_emoji", m.ID, m.IDMessage)
			continue
		}
		byEmoji, exists := counts[target]
		if !exists {
			byEmoji = map[string]int{}
			counts[target] = byEmoji
		}
		byEmoji[emoji]++
	}

	for i := range visible {
		visible[i].Reactions = reactionsFor(visible[i], counts)
	}
	return visible
}

// reactionKey resolves (target, emoji) for a reaction row. Source rows
// sometimes carry the emoji in reaction_target_id and the target in message.
func reactionKey(m domain.Message) (string, string, bool) {
	target, emoji := m.ReactionTargetID, m.Body
	if looksLikeEmoji(target) && !looksLikeEmoji(emoji) {
		target, emoji = emoji, target
	}
	if emoji == "" && looksLikeEmoji(m.Caption) {
		emoji = m.Caption
	}
	if target == "" {
		target = m.IDMessage
	}
	if target == "" || emoji == "" {
		return "", "", false
	}
	return target, emoji, true
}

// looksLikeEmoji: at most six characters, at least one of them outside
// [A-Za-z0-9].
func looksLikeEmoji(s string) bool {
	if s == "" || utf8.RuneCountInString(s) > 6 {
		return false
	}
	for _, r := range s {
		if !isASCIIAlnum(r) {
			return true
		}
	}
	return false
}

func isASCIIAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// reactionsFor matches by idmessage, then by message text (legacy rows
// correlate on it), then by id.
func reactionsFor(m domain.Message, counts map[string]map[string]int) []domain.Reaction {
	var byEmoji map[string]int
	for _, key := range []string{m.IDMessage, m.Body, m.ID} {
		if key == "" {
			continue
		}
		if found, ok := counts[key]; ok {
			byEmoji = found
			break
		}
	}
	out := make([]domain.Reaction, 0, len(byEmoji))
	for emoji, n := range byEmoji {
		out = append(out, domain.Reaction{Emoji: emoji, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Emoji < out[j].Emoji
	})
	return out
}
