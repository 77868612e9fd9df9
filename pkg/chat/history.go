package chat

import "github.com/aurelia-ai/aurelia/pkg/protocol"

// History projects a session's messages into role/content turns for the
// backend. limit bounds how many messages are included from the start of
// the list; pass len(Messages) for all. Edited turns are excluded by
// passing the edit position as the limit, so replaced turns never leak
// into the projection. Empty placeholders and error messages are skipped.
func History(sess Session, limit int) []protocol.HistoryTurn {
	if limit < 0 || limit > len(sess.Messages) {
		limit = len(sess.Messages)
	}
	turns := make([]protocol.HistoryTurn, 0, limit)
	for _, m := range sess.Messages[:limit] {
		if m.IsError {
			continue
		}
		if !m.FromUser && m.Text == "" {
			continue
		}
		turn := protocol.HistoryTurn{Content: m.Text}
		if m.FromUser {
			turn.Role = "user"
		} else {
			turn.Role = "assistant"
		}
		turn.Attachments = append(turn.Attachments, protocol.ImageAttachments(m.ImageRefs)...)
		turn.Attachments = append(turn.Attachments, protocol.FileAttachments(m.FileRefs)...)
		turns = append(turns, turn)
	}
	return turns
}
