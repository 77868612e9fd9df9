package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistoryProjection(t *testing.T) {
	sess := Session{Messages: []Message{
		NewUserMessage("Hello", nil, nil),
		{LocalID: NewLocalID(), Text: "Hi there", Character: "aria"},
		NewUserMessage("How are you?", nil, nil),
		NewPlaceholder("aria"), // still streaming, skipped
	}}

	turns := History(sess, len(sess.Messages))
	assert.Len(t, turns, 3)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "Hello", turns[0].Content)
	assert.Equal(t, "assistant", turns[1].Role)
	assert.Equal(t, "Hi there", turns[1].Content)
	assert.Equal(t, "user", turns[2].Role)
}

func TestHistorySkipsErrorMessages(t *testing.T) {
	failed := NewPlaceholder("aria")
	failed.Text = "Error processing response"
	failed.IsError = true

	sess := Session{Messages: []Message{
		NewUserMessage("q", nil, nil),
		failed,
	}}

	turns := History(sess, len(sess.Messages))
	assert.Len(t, turns, 1)
	assert.Equal(t, "user", turns[0].Role)
}

func TestHistoryLimitExcludesEditedTail(t *testing.T) {
	sess := Session{Messages: []Message{
		NewUserMessage("one", nil, nil),
		{LocalID: NewLocalID(), Text: "a1", Character: "aria"},
		NewUserMessage("two", nil, nil),
		{LocalID: NewLocalID(), Text: "a2", Character: "aria"},
	}}

	// Editing the turn at position 2 projects only what precedes it.
	turns := History(sess, 2)
	assert.Len(t, turns, 2)
	assert.Equal(t, "one", turns[0].Content)
	assert.Equal(t, "a1", turns[1].Content)
}

func TestHistoryTagsAttachments(t *testing.T) {
	sess := Session{Messages: []Message{
		NewUserMessage("see", []string{"https://cdn/img.png"}, []string{"https://cdn/doc.pdf"}),
	}}

	turns := History(sess, -1)
	assert.Len(t, turns, 1)
	assert.Len(t, turns[0].Attachments, 2)
	assert.Equal(t, "image_url", turns[0].Attachments[0].Type)
	assert.Equal(t, "file_url", turns[0].Attachments[1].Type)
}
