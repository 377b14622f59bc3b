package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageIsCommand(t *testing.T) {
	t.Parallel()

	assert.True(t, Message{Text: "/start"}.IsCommand())
	assert.True(t, Message{Text: "  /viral growth"}.IsCommand())
	assert.False(t, Message{Text: "hello /start"}.IsCommand())
	assert.False(t, Message{Text: ""}.IsCommand())
}

func TestContentIsEmpty(t *testing.T) {
	t.Parallel()

	assert.True(t, Text("  ").IsEmpty())
	assert.False(t, HTML("<b>hi</b>").IsEmpty())
	assert.False(t, Content{Attachments: []Attachment{{Type: AttachmentVideo, URL: "https://x"}}}.IsEmpty())
}
