// Package channel defines the messaging-platform collaborator: inbound
// messages, outbound content, and the pull-mode connection contract.
package channel

import (
	"strings"
	"time"
)

// Message is one inbound text message.
type Message struct {
	ID         string
	UserID     string
	Username   string
	ChatID     string
	ChatType   string
	Text       string
	ReceivedAt time.Time
}

// IsCommand reports whether the text starts with a command token.
func (m Message) IsCommand() bool {
	return strings.HasPrefix(strings.TrimSpace(m.Text), "/")
}

// Format selects how the platform renders content text.
type Format string

const (
	FormatPlain Format = "plain"
	FormatHTML  Format = "html"
)

// AttachmentType identifies media attached to outbound content.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentVideo AttachmentType = "video"
	AttachmentFile  AttachmentType = "file"
)

// Attachment references remote media by URL.
type Attachment struct {
	Type    AttachmentType
	URL     string
	Caption string
}

// Content is an outbound message.
type Content struct {
	Text        string
	Format      Format
	Attachments []Attachment
}

// Text builds plain content.
func Text(text string) Content {
	return Content{Text: text, Format: FormatPlain}
}

// HTML builds HTML-formatted content.
func HTML(text string) Content {
	return Content{Text: text, Format: FormatHTML}
}

// IsEmpty reports whether the content has nothing to send.
func (c Content) IsEmpty() bool {
	return strings.TrimSpace(c.Text) == "" && len(c.Attachments) == 0
}
