package testutil

import (
	"time"

	"github.com/Veraticus/milo/internal/model"
)

// MessageBuilder assembles chat messages for tests.
type MessageBuilder struct {
	msg model.Message
}

// NewMessage starts a message with marker Marker(n) in channelID, sent by
// the default human author.
func NewMessage(channelID string, n int64) *MessageBuilder {
	return &MessageBuilder{msg: model.Message{
		ID:        Marker(n),
		ChannelID: channelID,
		Timestamp: time.Date(2024, 6, 1, 12, 0, int(n%60), 0, time.UTC),
		Author:    model.Author{ID: "user-1", Username: "alice", DisplayName: "Alice"},
	}}
}

// From sets the author.
func (b *MessageBuilder) From(userID, name string) *MessageBuilder {
	b.msg.Author = model.Author{ID: userID, Username: name}
	return b
}

// FromBot marks the author as a bot.
func (b *MessageBuilder) FromBot() *MessageBuilder {
	b.msg.Author.Bot = true
	return b
}

// Text sets the message content.
func (b *MessageBuilder) Text(content string) *MessageBuilder {
	b.msg.Content = content
	return b
}

// Image attaches a PNG served from url.
func (b *MessageBuilder) Image(id, url string) *MessageBuilder {
	b.msg.Attachments = append(b.msg.Attachments, model.Attachment{
		ID:          id,
		URL:         url,
		Filename:    id + ".png",
		ContentType: "image/png",
	})
	return b
}

// File attaches a non-image document.
func (b *MessageBuilder) File(id, url string) *MessageBuilder {
	b.msg.Attachments = append(b.msg.Attachments, model.Attachment{
		ID:          id,
		URL:         url,
		Filename:    id + ".pdf",
		ContentType: "application/pdf",
	})
	return b
}

// Build returns the message.
func (b *MessageBuilder) Build() model.Message {
	return b.msg
}
