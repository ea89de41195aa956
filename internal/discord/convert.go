package discord

import (
	"github.com/Veraticus/milo/internal/model"
)

// ToModel converts a wire message to the domain message.
func (m Message) ToModel() model.Message {
	msg := model.Message{
		ID:        model.Marker(m.ID),
		ChannelID: m.ChannelID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		Author: model.Author{
			ID:          m.Author.ID,
			Username:    m.Author.Username,
			DisplayName: displayName(m.Author, m.Member),
			Bot:         m.Author.Bot,
		},
	}

	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, model.Attachment{
			ID:          a.ID,
			URL:         a.URL,
			Filename:    a.Filename,
			ContentType: a.ContentType,
		})
	}
	return msg
}

// displayName prefers the guild nickname, then the global display name.
func displayName(u User, member *Member) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	return u.GlobalName
}

func toModels(messages []Message) []model.Message {
	out := make([]model.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ToModel())
	}
	return out
}
