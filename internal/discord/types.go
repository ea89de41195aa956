// Package discord is the chat transport: a REST client for history and
// replies, and a gateway connection for live events.
package discord

import (
	"encoding/json"
	"strconv"
	"time"
)

// User is a Discord account.
type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name,omitempty"`
	Bot        bool   `json:"bot,omitempty"`
}

// Member is a user's guild membership.
type Member struct {
	User *User  `json:"user,omitempty"`
	Nick string `json:"nick,omitempty"`
}

// Attachment is a file attached to a message.
type Attachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Size        int    `json:"size"`
}

// Message is a channel message as Discord sends it.
type Message struct {
	Timestamp   time.Time    `json:"timestamp"`
	Member      *Member      `json:"member,omitempty"`
	Author      User         `json:"author"`
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	GuildID     string       `json:"guild_id,omitempty"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
}

// Interaction types.
const (
	InteractionPing               = 1
	InteractionApplicationCommand = 2
)

// Command option types.
const (
	OptionInteger = 4
)

// Interaction is a slash command invocation.
type Interaction struct {
	Data          *InteractionData `json:"data,omitempty"`
	Member        *Member          `json:"member,omitempty"`
	User          *User            `json:"user,omitempty"`
	ID            string           `json:"id"`
	ApplicationID string           `json:"application_id"`
	ChannelID     string           `json:"channel_id"`
	Token         string           `json:"token"`
	Type          int              `json:"type"`
}

// InteractionData carries the invoked command.
type InteractionData struct {
	Name    string              `json:"name"`
	Options []InteractionOption `json:"options,omitempty"`
}

// InteractionOption is one argument of a slash command.
type InteractionOption struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
	Type  int             `json:"type"`
}

// Invoker returns the user who triggered the interaction.
func (i Interaction) Invoker() User {
	if i.Member != nil && i.Member.User != nil {
		return *i.Member.User
	}
	if i.User != nil {
		return *i.User
	}
	return User{}
}

// CommandName returns the invoked command, or "" for non-command interactions.
func (i Interaction) CommandName() string {
	if i.Data == nil {
		return ""
	}
	return i.Data.Name
}

// IntOption returns the named integer option.
func (i Interaction) IntOption(name string) (int, bool) {
	if i.Data == nil {
		return 0, false
	}
	for _, opt := range i.Data.Options {
		if opt.Name != name {
			continue
		}
		var n json.Number
		if err := json.Unmarshal(opt.Value, &n); err != nil {
			var s string
			if err := json.Unmarshal(opt.Value, &s); err != nil {
				return 0, false
			}
			n = json.Number(s)
		}
		v, err := strconv.Atoi(n.String())
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// Ready is the payload of the READY dispatch.
type Ready struct {
	User      User   `json:"user"`
	SessionID string `json:"session_id"`
}

// Command is a slash command definition.
type Command struct {
	ID          string          `json:"id,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Options     []CommandOption `json:"options,omitempty"`
	Type        int             `json:"type"`
}

// CommandOption is a slash command argument definition.
type CommandOption struct {
	MinValue    *int   `json:"min_value,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        int    `json:"type"`
	Required    bool   `json:"required"`
}

// MessageReference points a reply at an existing message.
type MessageReference struct {
	MessageID       string `json:"message_id"`
	ChannelID       string `json:"channel_id,omitempty"`
	FailIfNotExists bool   `json:"fail_if_not_exists"`
}

type allowedMentions struct {
	Parse       []string `json:"parse"`
	RepliedUser bool     `json:"replied_user"`
}

type outgoingMessage struct {
	MessageReference *MessageReference `json:"message_reference,omitempty"`
	AllowedMentions  *allowedMentions  `json:"allowed_mentions,omitempty"`
	Content          string            `json:"content"`
}

type interactionResponse struct {
	Data *interactionCallbackData `json:"data,omitempty"`
	Type int                      `json:"type"`
}

type interactionCallbackData struct {
	Content string `json:"content"`
	Flags   int    `json:"flags,omitempty"`
}

// ephemeralFlag hides an interaction response from everyone but the invoker.
const ephemeralFlag = 1 << 6

// DefaultCommands are the slash commands milo registers.
func DefaultCommands() []Command {
	one := 1
	return []Command{
		{Name: "start", Description: "Start a checkpoint to collect receipts", Type: 1},
		{Name: "end", Description: "Close the active checkpoint and show the totals", Type: 1},
		{Name: "status", Description: "Show the running totals of the active checkpoint", Type: 1},
		{Name: "undo", Description: "Delete the latest checkpoint if it has no receipts", Type: 1},
		{
			Name:        "delete",
			Description: "Delete a receipt from the active checkpoint",
			Type:        1,
			Options: []CommandOption{{
				Type:        OptionInteger,
				Name:        "position",
				Description: "Receipt number as shown by /status",
				Required:    true,
				MinValue:    &one,
			}},
		},
	}
}
