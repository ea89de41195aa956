package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// StateTag names a conversation state for persistence.
type StateTag string

const (
	// StateIdle means no exchange is in progress.
	StateIdle StateTag = "idle"
	// StateAwaitingDescription means an amount was given without an item.
	StateAwaitingDescription StateTag = "awaiting-description"
)

// ConversationState is the per-user position in a text exchange.
type ConversationState interface {
	Tag() StateTag
	conversationState()
}

// Idle is the resting state.
type Idle struct{}

// Tag implements ConversationState.
func (Idle) Tag() StateTag { return StateIdle }

func (Idle) conversationState() {}

// AwaitingDescription holds an amount until the user names what it was for.
type AwaitingDescription struct {
	Amount decimal.Decimal
}

// Tag implements ConversationState.
func (AwaitingDescription) Tag() StateTag { return StateAwaitingDescription }

func (AwaitingDescription) conversationState() {}

// Conversation binds a state to a user in a channel. LastMarker is the
// newest text message from the user whose handling has been committed.
type Conversation struct {
	UpdatedAt  time.Time
	State      ConversationState
	UserID     string
	ChannelID  string
	LastMarker Marker
}

// Handled reports whether msg is at or behind the last committed message.
func (c Conversation) Handled(msg Marker) bool {
	return !c.LastMarker.IsZero() && !msg.After(c.LastMarker)
}
