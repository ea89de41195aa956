package model

import "time"

// Checkpoint is a bounded accounting window. At most one checkpoint is open
// per scope at a time, and receipts attach to the open one.
type Checkpoint struct {
	CreatedAt   time.Time
	ClosedAt    *time.Time
	ChannelID   string
	StartMarker Marker
	EndMarker   Marker
	ID          int64
}

// IsOpen reports whether the checkpoint is still accepting receipts.
func (c Checkpoint) IsOpen() bool {
	return c.ClosedAt == nil
}

// ChannelCursor records the newest message observed in a channel. HeldAt is
// set when a message failed to reconcile; the cursor stays behind it until a
// catch-up gets past it.
type ChannelCursor struct {
	UpdatedAt  time.Time
	ChannelID  string
	LastMarker Marker
	HeldAt     Marker
}
