package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Receipt is a single recorded expense inside a checkpoint.
//
// A receipt is identified by (CheckpointID, MessageID, AttachmentRef). Receipts
// derived from a text message carry an empty AttachmentRef.
type Receipt struct {
	CreatedAt     time.Time
	Amount        decimal.Decimal
	UserID        string
	UserName      string
	ChannelID     string
	MessageID     Marker
	AttachmentRef string
	Description   string
	ID            int64
	CheckpointID  int64
}

// FromText reports whether the receipt was recorded from a text message.
func (r Receipt) FromText() bool {
	return r.AttachmentRef == ""
}

// UserTotal aggregates one user's receipts inside a checkpoint.
type UserTotal struct {
	Total    decimal.Decimal
	UserID   string
	UserName string
	Count    int
}

// TotalsByUser aggregates receipts per user. Receipts must be in creation
// order so the most recent display name wins. The result is ordered by total
// descending, then user id.
func TotalsByUser(receipts []Receipt) []UserTotal {
	index := make(map[string]int)
	var totals []UserTotal
	for _, r := range receipts {
		i, ok := index[r.UserID]
		if !ok {
			index[r.UserID] = len(totals)
			totals = append(totals, UserTotal{UserID: r.UserID, Total: decimal.Zero})
			i = len(totals) - 1
		}
		totals[i].Total = totals[i].Total.Add(r.Amount)
		totals[i].Count++
		if r.UserName != "" {
			totals[i].UserName = r.UserName
		}
	}
	sort.SliceStable(totals, func(a, b int) bool {
		if c := totals[a].Total.Cmp(totals[b].Total); c != 0 {
			return c > 0
		}
		return totals[a].UserID < totals[b].UserID
	})
	return totals
}

// Summary is the read model of a checkpoint.
type Summary struct {
	GrandTotal decimal.Decimal
	Receipts   []Receipt
	Users      []UserTotal
	Checkpoint Checkpoint
}

// Empty reports whether the checkpoint holds no receipts.
func (s Summary) Empty() bool {
	return len(s.Receipts) == 0
}
