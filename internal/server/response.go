package server

import (
	"time"

	"github.com/Veraticus/milo/internal/model"
)

type receiptResponse struct {
	CreatedAt   time.Time `json:"created_at"`
	UserID      string    `json:"user_id"`
	UserName    string    `json:"user_name"`
	MessageID   string    `json:"message_id"`
	Amount      string    `json:"amount"`
	Description string    `json:"description,omitempty"`
	ID          int64     `json:"id"`
	Position    int       `json:"position"`
}

type userTotalResponse struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Total    string `json:"total"`
	Count    int    `json:"count"`
}

type summaryResponse struct {
	CreatedAt    time.Time           `json:"created_at"`
	ChannelID    string              `json:"channel_id"`
	StartMarker  string              `json:"start_marker"`
	GrandTotal   string              `json:"grand_total"`
	Receipts     []receiptResponse   `json:"receipts"`
	Users        []userTotalResponse `json:"users"`
	CheckpointID int64               `json:"checkpoint_id"`
}

func toSummaryResponse(s model.Summary) summaryResponse {
	resp := summaryResponse{
		CheckpointID: s.Checkpoint.ID,
		ChannelID:    s.Checkpoint.ChannelID,
		StartMarker:  s.Checkpoint.StartMarker.String(),
		CreatedAt:    s.Checkpoint.CreatedAt,
		GrandTotal:   s.GrandTotal.String(),
		Receipts:     make([]receiptResponse, 0, len(s.Receipts)),
		Users:        make([]userTotalResponse, 0, len(s.Users)),
	}

	for i, r := range s.Receipts {
		resp.Receipts = append(resp.Receipts, receiptResponse{
			ID:          r.ID,
			Position:    i + 1,
			UserID:      r.UserID,
			UserName:    r.UserName,
			MessageID:   r.MessageID.String(),
			Amount:      r.Amount.String(),
			Description: r.Description,
			CreatedAt:   r.CreatedAt,
		})
	}
	for _, u := range s.Users {
		resp.Users = append(resp.Users, userTotalResponse{
			UserID:   u.UserID,
			UserName: u.UserName,
			Total:    u.Total.String(),
			Count:    u.Count,
		})
	}
	return resp
}
