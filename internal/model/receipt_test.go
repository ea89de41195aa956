package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotalsByUser(t *testing.T) {
	receipts := []Receipt{
		{UserID: "u1", UserName: "Ana", Amount: decimal.NewFromInt(50000)},
		{UserID: "u2", UserName: "Budi", Amount: decimal.NewFromInt(125000)},
		{UserID: "u1", UserName: "Ana B", Amount: decimal.NewFromInt(30000)},
		{UserID: "u3", UserName: "Citra", Amount: decimal.NewFromInt(80000)},
	}

	totals := TotalsByUser(receipts)
	require.Len(t, totals, 3)

	assert.Equal(t, "u2", totals[0].UserID)
	assert.True(t, totals[0].Total.Equal(decimal.NewFromInt(125000)))

	assert.Equal(t, "u1", totals[1].UserID)
	assert.Equal(t, "Ana B", totals[1].UserName, "latest display name wins")
	assert.Equal(t, 2, totals[1].Count)
	assert.True(t, totals[1].Total.Equal(decimal.NewFromInt(80000)))

	assert.Equal(t, "u3", totals[2].UserID, "ties break on user id")
}

func TestTotalsByUser_Empty(t *testing.T) {
	assert.Empty(t, TotalsByUser(nil))
}

func TestAttachment_Ref(t *testing.T) {
	tests := []struct {
		name       string
		attachment Attachment
		want       string
	}{
		{
			name:       "prefers transport id",
			attachment: Attachment{ID: "42", URL: "https://cdn.example.com/a.png?ex=1"},
			want:       "42",
		},
		{
			name:       "strips signed query",
			attachment: Attachment{URL: "https://cdn.example.com/a.png?ex=1&hm=abc"},
			want:       "https://cdn.example.com/a.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.attachment.Ref())
		})
	}
}

func TestAttachment_IsImage(t *testing.T) {
	assert.True(t, Attachment{ContentType: "image/jpeg"}.IsImage())
	assert.False(t, Attachment{ContentType: "application/pdf", Filename: "x.png"}.IsImage())
	assert.True(t, Attachment{Filename: "STRUK.JPG"}.IsImage())
	assert.False(t, Attachment{Filename: "notes.txt"}.IsImage())
}

func TestAuthor_Name(t *testing.T) {
	assert.Equal(t, "Nick", Author{ID: "1", Username: "user", DisplayName: "Nick"}.Name())
	assert.Equal(t, "user", Author{ID: "1", Username: "user"}.Name())
	assert.Equal(t, "1", Author{ID: "1"}.Name())
}
