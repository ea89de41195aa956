package storage

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/milo/internal/model"
)

func TestConversationLifecycle(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	conv, err := store.GetConversation(ctx, "u1", testChannel)
	require.NoError(t, err)
	assert.Equal(t, model.StateIdle, conv.State.Tag())
	assert.True(t, conv.LastMarker.IsZero())

	err = store.SetConversation(ctx, model.Conversation{
		UserID:     "u1",
		ChannelID:  testChannel,
		State:      model.AwaitingDescription{Amount: decimal.NewFromInt(45000)},
		LastMarker: marker(3),
	})
	require.NoError(t, err)

	conv, err = store.GetConversation(ctx, "u1", testChannel)
	require.NoError(t, err)
	awaiting, ok := conv.State.(model.AwaitingDescription)
	require.True(t, ok)
	assert.True(t, awaiting.Amount.Equal(decimal.NewFromInt(45000)))
	assert.Equal(t, marker(3), conv.LastMarker)
	assert.True(t, conv.Handled(marker(3)))
	assert.False(t, conv.Handled(marker(4)))

	// Other users and channels are independent.
	other, err := store.GetConversation(ctx, "u2", testChannel)
	require.NoError(t, err)
	assert.Equal(t, model.StateIdle, other.State.Tag())
}

func TestSetConversation_IdleReplacesPayload(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.SetConversation(ctx, model.Conversation{
		UserID:     "u1",
		ChannelID:  testChannel,
		State:      model.AwaitingDescription{Amount: decimal.NewFromInt(1000)},
		LastMarker: marker(1),
	}))
	require.NoError(t, store.SetConversation(ctx, model.Conversation{
		UserID:     "u1",
		ChannelID:  testChannel,
		State:      model.Idle{},
		LastMarker: marker(2),
	}))

	conv, err := store.GetConversation(ctx, "u1", testChannel)
	require.NoError(t, err)
	assert.Equal(t, model.StateIdle, conv.State.Tag())
	assert.Equal(t, marker(2), conv.LastMarker)
}

func TestSetConversation_Validation(t *testing.T) {
	store := createTestStorage(t)

	err := store.SetConversation(context.Background(), model.Conversation{ChannelID: testChannel})
	require.ErrorIs(t, err, ErrEmptyString)
}

func TestRecordTextReceipt(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	cp := openCheckpoint(t, store)

	require.NoError(t, store.SetConversation(ctx, model.Conversation{
		UserID:     "u1",
		ChannelID:  testChannel,
		State:      model.AwaitingDescription{Amount: decimal.NewFromInt(15000)},
		LastMarker: marker(2),
	}))

	next := model.Conversation{UserID: "u1", ChannelID: testChannel, State: model.Idle{}, LastMarker: marker(3)}
	r := newReceipt(cp.ID, "u1", marker(3), "", 15000)
	r.Description = "nasi goreng"

	id, created, err := store.RecordTextReceipt(ctx, r, next)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Positive(t, id)

	conv, err := store.GetConversation(ctx, "u1", testChannel)
	require.NoError(t, err)
	assert.Equal(t, model.StateIdle, conv.State.Tag())
	assert.Equal(t, marker(3), conv.LastMarker)

	again := newReceipt(cp.ID, "u1", marker(3), "", 15000)
	againID, created, err := store.RecordTextReceipt(ctx, again, next)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, againID)
}

func TestRecordTextReceipt_FailureKeepsPendingAmount(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.SetConversation(ctx, model.Conversation{
		UserID:     "u1",
		ChannelID:  testChannel,
		State:      model.AwaitingDescription{Amount: decimal.NewFromInt(15000)},
		LastMarker: marker(2),
	}))

	// No such checkpoint: the foreign key rejects the insert.
	r := newReceipt(999, "u1", marker(3), "", 15000)
	next := model.Conversation{UserID: "u1", ChannelID: testChannel, State: model.Idle{}, LastMarker: marker(3)}
	_, _, err := store.RecordTextReceipt(ctx, r, next)
	require.Error(t, err)

	conv, err := store.GetConversation(ctx, "u1", testChannel)
	require.NoError(t, err)
	assert.Equal(t, model.StateAwaitingDescription, conv.State.Tag())
	assert.Equal(t, marker(2), conv.LastMarker)
}
