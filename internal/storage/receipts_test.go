package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/milo/internal/common"
	"github.com/Veraticus/milo/internal/model"
	"github.com/Veraticus/milo/internal/service"
)

func openCheckpoint(t *testing.T, store *SQLiteStorage) *model.Checkpoint {
	t.Helper()
	cp, err := store.CreateCheckpoint(context.Background(), service.ScopePerChannel, testChannel, marker(0))
	require.NoError(t, err)
	return cp
}

func TestInsertReceiptIfAbsent(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	cp := openCheckpoint(t, store)

	first := newReceipt(cp.ID, "u1", marker(1), "att-1", 125000)
	id, created, err := store.InsertReceiptIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Positive(t, id)

	dup := newReceipt(cp.ID, "u1", marker(1), "att-1", 999999)
	dupID, created, err := store.InsertReceiptIfAbsent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, dupID)

	// Second attachment on the same message is its own receipt.
	_, created, err = store.InsertReceiptIfAbsent(ctx, newReceipt(cp.ID, "u1", marker(1), "att-2", 5000))
	require.NoError(t, err)
	assert.True(t, created)

	receipts, err := store.ListReceipts(ctx, cp.ID)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	assert.True(t, receipts[0].Amount.Equal(decimal.NewFromInt(125000)), "duplicate must not overwrite")
}

func TestInsertReceiptIfAbsent_Concurrent(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	cp := openCheckpoint(t, store)

	const workers = 8
	var (
		wg      sync.WaitGroup
		created atomic.Int32
		ids     sync.Map
	)
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, ok, err := store.InsertReceiptIfAbsent(ctx, newReceipt(cp.ID, "u1", marker(7), "att-7", 42000))
			if err != nil {
				errs <- err
				return
			}
			if ok {
				created.Add(1)
			}
			ids.Store(id, true)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), created.Load(), "exactly one writer creates the row")

	distinct := 0
	ids.Range(func(_, _ any) bool {
		distinct++
		return true
	})
	assert.Equal(t, 1, distinct, "every writer sees the same receipt id")

	count, err := store.CountReceipts(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInsertReceiptIfAbsent_TextReceipts(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	cp := openCheckpoint(t, store)

	r := newReceipt(cp.ID, "u1", marker(5), "", 20000)
	r.Description = "parking"
	_, created, err := store.InsertReceiptIfAbsent(ctx, r)
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = store.InsertReceiptIfAbsent(ctx, newReceipt(cp.ID, "u1", marker(5), "", 20000))
	require.NoError(t, err)
	assert.False(t, created, "text receipts dedupe on empty attachment ref")

	receipts, err := store.ListReceipts(ctx, cp.ID)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, "parking", receipts[0].Description)
	assert.True(t, receipts[0].FromText())
}

func TestInsertReceiptIfAbsent_Validation(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	cp := openCheckpoint(t, store)

	tests := []struct {
		receipt *model.Receipt
		name    string
	}{
		{name: "nil receipt"},
		{name: "missing user", receipt: newReceipt(cp.ID, "", marker(1), "a", 100)},
		{name: "zero amount", receipt: newReceipt(cp.ID, "u1", marker(1), "a", 0)},
		{name: "negative amount", receipt: newReceipt(cp.ID, "u1", marker(1), "a", -5)},
		{name: "missing checkpoint", receipt: newReceipt(0, "u1", marker(1), "a", 100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := store.InsertReceiptIfAbsent(ctx, tt.receipt)
			require.Error(t, err)
		})
	}
}

func TestHasReceipt(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	cp := openCheckpoint(t, store)

	exists, err := store.HasReceipt(ctx, cp.ID, marker(1), "a")
	require.NoError(t, err)
	assert.False(t, exists)

	_, _, err = store.InsertReceiptIfAbsent(ctx, newReceipt(cp.ID, "u1", marker(1), "a", 100))
	require.NoError(t, err)

	exists, err = store.HasReceipt(ctx, cp.ID, marker(1), "a")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSummaryByUser(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	cp := openCheckpoint(t, store)

	inserts := []*model.Receipt{
		newReceipt(cp.ID, "u1", marker(1), "a", 50000),
		newReceipt(cp.ID, "u2", marker(2), "b", 125000),
		newReceipt(cp.ID, "u1", marker(3), "c", 30000),
	}
	inserts[2].UserName = "Renamed"
	for _, r := range inserts {
		_, _, err := store.InsertReceiptIfAbsent(ctx, r)
		require.NoError(t, err)
	}

	totals, err := store.SummaryByUser(ctx, cp.ID)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, "u2", totals[0].UserID)
	assert.Equal(t, "u1", totals[1].UserID)
	assert.Equal(t, "Renamed", totals[1].UserName)
	assert.True(t, totals[1].Total.Equal(decimal.NewFromInt(80000)))

	count, err := store.CountReceipts(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestListReceipts_OrderedByCreation(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	cp := openCheckpoint(t, store)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	late := newReceipt(cp.ID, "u1", marker(1), "late", 300)
	late.CreatedAt = base.Add(time.Hour)
	early := newReceipt(cp.ID, "u1", marker(2), "early", 100)
	early.CreatedAt = base

	for _, r := range []*model.Receipt{late, early} {
		_, _, err := store.InsertReceiptIfAbsent(ctx, r)
		require.NoError(t, err)
	}

	receipts, err := store.ListReceipts(ctx, cp.ID)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	assert.Equal(t, "early", receipts[0].AttachmentRef)
	assert.Equal(t, "late", receipts[1].AttachmentRef)
}

func TestDeleteReceiptByPosition(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	cp := openCheckpoint(t, store)

	for i, ref := range []string{"first", "second", "third"} {
		_, _, err := store.InsertReceiptIfAbsent(ctx, newReceipt(cp.ID, "u1", marker(int64(i+1)), ref, int64(1000*(i+1))))
		require.NoError(t, err)
	}

	deleted, err := store.DeleteReceiptByPosition(ctx, cp.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "second", deleted.AttachmentRef)
	assert.True(t, deleted.Amount.Equal(decimal.NewFromInt(2000)))

	receipts, err := store.ListReceipts(ctx, cp.ID)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	assert.Equal(t, "first", receipts[0].AttachmentRef)
	assert.Equal(t, "third", receipts[1].AttachmentRef)

	for _, pos := range []int{0, -1, 3} {
		_, err = store.DeleteReceiptByPosition(ctx, cp.ID, pos)
		require.ErrorIs(t, err, common.ErrPositionNotFound)
	}
}
