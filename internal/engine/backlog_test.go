package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/milo/internal/llm"
	"github.com/Veraticus/milo/internal/model"
	"github.com/Veraticus/milo/internal/service"
	"github.com/Veraticus/milo/internal/testutil"
)

type backlogFixture struct {
	db        *testutil.TestDB
	source    *MockMessageSource
	extractor *MockExtractor
	sink      *RecordingSink
	backlog   *Backlog
	pauses    []time.Duration
}

func newBacklogFixture(t *testing.T, cfg BacklogConfig) *backlogFixture {
	t.Helper()

	f := &backlogFixture{
		db:        testutil.SetupTestDB(t),
		source:    NewMockMessageSource(),
		extractor: NewMockExtractor(),
		sink:      &RecordingSink{},
	}
	reconciler := NewReconciler(f.db.Storage, f.extractor, nil, f.sink, service.ScopePerChannel, nil)
	f.backlog = NewBacklog(f.db.Storage, f.source, reconciler, f.sink, cfg, nil)
	f.backlog.sleep = func(_ context.Context, d time.Duration) error {
		f.pauses = append(f.pauses, d)
		return nil
	}
	return f
}

func (f *backlogFixture) addImages(from, to int64) {
	for n := from; n <= to; n++ {
		url := fmt.Sprintf("https://cdn/%d.png", n)
		f.source.Add(testutil.NewMessage(channel, n).Image(fmt.Sprintf("att-%d", n), url).Build())
		f.extractor.Outcomes[url] = llm.Amount(decimal.NewFromInt(1000 * n))
	}
}

func TestBacklog_CatchUpAfterCursor(t *testing.T) {
	f := newBacklogFixture(t, BacklogConfig{PageSize: 2, ChunkSize: 1, ChunkPause: time.Second})
	mgr := NewCheckpointManager(f.db.Storage, service.ScopePerChannel, nil)
	cp, err := mgr.Start(context.Background(), channel, testutil.Marker(1))
	require.NoError(t, err)
	f.addImages(1, 6)

	var progress []int
	result, err := f.backlog.CatchUp(context.Background(), channel, SourceBacklog, func(n int) {
		progress = append(progress, n)
	})
	require.NoError(t, err)

	assert.Equal(t, 5, result.Messages)
	assert.Equal(t, 5, result.Receipts)
	assert.Equal(t, testutil.Marker(6), result.LastMarker)
	assert.Len(t, f.db.MustListReceipts(cp.ID), 5)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, progress)
	assert.Len(t, f.pauses, 4)
	assert.Equal(t, time.Second, f.pauses[0])

	require.Len(t, f.sink.Notices, 1)
	assert.Equal(t, 5, f.sink.Notices[0].Messages)
}

func TestBacklog_CatchUpAfterSnapshotKeepsGapBehindLiveMessage(t *testing.T) {
	f := newBacklogFixture(t, BacklogConfig{PageSize: 10, ChunkSize: 10})
	cp := f.db.MustStartCheckpoint(channel, testutil.Marker(1))
	ctx := context.Background()
	_, err := f.db.Storage.AdvanceCursor(ctx, channel, testutil.Marker(1))
	require.NoError(t, err)
	f.addImages(2, 4)

	after, err := f.backlog.Cursor(ctx, channel)
	require.NoError(t, err)
	assert.Equal(t, testutil.Marker(1), after)

	// The session's first live message lands before the catch-up runs.
	live := testutil.NewMessage(channel, 4).Image("att-4", "https://cdn/4.png").Build()
	_, err = f.backlog.reconciler.Reconcile(ctx, channel, []model.Message{live}, SourceLive)
	require.NoError(t, err)

	result, err := f.backlog.CatchUpAfter(ctx, channel, after, SourceBacklog, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Messages)
	assert.Equal(t, 2, result.Receipts)
	assert.Len(t, f.db.MustListReceipts(cp.ID), 3)
	assert.Equal(t, 3, f.extractor.Calls())
}

func TestBacklog_ReleasesHoldOnVanishedMessage(t *testing.T) {
	f := newBacklogFixture(t, BacklogConfig{PageSize: 10, ChunkSize: 10})
	f.db.MustStartCheckpoint(channel, testutil.Marker(1))
	ctx := context.Background()
	_, err := f.db.Storage.AdvanceCursor(ctx, channel, testutil.Marker(1))
	require.NoError(t, err)
	pinned, err := f.db.Storage.HoldCursor(ctx, channel, testutil.Marker(3))
	require.NoError(t, err)
	require.True(t, pinned)

	f.addImages(2, 2)
	f.addImages(4, 5)

	_, err = f.backlog.CatchUp(ctx, channel, SourceBacklog, nil)
	require.NoError(t, err)

	cursor, err := f.db.Storage.GetCursor(ctx, channel)
	require.NoError(t, err)
	assert.Equal(t, testutil.Marker(5), cursor.LastMarker)
	assert.True(t, cursor.HeldAt.IsZero())
}

func TestBacklog_NothingNew(t *testing.T) {
	f := newBacklogFixture(t, BacklogConfig{PageSize: 10, ChunkSize: 5})
	_, err := f.db.Storage.AdvanceCursor(context.Background(), channel, testutil.Marker(3))
	require.NoError(t, err)
	f.addImages(1, 3)

	result, err := f.backlog.CatchUp(context.Background(), channel, SourceBacklog, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Messages)
	assert.Empty(t, f.sink.Notices)
	assert.Equal(t, 0, f.extractor.Calls())
}

func TestBacklog_NoCursorTakesRecentPage(t *testing.T) {
	f := newBacklogFixture(t, BacklogConfig{PageSize: 3, ChunkSize: 3})
	f.db.MustStartCheckpoint(channel, testutil.Marker(1))
	f.addImages(2, 8)

	result, err := f.backlog.CatchUp(context.Background(), channel, SourceManual, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Messages)
	assert.Equal(t, testutil.Marker(8), result.LastMarker)
	assert.Equal(t, 1, f.source.Fetches)
	assert.Empty(t, f.pauses)
}

func TestBacklog_FetchError(t *testing.T) {
	f := newBacklogFixture(t, DefaultBacklogConfig())
	f.source.Err = errors.New("gateway timeout")

	_, err := f.backlog.CatchUp(context.Background(), channel, SourceBacklog, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, f.source.Err)
}

func TestBacklog_NoticeFailureIsNotFatal(t *testing.T) {
	f := newBacklogFixture(t, BacklogConfig{PageSize: 10, ChunkSize: 10})
	_, err := f.db.Storage.AdvanceCursor(context.Background(), channel, testutil.Marker(1))
	require.NoError(t, err)
	f.source.Add(testutil.NewMessage(channel, 2).Text("hello").Build())

	f.sink.Err = errors.New("forbidden")
	result, err := f.backlog.CatchUp(context.Background(), channel, SourceBacklog, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Messages)
}

func TestBacklog_CanceledDuringPause(t *testing.T) {
	f := newBacklogFixture(t, BacklogConfig{PageSize: 10, ChunkSize: 1, ChunkPause: time.Hour})
	f.backlog.sleep = sleepContext
	_, err := f.db.Storage.AdvanceCursor(context.Background(), channel, testutil.Marker(1))
	require.NoError(t, err)
	f.source.Add(
		testutil.NewMessage(channel, 2).Text("one").Build(),
		testutil.NewMessage(channel, 3).Text("two").Build(),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result, err := f.backlog.CatchUp(ctx, channel, SourceBacklog, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, result.Messages)
	assert.Empty(t, f.sink.Notices)
}

func TestDefaultBacklogConfig(t *testing.T) {
	cfg := DefaultBacklogConfig()
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, 20, cfg.ChunkSize)
	assert.Equal(t, 2*time.Second, cfg.ChunkPause)
}
