package bot

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/milo/internal/engine"
	"github.com/Veraticus/milo/internal/model"
	"github.com/Veraticus/milo/internal/service"
	"github.com/Veraticus/milo/internal/testutil"
)

const testChannel = "chan-1"

func newDispatcher(t *testing.T, admin string) (*Dispatcher, *testutil.TestDB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	mgr := engine.NewCheckpointManager(db.Storage, service.ScopePerChannel, nil)
	return NewDispatcher(mgr, admin, nil), db
}

func command(name string, n int64) Command {
	return Command{Name: name, ChannelID: testChannel, UserID: "user-1", Marker: testutil.Marker(n)}
}

func TestDispatch_Lifecycle(t *testing.T) {
	d, _ := newDispatcher(t, "")
	ctx := context.Background()

	steps := []struct {
		cmd  Command
		want string
	}{
		{cmd: command(CommandStatus, 1), want: StatusNoCheckpointText()},
		{cmd: command(CommandEnd, 2), want: EndNoCheckpointText()},
		{cmd: command(CommandUndo, 3), want: UndoNothingText()},
		{cmd: command(CommandStart, 4), want: StartedText(1)},
		{cmd: command(CommandStart, 5), want: AlreadyActiveText(1)},
		{cmd: command(CommandStatus, 6), want: "Checkpoint **#1** is still running.\nNo receipts yet."},
		{cmd: command(CommandUndo, 7), want: UndoneText(1)},
		{cmd: command(CommandStart, 8), want: StartedText(2)},
		{cmd: command(CommandEnd, 9), want: "Checkpoint **#2** closed.\nNo receipts. Ugh."},
		{cmd: command(CommandUndo, 10), want: UndoNothingText()},
		{cmd: command("dance", 11), want: UnknownCommandText()},
	}

	for _, step := range steps {
		resp := d.Dispatch(ctx, step.cmd)
		assert.Equal(t, step.want, resp.Text, "command %s", step.cmd.Name)
	}
}

func TestDispatch_UndoWithReceipts(t *testing.T) {
	d, db := newDispatcher(t, "")
	ctx := context.Background()

	d.Dispatch(ctx, command(CommandStart, 1))
	cp, err := db.Storage.GetActiveCheckpoint(ctx, service.ScopePerChannel, testChannel)
	require.NoError(t, err)
	_, _, err = db.Storage.InsertReceiptIfAbsent(ctx, &model.Receipt{
		CheckpointID: cp.ID, UserID: "u", UserName: "Alice", ChannelID: testChannel,
		MessageID: testutil.Marker(2), Amount: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)

	resp := d.Dispatch(ctx, command(CommandUndo, 3))
	assert.Equal(t, UndoHasReceiptsText(cp.ID), resp.Text)
}

func TestDispatch_Delete(t *testing.T) {
	tests := []struct {
		name      string
		admin     string
		user      string
		position  int
		want      string
		ephemeral bool
	}{
		{name: "anyone without admin configured", user: "user-1", position: 1, want: "Receipt 1 deleted: **Alice** Rp1.000"},
		{name: "admin", admin: "boss", user: "boss", position: 1, want: "Receipt 1 deleted: **Alice** Rp1.000"},
		{name: "non admin", admin: "boss", user: "user-1", position: 1, want: DeleteForbiddenText(), ephemeral: true},
		{name: "missing position", user: "user-1", position: 5, want: PositionNotFoundText(5), ephemeral: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, db := newDispatcher(t, tt.admin)
			ctx := context.Background()

			d.Dispatch(ctx, command(CommandStart, 1))
			cp, err := db.Storage.GetActiveCheckpoint(ctx, service.ScopePerChannel, testChannel)
			require.NoError(t, err)
			_, _, err = db.Storage.InsertReceiptIfAbsent(ctx, &model.Receipt{
				CheckpointID: cp.ID, UserID: "u", UserName: "Alice", ChannelID: testChannel,
				MessageID: testutil.Marker(2), Amount: decimal.NewFromInt(1000),
			})
			require.NoError(t, err)

			cmd := command(CommandDelete, 3)
			cmd.UserID = tt.user
			cmd.Position = tt.position

			resp := d.Dispatch(ctx, cmd)
			assert.Equal(t, tt.want, resp.Text)
			assert.Equal(t, tt.ephemeral, resp.Ephemeral)
		})
	}
}
