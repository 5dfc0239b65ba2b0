package journal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"reflexstake/core/events"
	"reflexstake/crypto"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func TestJournalAppendAndRecent(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	j, err := New(setupTestDB(t), WithClock(clock))
	require.NoError(t, err)

	owner := crypto.ModuleAddress("alice")
	j.Emit(events.Staked{Owner: owner, Amount: uint256.NewInt(10), Principal: uint256.NewInt(10)})
	j.Emit(events.ModulePause{Module: "ledger", Paused: true})
	j.Emit(events.Checkpoint{Sequence: 7})

	all, err := j.Recent(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, events.TypeCheckpoint, all[0].Type)
	require.Equal(t, int64(3), all[0].Position)
	require.Equal(t, "7", all[0].Attributes["sequence"])

	pauses, err := j.Recent(context.Background(), Query{Type: events.TypeModulePause})
	require.NoError(t, err)
	require.Len(t, pauses, 1)
	require.Equal(t, "true", pauses[0].Attributes["paused"])

	after, err := j.Recent(context.Background(), Query{After: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.Equal(t, int64(3), after[0].Position)
}

func TestJournalResumesPosition(t *testing.T) {
	db := setupTestDB(t)
	first, err := New(db)
	require.NoError(t, err)
	_, err = first.Append(context.Background(), events.Checkpoint{Sequence: 1})
	require.NoError(t, err)

	second, err := New(db)
	require.NoError(t, err)
	rec, err := second.Append(context.Background(), events.Checkpoint{Sequence: 2})
	require.NoError(t, err)
	require.Equal(t, int64(2), rec.Position)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.Error(t, err)
}
