package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"reflexstake/crypto"
	"reflexstake/native/oracle"
	"reflexstake/native/reflection"
	"reflexstake/native/staking"
	"reflexstake/storage"
)

func testAddr(b byte) crypto.Address {
	var raw [20]byte
	raw[0] = 0xcc
	raw[19] = b
	return crypto.BytesToAddress(raw[:])
}

func buildCheckpoint(t *testing.T) Checkpoint {
	t.Helper()
	treasury, alice, sink := testAddr(1), testAddr(2), testAddr(3)
	ledger, err := reflection.NewLedger(uint256.NewInt(1_000_000), treasury)
	require.NoError(t, err)
	engineAccount := crypto.ModuleAddress("staking")
	require.NoError(t, ledger.SetExcludedFromFee(engineAccount, true))
	require.NoError(t, ledger.SetExcludedFromReward(engineAccount, true))
	require.NoError(t, ledger.SetFeeSchedule(reflection.FeeSchedule{Components: []reflection.FeeComponent{
		{Name: reflection.ComponentRedistribution, Bps: 200, Reflect: true},
		{Name: "treasury", Bps: 100, Sink: sink},
	}}))
	ledger.SetMaxTransferAmount(uint256.NewInt(500_000))
	_, err = ledger.Transfer(treasury, alice, uint256.NewInt(10_000))
	require.NoError(t, err)

	feed := oracle.NewManualFeed()
	adapter, err := oracle.NewAdapter(oracle.Config{FeedID: "reflex-usd", MaxAge: time.Hour}, feed, nil)
	require.NoError(t, err)
	override := 2 * time.Hour
	engine, err := staking.NewEngine(engineAccount, ledger, adapter, staking.Params{
		TokenDecimals:    6,
		MinLockDuration:  24 * time.Hour,
		LockOverride:     &override,
		MaxDeploymentBps: 2_500,
		MinReserve:       uint256.NewInt(10),
	})
	require.NoError(t, err)
	_, err = engine.AddTier(staking.Tier{USDThreshold: uint256.NewInt(1_000), Label: "bronze"})
	require.NoError(t, err)
	_, err = engine.Stake(context.Background(), alice, uint256.NewInt(4_000))
	require.NoError(t, err)

	return Checkpoint{
		Sequence: 7,
		TakenAt:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Ledger:   ledger.Export(),
		Staking:  engine.Export(),
		Paused:   []string{"staking"},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	cp := buildCheckpoint(t)
	require.NoError(t, store.Save(cp))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, cp.Sequence, loaded.Sequence)
	require.True(t, cp.TakenAt.Equal(loaded.TakenAt))
	require.Equal(t, cp.Paused, loaded.Paused)

	require.Equal(t, cp.Ledger.Fees, loaded.Ledger.Fees)
	require.True(t, cp.Ledger.ReflectedSupply.Eq(loaded.Ledger.ReflectedSupply))
	require.True(t, cp.Ledger.MaxTransfer.Eq(loaded.Ledger.MaxTransfer))
	require.Len(t, loaded.Ledger.Accounts, len(cp.Ledger.Accounts))
	for i, acc := range cp.Ledger.Accounts {
		got := loaded.Ledger.Accounts[i]
		require.Equal(t, acc.Address, got.Address)
		require.True(t, acc.Reflected.Eq(got.Reflected))
		require.True(t, acc.True.Eq(got.True))
		require.Equal(t, acc.ExcludedFromFee, got.ExcludedFromFee)
		require.Equal(t, acc.ExcludedFromReward, got.ExcludedFromReward)
	}

	ledger, err := reflection.Restore(loaded.Ledger)
	require.NoError(t, err)
	require.True(t, ledger.TotalSupply().Eq(uint256.NewInt(1_000_000)))
	require.True(t, ledger.Audit().Conserved)
	sinkBalance := ledger.BalanceOf(testAddr(3)).Uint64()
	require.GreaterOrEqual(t, sinkBalance, uint64(100), "treasury sink holds at least 1% of the transfer")
	require.Less(t, sinkBalance, uint64(101))

	stake := loaded.Staking
	require.Equal(t, cp.Staking.Account, stake.Account)
	require.Equal(t, uint8(6), stake.TokenDecimals)
	require.Equal(t, 24*time.Hour, stake.MinLockDuration)
	require.NotNil(t, stake.LockOverride)
	require.Equal(t, 2*time.Hour, *stake.LockOverride)
	require.Equal(t, uint32(2_500), stake.Yield.MaxDeploymentBps)
	require.True(t, stake.Yield.MinReserve.Eq(uint256.NewInt(10)))
	require.Len(t, stake.Tiers, 1)
	require.Len(t, stake.Stakes, 1)
	record := stake.Stakes[0]
	require.Equal(t, testAddr(2), record.Owner)
	require.True(t, record.Principal.Eq(uint256.NewInt(4_000)))
	require.True(t, record.FirstLockTime.Equal(cp.Staking.Stakes[0].FirstLockTime))
	require.Equal(t, cp.Staking.Stakes[0].TierIndexAtLastUpdate, record.TierIndexAtLastUpdate)

	feed := oracle.NewManualFeed()
	adapter, err := oracle.NewAdapter(oracle.Config{FeedID: "reflex-usd", MaxAge: time.Hour}, feed, nil)
	require.NoError(t, err)
	engine, err := staking.RestoreEngine(stake, ledger, adapter)
	require.NoError(t, err)
	require.True(t, engine.TotalLocked().Eq(uint256.NewInt(4_000)))
}

func TestStoreSaveDropsRemovedStakes(t *testing.T) {
	db := storage.NewMemDB()
	store := NewStore(db)
	cp := buildCheckpoint(t)
	require.NoError(t, store.Save(cp))
	owner := cp.Staking.Stakes[0].Owner
	ok, err := db.Has(prefixedKey(stakePrefix, owner))
	require.NoError(t, err)
	require.True(t, ok)

	cp.Sequence++
	cp.Staking.Stakes = nil
	cp.Staking.TotalLocked = new(uint256.Int)
	require.NoError(t, store.Save(cp))
	ok, err = db.Has(prefixedKey(stakePrefix, owner))
	require.NoError(t, err)
	require.False(t, ok)

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, uint64(8), loaded.Sequence)
	require.Empty(t, loaded.Staking.Stakes)
}

func TestStoreLoadErrors(t *testing.T) {
	db := storage.NewMemDB()
	store := NewStore(db)
	_, err := store.Load()
	require.True(t, errors.Is(err, ErrNoCheckpoint))

	encoded, err := rlp.EncodeToBytes(storedCheckpoint{Version: uint64(StateVersion) + 1})
	require.NoError(t, err)
	require.NoError(t, db.Put(kvKey(checkpointMetaKey), encoded))
	_, err = store.Load()
	require.ErrorIs(t, err, ErrStateVersionMismatch)
}
