package state

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"reflexstake/crypto"
	"reflexstake/native/reflection"
	"reflexstake/native/staking"
	"reflexstake/storage"
)

// Checkpoint is the complete persisted state of a machine.
type Checkpoint struct {
	Sequence uint64
	TakenAt  time.Time
	Ledger   reflection.Snapshot
	Staking  staking.Snapshot
	Paused   []string
}

var (
	checkpointMetaKey = []byte("checkpoint/meta")
	ledgerMetaKey     = []byte("ledger/meta")
	ledgerIndexKey    = []byte("ledger/accounts")
	stakingMetaKey    = []byte("staking/meta")
	stakingIndexKey   = []byte("staking/stakes")
	accountPrefix     = []byte("ledger/account/")
	stakePrefix       = []byte("staking/stake/")
)

// ErrNoCheckpoint is returned by Load when nothing has been saved yet.
var ErrNoCheckpoint = errors.New("state: no checkpoint stored")

// Store reads and writes checkpoints as RLP records in a key-value database.
// Keys are hashed with keccak256 so record names never collide with raw keys
// written by other components sharing the database.
type Store struct {
	db storage.Database
}

// NewStore creates a store backed by db.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func prefixedKey(prefix []byte, addr crypto.Address) []byte {
	buf := make([]byte, len(prefix)+crypto.AddressLength)
	copy(buf, prefix)
	copy(buf[len(prefix):], addr.Bytes())
	return kvKey(buf)
}

type storedCheckpoint struct {
	Version  uint64
	Sequence uint64
	TakenAt  uint64
	Paused   []string
}

type storedFeeComponent struct {
	Name    string
	Bps     uint64
	Sink    [20]byte
	Reflect bool
}

type storedLedgerMeta struct {
	TotalSupply     *big.Int
	GenesisRate     *big.Int
	ReflectedSupply *big.Int
	SumExcludedTrue *big.Int
	MaxTransfer     *big.Int
	FeeVersion      uint64
	Fees            []storedFeeComponent
}

type storedAccount struct {
	Reflected          *big.Int
	True               *big.Int
	ExcludedFromReward bool
	ExcludedFromFee    bool
}

type storedTier struct {
	Label        string
	USDThreshold *big.Int
}

type storedStakingMeta struct {
	Account          [20]byte
	TokenDecimals    uint64
	MinLockNanos     uint64
	HasOverride      bool
	OverrideNanos    uint64
	Tiers            []storedTier
	TotalLocked      *big.Int
	DeployedShares   *big.Int
	MaxDeploymentBps uint64
	MinReserve       *big.Int
	AutoDeploy       bool
}

type storedStake struct {
	Principal     *big.Int
	FirstLockTime uint64
	LastLockTime  uint64
	// TierIndex is offset by one so NoTier encodes as zero.
	TierIndex uint64
}

// Save writes cp in a single batch, replacing the previous checkpoint.
// Accounts and stakes absent from cp are removed.
func (s *Store) Save(cp Checkpoint) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("state: store unavailable")
	}
	batch := s.db.NewBatch()

	previousAccounts, err := s.loadIndex(ledgerIndexKey)
	if err != nil {
		return err
	}
	previousStakes, err := s.loadIndex(stakingIndexKey)
	if err != nil {
		return err
	}

	if err := putRLP(batch, checkpointMetaKey, storedCheckpoint{
		Version:  uint64(StateVersion),
		Sequence: cp.Sequence,
		TakenAt:  unixNano(cp.TakenAt),
		Paused:   append([]string{}, cp.Paused...),
	}); err != nil {
		return err
	}

	ledger := cp.Ledger
	meta := storedLedgerMeta{
		TotalSupply:     toBig(ledger.TotalSupply),
		GenesisRate:     toBig(ledger.GenesisRate),
		ReflectedSupply: toBig(ledger.ReflectedSupply),
		SumExcludedTrue: toBig(ledger.SumExcludedTrue),
		MaxTransfer:     toBig(ledger.MaxTransfer),
		FeeVersion:      ledger.Fees.Version,
		Fees:            make([]storedFeeComponent, 0, len(ledger.Fees.Components)),
	}
	for _, c := range ledger.Fees.Components {
		meta.Fees = append(meta.Fees, storedFeeComponent{Name: c.Name, Bps: uint64(c.Bps), Sink: rawAddress(c.Sink), Reflect: c.Reflect})
	}
	if err := putRLP(batch, ledgerMetaKey, meta); err != nil {
		return err
	}
	accountIndex := make([][20]byte, 0, len(ledger.Accounts))
	live := make(map[[20]byte]struct{}, len(ledger.Accounts))
	for _, acc := range ledger.Accounts {
		raw := rawAddress(acc.Address)
		accountIndex = append(accountIndex, raw)
		live[raw] = struct{}{}
		encoded, err := rlp.EncodeToBytes(storedAccount{
			Reflected:          toBig(acc.Reflected),
			True:               toBig(acc.True),
			ExcludedFromReward: acc.ExcludedFromReward,
			ExcludedFromFee:    acc.ExcludedFromFee,
		})
		if err != nil {
			return fmt.Errorf("state: encode account %s: %w", acc.Address, err)
		}
		batch.Put(prefixedKey(accountPrefix, acc.Address), encoded)
	}
	for _, raw := range previousAccounts {
		if _, ok := live[raw]; !ok {
			batch.Delete(prefixedKey(accountPrefix, crypto.BytesToAddress(raw[:])))
		}
	}
	if err := putRLP(batch, ledgerIndexKey, accountIndex); err != nil {
		return err
	}

	stake := cp.Staking
	stakingMeta := storedStakingMeta{
		Account:          rawAddress(stake.Account),
		TokenDecimals:    uint64(stake.TokenDecimals),
		MinLockNanos:     uint64(stake.MinLockDuration),
		TotalLocked:      toBig(stake.TotalLocked),
		DeployedShares:   toBig(stake.Yield.DeployedShares),
		MaxDeploymentBps: uint64(stake.Yield.MaxDeploymentBps),
		MinReserve:       toBig(stake.Yield.MinReserve),
		AutoDeploy:       stake.Yield.AutoDeploy,
	}
	if stake.LockOverride != nil {
		stakingMeta.HasOverride = true
		stakingMeta.OverrideNanos = uint64(*stake.LockOverride)
	}
	for _, t := range stake.Tiers {
		stakingMeta.Tiers = append(stakingMeta.Tiers, storedTier{Label: t.Label, USDThreshold: toBig(t.USDThreshold)})
	}
	if err := putRLP(batch, stakingMetaKey, stakingMeta); err != nil {
		return err
	}
	stakeIndex := make([][20]byte, 0, len(stake.Stakes))
	liveStakes := make(map[[20]byte]struct{}, len(stake.Stakes))
	for _, record := range stake.Stakes {
		raw := rawAddress(record.Owner)
		stakeIndex = append(stakeIndex, raw)
		liveStakes[raw] = struct{}{}
		encoded, err := rlp.EncodeToBytes(storedStake{
			Principal:     toBig(record.Principal),
			FirstLockTime: unixNano(record.FirstLockTime),
			LastLockTime:  unixNano(record.LastLockTime),
			TierIndex:     uint64(record.TierIndexAtLastUpdate + 1),
		})
		if err != nil {
			return fmt.Errorf("state: encode stake %s: %w", record.Owner, err)
		}
		batch.Put(prefixedKey(stakePrefix, record.Owner), encoded)
	}
	for _, raw := range previousStakes {
		if _, ok := liveStakes[raw]; !ok {
			batch.Delete(prefixedKey(stakePrefix, crypto.BytesToAddress(raw[:])))
		}
	}
	if err := putRLP(batch, stakingIndexKey, stakeIndex); err != nil {
		return err
	}
	return batch.Write()
}

// Load reads the last saved checkpoint.
func (s *Store) Load() (Checkpoint, error) {
	if s == nil || s.db == nil {
		return Checkpoint{}, fmt.Errorf("state: store unavailable")
	}
	var meta storedCheckpoint
	ok, err := s.get(checkpointMetaKey, &meta)
	if err != nil {
		return Checkpoint{}, err
	}
	if !ok {
		return Checkpoint{}, ErrNoCheckpoint
	}
	if meta.Version != uint64(StateVersion) {
		return Checkpoint{}, fmt.Errorf("%w: on-disk=%d expected=%d", ErrStateVersionMismatch, meta.Version, StateVersion)
	}
	cp := Checkpoint{Sequence: meta.Sequence, TakenAt: fromUnixNano(meta.TakenAt), Paused: meta.Paused}

	var ledgerMeta storedLedgerMeta
	if ok, err := s.get(ledgerMetaKey, &ledgerMeta); err != nil {
		return Checkpoint{}, err
	} else if !ok {
		return Checkpoint{}, fmt.Errorf("state: ledger record missing")
	}
	ledger := reflection.Snapshot{
		Fees: reflection.FeeSchedule{Version: ledgerMeta.FeeVersion},
	}
	for _, target := range []struct {
		dst **uint256.Int
		src *big.Int
	}{
		{&ledger.TotalSupply, ledgerMeta.TotalSupply},
		{&ledger.GenesisRate, ledgerMeta.GenesisRate},
		{&ledger.ReflectedSupply, ledgerMeta.ReflectedSupply},
		{&ledger.SumExcludedTrue, ledgerMeta.SumExcludedTrue},
		{&ledger.MaxTransfer, ledgerMeta.MaxTransfer},
	} {
		if *target.dst, err = fromBig(target.src); err != nil {
			return Checkpoint{}, err
		}
	}
	for _, c := range ledgerMeta.Fees {
		ledger.Fees.Components = append(ledger.Fees.Components, reflection.FeeComponent{
			Name:    c.Name,
			Bps:     uint32(c.Bps),
			Sink:    fromRaw(c.Sink),
			Reflect: c.Reflect,
		})
	}
	accountIndex, err := s.loadIndex(ledgerIndexKey)
	if err != nil {
		return Checkpoint{}, err
	}
	for _, raw := range accountIndex {
		addr := crypto.BytesToAddress(raw[:])
		var stored storedAccount
		if ok, err := s.getHashed(prefixedKey(accountPrefix, addr), &stored); err != nil {
			return Checkpoint{}, err
		} else if !ok {
			return Checkpoint{}, fmt.Errorf("state: account %s indexed but missing", addr)
		}
		acc := reflection.Account{Address: addr, ExcludedFromReward: stored.ExcludedFromReward, ExcludedFromFee: stored.ExcludedFromFee}
		if acc.Reflected, err = fromBig(stored.Reflected); err != nil {
			return Checkpoint{}, err
		}
		if acc.True, err = fromBig(stored.True); err != nil {
			return Checkpoint{}, err
		}
		ledger.Accounts = append(ledger.Accounts, acc)
	}
	cp.Ledger = ledger

	var stakingMeta storedStakingMeta
	if ok, err := s.get(stakingMetaKey, &stakingMeta); err != nil {
		return Checkpoint{}, err
	} else if !ok {
		return Checkpoint{}, fmt.Errorf("state: staking record missing")
	}
	snap := staking.Snapshot{
		Account:         fromRaw(stakingMeta.Account),
		TokenDecimals:   uint8(stakingMeta.TokenDecimals),
		MinLockDuration: time.Duration(stakingMeta.MinLockNanos),
		Yield: staking.YieldState{
			MaxDeploymentBps: uint32(stakingMeta.MaxDeploymentBps),
			AutoDeploy:       stakingMeta.AutoDeploy,
		},
	}
	if stakingMeta.HasOverride {
		override := time.Duration(stakingMeta.OverrideNanos)
		snap.LockOverride = &override
	}
	if snap.TotalLocked, err = fromBig(stakingMeta.TotalLocked); err != nil {
		return Checkpoint{}, err
	}
	if snap.Yield.DeployedShares, err = fromBig(stakingMeta.DeployedShares); err != nil {
		return Checkpoint{}, err
	}
	if snap.Yield.MinReserve, err = fromBig(stakingMeta.MinReserve); err != nil {
		return Checkpoint{}, err
	}
	for _, t := range stakingMeta.Tiers {
		threshold, err := fromBig(t.USDThreshold)
		if err != nil {
			return Checkpoint{}, err
		}
		snap.Tiers = append(snap.Tiers, staking.Tier{Label: t.Label, USDThreshold: threshold})
	}
	stakeIndex, err := s.loadIndex(stakingIndexKey)
	if err != nil {
		return Checkpoint{}, err
	}
	for _, raw := range stakeIndex {
		owner := crypto.BytesToAddress(raw[:])
		var stored storedStake
		if ok, err := s.getHashed(prefixedKey(stakePrefix, owner), &stored); err != nil {
			return Checkpoint{}, err
		} else if !ok {
			return Checkpoint{}, fmt.Errorf("state: stake %s indexed but missing", owner)
		}
		principal, err := fromBig(stored.Principal)
		if err != nil {
			return Checkpoint{}, err
		}
		snap.Stakes = append(snap.Stakes, staking.StakeRecord{
			Owner:                 owner,
			Principal:             principal,
			FirstLockTime:         fromUnixNano(stored.FirstLockTime),
			LastLockTime:          fromUnixNano(stored.LastLockTime),
			TierIndexAtLastUpdate: int(stored.TierIndex) - 1,
		})
	}
	cp.Staking = snap
	return cp, nil
}

func (s *Store) loadIndex(key []byte) ([][20]byte, error) {
	var list [][20]byte
	if _, err := s.get(key, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *Store) get(key []byte, out interface{}) (bool, error) {
	return s.getHashed(kvKey(key), out)
}

func (s *Store) getHashed(hashed []byte, out interface{}) (bool, error) {
	data, err := s.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode record: %w", err)
	}
	return true, nil
}

func putRLP(batch storage.Batch, key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	batch.Put(kvKey(key), encoded)
	return nil
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("state: stored value exceeds 256 bits")
	}
	return out, nil
}

func rawAddress(addr crypto.Address) [20]byte {
	var out [20]byte
	if !addr.IsZero() {
		copy(out[:], addr.Bytes())
	}
	return out
}

func fromRaw(raw [20]byte) crypto.Address {
	if raw == ([20]byte{}) {
		return crypto.Address{}
	}
	return crypto.BytesToAddress(raw[:])
}

func unixNano(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano())
}

func fromUnixNano(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(v)).UTC()
}
