package genesis

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"reflexstake/crypto"
	"reflexstake/native/oracle"
)

func addr(b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[19] = b
	raw[0] = 0xaa
	return crypto.BytesToAddress(raw)
}

func sampleGenesis() string {
	return `
totalSupply: "10000000"
holder: ` + addr(1).String() + `
authority: ` + addr(9).String() + `
allocations:
  - address: ` + addr(2).String() + `
    amount: "100000"
  - address: module:treasury
    amount: "50000"
excludedFromFee:
  - module:treasury
excludedFromReward:
  - module:treasury
fees:
  - name: redistribution
    bps: 300
    reflect: true
  - name: treasury
    bps: 200
    sink: module:treasury
maxTransferAmount: "1000000"
staking:
  tokenDecimals: 0
  minLockDuration: 72h
  maxDeploymentBps: 5000
  minReserve: "100"
  autoDeploy: true
  custody: module:yield-custody
  tiers:
    - label: bronze
      usd: "1000"
    - label: silver
      usd: "5000.5"
`
}

func newPrices(t *testing.T) *oracle.Adapter {
	t.Helper()
	adapter, err := oracle.NewAdapter(oracle.Config{FeedID: "reflex-usd", MaxAge: time.Minute}, oracle.NewManualFeed(), nil)
	require.NoError(t, err)
	return adapter
}

func TestLoadGenesisSpecAndBuildGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleGenesis()), 0o600))

	spec, err := LoadGenesisSpec(path)
	require.NoError(t, err)
	require.Equal(t, addr(9), spec.Authority())
	require.Equal(t, crypto.ModuleAddress("staking"), spec.StakingAccount())
	require.Equal(t, crypto.ModuleAddress("yield-custody"), spec.Custody())

	ledger, engine, err := BuildGenesisFromSpec(spec, newPrices(t))
	require.NoError(t, err)

	require.True(t, ledger.BalanceOf(addr(2)).Eq(uint256.NewInt(100_000)), "allocations are fee-free")
	treasury := crypto.ModuleAddress("treasury")
	require.True(t, ledger.BalanceOf(treasury).Eq(uint256.NewInt(50_000)))
	require.True(t, ledger.BalanceOf(addr(1)).Eq(uint256.NewInt(9_850_000)))
	require.True(t, ledger.IsExcludedFromFee(engine.Account()))
	require.True(t, ledger.IsExcludedFromReward(engine.Account()))
	require.True(t, ledger.IsExcludedFromFee(spec.Custody()))
	require.True(t, ledger.IsExcludedFromReward(treasury))

	schedule := ledger.FeeSchedule()
	require.Equal(t, uint32(500), schedule.TotalBps())
	require.Equal(t, treasury, schedule.Components[1].Sink)
	require.True(t, ledger.MaxTransferAmount().Eq(uint256.NewInt(1_000_000)))

	minLock, override := engine.LockPolicy()
	require.Equal(t, 72*time.Hour, minLock)
	require.Nil(t, override)
	tiers := engine.Tiers()
	require.Len(t, tiers, 2)
	expected, err := uint256.FromDecimal("5000500000000000000000")
	require.NoError(t, err)
	require.True(t, tiers[1].USDThreshold.Eq(expected))
	require.True(t, engine.YieldState().AutoDeploy)
	require.True(t, ledger.Audit().Conserved)
}

func TestParseGenesisSpecRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown field": sampleGenesis() + "bogus: true\n",
		"zero supply": `
totalSupply: "0"
holder: ` + addr(1).String() + `
authority: ` + addr(9).String() + "\n",
		"over allocation": `
totalSupply: "100"
holder: ` + addr(1).String() + `
authority: ` + addr(9).String() + `
allocations:
  - address: ` + addr(2).String() + `
    amount: "101"
`,
		"fees above denominator": `
totalSupply: "100"
holder: ` + addr(1).String() + `
authority: ` + addr(9).String() + `
fees:
  - name: redistribution
    bps: 10001
    reflect: true
`,
		"descending tiers": `
totalSupply: "100"
holder: ` + addr(1).String() + `
authority: ` + addr(9).String() + `
staking:
  tiers:
    - label: gold
      usd: "100"
    - label: silver
      usd: "50"
`,
		"bad duration": `
totalSupply: "100"
holder: ` + addr(1).String() + `
authority: ` + addr(9).String() + `
staking:
  minLockDuration: soon
`,
		"missing authority": `
totalSupply: "100"
holder: ` + addr(1).String() + "\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseGenesisSpec([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadGenesisSpecRequiresPath(t *testing.T) {
	_, err := LoadGenesisSpec(" ")
	require.Error(t, err)
}
