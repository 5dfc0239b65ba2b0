package genesis

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"reflexstake/crypto"
	"reflexstake/native/oracle"
	"reflexstake/native/reflection"
	"reflexstake/native/staking"
)

// modulePrefix lets a genesis file name module-controlled accounts such as
// "module:staking" instead of spelling out their derived address.
const modulePrefix = "module:"

// DefaultStakingModule names the module account holding locked principal.
const DefaultStakingModule = "staking"

// GenesisSpec is the initial state of a ledger and staking engine.
type GenesisSpec struct {
	TotalSupply        string           `yaml:"totalSupply"`
	Holder             string           `yaml:"holder"`
	AuthorityAddress   string           `yaml:"authority"`
	Allocations        []AllocationSpec `yaml:"allocations"`
	ExcludedFromFee    []string         `yaml:"excludedFromFee"`
	ExcludedFromReward []string         `yaml:"excludedFromReward"`
	Fees               []FeeSpec        `yaml:"fees"`
	MaxTransferAmount  string           `yaml:"maxTransferAmount"`
	Staking            StakingSpec      `yaml:"staking"`

	totalSupply *uint256.Int
	holder      crypto.Address
	authority   crypto.Address
	maxTransfer *uint256.Int
	feeExempt   []crypto.Address
	rewardless  []crypto.Address
	schedule    reflection.FeeSchedule
}

type AllocationSpec struct {
	Address string `yaml:"address"`
	Amount  string `yaml:"amount"`

	address crypto.Address
	amount  *uint256.Int
}

type FeeSpec struct {
	Name    string `yaml:"name"`
	Bps     uint32 `yaml:"bps"`
	Sink    string `yaml:"sink,omitempty"`
	Reflect bool   `yaml:"reflect"`
}

type TierSpec struct {
	Label string `yaml:"label"`
	// USD is the whole-dollar threshold as a decimal string, e.g. "1000" or "2.5".
	USD string `yaml:"usd"`
}

type StakingSpec struct {
	Module           string     `yaml:"module"`
	TokenDecimals    uint8      `yaml:"tokenDecimals"`
	MinLockDuration  string     `yaml:"minLockDuration"`
	LockOverride     *string    `yaml:"lockOverride,omitempty"`
	MaxDeploymentBps uint32     `yaml:"maxDeploymentBps"`
	MinReserve       string     `yaml:"minReserve"`
	AutoDeploy       bool       `yaml:"autoDeploy"`
	Custody          string     `yaml:"custody"`
	Tiers            []TierSpec `yaml:"tiers"`

	account crypto.Address
	custody crypto.Address
	params  staking.Params
	tiers   []staking.Tier
}

// LoadGenesisSpec reads and validates a YAML genesis file. Unknown keys are
// rejected so typos do not silently fall back to defaults.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	spec, err := ParseGenesisSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// ParseGenesisSpec decodes and validates YAML genesis content.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	var spec GenesisSpec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

// Authority returns the address allowed to perform admin operations.
func (s *GenesisSpec) Authority() crypto.Address { return s.authority }

// StakingAccount returns the module account holding locked principal.
func (s *GenesisSpec) StakingAccount() crypto.Address { return s.Staking.account }

// Custody returns the strategy custody account, if one is configured.
func (s *GenesisSpec) Custody() crypto.Address { return s.Staking.custody }

func (s *GenesisSpec) validate() error {
	supply, err := parseAmount(s.TotalSupply)
	if err != nil {
		return fmt.Errorf("totalSupply: %w", err)
	}
	if supply.IsZero() {
		return fmt.Errorf("totalSupply must be positive")
	}
	s.totalSupply = supply
	if s.holder, err = parseAccount(s.Holder); err != nil {
		return fmt.Errorf("holder: %w", err)
	}
	if s.authority, err = parseAccount(s.AuthorityAddress); err != nil {
		return fmt.Errorf("authority: %w", err)
	}

	allocated := new(uint256.Int)
	seen := make(map[crypto.Address]struct{}, len(s.Allocations))
	for i := range s.Allocations {
		a := &s.Allocations[i]
		if a.address, err = parseAccount(a.Address); err != nil {
			return fmt.Errorf("allocations[%d]: %w", i, err)
		}
		if a.address == s.holder {
			return fmt.Errorf("allocations[%d]: holder receives the remainder implicitly", i)
		}
		if _, dup := seen[a.address]; dup {
			return fmt.Errorf("allocations[%d]: duplicate address %s", i, a.Address)
		}
		seen[a.address] = struct{}{}
		if a.amount, err = parseAmount(a.Amount); err != nil {
			return fmt.Errorf("allocations[%d]: %w", i, err)
		}
		if a.amount.IsZero() {
			return fmt.Errorf("allocations[%d]: amount must be positive", i)
		}
		if _, overflow := allocated.AddOverflow(allocated, a.amount); overflow {
			return fmt.Errorf("allocations overflow")
		}
	}
	if allocated.Gt(s.totalSupply) {
		return fmt.Errorf("allocations total %s exceeds supply %s", allocated.Dec(), s.totalSupply.Dec())
	}

	if s.feeExempt, err = parseAccounts(s.ExcludedFromFee); err != nil {
		return fmt.Errorf("excludedFromFee: %w", err)
	}
	if s.rewardless, err = parseAccounts(s.ExcludedFromReward); err != nil {
		return fmt.Errorf("excludedFromReward: %w", err)
	}

	s.schedule = reflection.FeeSchedule{}
	for i, f := range s.Fees {
		component := reflection.FeeComponent{Name: strings.TrimSpace(f.Name), Bps: f.Bps, Reflect: f.Reflect}
		if strings.TrimSpace(f.Sink) != "" {
			if component.Sink, err = parseAccount(f.Sink); err != nil {
				return fmt.Errorf("fees[%d]: sink: %w", i, err)
			}
		}
		s.schedule.Components = append(s.schedule.Components, component)
	}
	if err := s.schedule.Validate(); err != nil {
		return fmt.Errorf("fees: %w", err)
	}

	if strings.TrimSpace(s.MaxTransferAmount) != "" {
		if s.maxTransfer, err = parseAmount(s.MaxTransferAmount); err != nil {
			return fmt.Errorf("maxTransferAmount: %w", err)
		}
	}
	if err := s.Staking.validate(); err != nil {
		return fmt.Errorf("staking: %w", err)
	}
	return nil
}

func (s *StakingSpec) validate() error {
	module := strings.TrimSpace(s.Module)
	if module == "" {
		module = DefaultStakingModule
	}
	s.account = crypto.ModuleAddress(module)
	var err error
	if strings.TrimSpace(s.Custody) != "" {
		if s.custody, err = parseAccount(s.Custody); err != nil {
			return fmt.Errorf("custody: %w", err)
		}
		if s.custody == s.account {
			return fmt.Errorf("custody must differ from the staking account")
		}
	}
	params := staking.Params{
		TokenDecimals:    s.TokenDecimals,
		MaxDeploymentBps: s.MaxDeploymentBps,
		AutoDeploy:       s.AutoDeploy,
	}
	if strings.TrimSpace(s.MinLockDuration) != "" {
		if params.MinLockDuration, err = time.ParseDuration(strings.TrimSpace(s.MinLockDuration)); err != nil {
			return fmt.Errorf("minLockDuration: %w", err)
		}
	}
	if s.LockOverride != nil {
		override, err := time.ParseDuration(strings.TrimSpace(*s.LockOverride))
		if err != nil {
			return fmt.Errorf("lockOverride: %w", err)
		}
		params.LockOverride = &override
	}
	if strings.TrimSpace(s.MinReserve) != "" {
		if params.MinReserve, err = parseAmount(s.MinReserve); err != nil {
			return fmt.Errorf("minReserve: %w", err)
		}
	}
	if err := params.Validate(); err != nil {
		return err
	}
	s.params = params

	s.tiers = s.tiers[:0]
	for i, t := range s.Tiers {
		threshold, err := oracle.ScaleDecimal(t.USD, 18)
		if err != nil {
			return fmt.Errorf("tiers[%d]: %w", i, err)
		}
		if i > 0 && !threshold.Gt(s.tiers[i-1].USDThreshold) {
			return fmt.Errorf("tiers[%d]: threshold must exceed %q", i, s.tiers[i-1].Label)
		}
		s.tiers = append(s.tiers, staking.Tier{Label: strings.TrimSpace(t.Label), USDThreshold: threshold})
	}
	return nil
}

func parseAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	value, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return value, nil
}

// parseAccount accepts a bech32 or hex address, or module:<name>.
func parseAccount(raw string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if name, ok := strings.CutPrefix(trimmed, modulePrefix); ok {
		if strings.TrimSpace(name) == "" {
			return crypto.Address{}, fmt.Errorf("module name required")
		}
		return crypto.ModuleAddress(name), nil
	}
	addr, err := crypto.ParseAddress(trimmed)
	if err != nil {
		return crypto.Address{}, err
	}
	if addr.IsZero() {
		return crypto.Address{}, fmt.Errorf("zero address")
	}
	return addr, nil
}

func parseAccounts(raw []string) ([]crypto.Address, error) {
	out := make([]crypto.Address, 0, len(raw))
	for i, entry := range raw {
		addr, err := parseAccount(entry)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, addr)
	}
	return out, nil
}
