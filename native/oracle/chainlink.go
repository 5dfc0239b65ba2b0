package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const aggregatorV3ABI = `[
  {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"latestRoundData","outputs":[
    {"internalType":"uint80","name":"roundId","type":"uint80"},
    {"internalType":"int256","name":"answer","type":"int256"},
    {"internalType":"uint256","name":"startedAt","type":"uint256"},
    {"internalType":"uint256","name":"updatedAt","type":"uint256"},
    {"internalType":"uint80","name":"answeredInRound","type":"uint80"}
  ],"stateMutability":"view","type":"function"}
]`

var aggregatorABI = mustParseABI(aggregatorV3ABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("oracle: parse aggregator abi: %v", err))
	}
	return parsed
}

// ChainlinkFeed reads AggregatorV3 price feeds through an EVM contract caller.
// Feed identifiers map to aggregator contract addresses.
type ChainlinkFeed struct {
	caller    ethereum.ContractCaller
	contracts map[string]common.Address

	mu       sync.Mutex
	decimals map[common.Address]uint8
}

// NewChainlinkFeed constructs a feed over the supplied caller. Contract
// addresses are hex strings keyed by feed id.
func NewChainlinkFeed(caller ethereum.ContractCaller, contracts map[string]string) (*ChainlinkFeed, error) {
	if caller == nil {
		return nil, fmt.Errorf("chainlink feed: contract caller required")
	}
	mapped := make(map[string]common.Address, len(contracts))
	for feedID, hex := range contracts {
		trimmed := strings.TrimSpace(hex)
		if !common.IsHexAddress(trimmed) {
			return nil, fmt.Errorf("chainlink feed: invalid aggregator address %q for %s", hex, feedID)
		}
		mapped[manualKey(feedID)] = common.HexToAddress(trimmed)
	}
	return &ChainlinkFeed{caller: caller, contracts: mapped, decimals: make(map[common.Address]uint8)}, nil
}

// GetPrice implements Feed.
func (f *ChainlinkFeed) GetPrice(ctx context.Context, feedID string) (Price, error) {
	if f == nil {
		return Price{}, fmt.Errorf("chainlink feed not configured")
	}
	contract, ok := f.contracts[manualKey(feedID)]
	if !ok {
		return Price{}, fmt.Errorf("chainlink feed: no aggregator for %s", feedID)
	}
	decimals, err := f.aggregatorDecimals(ctx, contract)
	if err != nil {
		return Price{}, err
	}
	out, err := f.call(ctx, contract, "latestRoundData")
	if err != nil {
		return Price{}, err
	}
	if len(out) != 5 {
		return Price{}, fmt.Errorf("chainlink feed: unexpected round data arity %d", len(out))
	}
	answer, ok := out[1].(*big.Int)
	if !ok || answer.Sign() <= 0 {
		return Price{}, fmt.Errorf("chainlink feed: non-positive answer for %s", feedID)
	}
	updatedAt, ok := out[3].(*big.Int)
	if !ok || updatedAt.Sign() <= 0 || !updatedAt.IsInt64() {
		return Price{}, fmt.Errorf("chainlink feed: round for %s has no update time", feedID)
	}
	roundID, _ := out[0].(*big.Int)
	answeredIn, _ := out[4].(*big.Int)
	if roundID != nil && answeredIn != nil && answeredIn.Cmp(roundID) < 0 {
		return Price{}, fmt.Errorf("chainlink feed: round %s for %s answered in stale round %s", roundID, feedID, answeredIn)
	}
	value, overflow := uint256.FromBig(answer)
	if overflow {
		return Price{}, fmt.Errorf("chainlink feed: answer overflows")
	}
	return Price{Value: value, Decimals: decimals, AsOf: time.Unix(updatedAt.Int64(), 0)}, nil
}

func (f *ChainlinkFeed) aggregatorDecimals(ctx context.Context, contract common.Address) (uint8, error) {
	f.mu.Lock()
	cached, ok := f.decimals[contract]
	f.mu.Unlock()
	if ok {
		return cached, nil
	}
	out, err := f.call(ctx, contract, "decimals")
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("chainlink feed: unexpected decimals arity %d", len(out))
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("chainlink feed: decimals has type %T", out[0])
	}
	f.mu.Lock()
	f.decimals[contract] = decimals
	f.mu.Unlock()
	return decimals, nil
}

func (f *ChainlinkFeed) call(ctx context.Context, contract common.Address, method string) ([]interface{}, error) {
	data, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("chainlink feed: pack %s: %w", method, err)
	}
	to := contract
	raw, err := f.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chainlink feed: call %s: %w", method, err)
	}
	out, err := aggregatorABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("chainlink feed: unpack %s: %w", method, err)
	}
	return out, nil
}
