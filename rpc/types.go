package rpc

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"reflexstake/core"
	"reflexstake/crypto"
	"reflexstake/native/oracle"
	"reflexstake/native/reflection"
	"reflexstake/native/staking"
)

// decodeParams unmarshals the single parameter object of a request.
func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return invalidParams("exactly one parameter object expected", nil)
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return invalidParams("invalid parameter object", err.Error())
	}
	return nil
}

// decodeAddressParam accepts either ["addr"] or [{"address": "addr"}].
func decodeAddressParam(req *RPCRequest) (crypto.Address, error) {
	if len(req.Params) != 1 {
		return crypto.Address{}, invalidParams("address parameter required", nil)
	}
	var raw string
	if err := json.Unmarshal(req.Params[0], &raw); err != nil {
		var obj struct {
			Address string `json:"address"`
		}
		if err := json.Unmarshal(req.Params[0], &obj); err != nil {
			return crypto.Address{}, invalidParams("invalid address parameter", err.Error())
		}
		raw = obj.Address
	}
	return parseAddress("address", raw)
}

func parseAddress(field, raw string) (crypto.Address, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return crypto.Address{}, invalidParams(fmt.Sprintf("invalid %s", field), err.Error())
	}
	return addr, nil
}

func parseAmount(field, raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, invalidParams(fmt.Sprintf("%s is required", field), nil)
	}
	value, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, invalidParams(fmt.Sprintf("invalid %s", field), err.Error())
	}
	if value.IsZero() {
		return nil, invalidParams(fmt.Sprintf("%s must be positive", field), nil)
	}
	return value, nil
}

// parseOptionalAmount treats an empty string as zero.
func parseOptionalAmount(field, raw string) (*uint256.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return new(uint256.Int), nil
	}
	value, err := uint256.FromDecimal(strings.TrimSpace(raw))
	if err != nil {
		return nil, invalidParams(fmt.Sprintf("invalid %s", field), err.Error())
	}
	return value, nil
}

func parseUSD(field, raw string) (*uint256.Int, error) {
	value, err := oracle.ScaleDecimal(raw, 18)
	if err != nil {
		return nil, invalidParams(fmt.Sprintf("invalid %s", field), err.Error())
	}
	return value, nil
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

type AccountResult struct {
	Address            string `json:"address"`
	Balance            string `json:"balance"`
	ExcludedFromReward bool   `json:"excludedFromReward"`
	ExcludedFromFee    bool   `json:"excludedFromFee"`
}

func accountResult(view reflection.AccountView) AccountResult {
	return AccountResult{
		Address:            view.Address.String(),
		Balance:            amountString(view.Balance),
		ExcludedFromReward: view.ExcludedFromReward,
		ExcludedFromFee:    view.ExcludedFromFee,
	}
}

type FeeComponentJSON struct {
	Name    string `json:"name"`
	Bps     uint32 `json:"bps"`
	Sink    string `json:"sink,omitempty"`
	Reflect bool   `json:"reflect"`
}

type FeeScheduleJSON struct {
	Version    uint64             `json:"version"`
	Components []FeeComponentJSON `json:"components"`
}

func feeScheduleJSON(s reflection.FeeSchedule) FeeScheduleJSON {
	out := FeeScheduleJSON{Version: s.Version, Components: make([]FeeComponentJSON, 0, len(s.Components))}
	for _, c := range s.Components {
		entry := FeeComponentJSON{Name: c.Name, Bps: c.Bps, Reflect: c.Reflect}
		if !c.Sink.IsZero() {
			entry.Sink = c.Sink.String()
		}
		out.Components = append(out.Components, entry)
	}
	return out
}

func (s FeeScheduleJSON) schedule() (reflection.FeeSchedule, error) {
	out := reflection.FeeSchedule{Components: make([]reflection.FeeComponent, 0, len(s.Components))}
	for i, c := range s.Components {
		component := reflection.FeeComponent{Name: c.Name, Bps: c.Bps, Reflect: c.Reflect}
		if strings.TrimSpace(c.Sink) != "" {
			sink, err := parseAddress(fmt.Sprintf("components[%d].sink", i), c.Sink)
			if err != nil {
				return reflection.FeeSchedule{}, err
			}
			component.Sink = sink
		}
		out.Components = append(out.Components, component)
	}
	return out, nil
}

type LedgerResult struct {
	TotalSupply     string          `json:"totalSupply"`
	Rate            string          `json:"rate"`
	ReflectedSupply string          `json:"reflectedSupply"`
	SumExcludedTrue string          `json:"sumExcludedTrue"`
	MaxTransfer     string          `json:"maxTransfer,omitempty"`
	Fees            FeeScheduleJSON `json:"fees"`
	Paused          []string        `json:"paused"`
}

func ledgerResult(s core.LedgerSummary, paused []string) LedgerResult {
	out := LedgerResult{
		TotalSupply:     amountString(s.TotalSupply),
		Rate:            amountString(s.Rate),
		ReflectedSupply: amountString(s.ReflectedSupply),
		SumExcludedTrue: amountString(s.SumExcludedTrue),
		Fees:            feeScheduleJSON(s.Fees),
		Paused:          paused,
	}
	if s.MaxTransfer != nil {
		out.MaxTransfer = s.MaxTransfer.Dec()
	}
	if out.Paused == nil {
		out.Paused = []string{}
	}
	return out
}

type AuditResult struct {
	TotalSupply string `json:"totalSupply"`
	Accounted   string `json:"accounted"`
	Drift       string `json:"drift"`
	Included    int    `json:"included"`
	Excluded    int    `json:"excluded"`
	Conserved   bool   `json:"conserved"`
}

type SinkCreditJSON struct {
	Component string `json:"component"`
	Sink      string `json:"sink"`
	Amount    string `json:"amount"`
}

type TransferResult struct {
	From      string           `json:"from"`
	To        string           `json:"to"`
	Amount    string           `json:"amount"`
	Net       string           `json:"net"`
	Fee       string           `json:"fee"`
	Reflected string           `json:"reflected"`
	Sinks     []SinkCreditJSON `json:"sinks"`
}

func transferResult(res reflection.TransferResult) TransferResult {
	out := TransferResult{
		From:      res.From.String(),
		To:        res.To.String(),
		Amount:    amountString(res.Amount),
		Net:       amountString(res.Net),
		Fee:       amountString(res.Fee),
		Reflected: amountString(res.Reflected),
		Sinks:     make([]SinkCreditJSON, 0, len(res.Sinks)),
	}
	for _, sink := range res.Sinks {
		out.Sinks = append(out.Sinks, SinkCreditJSON{Component: sink.Component, Sink: sink.Sink.String(), Amount: amountString(sink.Amount)})
	}
	return out
}

type StakeRecordJSON struct {
	Owner         string `json:"owner"`
	Principal     string `json:"principal"`
	FirstLockTime int64  `json:"firstLockTime"`
	LastLockTime  int64  `json:"lastLockTime"`
	UnlockTime    int64  `json:"unlockTime"`
	TierIndex     int    `json:"tierIndex"`
}

func stakeRecordJSON(record staking.StakeRecord, unlock time.Time) StakeRecordJSON {
	return StakeRecordJSON{
		Owner:         record.Owner.String(),
		Principal:     amountString(record.Principal),
		FirstLockTime: unixOrZero(record.FirstLockTime),
		LastLockTime:  unixOrZero(record.LastLockTime),
		UnlockTime:    unixOrZero(unlock),
		TierIndex:     record.TierIndexAtLastUpdate,
	}
}

type StakeResult struct {
	Record   StakeRecordJSON `json:"record"`
	Deployed string          `json:"deployed"`
	Warnings []string        `json:"warnings,omitempty"`
}

type UnstakeResult struct {
	Record   StakeRecordJSON `json:"record"`
	Recalled string          `json:"recalled"`
	Warnings []string        `json:"warnings,omitempty"`
}

type TierJSON struct {
	Index        int    `json:"index"`
	Label        string `json:"label"`
	USDThreshold string `json:"usdThreshold"`
}

func tiersJSON(tiers []staking.Tier) []TierJSON {
	out := make([]TierJSON, 0, len(tiers))
	for i, t := range tiers {
		out = append(out, TierJSON{Index: i, Label: t.Label, USDThreshold: amountString(t.USDThreshold)})
	}
	return out
}

type PriceJSON struct {
	FeedID   string `json:"feedId"`
	Value    string `json:"value"`
	Decimals uint8  `json:"decimals"`
	AsOf     int64  `json:"asOf"`
	Source   string `json:"source"`
	AgeMs    int64  `json:"ageMs"`
}

func priceJSON(snap oracle.Snapshot) PriceJSON {
	return PriceJSON{
		FeedID:   snap.FeedID,
		Value:    amountString(snap.Price.Value),
		Decimals: snap.Price.Decimals,
		AsOf:     unixOrZero(snap.Price.AsOf),
		Source:   string(snap.Source),
		AgeMs:    snap.Age.Milliseconds(),
	}
}

type TierResolutionJSON struct {
	Owner    string    `json:"owner"`
	Index    int       `json:"index"`
	Label    string    `json:"label,omitempty"`
	USDValue string    `json:"usdValue"`
	Price    PriceJSON `json:"price"`
}

type PolicyResult struct {
	MinLockDuration string     `json:"minLockDuration"`
	LockOverride    *string    `json:"lockOverride,omitempty"`
	TotalLocked     string     `json:"totalLocked"`
	Tiers           []TierJSON `json:"tiers"`
}

func policyResult(p core.StakingPolicy) PolicyResult {
	out := PolicyResult{
		MinLockDuration: p.MinLockDuration.String(),
		TotalLocked:     amountString(p.TotalLocked),
		Tiers:           tiersJSON(p.Tiers),
	}
	if p.LockOverride != nil {
		override := p.LockOverride.String()
		out.LockOverride = &override
	}
	return out
}

type YieldResult struct {
	TotalLocked      string `json:"totalLocked"`
	LocalBalance     string `json:"localBalance"`
	DeployedShares   string `json:"deployedShares"`
	DeploymentCap    string `json:"deploymentCap"`
	MaxDeploymentBps uint32 `json:"maxDeploymentBps"`
	MinReserve       string `json:"minReserve"`
	AutoDeploy       bool   `json:"autoDeploy"`
	Custody          string `json:"custody,omitempty"`
}

func yieldResult(t staking.YieldTotals) YieldResult {
	out := YieldResult{
		TotalLocked:      amountString(t.TotalLocked),
		LocalBalance:     amountString(t.LocalBalance),
		DeployedShares:   amountString(t.DeployedShares),
		DeploymentCap:    amountString(t.DeploymentCap),
		MaxDeploymentBps: t.MaxDeploymentBps,
		MinReserve:       amountString(t.MinReserve),
		AutoDeploy:       t.AutoDeploy,
	}
	if !t.Custody.IsZero() {
		out.Custody = t.Custody.String()
	}
	return out
}

type DeploymentCheckResult struct {
	DeployedShares  string `json:"deployedShares"`
	StrategyBalance string `json:"strategyBalance"`
	Healthy         bool   `json:"healthy"`
}

type ReconcileResultJSON struct {
	Mode            string `json:"mode"`
	DeployedBefore  string `json:"deployedBefore"`
	DeployedAfter   string `json:"deployedAfter"`
	StrategyBalance string `json:"strategyBalance"`
	Deposited       string `json:"deposited"`
}

type AmountResult struct {
	Amount string `json:"amount"`
}
