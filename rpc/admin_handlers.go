package rpc

import (
	"strings"
	"time"

	"reflexstake/native/staking"
)

type pauseParams struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

type exclusionParams struct {
	Address  string `json:"address"`
	Excluded bool   `json:"excluded"`
}

type transferCapParams struct {
	Amount string `json:"amount"`
}

type sinkParams struct {
	Sink string `json:"sink"`
}

type tierParams struct {
	Index         int    `json:"index"`
	ExpectedLabel string `json:"expectedLabel"`
	Label         string `json:"label"`
	USD           string `json:"usd"`
}

type lockPolicyParams struct {
	MinLockDuration *string `json:"minLockDuration,omitempty"`
	LockOverride    *string `json:"lockOverride,omitempty"`
	ClearOverride   bool    `json:"clearOverride,omitempty"`
}

type yieldParams struct {
	MaxDeploymentBps *uint32 `json:"maxDeploymentBps,omitempty"`
	MinReserve       *string `json:"minReserve,omitempty"`
	AutoDeploy       *bool   `json:"autoDeploy,omitempty"`
}

type reconcileParams struct {
	Mode string `json:"mode"`
}

var okResult = map[string]bool{"ok": true}

func (s *Server) adminSetPaused(c *call) (interface{}, error) {
	var params pauseParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	module := strings.ToLower(strings.TrimSpace(params.Module))
	if err := s.machine.SetPaused(c.ctx, c.caller.Address, module, params.Paused); err != nil {
		return nil, err
	}
	return map[string]interface{}{"paused": s.machine.Paused()}, nil
}

func (s *Server) adminSetFeeSchedule(c *call) (interface{}, error) {
	var params FeeScheduleJSON
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	schedule, err := params.schedule()
	if err != nil {
		return nil, err
	}
	if err := s.machine.SetFeeSchedule(c.ctx, c.caller.Address, schedule); err != nil {
		return nil, err
	}
	return feeScheduleJSON(s.machine.Ledger().Fees), nil
}

func (s *Server) adminSetRewardExclusion(c *call) (interface{}, error) {
	var params exclusionParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	addr, err := parseAddress("address", params.Address)
	if err != nil {
		return nil, err
	}
	if err := s.machine.SetExcludedFromReward(c.ctx, c.caller.Address, addr, params.Excluded); err != nil {
		return nil, err
	}
	return accountResult(s.machine.Account(addr)), nil
}

func (s *Server) adminSetFeeExemption(c *call) (interface{}, error) {
	var params exclusionParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	addr, err := parseAddress("address", params.Address)
	if err != nil {
		return nil, err
	}
	if err := s.machine.SetExcludedFromFee(c.ctx, c.caller.Address, addr, params.Excluded); err != nil {
		return nil, err
	}
	return accountResult(s.machine.Account(addr)), nil
}

// adminSetTransferCap installs the cap; an empty or zero amount disables it.
func (s *Server) adminSetTransferCap(c *call) (interface{}, error) {
	var params transferCapParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	limit, err := parseOptionalAmount("amount", params.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.machine.SetMaxTransferAmount(c.ctx, c.caller.Address, limit); err != nil {
		return nil, err
	}
	return okResult, nil
}

func (s *Server) adminSettleFees(c *call) (interface{}, error) {
	var params sinkParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	sink, err := parseAddress("sink", params.Sink)
	if err != nil {
		return nil, err
	}
	settlement, err := s.machine.SettleFees(c.ctx, c.caller.Address, sink)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"sink":      settlement.Sink.String(),
		"amount":    amountString(settlement.Amount),
		"reference": settlement.Reference,
	}, nil
}

func (p tierParams) tier() (staking.Tier, error) {
	usd, err := parseUSD("usd", p.USD)
	if err != nil {
		return staking.Tier{}, err
	}
	return staking.Tier{Label: p.Label, USDThreshold: usd}, nil
}

func (s *Server) adminAddTier(c *call) (interface{}, error) {
	var params tierParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	tier, err := params.tier()
	if err != nil {
		return nil, err
	}
	if _, err := s.machine.AddTier(c.ctx, c.caller.Address, tier); err != nil {
		return nil, err
	}
	return tiersJSON(s.machine.Tiers()), nil
}

func (s *Server) adminUpdateTier(c *call) (interface{}, error) {
	var params tierParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	tier, err := params.tier()
	if err != nil {
		return nil, err
	}
	if err := s.machine.UpdateTier(c.ctx, c.caller.Address, params.Index, params.ExpectedLabel, tier); err != nil {
		return nil, err
	}
	return tiersJSON(s.machine.Tiers()), nil
}

func (s *Server) adminRemoveTier(c *call) (interface{}, error) {
	var params tierParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	if err := s.machine.RemoveTier(c.ctx, c.caller.Address, params.Index, params.ExpectedLabel); err != nil {
		return nil, err
	}
	return tiersJSON(s.machine.Tiers()), nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, invalidParams("invalid "+field, err.Error())
	}
	if d < 0 {
		return 0, invalidParams(field+" must not be negative", nil)
	}
	return d, nil
}

func (s *Server) adminSetLockPolicy(c *call) (interface{}, error) {
	var params lockPolicyParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	if params.ClearOverride && params.LockOverride != nil {
		return nil, invalidParams("lockOverride and clearOverride are exclusive", nil)
	}
	if params.MinLockDuration != nil {
		d, err := parseDuration("minLockDuration", *params.MinLockDuration)
		if err != nil {
			return nil, err
		}
		if err := s.machine.SetMinLockDuration(c.ctx, c.caller.Address, d); err != nil {
			return nil, err
		}
	}
	switch {
	case params.ClearOverride:
		if err := s.machine.SetLockOverride(c.ctx, c.caller.Address, nil); err != nil {
			return nil, err
		}
	case params.LockOverride != nil:
		d, err := parseDuration("lockOverride", *params.LockOverride)
		if err != nil {
			return nil, err
		}
		if err := s.machine.SetLockOverride(c.ctx, c.caller.Address, &d); err != nil {
			return nil, err
		}
	}
	return policyResult(s.machine.StakingPolicy()), nil
}

func (s *Server) adminSetYieldParams(c *call) (interface{}, error) {
	var params yieldParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	if params.MaxDeploymentBps != nil {
		if err := s.machine.SetMaxDeploymentBps(c.ctx, c.caller.Address, *params.MaxDeploymentBps); err != nil {
			return nil, err
		}
	}
	if params.MinReserve != nil {
		reserve, err := parseOptionalAmount("minReserve", *params.MinReserve)
		if err != nil {
			return nil, err
		}
		if err := s.machine.SetMinReserve(c.ctx, c.caller.Address, reserve); err != nil {
			return nil, err
		}
	}
	if params.AutoDeploy != nil {
		if err := s.machine.SetAutoDeploy(c.ctx, c.caller.Address, *params.AutoDeploy); err != nil {
			return nil, err
		}
	}
	return yieldResult(s.machine.YieldTotals()), nil
}

func (s *Server) adminDeployToYield(c *call) (interface{}, error) {
	var params amountParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		return nil, err
	}
	accepted, err := s.machine.DeployToYield(c.ctx, c.caller.Address, amount)
	if err != nil {
		return nil, err
	}
	return AmountResult{Amount: amountString(accepted)}, nil
}

func (s *Server) adminWithdrawFromYield(c *call) (interface{}, error) {
	var params amountParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		return nil, err
	}
	returned, err := s.machine.WithdrawFromYield(c.ctx, c.caller.Address, amount)
	if err != nil {
		return nil, err
	}
	return AmountResult{Amount: amountString(returned)}, nil
}

func (s *Server) adminCheckDeployment(c *call) (interface{}, error) {
	check, err := s.machine.CheckDeployment(c.ctx)
	if err != nil {
		return nil, err
	}
	return DeploymentCheckResult{
		DeployedShares:  amountString(check.DeployedShares),
		StrategyBalance: amountString(check.StrategyBalance),
		Healthy:         check.Healthy,
	}, nil
}

func (s *Server) adminReconcile(c *call) (interface{}, error) {
	var params reconcileParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	mode := staking.ReconcileMode(strings.ToLower(strings.TrimSpace(params.Mode)))
	if mode != staking.ReconcileRedeploy && mode != staking.ReconcileReset {
		return nil, invalidParams("mode must be redeploy or reset", params.Mode)
	}
	res, err := s.machine.Reconcile(c.ctx, c.caller.Address, mode)
	if err != nil {
		return nil, err
	}
	return ReconcileResultJSON{
		Mode:            string(res.Mode),
		DeployedBefore:  amountString(res.DeployedBefore),
		DeployedAfter:   amountString(res.DeployedAfter),
		StrategyBalance: amountString(res.StrategyBalance),
		Deposited:       amountString(res.Deposited),
	}, nil
}

func (s *Server) adminCheckpoint(c *call) (interface{}, error) {
	seq, err := s.machine.Checkpoint(c.ctx)
	if err != nil {
		return nil, err
	}
	return map[string]uint64{"sequence": seq}, nil
}
