package rpc

import "reflexstake/native/staking"

type amountParams struct {
	Amount string `json:"amount"`
}

type tierAccessParams struct {
	Address string `json:"address"`
	Label   string `json:"label"`
}

func (s *Server) stakeGet(c *call) (interface{}, error) {
	addr, err := decodeAddressParam(c.req)
	if err != nil {
		return nil, err
	}
	record, ok := s.machine.StakeOf(addr)
	if !ok {
		return nil, staking.ErrNoStake
	}
	unlock, _ := s.machine.UnlockTime(addr)
	return stakeRecordJSON(record, unlock), nil
}

func (s *Server) stakeEffectiveTier(c *call) (interface{}, error) {
	addr, err := decodeAddressParam(c.req)
	if err != nil {
		return nil, err
	}
	res, err := s.machine.EffectiveTier(c.ctx, addr)
	if err != nil {
		return nil, err
	}
	return TierResolutionJSON{
		Owner:    addr.String(),
		Index:    res.Index,
		Label:    res.Label,
		USDValue: amountString(res.USDValue),
		Price:    priceJSON(res.Price),
	}, nil
}

func (s *Server) stakeHasTierAccess(c *call) (interface{}, error) {
	var params tierAccessParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	addr, err := parseAddress("address", params.Address)
	if err != nil {
		return nil, err
	}
	ok, err := s.machine.HasTierAccess(c.ctx, addr, params.Label)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"address": addr.String(), "label": params.Label, "access": ok}, nil
}

func (s *Server) stakeTiers(*call) (interface{}, error) {
	return tiersJSON(s.machine.Tiers()), nil
}

func (s *Server) stakePolicy(*call) (interface{}, error) {
	return policyResult(s.machine.StakingPolicy()), nil
}

func (s *Server) stakeLock(c *call) (interface{}, error) {
	var params amountParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		return nil, err
	}
	res, err := s.machine.Stake(c.ctx, c.caller.Address, amount)
	if err != nil {
		return nil, err
	}
	unlock, _ := s.machine.UnlockTime(c.caller.Address)
	return StakeResult{
		Record:   stakeRecordJSON(res.Record, unlock),
		Deployed: amountString(res.Deployed),
		Warnings: warnings(res.DeployErr, res.TierErr),
	}, nil
}

func (s *Server) stakeUnlock(c *call) (interface{}, error) {
	var params amountParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		return nil, err
	}
	res, err := s.machine.Unstake(c.ctx, c.caller.Address, amount)
	if err != nil {
		return nil, err
	}
	unlock, _ := s.machine.UnlockTime(c.caller.Address)
	return UnstakeResult{
		Record:   stakeRecordJSON(res.Record, unlock),
		Recalled: amountString(res.Recalled),
		Warnings: warnings(res.TierErr),
	}, nil
}

func (s *Server) stakeRefreshTier(c *call) (interface{}, error) {
	addr, err := decodeAddressParam(c.req)
	if err != nil {
		return nil, err
	}
	record, err := s.machine.RefreshTier(c.ctx, addr)
	if err != nil {
		return nil, err
	}
	unlock, _ := s.machine.UnlockTime(addr)
	return stakeRecordJSON(record, unlock), nil
}

func (s *Server) yieldTotals(*call) (interface{}, error) {
	return yieldResult(s.machine.YieldTotals()), nil
}

func (s *Server) oraclePrice(c *call) (interface{}, error) {
	snap, err := s.machine.Price(c.ctx)
	if err != nil {
		return nil, err
	}
	return priceJSON(snap), nil
}

// warnings renders best-effort failures that did not abort the operation.
func warnings(errs ...error) []string {
	var out []string
	for _, err := range errs {
		if err != nil {
			out = append(out, err.Error())
		}
	}
	return out
}
