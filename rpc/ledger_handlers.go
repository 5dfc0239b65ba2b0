package rpc

type transferParams struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) ledgerBalance(c *call) (interface{}, error) {
	addr, err := decodeAddressParam(c.req)
	if err != nil {
		return nil, err
	}
	return map[string]string{"address": addr.String(), "balance": amountString(s.machine.BalanceOf(addr))}, nil
}

func (s *Server) ledgerAccount(c *call) (interface{}, error) {
	addr, err := decodeAddressParam(c.req)
	if err != nil {
		return nil, err
	}
	return accountResult(s.machine.Account(addr)), nil
}

func (s *Server) ledgerSummary(*call) (interface{}, error) {
	return ledgerResult(s.machine.Ledger(), s.machine.Paused()), nil
}

func (s *Server) ledgerAudit(*call) (interface{}, error) {
	report := s.machine.Audit()
	return AuditResult{
		TotalSupply: amountString(report.TotalSupply),
		Accounted:   amountString(report.Accounted),
		Drift:       amountString(report.Drift),
		Included:    report.Included,
		Excluded:    report.Excluded,
		Conserved:   report.Conserved,
	}, nil
}

// ledgerTransfer moves tokens from the authenticated caller.
func (s *Server) ledgerTransfer(c *call) (interface{}, error) {
	var params transferParams
	if err := decodeParams(c.req, &params); err != nil {
		return nil, err
	}
	to, err := parseAddress("to", params.To)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		return nil, err
	}
	res, err := s.machine.Transfer(c.ctx, c.caller.Address, to, amount)
	if err != nil {
		return nil, err
	}
	return transferResult(res), nil
}
