package rpc

import (
	nativecommon "reflexstake/native/common"
)

func (s *Server) registerMethods() map[string]method {
	ledger := nativecommon.ModuleLedger
	stake := nativecommon.ModuleStaking
	return map[string]method{
		"ledger_balance":      {module: ledger, handler: s.ledgerBalance},
		"ledger_account":      {module: ledger, handler: s.ledgerAccount},
		"ledger_summary":      {module: ledger, handler: s.ledgerSummary},
		"ledger_audit":        {module: ledger, handler: s.ledgerAudit},
		"ledger_transfer":     {module: ledger, scope: ScopeAccount, handler: s.ledgerTransfer},
		"stake_get":           {module: stake, handler: s.stakeGet},
		"stake_effectiveTier": {module: stake, handler: s.stakeEffectiveTier},
		"stake_hasTierAccess": {module: stake, handler: s.stakeHasTierAccess},
		"stake_tiers":         {module: stake, handler: s.stakeTiers},
		"stake_policy":        {module: stake, handler: s.stakePolicy},
		"stake_lock":          {module: stake, scope: ScopeAccount, handler: s.stakeLock},
		"stake_unlock":        {module: stake, scope: ScopeAccount, handler: s.stakeUnlock},
		"stake_refreshTier":   {module: stake, scope: ScopeAccount, handler: s.stakeRefreshTier},
		"yield_totals":        {module: stake, handler: s.yieldTotals},
		"oracle_price":        {module: stake, handler: s.oraclePrice},
		"events_recent":       {module: "events", handler: s.eventsRecent},

		"admin_setPaused":          {module: "admin", scope: ScopeAdmin, handler: s.adminSetPaused},
		"admin_setFeeSchedule":     {module: ledger, scope: ScopeAdmin, handler: s.adminSetFeeSchedule},
		"admin_setRewardExclusion": {module: ledger, scope: ScopeAdmin, handler: s.adminSetRewardExclusion},
		"admin_setFeeExemption":    {module: ledger, scope: ScopeAdmin, handler: s.adminSetFeeExemption},
		"admin_setTransferCap":     {module: ledger, scope: ScopeAdmin, handler: s.adminSetTransferCap},
		"admin_settleFees":         {module: ledger, scope: ScopeAdmin, handler: s.adminSettleFees},
		"admin_addTier":            {module: stake, scope: ScopeAdmin, handler: s.adminAddTier},
		"admin_updateTier":         {module: stake, scope: ScopeAdmin, handler: s.adminUpdateTier},
		"admin_removeTier":         {module: stake, scope: ScopeAdmin, handler: s.adminRemoveTier},
		"admin_setLockPolicy":      {module: stake, scope: ScopeAdmin, handler: s.adminSetLockPolicy},
		"admin_setYieldParams":     {module: stake, scope: ScopeAdmin, handler: s.adminSetYieldParams},
		"admin_deployToYield":      {module: stake, scope: ScopeAdmin, handler: s.adminDeployToYield},
		"admin_withdrawFromYield":  {module: stake, scope: ScopeAdmin, handler: s.adminWithdrawFromYield},
		"admin_checkDeployment":    {module: stake, scope: ScopeAdmin, handler: s.adminCheckDeployment},
		"admin_reconcile":          {module: stake, scope: ScopeAdmin, handler: s.adminReconcile},
		"admin_checkpoint":         {module: "admin", scope: ScopeAdmin, handler: s.adminCheckpoint},
	}
}
