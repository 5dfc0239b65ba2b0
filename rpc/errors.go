package rpc

import (
	"errors"
	"net/http"

	coreerrors "reflexstake/core/errors"
	nativecommon "reflexstake/native/common"
	"reflexstake/native/staking"
)

var rejected = []error{
	coreerrors.ErrInvalidAmount,
	coreerrors.ErrInsufficientBalance,
	coreerrors.ErrTransferCapExceeded,
	coreerrors.ErrInvalidFeeSchedule,
	coreerrors.ErrArithmeticOverflow,
	coreerrors.ErrRateUnderflow,
	coreerrors.ErrLockDurationNotMet,
	coreerrors.ErrInvalidTierIndex,
	coreerrors.ErrInvalidTier,
	coreerrors.ErrDeploymentCapExceeded,
	coreerrors.ErrDeployedSharesMismatch,
	staking.ErrNoStake,
}

var unavailable = []error{
	coreerrors.ErrPriceUnavailable,
	coreerrors.ErrAdapterCallFailed,
	coreerrors.ErrStrategyNotConfigured,
}

// classify maps a method error onto the HTTP status and JSON-RPC error it is
// reported with.
func classify(err error) (status, code int, message string, data interface{}) {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return http.StatusBadRequest, rpcErr.Code, rpcErr.Message, rpcErr.Data
	}
	switch {
	case errors.Is(err, coreerrors.ErrUnauthorized):
		return http.StatusForbidden, codeForbidden, "caller not authorized", nil
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusConflict, codePaused, err.Error(), nil
	}
	for _, target := range unavailable {
		if errors.Is(err, target) {
			return http.StatusServiceUnavailable, codeUnavailable, err.Error(), nil
		}
	}
	for _, target := range rejected {
		if errors.Is(err, target) {
			return http.StatusUnprocessableEntity, codeRejected, err.Error(), nil
		}
	}
	return http.StatusInternalServerError, codeServerError, "internal error", nil
}

func invalidParams(message string, data interface{}) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: message, Data: data}
}
