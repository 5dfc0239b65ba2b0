package events

import (
	"strconv"

	"github.com/holiman/uint256"

	"reflexstake/crypto"
)

func formatAmount(amount *uint256.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.Dec()
}

func formatAddress(addr crypto.Address) string {
	if addr.IsZero() {
		return ""
	}
	return addr.String()
}

func formatBool(v bool) string {
	return strconv.FormatBool(v)
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
