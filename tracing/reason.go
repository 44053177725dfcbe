package tracing

// BalanceChangeReason is a description of the reason why a balance was changed.
type BalanceChangeReason int

const (
	BalanceChangeUnspecified BalanceChangeReason = iota
	BalanceChangeTransfer
	BalanceChangeFee
	BalanceChangeReward
	BalanceChangeUncleReward
	BalanceChangeWithdrawal
	BalanceChangeGasRefund
	BalanceChangeSystemCall
)

// NonceChangeReason is a description of the reason why a nonce was changed.
type NonceChangeReason int

const (
	NonceChangeUnspecified NonceChangeReason = iota
	NonceChangeExecution
	NonceChangeContractCreation
	NonceChangeSystemCall
)

// String returns a human-readable string for the reason.
func (r BalanceChangeReason) String() string {
	switch r {
	case BalanceChangeUnspecified:
		return "unspecified"
	case BalanceChangeTransfer:
		return "transfer"
	case BalanceChangeFee:
		return "fee"
	case BalanceChangeReward:
		return "reward"
	case BalanceChangeUncleReward:
		return "uncle_reward"
	case BalanceChangeWithdrawal:
		return "withdrawal"
	case BalanceChangeGasRefund:
		return "gas_refund"
	case BalanceChangeSystemCall:
		return "system_call"
	}
	return "unknown"
}

// String returns a human-readable string for the reason.
func (r NonceChangeReason) String() string {
	switch r {
	case NonceChangeUnspecified:
		return "unspecified"
	case NonceChangeExecution:
		return "execution"
	case NonceChangeContractCreation:
		return "contract_creation"
	case NonceChangeSystemCall:
		return "system_call"
	}
	return "unknown"
}
