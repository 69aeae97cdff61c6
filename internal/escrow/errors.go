package escrow

import "errors"

var (
	// ErrRelayRejected means the relay declined the meta-transaction after the
	// one permitted payment-and-resubmit cycle.
	ErrRelayRejected = errors.New("escrow: relay rejected request")

	// ErrSpendFailed wraps a spend that could not be submitted on either path.
	ErrSpendFailed = errors.New("escrow: spend failed")

	// ErrTxReverted is returned by WaitMined when the transaction was included
	// but reverted.
	ErrTxReverted = errors.New("escrow: transaction reverted")
)
