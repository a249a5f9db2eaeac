package bridge

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// WalletConnector is the narrow surface the orchestrators need from the
// wallet/provider layer. Every method suspends on the underlying provider
// and honors context cancellation; an already-broadcast transaction cannot
// be cancelled, only its tracking abandoned.
//
// The connector owns account and chain state. Orchestrators never cache
// either: users can switch accounts or networks externally mid-session, so
// both are re-read immediately before every state-mutating operation.
type WalletConnector interface {
	// Account returns the connected account address.
	// Fails with a chain_read_error when no wallet is connected.
	Account(ctx context.Context) (common.Address, error)

	// ChainID returns the currently active chain id.
	ChainID(ctx context.Context) (uint64, error)

	// RequestChainSwitch asks the wallet to switch to the given chain.
	// May suspend awaiting user approval; an error means the user declined
	// or the wallet cannot switch.
	RequestChainSwitch(ctx context.Context, chainID uint64) error

	// Call executes a read-only contract call.
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)

	// NativeBalance returns the native-currency balance of an account.
	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)

	// SendTransaction signs and broadcasts a transaction, suspending while
	// the user confirms in their wallet. Returns the transaction hash.
	// Fails with user_rejected when the wallet prompt is declined.
	SendTransaction(ctx context.Context, tx TxRequest) (common.Hash, error)

	// WaitForConfirmation blocks until the transaction is mined (one block
	// minimum) or the timeout elapses. A timeout does not assert on-chain
	// failure: the transaction may still confirm later.
	WaitForConfirmation(ctx context.Context, txHash common.Hash, timeout time.Duration) (*TxReceipt, error)
}
