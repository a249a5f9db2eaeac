package bridge

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// AllowanceManager answers whether a spender already holds sufficient
// allowance over a token for the connected account, and issues the approval
// transaction when it does not.
type AllowanceManager struct {
	wallet         WalletConnector
	confirmTimeout time.Duration
	log            *zap.Logger
}

// NewAllowanceManager creates an allowance manager. confirmTimeout bounds
// the wait for approval confirmations; a nil logger disables logging.
func NewAllowanceManager(wallet WalletConnector, confirmTimeout time.Duration, log *zap.Logger) *AllowanceManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &AllowanceManager{wallet: wallet, confirmTimeout: confirmTimeout, log: log}
}

// Allowance reads the current allowance of spender over owner's tokens.
// An RPC failure is a chain_read_error, distinct from a legitimate zero.
func (m *AllowanceManager) Allowance(ctx context.Context, token Token, owner, spender common.Address) (*big.Int, error) {
	out, err := m.wallet.Call(ctx, token.Address, packERC20("allowance", owner, spender))
	if err != nil {
		return nil, NewFlowError(ErrCodeChainRead, fmt.Sprintf("failed to read allowance: %v", err), nil)
	}
	allowance, err := unpackUint256(erc20ABI, "allowance", out)
	if err != nil {
		return nil, NewFlowError(ErrCodeChainRead, fmt.Sprintf("bad allowance response: %v", err), nil)
	}
	return allowance, nil
}

// BalanceOf reads the token balance of an account, handling both ERC-20
// balanceOf and the native-currency balance.
func (m *AllowanceManager) BalanceOf(ctx context.Context, token Token, account common.Address) (*big.Int, error) {
	if token.Native {
		balance, err := m.wallet.NativeBalance(ctx, account)
		if err != nil {
			return nil, NewFlowError(ErrCodeChainRead, fmt.Sprintf("failed to read native balance: %v", err), nil)
		}
		return balance, nil
	}
	out, err := m.wallet.Call(ctx, token.Address, packERC20("balanceOf", account))
	if err != nil {
		return nil, NewFlowError(ErrCodeChainRead, fmt.Sprintf("failed to read balance: %v", err), nil)
	}
	balance, err := unpackUint256(erc20ABI, "balanceOf", out)
	if err != nil {
		return nil, NewFlowError(ErrCodeChainRead, fmt.Sprintf("bad balance response: %v", err), nil)
	}
	return balance, nil
}

// EnsureAllowance guarantees spender holds at least required allowance over
// owner's tokens, submitting at most one approval transaction.
//
// When the current allowance already covers the requirement it returns
// immediately with zero writes. Otherwise the owner's balance is checked
// first — approving an amount the owner cannot fund is never useful — and an
// approval for exactly the required amount is submitted and confirmed. The
// exact amount, not unlimited, keeps the standing approval risk bounded to
// the one intent.
//
// onApproving, when non-nil, is invoked just before the approval transaction
// is submitted so the caller can surface the Approving step.
// Returns the approval transaction hash, or the zero hash when no write was
// needed.
func (m *AllowanceManager) EnsureAllowance(
	ctx context.Context,
	token Token,
	owner, spender common.Address,
	required *big.Int,
	onApproving func(),
) (common.Hash, error) {
	current, err := m.Allowance(ctx, token, owner, spender)
	if err != nil {
		return common.Hash{}, err
	}
	if current.Cmp(required) >= 0 {
		return common.Hash{}, nil
	}

	balance, err := m.BalanceOf(ctx, token, owner)
	if err != nil {
		return common.Hash{}, err
	}
	if balance.Cmp(required) < 0 {
		return common.Hash{}, NewFlowError(ErrCodeInsufficientBalance,
			fmt.Sprintf("balance %s is below the required %s", balance, required),
			map[string]interface{}{"balance": balance.String(), "required": required.String()})
	}

	if onApproving != nil {
		onApproving()
	}
	m.log.Info("submitting approval",
		zap.String("token", token.Symbol),
		zap.Stringer("spender", spender),
		zap.String("amount", required.String()),
	)

	txHash, err := m.wallet.SendTransaction(ctx, TxRequest{
		To:   token.Address,
		Data: packERC20("approve", spender, required),
	})
	if err != nil {
		return common.Hash{}, wrapSendError(err, "approval")
	}

	receipt, err := m.wallet.WaitForConfirmation(ctx, txHash, m.confirmTimeout)
	if err != nil {
		return txHash, wrapConfirmationError(err, txHash)
	}
	if !receipt.Succeeded() {
		return txHash, revertError(receipt, "approval reverted")
	}

	m.log.Info("approval confirmed", zap.Stringer("tx", txHash))
	return txHash, nil
}

// wrapSendError classifies a SendTransaction failure. A wallet-prompt
// decline keeps its user_rejected code; everything else is a provider error.
func wrapSendError(err error, what string) error {
	if IsCode(err, ErrCodeUserRejected) {
		return err
	}
	return NewFlowError(ErrCodeChainRead, fmt.Sprintf("failed to submit %s: %v", what, err), nil)
}

// wrapConfirmationError classifies a WaitForConfirmation failure. Timeouts
// keep their code — the outcome on-chain is ambiguous and the transaction
// hash must be surfaced so the user can check it.
func wrapConfirmationError(err error, txHash common.Hash) error {
	if IsCode(err, ErrCodeTimeout) {
		return NewFlowError(ErrCodeTimeout,
			fmt.Sprintf("confirmation for %s not observed in time; check the transaction before retrying", txHash),
			map[string]interface{}{"txHash": txHash.Hex()})
	}
	return NewFlowError(ErrCodeChainRead, fmt.Sprintf("failed awaiting confirmation of %s: %v", txHash, err), nil)
}

// revertError builds a transaction_reverted error, preferring the raw revert
// reason when the connector surfaced one.
func revertError(receipt *TxReceipt, fallback string) error {
	msg := fallback
	if receipt.RevertReason != "" {
		msg = receipt.RevertReason
	}
	return NewFlowError(ErrCodeTransactionReverted, msg,
		map[string]interface{}{"txHash": receipt.TxHash.Hex()})
}
