package bridge

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// QuoteResult is one answer from the sale contract's quote function. Quotes
// are advisory: they are fetched just-in-time, never cached across input
// changes, and the delivered amount is whatever the contract executes.
type QuoteResult struct {
	RequestID uint64
	Payment   PaymentKind
	AmountIn  *big.Int
	Output    *big.Int
	// Latest is false when the inputs changed while this quote was in
	// flight; stale quotes must not be displayed.
	Latest   bool
	QuotedAt time.Time
}

// PurchaseOrchestrator drives one purchase intent:
//
//	Idle → Quoting → CheckingAllowance → [Approving] → Purchasing
//	     → Succeeded | Failed(reason)
//
// Native-currency payment skips CheckingAllowance entirely (Approving is
// never entered) and is the only kind that attaches transaction value.
// One intent per (account, payment token) may run at a time.
type PurchaseOrchestrator struct {
	wallet         WalletConnector
	registry       *Registry
	guard          *ChainGuard
	allowance      *AllowanceManager
	sale           common.Address
	tracker        *flowTracker
	confirmTimeout time.Duration
	log            *zap.Logger

	// Monotonic ids order quote requests so late responses for superseded
	// inputs are discarded instead of overwriting the newest quote.
	quoteSeq    atomic.Uint64
	quoteMu     sync.Mutex
	latestQuote *QuoteResult
}

// PurchaseOption configures a PurchaseOrchestrator.
type PurchaseOption func(*PurchaseOrchestrator)

// WithPurchaseLogger sets the structured logger.
func WithPurchaseLogger(log *zap.Logger) PurchaseOption {
	return func(o *PurchaseOrchestrator) {
		o.log = log
	}
}

// WithPurchaseConfirmTimeout bounds confirmation waits.
func WithPurchaseConfirmTimeout(d time.Duration) PurchaseOption {
	return func(o *PurchaseOrchestrator) {
		o.confirmTimeout = d
	}
}

// WithPurchaseChainID overrides the required network (default Polygon, 137).
func WithPurchaseChainID(chainID uint64) PurchaseOption {
	return func(o *PurchaseOrchestrator) {
		o.guard = NewChainGuard(o.wallet, chainID, o.log)
	}
}

// NewPurchaseOrchestrator wires the purchase flow against the given sale
// contract.
func NewPurchaseOrchestrator(wallet WalletConnector, registry *Registry, saleContract common.Address, opts ...PurchaseOption) *PurchaseOrchestrator {
	o := &PurchaseOrchestrator{
		wallet:         wallet,
		registry:       registry,
		sale:           saleContract,
		tracker:        newFlowTracker(),
		confirmTimeout: DefaultConfirmTimeout,
		log:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.guard == nil {
		o.guard = NewChainGuard(wallet, PolygonChainID, o.log)
	}
	o.allowance = NewAllowanceManager(wallet, o.confirmTimeout, o.log)
	return o
}

func purchaseKey(account common.Address, payment PaymentKind) string {
	return account.Hex() + "|" + payment.String()
}

// Snapshot returns the display view of the flow for one (account, payment)
// pair.
func (o *PurchaseOrchestrator) Snapshot(account common.Address, payment PaymentKind) (FlowSnapshot, bool) {
	return o.tracker.snapshot(purchaseKey(account, payment))
}

// Active reports whether a flow for the pair is currently in flight.
func (o *PurchaseOrchestrator) Active(account common.Address, payment PaymentKind) bool {
	return o.tracker.active(purchaseKey(account, payment))
}

// Cancel abandons the in-flight flow for the pair, best effort.
func (o *PurchaseOrchestrator) Cancel(account common.Address, payment PaymentKind) bool {
	return o.tracker.cancelRun(purchaseKey(account, payment))
}

// Quote asks the sale contract how much output the given payment amount
// buys. Any amount or payment-token change while a quote is awaited starts
// a newer request; when this response loses that race it is returned with
// Latest=false and does not replace the newest quote.
func (o *PurchaseOrchestrator) Quote(ctx context.Context, payment PaymentKind, amount *big.Int) (*QuoteResult, error) {
	if !payment.Valid() {
		return nil, NewFlowError(ErrCodeUnknownToken, "unknown payment token", nil)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, NewFlowError(ErrCodeInvalidAmount, "quote amount must be positive", nil)
	}
	token, err := o.registry.Resolve(payment.TokenRole())
	if err != nil {
		return nil, err
	}

	id := o.quoteSeq.Add(1)

	// The native kind is quoted with the zero address, matching the sale
	// contract's convention.
	out, err := o.wallet.Call(ctx, o.sale, packSale("getUtopAmount", token.Address, amount))
	if err != nil {
		return nil, NewFlowError(ErrCodeChainRead, fmt.Sprintf("failed to fetch quote: %v", err), nil)
	}
	output, err := unpackUint256(saleABI, "getUtopAmount", out)
	if err != nil {
		return nil, NewFlowError(ErrCodeChainRead, fmt.Sprintf("bad quote response: %v", err), nil)
	}

	quote := &QuoteResult{
		RequestID: id,
		Payment:   payment,
		AmountIn:  amount,
		Output:    output,
		QuotedAt:  time.Now(),
	}

	o.quoteMu.Lock()
	defer o.quoteMu.Unlock()
	if id == o.quoteSeq.Load() && (o.latestQuote == nil || id > o.latestQuote.RequestID) {
		quote.Latest = true
		o.latestQuote = quote
	}
	return quote, nil
}

// LatestQuote returns the newest non-stale quote, or nil before any quote
// resolves.
func (o *PurchaseOrchestrator) LatestQuote() *QuoteResult {
	o.quoteMu.Lock()
	defer o.quoteMu.Unlock()
	return o.latestQuote
}

// SubmitPurchase runs the purchase state machine for one intent, blocking
// until a terminal state.
func (o *PurchaseOrchestrator) SubmitPurchase(ctx context.Context, intent PurchaseIntent) (*PurchaseResult, error) {
	if err := validatePurchaseIntent(intent); err != nil {
		return nil, err
	}
	started := time.Now()

	key := purchaseKey(intent.Account, intent.Payment)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := o.tracker.begin(key, intent.ID, cancel); err != nil {
		return nil, err
	}

	result, err := o.runPurchase(runCtx, key, intent)
	if err != nil {
		if IsCode(err, ErrCodeUserRejected) {
			o.tracker.finish(key, StateIdle, nil)
			return nil, err
		}
		o.log.Warn("purchase failed",
			zap.String("intent", intent.ID.String()),
			zap.Stringer("payment", intent.Payment),
			zap.Error(err),
		)
		o.tracker.finish(key, StateFailed, asFlowError(err))
		return nil, err
	}

	result.Duration = time.Since(started)
	o.tracker.finish(key, StateSucceeded, nil)
	return result, nil
}

func (o *PurchaseOrchestrator) runPurchase(ctx context.Context, key string, intent PurchaseIntent) (*PurchaseResult, error) {
	if err := o.guard.EnsureNetwork(ctx); err != nil {
		return nil, err
	}

	paymentToken, err := o.registry.Resolve(intent.Payment.TokenRole())
	if err != nil {
		return nil, err
	}

	// Re-derive the quote just-in-time; a quote fetched for an earlier
	// amount is never reused.
	o.tracker.setState(key, StateQuoting)
	quote, err := o.Quote(ctx, intent.Payment, intent.Amount)
	if err != nil {
		return nil, err
	}

	var approveTx common.Hash
	if intent.Payment.RequiresAllowance() {
		o.tracker.setState(key, StateCheckingAllowance)
		approveTx, err = o.allowance.EnsureAllowance(ctx, paymentToken, intent.Account, o.sale, intent.Amount,
			func() { o.tracker.setState(key, StateApproving) })
		if err != nil {
			return nil, err
		}
	} else {
		// Native payment: no allowance, but still fail fast on an amount
		// the account cannot fund.
		balance, err := o.allowance.BalanceOf(ctx, paymentToken, intent.Account)
		if err != nil {
			return nil, err
		}
		if balance.Cmp(intent.Amount) < 0 {
			return nil, NewFlowError(ErrCodeInsufficientBalance,
				fmt.Sprintf("native balance %s is below the required %s", balance, intent.Amount), nil)
		}
	}

	o.tracker.setState(key, StatePurchasing)
	tx := TxRequest{To: o.sale}
	if intent.Payment == PaymentNative {
		tx.Data = packSale(intent.Payment.BuyFunction())
		tx.Value = intent.Amount
	} else {
		tx.Data = packSale(intent.Payment.BuyFunction(), intent.Amount)
	}
	o.log.Info("submitting purchase",
		zap.String("intent", intent.ID.String()),
		zap.Stringer("payment", intent.Payment),
		zap.String("amount", intent.Amount.String()),
	)
	txHash, err := o.wallet.SendTransaction(ctx, tx)
	if err != nil {
		return nil, wrapSendError(err, "purchase")
	}
	o.tracker.setTx(key, txHash)

	receipt, err := o.wallet.WaitForConfirmation(ctx, txHash, o.confirmTimeout)
	if err != nil {
		return nil, wrapConfirmationError(err, txHash)
	}
	if !receipt.Succeeded() {
		return nil, revertError(receipt, "purchase reverted")
	}

	o.log.Info("purchase confirmed",
		zap.String("intent", intent.ID.String()),
		zap.Stringer("tx", txHash),
		zap.Uint64("block", receipt.BlockNumber),
	)
	return &PurchaseResult{
		IntentID:      intent.ID,
		ApproveTxHash: approveTx,
		TxHash:        txHash,
		QuotedOutput:  quote.Output,
	}, nil
}

func validatePurchaseIntent(intent PurchaseIntent) error {
	if !intent.Payment.Valid() {
		return NewFlowError(ErrCodeUnknownToken, "intent payment token is not registered", nil)
	}
	if intent.Account == (common.Address{}) {
		return NewFlowError(ErrCodeChainRead, "intent has no connected account", nil)
	}
	if intent.Amount == nil || intent.Amount.Sign() <= 0 {
		return NewFlowError(ErrCodeInvalidAmount, "intent amount must be positive", nil)
	}
	return nil
}
