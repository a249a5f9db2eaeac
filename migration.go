package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const (
	// DefaultConfirmTimeout bounds every transaction-confirmation wait.
	DefaultConfirmTimeout = 3 * time.Minute

	// migrationGasLimit bounds the migration call, matching the on-chain
	// contract's worst-case cost with headroom.
	migrationGasLimit = 200_000
)

// MigrationOrchestrator drives one migration intent through the
// read-then-approve-then-execute sequence:
//
//	Idle → CheckingStatus → CheckingAllowance → [Approving] → Migrating
//	     → Succeeded | AlreadyMigrated | Failed(reason)
//
// Status and allowance are checked per run, never assumed from a prior run,
// so a retry after any failure restarts from CheckingStatus with fresh
// reads. One intent per (account, version) pair may run at a time; a second
// submission fails fast with busy. Intents for different pairs are
// independent.
type MigrationOrchestrator struct {
	wallet         WalletConnector
	registry       *Registry
	guard          *ChainGuard
	allowance      *AllowanceManager
	status         *MigrationStatusCache
	tracker        *flowTracker
	confirmTimeout time.Duration
	log            *zap.Logger
}

// MigrationOption configures a MigrationOrchestrator.
type MigrationOption func(*MigrationOrchestrator)

// WithMigrationLogger sets the structured logger.
func WithMigrationLogger(log *zap.Logger) MigrationOption {
	return func(o *MigrationOrchestrator) {
		o.log = log
	}
}

// WithMigrationConfirmTimeout bounds confirmation waits for both the
// approval and the migration transaction.
func WithMigrationConfirmTimeout(d time.Duration) MigrationOption {
	return func(o *MigrationOrchestrator) {
		o.confirmTimeout = d
	}
}

// WithMigrationChainID overrides the required network (default Polygon, 137).
func WithMigrationChainID(chainID uint64) MigrationOption {
	return func(o *MigrationOrchestrator) {
		o.guard = NewChainGuard(o.wallet, chainID, o.log)
	}
}

// NewMigrationOrchestrator wires the orchestrator and its collaborators
// over one wallet connector and registry.
func NewMigrationOrchestrator(wallet WalletConnector, registry *Registry, opts ...MigrationOption) (*MigrationOrchestrator, error) {
	target, err := registry.MigrationTarget()
	if err != nil {
		return nil, err
	}

	o := &MigrationOrchestrator{
		wallet:         wallet,
		registry:       registry,
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
	o.status = NewMigrationStatusCache(wallet, target.Address, o.log)
	return o, nil
}

// StatusCache exposes the migration status cache so the display layer can
// answer "already migrated?" without submitting an intent, and so account
// change events can invalidate it.
func (o *MigrationOrchestrator) StatusCache() *MigrationStatusCache {
	return o.status
}

// Balances exposes balance reads for display (token amounts and the Max
// affordance).
func (o *MigrationOrchestrator) Balances() *AllowanceManager {
	return o.allowance
}

func migrationKey(account common.Address, version SourceVersion) string {
	return account.Hex() + "|" + version.String()
}

// Snapshot returns the display view of the flow for one (account, version)
// pair. The second return is false when no flow has run for the pair.
func (o *MigrationOrchestrator) Snapshot(account common.Address, version SourceVersion) (FlowSnapshot, bool) {
	return o.tracker.snapshot(migrationKey(account, version))
}

// Active reports whether a flow for the pair is currently in flight.
func (o *MigrationOrchestrator) Active(account common.Address, version SourceVersion) bool {
	return o.tracker.active(migrationKey(account, version))
}

// Cancel abandons the in-flight flow for the pair. Best effort: an
// already-broadcast transaction cannot be recalled.
func (o *MigrationOrchestrator) Cancel(account common.Address, version SourceVersion) bool {
	return o.tracker.cancelRun(migrationKey(account, version))
}

// SubmitMigration runs the full state machine for one intent, blocking until
// a terminal state. The published snapshot tracks every step for the display
// layer; concurrent callers for the same (account, version) get busy.
//
// A user declining the wallet prompt returns the machine to Idle with a
// user_rejected error — a choice, not an application failure.
func (o *MigrationOrchestrator) SubmitMigration(ctx context.Context, intent MigrationIntent) (*MigrationResult, error) {
	if err := validateMigrationIntent(intent); err != nil {
		return nil, err
	}
	started := time.Now()

	key := migrationKey(intent.Account, intent.Source)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := o.tracker.begin(key, intent.ID, cancel); err != nil {
		return nil, err
	}

	result, err := o.run(runCtx, key, intent)
	if err != nil {
		if IsCode(err, ErrCodeUserRejected) {
			// Not an application error: back to Idle, nothing to display.
			o.tracker.finish(key, StateIdle, nil)
			return nil, err
		}
		o.log.Warn("migration failed",
			zap.String("intent", intent.ID.String()),
			zap.Stringer("source", intent.Source),
			zap.Error(err),
		)
		o.tracker.finish(key, StateFailed, asFlowError(err))
		return nil, err
	}

	result.Duration = time.Since(started)
	if result.AlreadyMigrated {
		o.tracker.finish(key, StateAlreadyMigrated, nil)
	} else {
		o.tracker.finish(key, StateSucceeded, nil)
	}
	return result, nil
}

func (o *MigrationOrchestrator) run(ctx context.Context, key string, intent MigrationIntent) (*MigrationResult, error) {
	// Validate the network before any other chain call. Re-done every
	// submission: the user may have switched networks since the last one.
	if err := o.guard.EnsureNetwork(ctx); err != nil {
		return nil, err
	}

	sourceToken, err := o.registry.Resolve(intent.Source.TokenRole())
	if err != nil {
		return nil, err
	}
	target, err := o.registry.MigrationTarget()
	if err != nil {
		return nil, err
	}

	o.tracker.setState(key, StateCheckingStatus)
	migrated, err := o.status.HasMigrated(ctx, intent.Account, intent.Source)
	if err != nil {
		return nil, err
	}
	if migrated {
		// Terminal with zero writes. The contract would reject the call
		// anyway; this short-circuit just spares the user a revert.
		return &MigrationResult{IntentID: intent.ID, AlreadyMigrated: true}, nil
	}

	o.tracker.setState(key, StateCheckingAllowance)
	approveTx, err := o.allowance.EnsureAllowance(ctx, sourceToken, intent.Account, target.Address, intent.Amount,
		func() { o.tracker.setState(key, StateApproving) })
	if err != nil {
		return nil, err
	}

	o.tracker.setState(key, StateMigrating)
	o.log.Info("submitting migration",
		zap.String("intent", intent.ID.String()),
		zap.Stringer("source", intent.Source),
		zap.String("amount", intent.Amount.String()),
	)
	txHash, err := o.wallet.SendTransaction(ctx, TxRequest{
		To:       target.Address,
		Data:     packTokenV3(intent.Source.MigrateFunction(), intent.Amount),
		GasLimit: migrationGasLimit,
	})
	if err != nil {
		return nil, wrapSendError(err, "migration")
	}
	o.tracker.setTx(key, txHash)

	receipt, err := o.wallet.WaitForConfirmation(ctx, txHash, o.confirmTimeout)
	if err != nil {
		return nil, wrapConfirmationError(err, txHash)
	}
	if !receipt.Succeeded() {
		// The contract rejecting the call is as authoritative as a true
		// hasMigrated read; correct the cache instead of trusting it.
		o.status.MarkMigrated(intent.Account, intent.Source)
		return nil, revertError(receipt, "migration reverted; the account may already be migrated")
	}

	// Drop the cached status so the next read comes from the chain.
	o.status.Invalidate(intent.Account, intent.Source)

	result := &MigrationResult{
		IntentID:      intent.ID,
		ApproveTxHash: approveTx,
		TxHash:        txHash,
	}
	if ev := decodeMigratedEvent(receipt.Logs, target.Address); ev != nil {
		result.AmountMigrated = ev.Amount
	}
	o.log.Info("migration confirmed",
		zap.String("intent", intent.ID.String()),
		zap.Stringer("tx", txHash),
		zap.Uint64("block", receipt.BlockNumber),
	)
	return result, nil
}

func validateMigrationIntent(intent MigrationIntent) error {
	if !intent.Source.Valid() {
		return NewFlowError(ErrCodeUnknownToken, "intent source version is not v1 or v2", nil)
	}
	if intent.Account == (common.Address{}) {
		return NewFlowError(ErrCodeChainRead, "intent has no connected account", nil)
	}
	if intent.Amount == nil || intent.Amount.Sign() <= 0 {
		return NewFlowError(ErrCodeInvalidAmount, fmt.Sprintf("intent amount must be positive, got %v", intent.Amount), nil)
	}
	return nil
}
