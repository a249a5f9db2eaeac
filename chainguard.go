package bridge

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// PolygonChainID is the required network for the default registry.
const PolygonChainID uint64 = 137

// ChainGuard verifies that the wallet's active network matches the required
// chain before any chain interaction. Users can switch networks externally
// mid-session, so orchestrators re-run the guard immediately before every
// state-mutating operation rather than once at connect time.
type ChainGuard struct {
	wallet   WalletConnector
	required uint64
	log      *zap.Logger
}

// NewChainGuard creates a guard for the given chain id. A nil logger
// disables logging.
func NewChainGuard(wallet WalletConnector, requiredChainID uint64, log *zap.Logger) *ChainGuard {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChainGuard{wallet: wallet, required: requiredChainID, log: log}
}

// RequiredChainID returns the chain id this guard enforces.
func (g *ChainGuard) RequiredChainID() uint64 {
	return g.required
}

// EnsureNetwork verifies the active chain id, requesting a wallet network
// switch on mismatch. The switch request may suspend while the user approves
// it in their wallet; the chain id is re-read afterwards and a persistent
// mismatch fails with network_mismatch. That failure blocks chain calls but
// is non-fatal to the application.
func (g *ChainGuard) EnsureNetwork(ctx context.Context) error {
	current, err := g.wallet.ChainID(ctx)
	if err != nil {
		return NewFlowError(ErrCodeChainRead, fmt.Sprintf("failed to read chain id: %v", err), nil)
	}
	if current == g.required {
		return nil
	}

	g.log.Info("wrong network, requesting switch",
		zap.Uint64("current", current),
		zap.Uint64("required", g.required),
	)
	if err := g.wallet.RequestChainSwitch(ctx, g.required); err != nil {
		return NewFlowError(ErrCodeNetworkMismatch,
			fmt.Sprintf("connected to chain %d, need %d, and the switch request failed: %v", current, g.required, err),
			map[string]interface{}{"current": current, "required": g.required})
	}

	// Re-read rather than trusting the switch call: some wallets report
	// success before the active chain actually changes.
	current, err = g.wallet.ChainID(ctx)
	if err != nil {
		return NewFlowError(ErrCodeChainRead, fmt.Sprintf("failed to re-read chain id: %v", err), nil)
	}
	if current != g.required {
		return NewFlowError(ErrCodeNetworkMismatch,
			fmt.Sprintf("still on chain %d after switch request, need %d", current, g.required),
			map[string]interface{}{"current": current, "required": g.required})
	}
	return nil
}
