package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureNetworkOnCorrectChain(t *testing.T) {
	wallet := newMockWallet()
	guard := NewChainGuard(wallet, PolygonChainID, nil)

	require.NoError(t, guard.EnsureNetwork(context.Background()))
	assert.Zero(t, wallet.switchCalls, "no switch request on the right chain")
}

func TestEnsureNetworkSwitchesOnMismatch(t *testing.T) {
	wallet := newMockWallet()
	wallet.chainID = 1
	wallet.switchSucceeds = true
	guard := NewChainGuard(wallet, PolygonChainID, nil)

	require.NoError(t, guard.EnsureNetwork(context.Background()))
	assert.Equal(t, 1, wallet.switchCalls)
	assert.Equal(t, PolygonChainID, wallet.chainID)
}

func TestEnsureNetworkFailsWhenSwitchDeclined(t *testing.T) {
	wallet := newMockWallet()
	wallet.chainID = 1
	wallet.switchSucceeds = false
	guard := NewChainGuard(wallet, PolygonChainID, nil)

	err := guard.EnsureNetwork(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrCodeNetworkMismatch, ErrorCode(err))
}
