package bridge

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMigrationFixture(t *testing.T, wallet *mockWallet) (*MigrationOrchestrator, Token, Token) {
	t.Helper()
	registry := DefaultRegistry()
	orch, err := NewMigrationOrchestrator(wallet, registry)
	require.NoError(t, err)
	v1, err := registry.Resolve(RoleLegacyV1)
	require.NoError(t, err)
	v3, err := registry.MigrationTarget()
	require.NoError(t, err)
	return orch, v1, v3
}

// migratedLog builds a Migrated event log as the V3 contract would emit it.
func migratedLog(t *testing.T, contract, user common.Address, amount *big.Int, version string) *types.Log {
	t.Helper()
	event := tokenV3ABI.Events["Migrated"]
	data, err := event.Inputs.NonIndexed().Pack(amount, version)
	require.NoError(t, err)
	return &types.Log{
		Address: contract,
		Topics:  []common.Hash{event.ID, common.BytesToHash(user.Bytes())},
		Data:    data,
	}
}

func TestMigrationHappyPathWithApproval(t *testing.T) {
	wallet := newMockWallet()
	orch, v1, v3 := newMigrationFixture(t, wallet)

	amount, err := ToBaseUnits("100.0", v1.Decimals)
	require.NoError(t, err)
	wallet.migrated["hasMigratedV1"] = false
	wallet.balances[v1.Address] = amount
	wallet.allowances[v1.Address] = big.NewInt(0)
	wallet.receiptLogs = []*types.Log{migratedLog(t, v3.Address, wallet.account, amount, "v1")}

	intent := NewMigrationIntent(wallet.account, SourceV1, amount)
	result, err := orch.SubmitMigration(context.Background(), intent)
	require.NoError(t, err)

	assert.False(t, result.AlreadyMigrated)
	assert.NotEqual(t, common.Hash{}, result.ApproveTxHash)
	assert.NotEqual(t, common.Hash{}, result.TxHash)
	assert.Equal(t, amount.String(), result.AmountMigrated.String(), "amount decoded from the Migrated event")

	require.Equal(t, 2, wallet.sentCount(), "one approval, one migration")
	approve := wallet.sentTx(0)
	assert.Equal(t, v1.Address, approve.To)
	assert.Equal(t, packERC20("approve", v3.Address, amount), approve.Data)
	migrate := wallet.sentTx(1)
	assert.Equal(t, v3.Address, migrate.To)
	assert.Equal(t, packTokenV3("migrateFromV1", amount), migrate.Data)
	assert.Equal(t, uint64(migrationGasLimit), migrate.GasLimit)

	snap, ok := orch.Snapshot(wallet.account, SourceV1)
	require.True(t, ok)
	assert.Equal(t, StateSucceeded, snap.State)
	require.NotNil(t, snap.TxHash)
	assert.Equal(t, result.TxHash, *snap.TxHash)

	// Success invalidated the cached status: the next read hits the chain.
	reads := wallet.statusReads
	_, err = orch.StatusCache().HasMigrated(context.Background(), wallet.account, SourceV1)
	require.NoError(t, err)
	assert.Equal(t, reads+1, wallet.statusReads)
}

func TestMigrationSkipsApprovalWhenAllowanceSufficient(t *testing.T) {
	wallet := newMockWallet()
	orch, v1, v3 := newMigrationFixture(t, wallet)

	amount := big.NewInt(5_000)
	wallet.migrated["hasMigratedV2"] = false
	wallet.allowances[v1.Address] = amount // unused by v2, set to catch mixups

	v2, err := DefaultRegistry().Resolve(RoleLegacyV2)
	require.NoError(t, err)
	wallet.balances[v2.Address] = amount
	wallet.allowances[v2.Address] = amount

	result, err := orch.SubmitMigration(context.Background(), NewMigrationIntent(wallet.account, SourceV2, amount))
	require.NoError(t, err)

	assert.Equal(t, common.Hash{}, result.ApproveTxHash)
	require.Equal(t, 1, wallet.sentCount(), "no approval write when the allowance already covers the amount")
	assert.Equal(t, v3.Address, wallet.sentTx(0).To)
	assert.Equal(t, packTokenV3("migrateFromV2", amount), wallet.sentTx(0).Data)
}

func TestMigrationAlreadyMigratedShortCircuits(t *testing.T) {
	wallet := newMockWallet()
	orch, _, _ := newMigrationFixture(t, wallet)
	wallet.migrated["hasMigratedV1"] = true

	result, err := orch.SubmitMigration(context.Background(),
		NewMigrationIntent(wallet.account, SourceV1, big.NewInt(1)))
	require.NoError(t, err)

	assert.True(t, result.AlreadyMigrated)
	assert.Zero(t, wallet.sentCount(), "already migrated must terminate with zero writes")

	snap, ok := orch.Snapshot(wallet.account, SourceV1)
	require.True(t, ok)
	assert.Equal(t, StateAlreadyMigrated, snap.State)
}

func TestMigrationRevertHealsStatusCache(t *testing.T) {
	wallet := newMockWallet()
	orch, v1, _ := newMigrationFixture(t, wallet)

	amount := big.NewInt(1_000)
	wallet.migrated["hasMigratedV1"] = false // the cache believes not migrated
	wallet.balances[v1.Address] = amount
	wallet.allowances[v1.Address] = amount
	wallet.receiptStatus = 0
	wallet.revertReason = "UTOP: already migrated"

	_, err := orch.SubmitMigration(context.Background(), NewMigrationIntent(wallet.account, SourceV1, amount))
	require.Error(t, err)
	assert.Equal(t, ErrCodeTransactionReverted, ErrorCode(err))

	snap, ok := orch.Snapshot(wallet.account, SourceV1)
	require.True(t, ok)
	assert.Equal(t, StateFailed, snap.State)
	require.NotNil(t, snap.Err)
	assert.Equal(t, ErrCodeTransactionReverted, snap.Err.Code)

	// The revert is authoritative: the cache now reports migrated without
	// re-reading the (stale) chain view.
	reads := wallet.statusReads
	migrated, err := orch.StatusCache().HasMigrated(context.Background(), wallet.account, SourceV1)
	require.NoError(t, err)
	assert.True(t, migrated)
	assert.Equal(t, reads, wallet.statusReads)
}

func TestMigrationConcurrentSamePairIsBusy(t *testing.T) {
	wallet := newMockWallet()
	orch, v1, _ := newMigrationFixture(t, wallet)

	amount := big.NewInt(1_000)
	wallet.migrated["hasMigratedV1"] = false
	wallet.migrated["hasMigratedV2"] = true
	wallet.balances[v1.Address] = amount
	wallet.allowances[v1.Address] = amount

	entered := make(chan struct{})
	release := make(chan struct{})
	wallet.waitHook = func(common.Hash) {
		close(entered)
		<-release
	}

	done := make(chan error, 1)
	go func() {
		_, err := orch.SubmitMigration(context.Background(), NewMigrationIntent(wallet.account, SourceV1, amount))
		done <- err
	}()
	<-entered

	assert.True(t, orch.Active(wallet.account, SourceV1))

	_, err := orch.SubmitMigration(context.Background(), NewMigrationIntent(wallet.account, SourceV1, amount))
	require.Error(t, err)
	assert.Equal(t, ErrCodeBusy, ErrorCode(err))
	assert.Equal(t, 1, wallet.sentCount(), "the busy intent must not broadcast")

	// A different (account, version) pair is independent of the in-flight one.
	result, err := orch.SubmitMigration(context.Background(), NewMigrationIntent(wallet.account, SourceV2, amount))
	require.NoError(t, err)
	assert.True(t, result.AlreadyMigrated)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, orch.Active(wallet.account, SourceV1))
}

func TestMigrationNetworkMismatchFailsBeforeReads(t *testing.T) {
	wallet := newMockWallet()
	wallet.chainID = 1
	wallet.switchSucceeds = false
	orch, _, _ := newMigrationFixture(t, wallet)

	_, err := orch.SubmitMigration(context.Background(),
		NewMigrationIntent(wallet.account, SourceV1, big.NewInt(1)))
	require.Error(t, err)
	assert.Equal(t, ErrCodeNetworkMismatch, ErrorCode(err))
	assert.Zero(t, wallet.statusReads, "network guard runs before any contract read")
	assert.Zero(t, wallet.sentCount())
}

func TestMigrationUserRejectionReturnsToIdle(t *testing.T) {
	wallet := newMockWallet()
	orch, v1, _ := newMigrationFixture(t, wallet)

	amount := big.NewInt(1_000)
	wallet.migrated["hasMigratedV1"] = false
	wallet.balances[v1.Address] = amount
	wallet.allowances[v1.Address] = amount
	wallet.sendErr = NewFlowError(ErrCodeUserRejected, "user rejected the request", nil)

	_, err := orch.SubmitMigration(context.Background(), NewMigrationIntent(wallet.account, SourceV1, amount))
	require.Error(t, err)
	assert.Equal(t, ErrCodeUserRejected, ErrorCode(err))

	// A declined prompt is a choice, not a failure: no error is displayed.
	snap, ok := orch.Snapshot(wallet.account, SourceV1)
	require.True(t, ok)
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Err)
}

func TestMigrationConfirmationTimeoutCarriesTxHash(t *testing.T) {
	wallet := newMockWallet()
	orch, v1, _ := newMigrationFixture(t, wallet)

	amount := big.NewInt(1_000)
	wallet.migrated["hasMigratedV1"] = false
	wallet.balances[v1.Address] = amount
	wallet.allowances[v1.Address] = amount
	wallet.waitErr = NewFlowError(ErrCodeTimeout, "transaction not confirmed within 1s", nil)

	_, err := orch.SubmitMigration(context.Background(), NewMigrationIntent(wallet.account, SourceV1, amount))
	require.Error(t, err)
	assert.Equal(t, ErrCodeTimeout, ErrorCode(err))

	// The broadcast hash stays visible so the user can check the explorer.
	snap, ok := orch.Snapshot(wallet.account, SourceV1)
	require.True(t, ok)
	assert.NotNil(t, snap.TxHash)
}

func TestSubmitMigrationValidatesIntent(t *testing.T) {
	wallet := newMockWallet()
	orch, _, _ := newMigrationFixture(t, wallet)

	tests := []struct {
		name   string
		intent MigrationIntent
		code   string
	}{
		{"zero amount", NewMigrationIntent(wallet.account, SourceV1, big.NewInt(0)), ErrCodeInvalidAmount},
		{"negative amount", NewMigrationIntent(wallet.account, SourceV1, big.NewInt(-5)), ErrCodeInvalidAmount},
		{"nil amount", NewMigrationIntent(wallet.account, SourceV1, nil), ErrCodeInvalidAmount},
		{"bad source", NewMigrationIntent(wallet.account, SourceVersion(9), big.NewInt(1)), ErrCodeUnknownToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := orch.SubmitMigration(context.Background(), tt.intent)
			require.Error(t, err)
			assert.Equal(t, tt.code, ErrorCode(err))
		})
	}
	assert.Zero(t, wallet.sentCount())
}

func TestMigrationRetryAfterFailureStartsFresh(t *testing.T) {
	wallet := newMockWallet()
	orch, v1, _ := newMigrationFixture(t, wallet)

	amount := big.NewInt(1_000)
	wallet.migrated["hasMigratedV1"] = false
	wallet.balances[v1.Address] = big.NewInt(1) // too small: first run fails
	wallet.allowances[v1.Address] = big.NewInt(0)

	_, err := orch.SubmitMigration(context.Background(), NewMigrationIntent(wallet.account, SourceV1, amount))
	require.Error(t, err)
	assert.Equal(t, ErrCodeInsufficientBalance, ErrorCode(err))

	// Funding arrives; a new intent for the same pair must run through the
	// whole sequence again rather than reuse the failed run.
	wallet.balances[v1.Address] = amount
	result, err := orch.SubmitMigration(context.Background(), NewMigrationIntent(wallet.account, SourceV1, amount))
	require.NoError(t, err)
	assert.False(t, result.AlreadyMigrated)
	assert.Equal(t, 2, wallet.sentCount(), "approve and migrate on the retry")

	snap, _ := orch.Snapshot(wallet.account, SourceV1)
	assert.Equal(t, StateSucceeded, snap.State)
	assert.Nil(t, snap.Err, "the retry clears the previous failure from display")
}
