package bridge

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// MigrationStatusCache is a read-through cache for "has this account already
// migrated this version?" keyed by (account, version).
//
// On-chain migration status is authoritative and only changes through this
// flow, so entries never expire by time: correctness depends on the explicit
// invalidation points — account change, a successful migration submission,
// or a revert (which is treated as evidence of a prior migration and written
// back as true, self-healing a stale false).
type MigrationStatusCache struct {
	wallet  WalletConnector
	v3      common.Address
	entries *gocache.Cache
	log     *zap.Logger
}

// NewMigrationStatusCache creates a cache reading status from the V3
// contract. A nil logger disables logging.
func NewMigrationStatusCache(wallet WalletConnector, v3Contract common.Address, log *zap.Logger) *MigrationStatusCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &MigrationStatusCache{
		wallet:  wallet,
		v3:      v3Contract,
		entries: gocache.New(gocache.NoExpiration, 0),
		log:     log,
	}
}

func statusKey(account common.Address, version SourceVersion) string {
	return account.Hex() + "|" + version.String()
}

// HasMigrated answers whether the account already migrated the given
// version, reading through to the chain on a cache miss.
func (c *MigrationStatusCache) HasMigrated(ctx context.Context, account common.Address, version SourceVersion) (bool, error) {
	key := statusKey(account, version)
	if cached, ok := c.entries.Get(key); ok {
		return cached.(bool), nil
	}

	out, err := c.wallet.Call(ctx, c.v3, packTokenV3(version.StatusFunction(), account))
	if err != nil {
		return false, NewFlowError(ErrCodeChainRead, fmt.Sprintf("failed to read migration status: %v", err), nil)
	}
	migrated, err := unpackBool(tokenV3ABI, version.StatusFunction(), out)
	if err != nil {
		return false, NewFlowError(ErrCodeChainRead, fmt.Sprintf("bad migration status response: %v", err), nil)
	}

	c.entries.Set(key, migrated, gocache.NoExpiration)
	return migrated, nil
}

// Invalidate drops the cached entry for one (account, version) pair, forcing
// the next read through to the chain. Called after a successful migration
// submission for the pair.
func (c *MigrationStatusCache) Invalidate(account common.Address, version SourceVersion) {
	c.entries.Delete(statusKey(account, version))
	c.log.Debug("migration status invalidated",
		zap.Stringer("account", account),
		zap.Stringer("version", version),
	)
}

// InvalidateAccount drops all cached entries for an account. Called when the
// connected account changes or disconnects.
func (c *MigrationStatusCache) InvalidateAccount(account common.Address) {
	c.entries.Delete(statusKey(account, SourceV1))
	c.entries.Delete(statusKey(account, SourceV2))
}

// MarkMigrated records the pair as migrated without a chain read. Used when
// the migration call reverts: the contract rejecting a second migration is
// as authoritative as hasMigrated returning true, so a stale false entry is
// corrected here rather than trusted.
func (c *MigrationStatusCache) MarkMigrated(account common.Address, version SourceVersion) {
	c.entries.Set(statusKey(account, version), true, gocache.NoExpiration)
	c.log.Debug("migration status marked migrated",
		zap.Stringer("account", account),
		zap.Stringer("version", version),
	)
}
