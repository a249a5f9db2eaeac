// Package evm provides a WalletConnector backed by an RPC endpoint and a
// local ECDSA key. It stands in for a browser wallet in server-side and
// test deployments: same narrow surface, no interactive prompts.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	bridge "github.com/utopos/bridge"
)

// receiptPollInterval is how often a pending transaction is re-checked
// while waiting for confirmation.
const receiptPollInterval = 2 * time.Second

// Connector implements bridge.WalletConnector over ethclient with a
// hex-encoded private key. It is pinned to the chain the RPC endpoint
// serves; RequestChainSwitch always fails, so the chain guard surfaces a
// network_mismatch instead of silently proceeding on the wrong chain.
type Connector struct {
	client     *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	log        *zap.Logger
}

// Dial connects to an RPC endpoint and derives the account from the private
// key (with or without the "0x" prefix). A nil logger disables logging.
func Dial(ctx context.Context, rpcURL, privateKeyHex string, log *zap.Logger) (*Connector, error) {
	if log == nil {
		log = zap.NewNop()
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", rpcURL, err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}

	address := crypto.PubkeyToAddress(privateKey.PublicKey)
	log.Info("wallet connector ready",
		zap.Stringer("account", address),
		zap.String("chainId", chainID.String()),
	)
	return &Connector{
		client:     client,
		privateKey: privateKey,
		address:    address,
		chainID:    chainID,
		log:        log,
	}, nil
}

// Close releases the RPC connection.
func (c *Connector) Close() {
	c.client.Close()
}

// Account returns the address derived from the private key.
func (c *Connector) Account(ctx context.Context) (common.Address, error) {
	return c.address, nil
}

// ChainID returns the chain id of the connected endpoint.
func (c *Connector) ChainID(ctx context.Context) (uint64, error) {
	return c.chainID.Uint64(), nil
}

// RequestChainSwitch always fails: a key-based connector has no wallet UI
// and cannot change what its endpoint serves. Point the connector at an RPC
// endpoint for the required chain instead.
func (c *Connector) RequestChainSwitch(ctx context.Context, chainID uint64) error {
	return fmt.Errorf("connector is pinned to chain %s; cannot switch to %d", c.chainID, chainID)
}

// Call executes a read-only contract call.
func (c *Connector) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// NativeBalance returns the native-currency balance at the latest block.
func (c *Connector) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.client.BalanceAt(ctx, account, nil)
}

// SendTransaction signs and broadcasts a transaction. A zero GasLimit is
// filled in by gas estimation against the latest state.
func (c *Connector) SendTransaction(ctx context.Context, req bridge.TxRequest) (common.Hash, error) {
	nonce, err := c.client.PendingNonceAt(ctx, c.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to fetch nonce: %w", err)
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to fetch gas price: %w", err)
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		gasLimit, err = c.client.EstimateGas(ctx, ethereum.CallMsg{
			From:  c.address,
			To:    &req.To,
			Value: req.Value,
			Data:  req.Data,
		})
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &req.To,
		Value:    req.Value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     req.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	c.log.Info("transaction broadcast",
		zap.Stringer("tx", signed.Hash()),
		zap.Stringer("to", req.To),
		zap.Uint64("gasLimit", gasLimit),
	)
	return signed.Hash(), nil
}

// WaitForConfirmation polls for the transaction receipt until it is mined
// or the timeout elapses. A timeout carries the timeout code so callers can
// tell "not observed yet" apart from an on-chain failure.
func (c *Connector) WaitForConfirmation(ctx context.Context, txHash common.Hash, timeout time.Duration) (*bridge.TxReceipt, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			result := &bridge.TxReceipt{
				TxHash:      txHash,
				Status:      receipt.Status,
				BlockNumber: receipt.BlockNumber.Uint64(),
				Logs:        receipt.Logs,
			}
			if receipt.Status == types.ReceiptStatusFailed {
				result.RevertReason = c.revertReason(ctx, txHash, receipt.BlockNumber)
			}
			return result, nil
		}
		if err != ethereum.NotFound {
			return nil, fmt.Errorf("failed to fetch receipt for %s: %w", txHash, err)
		}

		if time.Now().After(deadline) {
			return nil, bridge.NewFlowError(bridge.ErrCodeTimeout,
				fmt.Sprintf("transaction %s not confirmed within %s", txHash, timeout), nil)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// revertReason replays the failed transaction as a call at its block to
// recover the revert string. Best effort: an empty string means the node
// did not surface one.
func (c *Connector) revertReason(ctx context.Context, txHash common.Hash, blockNumber *big.Int) string {
	tx, _, err := c.client.TransactionByHash(ctx, txHash)
	if err != nil {
		return ""
	}
	msg := ethereum.CallMsg{
		From:  c.address,
		To:    tx.To(),
		Value: tx.Value(),
		Data:  tx.Data(),
		Gas:   tx.Gas(),
	}
	if _, err := c.client.CallContract(ctx, msg, blockNumber); err != nil {
		return err.Error()
	}
	return ""
}
