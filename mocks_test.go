package bridge

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// mockWallet implements WalletConnector for tests. Reads are served from
// configured state; writes are recorded so tests can assert on exactly
// which transactions a flow submitted.
type mockWallet struct {
	mu sync.Mutex

	account common.Address
	chainID uint64
	// switchSucceeds makes RequestChainSwitch flip chainID to the target.
	switchSucceeds bool
	switchCalls    int

	callErr       error
	balances      map[common.Address]*big.Int // token contract -> balance
	nativeBal     *big.Int
	allowances    map[common.Address]*big.Int // token contract -> allowance
	migrated      map[string]bool             // status function name -> result
	quoteRate     *big.Int                    // output = amount * quoteRate
	onQuote       func(amount *big.Int)       // hook for in-flight quote coordination
	quotedToken   common.Address              // last payment token address quoted
	statusReads   int

	sendErr       error
	waitHook      func(txHash common.Hash) // hook for in-flight confirmation coordination
	sent          []TxRequest
	receiptStatus uint64
	receiptLogs   []*types.Log
	revertReason  string
	waitErr       error
}

func newMockWallet() *mockWallet {
	return &mockWallet{
		account:       common.HexToAddress("0x1111111111111111111111111111111111111111"),
		chainID:       PolygonChainID,
		balances:      make(map[common.Address]*big.Int),
		nativeBal:     big.NewInt(0),
		allowances:    make(map[common.Address]*big.Int),
		migrated:      make(map[string]bool),
		quoteRate:     big.NewInt(2),
		receiptStatus: types.ReceiptStatusSuccessful,
	}
}

func (m *mockWallet) Account(ctx context.Context) (common.Address, error) {
	return m.account, nil
}

func (m *mockWallet) ChainID(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chainID, nil
}

func (m *mockWallet) RequestChainSwitch(ctx context.Context, chainID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.switchCalls++
	if !m.switchSucceeds {
		return fmt.Errorf("user declined the network switch")
	}
	m.chainID = chainID
	return nil
}

func (m *mockWallet) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	if m.callErr != nil {
		return nil, m.callErr
	}
	return m.nativeBal, nil
}

func (m *mockWallet) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if m.callErr != nil {
		return nil, m.callErr
	}
	selector := data[:4]
	switch {
	case bytes.Equal(selector, erc20ABI.Methods["allowance"].ID):
		allowance, ok := m.allowances[to]
		if !ok {
			allowance = big.NewInt(0)
		}
		return erc20ABI.Methods["allowance"].Outputs.Pack(allowance)

	case bytes.Equal(selector, erc20ABI.Methods["balanceOf"].ID):
		balance, ok := m.balances[to]
		if !ok {
			balance = big.NewInt(0)
		}
		return erc20ABI.Methods["balanceOf"].Outputs.Pack(balance)

	case bytes.Equal(selector, tokenV3ABI.Methods["hasMigratedV1"].ID):
		m.mu.Lock()
		m.statusReads++
		m.mu.Unlock()
		return tokenV3ABI.Methods["hasMigratedV1"].Outputs.Pack(m.migrated["hasMigratedV1"])

	case bytes.Equal(selector, tokenV3ABI.Methods["hasMigratedV2"].ID):
		m.mu.Lock()
		m.statusReads++
		m.mu.Unlock()
		return tokenV3ABI.Methods["hasMigratedV2"].Outputs.Pack(m.migrated["hasMigratedV2"])

	case bytes.Equal(selector, saleABI.Methods["getUtopAmount"].ID):
		args, err := saleABI.Methods["getUtopAmount"].Inputs.Unpack(data[4:])
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.quotedToken = args[0].(common.Address)
		m.mu.Unlock()
		amount := args[1].(*big.Int)
		if m.onQuote != nil {
			m.onQuote(amount)
		}
		output := new(big.Int).Mul(amount, m.quoteRate)
		return saleABI.Methods["getUtopAmount"].Outputs.Pack(output)
	}
	return nil, fmt.Errorf("mock Call: unsupported selector %x", selector)
}

func (m *mockWallet) SendTransaction(ctx context.Context, tx TxRequest) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return common.Hash{}, m.sendErr
	}
	m.sent = append(m.sent, tx)
	return common.BigToHash(big.NewInt(int64(len(m.sent)))), nil
}

func (m *mockWallet) WaitForConfirmation(ctx context.Context, txHash common.Hash, timeout time.Duration) (*TxReceipt, error) {
	if m.waitHook != nil {
		m.waitHook(txHash)
	}
	if m.waitErr != nil {
		return nil, m.waitErr
	}
	return &TxReceipt{
		TxHash:       txHash,
		Status:       m.receiptStatus,
		BlockNumber:  42,
		RevertReason: m.revertReason,
		Logs:         m.receiptLogs,
	}, nil
}

// sentCount returns how many transactions the flow broadcast.
func (m *mockWallet) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// sentTx returns the i-th broadcast transaction.
func (m *mockWallet) sentTx(i int) TxRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[i]
}
