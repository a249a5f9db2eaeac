package bridge

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Contract ABIs for the three call surfaces. Values on the wire are
// base-unit unsigned integers throughout.
const (
	erc20ABIJSON = `[
		{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
	]`

	tokenV3ABIJSON = `[
		{"type":"function","name":"migrateFromV1","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"migrateFromV2","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"hasMigratedV1","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
		{"type":"function","name":"hasMigratedV2","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
		{"type":"event","name":"Migrated","inputs":[{"name":"user","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"version","type":"string","indexed":false}]}
	]`

	saleABIJSON = `[
		{"type":"function","name":"buyWithPOL","stateMutability":"payable","inputs":[],"outputs":[]},
		{"type":"function","name":"buyWithUSDT","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"buyWithBNB","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"getUtopAmount","stateMutability":"view","inputs":[{"name":"paymentToken","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
	]`
)

var (
	erc20ABI   = mustABI(erc20ABIJSON)
	tokenV3ABI = mustABI(tokenV3ABIJSON)
	saleABI    = mustABI(saleABIJSON)
)

func mustABI(js string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(js))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

func packERC20(function string, args ...interface{}) []byte {
	data, err := erc20ABI.Pack(function, args...)
	if err != nil {
		panic(fmt.Sprintf("pack %s: %v", function, err))
	}
	return data
}

func packTokenV3(function string, args ...interface{}) []byte {
	data, err := tokenV3ABI.Pack(function, args...)
	if err != nil {
		panic(fmt.Sprintf("pack %s: %v", function, err))
	}
	return data
}

func packSale(function string, args ...interface{}) []byte {
	data, err := saleABI.Pack(function, args...)
	if err != nil {
		panic(fmt.Sprintf("pack %s: %v", function, err))
	}
	return data
}

func unpackUint256(contract abi.ABI, function string, data []byte) (*big.Int, error) {
	out, err := contract.Unpack(function, data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", function, err)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected output type %T", function, out[0])
	}
	return v, nil
}

func unpackBool(contract abi.ABI, function string, data []byte) (bool, error) {
	out, err := contract.Unpack(function, data)
	if err != nil {
		return false, fmt.Errorf("unpack %s: %w", function, err)
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unpack %s: unexpected output type %T", function, out[0])
	}
	return v, nil
}

// migratedEvent is the decoded Migrated event from the V3 contract.
type migratedEvent struct {
	User    common.Address
	Amount  *big.Int
	Version string
}

// decodeMigratedEvent scans receipt logs for the V3 Migrated event emitted
// by the given contract. Returns nil when the event is absent; the event is
// informational, migrations without it are still valid.
func decodeMigratedEvent(logs []*types.Log, contract common.Address) *migratedEvent {
	event := tokenV3ABI.Events["Migrated"]
	for _, lg := range logs {
		if lg.Address != contract || len(lg.Topics) < 2 || lg.Topics[0] != event.ID {
			continue
		}
		var decoded struct {
			Amount  *big.Int
			Version string
		}
		if err := tokenV3ABI.UnpackIntoInterface(&decoded, "Migrated", lg.Data); err != nil {
			continue
		}
		return &migratedEvent{
			User:    common.BytesToAddress(lg.Topics[1].Bytes()),
			Amount:  decoded.Amount,
			Version: decoded.Version,
		}
	}
	return nil
}
