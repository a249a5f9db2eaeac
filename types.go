// Package bridge implements the client-side orchestration for migrating the
// legacy UTOP token versions (V1, V2) to V3 on Polygon, plus the direct
// purchase flow against the sale contract. The on-chain contracts own the
// hard invariants; this package drives the read-then-approve-then-execute
// sequence against them through a narrow WalletConnector interface and
// exposes each step to the display layer.
package bridge

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
)

// Role identifies a logical token in the registry.
type Role string

const (
	RoleLegacyV1    Role = "legacy-v1"
	RoleLegacyV2    Role = "legacy-v2"
	RoleV3          Role = "v3"
	RolePaymentPOL  Role = "payment-pol"
	RolePaymentUSDT Role = "payment-usdt"
	RolePaymentBNB  Role = "payment-bnb"
)

// Token describes one registry entry. Tokens are immutable after registry
// load; Native marks the chain's native currency (POL), which has no
// contract address and is exempt from allowance handling.
type Token struct {
	Symbol      string         `json:"symbol"`
	DisplayName string         `json:"name"`
	Address     common.Address `json:"-"`
	Native      bool           `json:"-"`
	Decimals    uint8          `json:"decimals"`
}

// SourceVersion is the legacy token version a migration starts from.
// Each variant carries its own contract function names as data, so callers
// never branch on symbol strings.
type SourceVersion int

const (
	SourceV1 SourceVersion = iota + 1
	SourceV2
)

// ParseSourceVersion parses "v1"/"v2" as used on the wire by the display layer.
func ParseSourceVersion(s string) (SourceVersion, error) {
	switch s {
	case "v1", "V1":
		return SourceV1, nil
	case "v2", "V2":
		return SourceV2, nil
	}
	return 0, NewFlowError(ErrCodeUnknownToken, fmt.Sprintf("unknown source version %q", s), nil)
}

// MigrateFunction returns the V3 contract function that performs the migration.
func (v SourceVersion) MigrateFunction() string {
	if v == SourceV1 {
		return "migrateFromV1"
	}
	return "migrateFromV2"
}

// StatusFunction returns the V3 contract function that reports whether an
// account has already migrated this version.
func (v SourceVersion) StatusFunction() string {
	if v == SourceV1 {
		return "hasMigratedV1"
	}
	return "hasMigratedV2"
}

// TokenRole returns the registry role of the legacy token being migrated.
func (v SourceVersion) TokenRole() Role {
	if v == SourceV1 {
		return RoleLegacyV1
	}
	return RoleLegacyV2
}

func (v SourceVersion) String() string {
	if v == SourceV1 {
		return "v1"
	}
	return "v2"
}

// Valid reports whether v is one of the two defined versions.
func (v SourceVersion) Valid() bool {
	return v == SourceV1 || v == SourceV2
}

// PaymentKind is the payment token used in the purchase flow. The native
// variant never requires an allowance and is the only one that attaches
// transaction value.
type PaymentKind int

const (
	PaymentNative PaymentKind = iota + 1
	PaymentUSDT
	PaymentBNB
)

// ParsePaymentKind parses "pol"/"usdt"/"bnb" as used by the display layer.
func ParsePaymentKind(s string) (PaymentKind, error) {
	switch s {
	case "pol", "POL", "native":
		return PaymentNative, nil
	case "usdt", "USDT":
		return PaymentUSDT, nil
	case "bnb", "BNB":
		return PaymentBNB, nil
	}
	return 0, NewFlowError(ErrCodeUnknownToken, fmt.Sprintf("unknown payment token %q", s), nil)
}

// BuyFunction returns the sale contract function for this payment token.
func (k PaymentKind) BuyFunction() string {
	switch k {
	case PaymentNative:
		return "buyWithPOL"
	case PaymentUSDT:
		return "buyWithUSDT"
	default:
		return "buyWithBNB"
	}
}

// RequiresAllowance reports whether the purchase flow must secure an ERC-20
// allowance before buying. Native payment is sent as transaction value.
func (k PaymentKind) RequiresAllowance() bool {
	return k != PaymentNative
}

// TokenRole returns the registry role of the payment token.
func (k PaymentKind) TokenRole() Role {
	switch k {
	case PaymentNative:
		return RolePaymentPOL
	case PaymentUSDT:
		return RolePaymentUSDT
	default:
		return RolePaymentBNB
	}
}

func (k PaymentKind) String() string {
	switch k {
	case PaymentNative:
		return "pol"
	case PaymentUSDT:
		return "usdt"
	default:
		return "bnb"
	}
}

// Valid reports whether k is one of the defined payment kinds.
func (k PaymentKind) Valid() bool {
	return k == PaymentNative || k == PaymentUSDT || k == PaymentBNB
}

// MigrationIntent is one user-initiated migration. Created per action,
// discarded after a terminal state; never persisted.
type MigrationIntent struct {
	ID      uuid.UUID
	Account common.Address
	Source  SourceVersion
	Amount  *big.Int // base units
}

// NewMigrationIntent creates an intent with a fresh id.
func NewMigrationIntent(account common.Address, source SourceVersion, amount *big.Int) MigrationIntent {
	return MigrationIntent{ID: uuid.New(), Account: account, Source: source, Amount: amount}
}

// PurchaseIntent is one user-initiated purchase.
type PurchaseIntent struct {
	ID      uuid.UUID
	Account common.Address
	Payment PaymentKind
	Amount  *big.Int // base units of the payment token
}

// NewPurchaseIntent creates an intent with a fresh id.
func NewPurchaseIntent(account common.Address, payment PaymentKind, amount *big.Int) PurchaseIntent {
	return PurchaseIntent{ID: uuid.New(), Account: account, Payment: payment, Amount: amount}
}

// State is the UI-visible step of a flow.
type State int

const (
	StateIdle State = iota
	StateCheckingStatus
	StateQuoting
	StateCheckingAllowance
	StateApproving
	StateMigrating
	StatePurchasing
	StateSucceeded
	StateAlreadyMigrated
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:              "idle",
	StateCheckingStatus:    "checking_status",
	StateQuoting:           "quoting",
	StateCheckingAllowance: "checking_allowance",
	StateApproving:         "approving",
	StateMigrating:         "migrating",
	StatePurchasing:        "purchasing",
	StateSucceeded:         "succeeded",
	StateAlreadyMigrated:   "already_migrated",
	StateFailed:            "failed",
}

var stateLabels = map[State]string{
	StateIdle:              "Ready",
	StateCheckingStatus:    "Checking migration status",
	StateQuoting:           "Fetching quote",
	StateCheckingAllowance: "Checking allowance",
	StateApproving:         "Waiting for approval",
	StateMigrating:         "Migrating tokens",
	StatePurchasing:        "Purchasing tokens",
	StateSucceeded:         "Done",
	StateAlreadyMigrated:   "Already migrated",
	StateFailed:            "Failed",
}

func (s State) String() string {
	return stateNames[s]
}

// Label returns the human-readable progress label shown by the display layer.
func (s State) Label() string {
	return stateLabels[s]
}

// Terminal reports whether the flow has finished in this state.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateAlreadyMigrated || s == StateFailed
}

// TxRequest describes a transaction to be signed and broadcast by the wallet.
type TxRequest struct {
	To       common.Address
	Data     []byte
	Value    *big.Int // nil for no attached value
	GasLimit uint64   // 0 lets the connector estimate
}

// TxReceipt is the confirmation result of a broadcast transaction.
type TxReceipt struct {
	TxHash       common.Hash
	Status       uint64 // 1 = success, 0 = reverted
	BlockNumber  uint64
	RevertReason string // empty when unavailable
	Logs         []*types.Log
}

// Succeeded reports whether the transaction executed without reverting.
func (r *TxReceipt) Succeeded() bool {
	return r != nil && r.Status == types.ReceiptStatusSuccessful
}

// MigrationResult is the terminal outcome of a migration intent.
type MigrationResult struct {
	IntentID        uuid.UUID
	AlreadyMigrated bool        // true when short-circuited with zero writes
	ApproveTxHash   common.Hash // zero when no approval was needed
	TxHash          common.Hash
	AmountMigrated  *big.Int // decoded from the Migrated event when emitted
	Duration        time.Duration
}

// PurchaseResult is the terminal outcome of a purchase intent.
// QuotedOutput is advisory: the delivered amount is whatever the sale
// contract executed, and must not be presented as guaranteed.
type PurchaseResult struct {
	IntentID      uuid.UUID
	ApproveTxHash common.Hash
	TxHash        common.Hash
	QuotedOutput  *big.Int
	Duration      time.Duration
}
