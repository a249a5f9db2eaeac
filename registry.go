package bridge

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed registry.json
var defaultRegistryJSON []byte

// registrySchema validates registry documents before any address parsing.
// The "native" sentinel stands in for the chain's native currency.
const registrySchema = `{
	"type": "object",
	"required": ["tokens"],
	"properties": {
		"tokens": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["role", "symbol", "name", "address", "decimals"],
				"properties": {
					"role": {
						"type": "string",
						"enum": ["legacy-v1", "legacy-v2", "v3", "payment-pol", "payment-usdt", "payment-bnb"]
					},
					"symbol": {"type": "string", "minLength": 1},
					"name": {"type": "string", "minLength": 1},
					"address": {
						"type": "string",
						"pattern": "^(0x[0-9a-fA-F]{40}|native)$"
					},
					"decimals": {"type": "integer", "minimum": 0, "maximum": 18}
				}
			}
		}
	}
}`

type registryDocument struct {
	Tokens []registryEntry `json:"tokens"`
}

type registryEntry struct {
	Role     Role   `json:"role"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
}

// Registry is the static mapping of logical token roles to contract
// addresses, symbols, and decimals. It is immutable after load and performs
// no network access.
type Registry struct {
	tokens map[Role]Token
}

// NewRegistry parses and validates a registry document.
func NewRegistry(doc []byte) (*Registry, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(registrySchema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate registry: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("invalid registry document: %v", result.Errors())
	}

	var parsed registryDocument
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}

	tokens := make(map[Role]Token, len(parsed.Tokens))
	for _, entry := range parsed.Tokens {
		if _, exists := tokens[entry.Role]; exists {
			return nil, fmt.Errorf("duplicate registry role %q", entry.Role)
		}
		token := Token{
			Symbol:      entry.Symbol,
			DisplayName: entry.Name,
			Decimals:    entry.Decimals,
		}
		if entry.Address == "native" {
			token.Native = true
		} else {
			token.Address = common.HexToAddress(entry.Address)
		}
		tokens[entry.Role] = token
	}
	return &Registry{tokens: tokens}, nil
}

// DefaultRegistry returns the embedded Polygon mainnet registry.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(defaultRegistryJSON)
	if err != nil {
		panic(fmt.Sprintf("embedded registry is invalid: %v", err))
	}
	return r
}

// Resolve looks up a token by role. Fails with unknown_token for roles not
// present in the registry.
func (r *Registry) Resolve(role Role) (Token, error) {
	token, ok := r.tokens[role]
	if !ok {
		return Token{}, NewFlowError(ErrCodeUnknownToken, fmt.Sprintf("token role %q is not registered", role), nil)
	}
	return token, nil
}

// MigrationTarget returns the V3 token, the unique migration target and the
// spender for migration approvals.
func (r *Registry) MigrationTarget() (Token, error) {
	return r.Resolve(RoleV3)
}
