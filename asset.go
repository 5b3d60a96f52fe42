package paywall

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NativeDecimals is the number of decimal places of SOL (lamports).
const NativeDecimals = 9

// Asset identifies what a requirement is priced in. It is a closed set:
// NativeAsset, WellKnownAsset and CustomAsset are the only implementations.
type Asset interface {
	isAsset()
}

// NativeAsset is the chain's base coin (SOL, priced in lamports).
type NativeAsset struct{}

// WellKnownAsset is a token looked up by symbol in the per-network mint table.
type WellKnownAsset struct {
	Symbol string
}

// CustomAsset is an arbitrary SPL token with an explicit mint and decimals.
type CustomAsset struct {
	Mint     string
	Decimals uint8
}

func (NativeAsset) isAsset()    {}
func (WellKnownAsset) isAsset() {}
func (CustomAsset) isAsset()    {}

// ResolvedAsset is an Asset bound to a network.
type ResolvedAsset struct {
	Native   bool
	Symbol   string
	Mint     string
	Decimals uint8
}

type wellKnownToken struct {
	decimals uint8
	mints    map[string]string
}

// wellKnownTokens maps an upper-case symbol to its mint on each network.
var wellKnownTokens = map[string]wellKnownToken{
	"USDC": {
		decimals: 6,
		mints: map[string]string{
			NetworkMainnet: SolanaMainnet.USDCMint,
			NetworkDevnet:  SolanaDevnet.USDCMint,
		},
	},
}

// ResolveAsset derives the mint and decimals of asset on network.
// A nil asset resolves as native.
func ResolveAsset(asset Asset, network string) (ResolvedAsset, error) {
	if err := ValidateNetwork(network); err != nil {
		return ResolvedAsset{}, err
	}

	switch a := asset.(type) {
	case nil, NativeAsset:
		return ResolvedAsset{Native: true, Symbol: "SOL", Decimals: NativeDecimals}, nil
	case WellKnownAsset:
		symbol := strings.ToUpper(a.Symbol)
		token, ok := wellKnownTokens[symbol]
		if !ok {
			return ResolvedAsset{}, fmt.Errorf("%w: %s", ErrUnknownAsset, a.Symbol)
		}
		mint, ok := token.mints[network]
		if !ok {
			return ResolvedAsset{}, fmt.Errorf("%w: %s on %s", ErrUnknownAsset, a.Symbol, network)
		}
		return ResolvedAsset{Symbol: symbol, Mint: mint, Decimals: token.decimals}, nil
	case CustomAsset:
		if a.Mint == "" {
			return ResolvedAsset{}, fmt.Errorf("asset: custom mint cannot be empty")
		}
		return ResolvedAsset{Mint: a.Mint, Decimals: a.Decimals}, nil
	default:
		return ResolvedAsset{}, fmt.Errorf("%w: %T", ErrUnknownAsset, asset)
	}
}

// IsNative reports whether asset settles in the base coin.
func IsNative(asset Asset) bool {
	switch asset.(type) {
	case nil, NativeAsset:
		return true
	default:
		return false
	}
}

type assetJSON struct {
	Kind     string `json:"kind"`
	Symbol   string `json:"symbol,omitempty"`
	Mint     string `json:"mint,omitempty"`
	Decimals *uint8 `json:"decimals,omitempty"`
}

const (
	assetKindNative = "native"
	assetKindToken  = "token"
	assetKindCustom = "custom"
)

func marshalAsset(asset Asset) ([]byte, error) {
	switch a := asset.(type) {
	case nil, NativeAsset:
		return json.Marshal(assetJSON{Kind: assetKindNative})
	case WellKnownAsset:
		return json.Marshal(assetJSON{Kind: assetKindToken, Symbol: a.Symbol})
	case CustomAsset:
		decimals := a.Decimals
		return json.Marshal(assetJSON{Kind: assetKindCustom, Mint: a.Mint, Decimals: &decimals})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownAsset, asset)
	}
}

func unmarshalAsset(data []byte) (Asset, error) {
	if len(data) == 0 || string(data) == "null" {
		return NativeAsset{}, nil
	}
	var raw assetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("asset: %w", err)
	}
	switch raw.Kind {
	case assetKindNative:
		return NativeAsset{}, nil
	case assetKindToken:
		if raw.Symbol == "" {
			return nil, fmt.Errorf("asset: token symbol cannot be empty")
		}
		return WellKnownAsset{Symbol: raw.Symbol}, nil
	case assetKindCustom:
		if raw.Mint == "" || raw.Decimals == nil {
			return nil, fmt.Errorf("asset: custom asset requires mint and decimals")
		}
		return CustomAsset{Mint: raw.Mint, Decimals: *raw.Decimals}, nil
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnknownAsset, raw.Kind)
	}
}
