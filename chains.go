// Package paywall provides the core types for an HTTP 402 paywall settled on
// Solana: payment requirements, the asset variant, verification results, replay
// records and the network table. Verification, sessions, replay protection and
// agent payments live in subpackages and depend only on the types defined here.
package paywall

import (
	"fmt"
	"strings"
)

// Network identifiers. A network is always explicit and never inferred.
const (
	NetworkMainnet = "solana"
	NetworkDevnet  = "solana-devnet"
)

// Public RPC endpoints used when no override is configured.
const (
	MainnetRPCURL = "https://api.mainnet-beta.solana.com"
	DevnetRPCURL  = "https://api.devnet.solana.com"
)

// ChainConfig contains network-specific configuration.
type ChainConfig struct {
	// Network is the protocol network identifier ("solana", "solana-devnet").
	Network string

	// RPCURL is the primary JSON-RPC endpoint.
	RPCURL string

	// FallbackRPCURLs are tried in order when the primary endpoint fails.
	// They are only used when fallback is enabled on the registry.
	FallbackRPCURLs []string

	// USDCMint is the Circle USDC mint on this network.
	USDCMint string
}

var (
	SolanaMainnet = ChainConfig{
		Network:  NetworkMainnet,
		RPCURL:   MainnetRPCURL,
		USDCMint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	}

	SolanaDevnet = ChainConfig{
		Network:  NetworkDevnet,
		RPCURL:   DevnetRPCURL,
		USDCMint: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
	}
)

// ValidateNetwork returns an error unless network is a known identifier.
func ValidateNetwork(network string) error {
	switch network {
	case NetworkMainnet, NetworkDevnet:
		return nil
	case "":
		return fmt.Errorf("network: cannot be empty")
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedNetwork, network)
	}
}

// ChainConfigFor returns the default configuration of a known network.
func ChainConfigFor(network string) (ChainConfig, error) {
	switch network {
	case NetworkMainnet:
		return SolanaMainnet, nil
	case NetworkDevnet:
		return SolanaDevnet, nil
	default:
		return ChainConfig{}, ValidateNetwork(network)
	}
}

// ParseNetwork maps the short selector used on the command line ("devnet",
// "mainnet", "mainnet-beta") to a network identifier.
func ParseNetwork(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mainnet", "mainnet-beta", NetworkMainnet:
		return NetworkMainnet, nil
	case "devnet", NetworkDevnet:
		return NetworkDevnet, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedNetwork, s)
}
