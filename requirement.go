package paywall

import (
	"fmt"

	"github.com/mark3labs/paywall-go/validation"
)

// DefaultMaxTimeoutSeconds is used when a RequirementConfig leaves the timeout unset.
const DefaultMaxTimeoutSeconds = 300

// RequirementConfig is the input to BuildPaymentRequirement.
type RequirementConfig struct {
	// Network is the network identifier (required).
	Network string

	// PayTo is the recipient wallet address (required).
	PayTo string

	// Amount is the price in the asset's smallest unit (required, > 0).
	Amount uint64

	// Asset defaults to NativeAsset.
	Asset Asset

	// Resource is the protected resource URL, rooted path or mcp:// URI (required).
	Resource string

	Description string

	// MaxTimeoutSeconds defaults to 300 and must be in [60, 3600] when set.
	MaxTimeoutSeconds int

	Extra map[string]any
}

// BuildPaymentRequirement validates config and returns the requirement it
// describes. Every error names the offending field.
func BuildPaymentRequirement(config RequirementConfig) (PaymentRequirement, error) {
	if err := ValidateNetwork(config.Network); err != nil {
		return PaymentRequirement{}, fmt.Errorf("%w: %w", ErrInvalidRequirement, err)
	}
	if err := validation.ValidateAddress(config.PayTo); err != nil {
		return PaymentRequirement{}, fmt.Errorf("%w: payTo: %w", ErrInvalidRequirement, err)
	}
	if err := validation.ValidateAmount(config.Amount); err != nil {
		return PaymentRequirement{}, fmt.Errorf("%w: %w", ErrInvalidRequirement, err)
	}
	if err := validation.ValidateResource(config.Resource); err != nil {
		return PaymentRequirement{}, fmt.Errorf("%w: %w", ErrInvalidRequirement, err)
	}

	timeout := config.MaxTimeoutSeconds
	if timeout == 0 {
		timeout = DefaultMaxTimeoutSeconds
	}
	if err := validation.ValidateTimeout(timeout); err != nil {
		return PaymentRequirement{}, fmt.Errorf("%w: maxTimeoutSeconds: %w", ErrInvalidRequirement, err)
	}

	asset := config.Asset
	if asset == nil {
		asset = NativeAsset{}
	}
	resolved, err := ResolveAsset(asset, config.Network)
	if err != nil {
		return PaymentRequirement{}, fmt.Errorf("%w: asset: %w", ErrInvalidRequirement, err)
	}
	if !resolved.Native {
		if err := validation.ValidateAddress(resolved.Mint); err != nil {
			return PaymentRequirement{}, fmt.Errorf("%w: asset mint: %w", ErrInvalidRequirement, err)
		}
	}

	var extra map[string]any
	if len(config.Extra) > 0 {
		extra = make(map[string]any, len(config.Extra))
		for k, v := range config.Extra {
			extra[k] = v
		}
	}

	return PaymentRequirement{
		Scheme:            SchemeExact,
		Network:           config.Network,
		Amount:            config.Amount,
		Resource:          config.Resource,
		Description:       config.Description,
		PayTo:             config.PayTo,
		MaxTimeoutSeconds: timeout,
		Asset:             asset,
		Extra:             extra,
	}, nil
}

// Validate checks a decoded requirement. It is used on requirements echoed by
// clients, which are only ever treated as a hint.
func (r PaymentRequirement) Validate() error {
	if r.Scheme != SchemeExact {
		if r.Scheme == "" {
			return fmt.Errorf("%w: scheme cannot be empty", ErrInvalidRequirement)
		}
		return fmt.Errorf("%w: %s", ErrUnsupportedScheme, r.Scheme)
	}
	if err := ValidateNetwork(r.Network); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequirement, err)
	}
	if err := validation.ValidateAddress(r.PayTo); err != nil {
		return fmt.Errorf("%w: payTo: %w", ErrInvalidRequirement, err)
	}
	if err := validation.ValidateAmount(r.Amount); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequirement, err)
	}
	if _, err := ResolveAsset(r.Asset, r.Network); err != nil {
		return fmt.Errorf("%w: asset: %w", ErrInvalidRequirement, err)
	}
	return nil
}

// Matches reports whether a client-echoed requirement refers to the same
// payment as r. Only identity fields are compared; the caller still verifies
// against r itself.
func (r PaymentRequirement) Matches(other PaymentRequirement) bool {
	if r.Scheme != other.Scheme || r.Network != other.Network || r.PayTo != other.PayTo {
		return false
	}
	a, errA := ResolveAsset(r.Asset, r.Network)
	b, errB := ResolveAsset(other.Asset, other.Network)
	if errA != nil || errB != nil {
		return false
	}
	return a.Native == b.Native && a.Mint == b.Mint
}
