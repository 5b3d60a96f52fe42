// Package verify checks a claimed transaction signature against a payment
// requirement using only what the chain reports. Client-supplied amounts and
// recipients are never trusted; the caller passes its own expected values.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	paywall "github.com/mark3labs/paywall-go"
	"github.com/mark3labs/paywall-go/chain"
	"github.com/mark3labs/paywall-go/validation"
)

// MaxClockSkew is how far in the future a block time may be before the
// transaction is rejected as future-dated.
const MaxClockSkew = 60 * time.Second

// Reasons reported in VerificationResult.Error.
const (
	ReasonInvalidSignature   = "invalid signature format"
	ReasonInvalidRecipient   = "invalid recipient address"
	ReasonInvalidAmount      = "expected amount must be greater than 0"
	ReasonNotFound           = "transaction not found"
	ReasonFailedOnChain      = "transaction failed on-chain"
	ReasonNoBlockTime        = "transaction block time unavailable"
	ReasonTooOld             = "transaction too old"
	ReasonFutureDated        = "transaction timestamp is in the future"
	ReasonNoTransfer         = "no valid transfer to recipient found"
	ReasonUnavailable        = "verification temporarily unavailable"
	ReasonMintMismatch       = "token mint mismatch"
	ReasonOwnerMismatch      = "token account owner mismatch"
	ReasonOwnerUnverified    = "could not verify token account owner"
	ReasonUnsupportedAsset   = "unsupported asset"
	reasonInsufficientFormat = "insufficient amount: expected %d, got %d"
)

// OracleSource resolves the oracle for a network. *chain.Registry implements it.
type OracleSource interface {
	Oracle(network string) (chain.Oracle, error)
}

type singleOracle struct{ o chain.Oracle }

func (s singleOracle) Oracle(string) (chain.Oracle, error) { return s.o, nil }

// Single serves the same oracle for every network.
func Single(o chain.Oracle) OracleSource {
	return singleOracle{o: o}
}

// Verifier verifies native and token payments.
type Verifier struct {
	oracles    OracleSource
	now        func() time.Time
	logger     *slog.Logger
	commitment chain.Commitment
	owners     *ownerCache
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithCommitment sets the commitment used when fetching transactions.
// Defaults to confirmed.
func WithCommitment(c chain.Commitment) Option {
	return func(v *Verifier) {
		if c != "" {
			v.commitment = c
		}
	}
}

// WithOwnerCache caches successful token account owner lookups for ttl.
// Misses and lookup errors always go to the chain. Disabled by default.
func WithOwnerCache(ttl time.Duration) Option {
	return func(v *Verifier) {
		if ttl > 0 {
			v.owners = newOwnerCache(ttl)
		}
	}
}

// New creates a Verifier.
func New(oracles OracleSource, opts ...Option) *Verifier {
	v := &Verifier{
		oracles:    oracles,
		now:        time.Now,
		logger:     slog.Default(),
		commitment: chain.CommitmentConfirmed,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify dispatches on the requirement's asset: native requirements go to
// VerifyPayment, token requirements to VerifySPLPayment.
func (v *Verifier) Verify(ctx context.Context, signature string, req paywall.PaymentRequirement) (paywall.VerificationResult, error) {
	if paywall.IsNative(req.Asset) {
		return v.VerifyPayment(ctx, signature, req.PayTo, req.Amount, req.MaxTimeoutSeconds, req.Network)
	}
	return v.VerifySPLPayment(ctx, signature, req.PayTo, req.Amount, req.MaxTimeoutSeconds, req.Asset, req.Network)
}

// VerifyPayment checks that signature is a confirmed, fresh transaction that
// moved at least expectedAmount lamports to expectedRecipient.
//
// Business failures are reported in the result with a nil error. A non-nil
// error means the chain could not be consulted; the result is then invalid.
func (v *Verifier) VerifyPayment(ctx context.Context, signature, expectedRecipient string, expectedAmount uint64, maxAgeSeconds int, network string) (paywall.VerificationResult, error) {
	result := paywall.VerificationResult{Signature: signature}

	tx, ok, err := v.fetch(ctx, &result, signature, expectedRecipient, expectedAmount, maxAgeSeconds, network)
	if !ok {
		return result, err
	}

	transfer, found := findNativeTransfer(tx, expectedRecipient)
	if !found {
		result.Error = ReasonNoTransfer
		return result, nil
	}
	return v.finish(result, tx, transfer, expectedAmount), nil
}

// fetch runs the checks shared by both asset flavors: input format, age clamp,
// existence, on-chain status and freshness. ok is false when result is final.
func (v *Verifier) fetch(ctx context.Context, result *paywall.VerificationResult, signature, recipient string, amount uint64, maxAgeSeconds int, network string) (*chain.ParsedTransaction, bool, error) {
	if err := validation.ValidateSignature(signature); err != nil {
		result.Error = ReasonInvalidSignature
		return nil, false, nil
	}
	if err := validation.ValidateAddress(recipient); err != nil {
		result.Error = ReasonInvalidRecipient
		return nil, false, nil
	}
	if err := validation.ValidateAmount(amount); err != nil {
		result.Error = ReasonInvalidAmount
		return nil, false, nil
	}
	maxAge := time.Duration(validation.ClampMaxAge(maxAgeSeconds)) * time.Second

	oracle, err := v.oracles.Oracle(network)
	if err != nil {
		result.Error = ReasonUnavailable
		return nil, false, fmt.Errorf("resolve oracle: %w", err)
	}

	tx, err := oracle.GetParsedTransaction(ctx, signature, v.commitment)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			result.Error = ReasonNotFound
			return nil, false, nil
		}
		result.Error = ReasonUnavailable
		return nil, false, fmt.Errorf("%w: fetch transaction %s: %w", paywall.ErrNetworkError, signature, err)
	}

	result.Confirmed = true
	result.Slot = tx.Slot

	if tx.Err != nil {
		v.logger.Debug("transaction failed on-chain", "signature", signature, "error", tx.Err)
		result.Error = ReasonFailedOnChain
		return nil, false, nil
	}

	if tx.BlockTime == nil {
		result.Error = ReasonNoBlockTime
		return nil, false, nil
	}
	blockTime := *tx.BlockTime
	result.BlockTime = &blockTime

	now := v.now()
	if now.Sub(blockTime) > maxAge {
		result.Error = ReasonTooOld
		return nil, false, nil
	}
	if blockTime.Sub(now) > MaxClockSkew {
		result.Error = ReasonFutureDated
		return nil, false, nil
	}

	return tx, true, nil
}

// finish copies the observed transfer into result and applies the amount check.
func (v *Verifier) finish(result paywall.VerificationResult, tx *chain.ParsedTransaction, t transfer, expectedAmount uint64) paywall.VerificationResult {
	result.From = t.from
	result.To = t.to
	result.Amount = t.amount
	result.Mint = t.mint

	if t.amount < expectedAmount {
		result.Error = fmt.Sprintf(reasonInsufficientFormat, expectedAmount, t.amount)
		v.logger.Info("payment below requirement",
			"signature", tx.Signature,
			"expected", expectedAmount,
			"observed", t.amount)
		return result
	}

	result.Valid = true
	return result
}
