package verify

import (
	"context"
	"errors"
	"fmt"

	paywall "github.com/mark3labs/paywall-go"
	"github.com/mark3labs/paywall-go/chain"
)

// VerifySPLPayment checks that signature moved at least expectedAmount base
// units of asset into a token account owned by expectedRecipient.
//
// The destination account's owner and mint are always re-read from the chain.
// If that lookup fails the payment is rejected.
func (v *Verifier) VerifySPLPayment(ctx context.Context, signature, expectedRecipient string, expectedAmount uint64, maxAgeSeconds int, asset paywall.Asset, network string) (paywall.VerificationResult, error) {
	result := paywall.VerificationResult{Signature: signature}

	resolved, err := paywall.ResolveAsset(asset, network)
	if err != nil || resolved.Native {
		result.Error = ReasonUnsupportedAsset
		return result, nil
	}
	mint := resolved.Mint

	tx, ok, err := v.fetch(ctx, &result, signature, expectedRecipient, expectedAmount, maxAgeSeconds, network)
	if !ok {
		return result, err
	}
	result.Mint = mint

	oracle, err := v.oracles.Oracle(network)
	if err != nil {
		result.Error = ReasonUnavailable
		return result, fmt.Errorf("resolve oracle: %w", err)
	}

	candidates := tokenTransfers(tx)
	if len(candidates) == 0 {
		if t, found := balanceDelta(tx, expectedRecipient, mint); found {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		result.Error = ReasonNoTransfer
		return result, nil
	}

	// Keep the most specific failure seen across candidates.
	reason := ReasonNoTransfer
	var lookupErr error
	for _, t := range candidates {
		if t.mint != "" && t.mint != mint {
			if reason == ReasonNoTransfer {
				reason = ReasonMintMismatch
			}
			continue
		}
		// A recipient that isn't in the transaction's balance metadata can't be ours.
		if owner := ownerOf(tx, t.to); owner != "" && owner != expectedRecipient {
			reason = ReasonOwnerMismatch
			continue
		}

		acct, err := v.tokenAccount(ctx, oracle, t.to)
		if err != nil {
			v.logger.Warn("token account owner lookup failed",
				"signature", signature,
				"account", t.to,
				"error", err)
			reason = ReasonOwnerUnverified
			if !errors.Is(err, chain.ErrNotFound) && !errors.Is(err, chain.ErrNotTokenAccount) {
				lookupErr = fmt.Errorf("%w: token account %s: %w", paywall.ErrNetworkError, t.to, err)
			}
			continue
		}
		if acct.Mint != mint {
			reason = ReasonMintMismatch
			continue
		}
		if acct.Owner != expectedRecipient {
			v.logger.Warn("token account owner mismatch",
				"signature", signature,
				"account", t.to,
				"owner", acct.Owner,
				"expected", expectedRecipient)
			reason = ReasonOwnerMismatch
			continue
		}

		t.mint = mint
		if owner := ownerOf(tx, t.from); owner != "" {
			t.from = owner
		}
		return v.finish(result, tx, t, expectedAmount), nil
	}

	result.Error = reason
	if reason == ReasonOwnerUnverified {
		return result, lookupErr
	}
	return result, nil
}

func (v *Verifier) tokenAccount(ctx context.Context, oracle chain.Oracle, address string) (chain.TokenAccount, error) {
	if v.owners != nil {
		if acct, ok := v.owners.get(address, v.now()); ok {
			return acct, nil
		}
	}
	acct, err := oracle.GetTokenAccount(ctx, address)
	if err != nil {
		return chain.TokenAccount{}, err
	}
	if v.owners != nil {
		v.owners.put(acct, v.now())
	}
	return acct, nil
}
