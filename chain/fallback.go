package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/mark3labs/paywall-go/retry"
)

// FallbackOracle tries each oracle in order, moving to the next one only on
// transient failures. Definitive answers (not found, rejected transaction)
// are returned as-is from the first oracle that produced them.
type FallbackOracle struct {
	oracles []Oracle
	logger  *slog.Logger
}

// NewFallbackOracle wraps a primary oracle and its fallbacks.
func NewFallbackOracle(logger *slog.Logger, oracles ...Oracle) *FallbackOracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackOracle{oracles: oracles, logger: logger}
}

func tryEach[T any](ctx context.Context, f *FallbackOracle, op string, call func(Oracle) (T, error)) (T, error) {
	var zero T
	if len(f.oracles) == 0 {
		return zero, fmt.Errorf("%s: no oracles configured", op)
	}

	var errs []error
	for i, o := range f.oracles {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := call(o)
		if err == nil {
			if i > 0 {
				f.logger.Info("rpc fallback succeeded", "op", op, "index", i)
			}
			return v, nil
		}
		if !retry.IsTransient(err) {
			return zero, err
		}
		f.logger.Warn("rpc endpoint failed, trying fallback", "op", op, "index", i, "error", err)
		errs = append(errs, err)
	}
	return zero, fmt.Errorf("%s: all endpoints failed: %w", op, errors.Join(errs...))
}

func (f *FallbackOracle) GetParsedTransaction(ctx context.Context, signature string, commitment Commitment) (*ParsedTransaction, error) {
	return tryEach(ctx, f, "getTransaction", func(o Oracle) (*ParsedTransaction, error) {
		return o.GetParsedTransaction(ctx, signature, commitment)
	})
}

func (f *FallbackOracle) GetBalance(ctx context.Context, address string) (uint64, error) {
	return tryEach(ctx, f, "getBalance", func(o Oracle) (uint64, error) {
		return o.GetBalance(ctx, address)
	})
}

func (f *FallbackOracle) GetLatestBlockhash(ctx context.Context, commitment Commitment) (Blockhash, error) {
	return tryEach(ctx, f, "getLatestBlockhash", func(o Oracle) (Blockhash, error) {
		return o.GetLatestBlockhash(ctx, commitment)
	})
}

func (f *FallbackOracle) GetSlot(ctx context.Context) (uint64, error) {
	return tryEach(ctx, f, "getSlot", func(o Oracle) (uint64, error) {
		return o.GetSlot(ctx)
	})
}

func (f *FallbackOracle) SendTransaction(ctx context.Context, tx *solana.Transaction, opts SendOptions) (string, error) {
	return tryEach(ctx, f, "sendTransaction", func(o Oracle) (string, error) {
		return o.SendTransaction(ctx, tx, opts)
	})
}

func (f *FallbackOracle) ConfirmTransaction(ctx context.Context, signature string, blockhash Blockhash, commitment Commitment) (Confirmation, error) {
	return tryEach(ctx, f, "confirmTransaction", func(o Oracle) (Confirmation, error) {
		return o.ConfirmTransaction(ctx, signature, blockhash, commitment)
	})
}

func (f *FallbackOracle) GetTokenAccount(ctx context.Context, address string) (TokenAccount, error) {
	return tryEach(ctx, f, "getAccountInfo", func(o Oracle) (TokenAccount, error) {
		return o.GetTokenAccount(ctx, address)
	})
}

func (f *FallbackOracle) GetRecentPrioritizationFees(ctx context.Context, accounts []string) ([]uint64, error) {
	return tryEach(ctx, f, "getRecentPrioritizationFees", func(o Oracle) ([]uint64, error) {
		return o.GetRecentPrioritizationFees(ctx, accounts)
	})
}
