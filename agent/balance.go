package agent

import (
	"context"
	"fmt"
	"math"
	"slices"
)

// DefaultBalanceBuffer is headroom for fees on top of the payment amount.
const DefaultBalanceBuffer uint64 = 5_000_000

// DefaultMinPriorityFee is the floor, in micro-lamports per compute unit,
// returned by EstimatePriorityFee.
const DefaultMinPriorityFee uint64 = 1_000

// BalanceCheck is the result of HasSufficientBalance. Required includes the
// buffer.
type BalanceCheck struct {
	Sufficient bool   `json:"sufficient"`
	Balance    uint64 `json:"balance"`
	Required   uint64 `json:"required"`
}

// Balance returns the agent's balance in lamports.
func (e *Executor) Balance(ctx context.Context) (uint64, error) {
	balance, err := e.oracle.GetBalance(ctx, e.address.String())
	if err != nil {
		return 0, fmt.Errorf("get agent balance: %w", err)
	}
	return balance, nil
}

// HasSufficientBalance checks the balance against required plus
// DefaultBalanceBuffer. The answer is advisory: the balance can change before
// a payment is sent.
func (e *Executor) HasSufficientBalance(ctx context.Context, required uint64) (BalanceCheck, error) {
	return e.HasSufficientBalanceWithBuffer(ctx, required, DefaultBalanceBuffer)
}

// HasSufficientBalanceWithBuffer is HasSufficientBalance with an explicit buffer.
func (e *Executor) HasSufficientBalanceWithBuffer(ctx context.Context, required, buffer uint64) (BalanceCheck, error) {
	balance, err := e.Balance(ctx)
	if err != nil {
		return BalanceCheck{}, err
	}
	threshold := required + buffer
	if threshold < required {
		threshold = math.MaxUint64
	}
	return BalanceCheck{
		Sufficient: balance >= threshold,
		Balance:    balance,
		Required:   threshold,
	}, nil
}

// EstimatePriorityFee returns the median recent prioritization fee for
// accounts, never below DefaultMinPriorityFee.
func (e *Executor) EstimatePriorityFee(ctx context.Context, accounts ...string) (uint64, error) {
	if len(accounts) == 0 {
		accounts = []string{e.address.String()}
	}
	fees, err := e.oracle.GetRecentPrioritizationFees(ctx, accounts)
	if err != nil {
		return 0, fmt.Errorf("get prioritization fees: %w", err)
	}
	return max(median(fees), DefaultMinPriorityFee), nil
}

func median(values []uint64) uint64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	a, b := sorted[mid-1], sorted[mid]
	return a + (b-a)/2
}
