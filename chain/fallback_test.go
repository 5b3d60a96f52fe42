package chain_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/paywall-go/chain"
	"github.com/mark3labs/paywall-go/chain/chaintest"
)

func TestFallbackOracle(t *testing.T) {
	transient := errors.New("dial tcp 10.0.0.1:8899: connection refused")

	t.Run("uses fallback on transient failure", func(t *testing.T) {
		primary := chaintest.New()
		primary.Err = transient
		backup := chaintest.New()
		backup.Slot = 99

		slot, err := chain.NewFallbackOracle(nil, primary, backup).GetSlot(context.Background())
		if err != nil {
			t.Fatalf("GetSlot() error = %v", err)
		}
		if slot != 99 {
			t.Errorf("slot = %d, want 99", slot)
		}
		if primary.Calls("GetSlot") != 1 || backup.Calls("GetSlot") != 1 {
			t.Error("both oracles should have been called once")
		}
	})

	t.Run("does not fall back on not found", func(t *testing.T) {
		primary := chaintest.New()
		backup := chaintest.New()

		_, err := chain.NewFallbackOracle(nil, primary, backup).GetParsedTransaction(context.Background(), "sig", chain.CommitmentConfirmed)
		if !errors.Is(err, chain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if backup.TotalCalls() != 0 {
			t.Error("backup should not be called for a definitive answer")
		}
	})

	t.Run("all endpoints failing", func(t *testing.T) {
		primary := chaintest.New()
		primary.Err = transient
		backup := chaintest.New()
		backup.Err = transient

		_, err := chain.NewFallbackOracle(nil, primary, backup).GetBalance(context.Background(), "addr")
		if err == nil {
			t.Fatal("expected error")
		}
		if !errors.Is(err, transient) {
			t.Errorf("error should join the endpoint errors: %v", err)
		}
	})
}
