// Package chaintest provides an in-memory chain.Oracle for tests.
package chaintest

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/mark3labs/paywall-go/chain"
)

// Oracle is a configurable fake. Zero values answer "not found" for lookups
// and succeed for writes. Hooks, when set, take precedence over the maps.
type Oracle struct {
	mu sync.Mutex

	Transactions  map[string]*chain.ParsedTransaction
	Balances      map[string]uint64
	TokenAccounts map[string]chain.TokenAccount
	Blockhash     chain.Blockhash
	Slot          uint64
	Fees          []uint64

	// Err, when set, is returned by every call.
	Err error

	SendFunc    func(ctx context.Context, tx *solana.Transaction, opts chain.SendOptions) (string, error)
	ConfirmFunc func(ctx context.Context, signature string, blockhash chain.Blockhash) (chain.Confirmation, error)
	TokenFunc   func(ctx context.Context, address string) (chain.TokenAccount, error)

	calls map[string]int
	sent  []*solana.Transaction
}

// New returns an empty fake.
func New() *Oracle {
	return &Oracle{
		Transactions:  make(map[string]*chain.ParsedTransaction),
		Balances:      make(map[string]uint64),
		TokenAccounts: make(map[string]chain.TokenAccount),
		Blockhash:     chain.Blockhash{Hash: solana.Hash{1, 2, 3}, LastValidBlockHeight: 1000},
		Slot:          100,
	}
}

func (o *Oracle) record(method string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calls == nil {
		o.calls = make(map[string]int)
	}
	o.calls[method]++
	return o.Err
}

// Calls returns how many times method was invoked.
func (o *Oracle) Calls(method string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[method]
}

// TotalCalls returns the number of calls across all methods.
func (o *Oracle) TotalCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, c := range o.calls {
		n += c
	}
	return n
}

// Sent returns the transactions passed to SendTransaction.
func (o *Oracle) Sent() []*solana.Transaction {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*solana.Transaction(nil), o.sent...)
}

// AddTransaction registers tx under its signature.
func (o *Oracle) AddTransaction(tx *chain.ParsedTransaction) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Transactions[tx.Signature] = tx
}

func (o *Oracle) GetParsedTransaction(ctx context.Context, signature string, commitment chain.Commitment) (*chain.ParsedTransaction, error) {
	if err := o.record("GetParsedTransaction"); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	tx, ok := o.Transactions[signature]
	if !ok {
		return nil, chain.ErrNotFound
	}
	return tx, nil
}

func (o *Oracle) GetBalance(ctx context.Context, address string) (uint64, error) {
	if err := o.record("GetBalance"); err != nil {
		return 0, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Balances[address], nil
}

func (o *Oracle) GetLatestBlockhash(ctx context.Context, commitment chain.Commitment) (chain.Blockhash, error) {
	if err := o.record("GetLatestBlockhash"); err != nil {
		return chain.Blockhash{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Blockhash, nil
}

func (o *Oracle) GetSlot(ctx context.Context) (uint64, error) {
	if err := o.record("GetSlot"); err != nil {
		return 0, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Slot, nil
}

func (o *Oracle) SendTransaction(ctx context.Context, tx *solana.Transaction, opts chain.SendOptions) (string, error) {
	if err := o.record("SendTransaction"); err != nil {
		return "", err
	}
	o.mu.Lock()
	o.sent = append(o.sent, tx)
	send := o.SendFunc
	o.mu.Unlock()

	if send != nil {
		return send(ctx, tx, opts)
	}
	if len(tx.Signatures) == 0 {
		return "", nil
	}
	return tx.Signatures[0].String(), nil
}

func (o *Oracle) ConfirmTransaction(ctx context.Context, signature string, blockhash chain.Blockhash, commitment chain.Commitment) (chain.Confirmation, error) {
	if err := o.record("ConfirmTransaction"); err != nil {
		return chain.Confirmation{}, err
	}
	if o.ConfirmFunc != nil {
		return o.ConfirmFunc(ctx, signature, blockhash)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return chain.Confirmation{Slot: o.Slot}, nil
}

func (o *Oracle) GetTokenAccount(ctx context.Context, address string) (chain.TokenAccount, error) {
	if err := o.record("GetTokenAccount"); err != nil {
		return chain.TokenAccount{}, err
	}
	if o.TokenFunc != nil {
		return o.TokenFunc(ctx, address)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	acct, ok := o.TokenAccounts[address]
	if !ok {
		return chain.TokenAccount{}, chain.ErrNotFound
	}
	return acct, nil
}

func (o *Oracle) GetRecentPrioritizationFees(ctx context.Context, accounts []string) ([]uint64, error) {
	if err := o.record("GetRecentPrioritizationFees"); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]uint64(nil), o.Fees...), nil
}

var _ chain.Oracle = (*Oracle)(nil)
