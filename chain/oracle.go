// Package chain abstracts the Solana JSON-RPC node behind the Oracle interface.
// Verification and agent payments only ever talk to an Oracle; the solana-go
// backed implementation lives in rpc.go and a fake for tests in chaintest.
package chain

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrNotFound is returned when a transaction or account does not exist.
	ErrNotFound = errors.New("chain: not found")

	// ErrBlockhashExpired is returned by ConfirmTransaction once the block
	// height has passed the blockhash's last valid height.
	ErrBlockhashExpired = errors.New("chain: blockhash expired before confirmation")

	// ErrNotTokenAccount is returned when an account is not owned by a token program.
	ErrNotTokenAccount = errors.New("chain: account is not a token account")
)

// Commitment is the confirmation level a read or confirmation waits for.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// Instruction is a parsed instruction. Type and Info are empty for
// instructions the node could not parse.
type Instruction struct {
	Program   string
	ProgramID string
	Type      string
	Info      map[string]any
}

// TokenBalance is a token balance entry from transaction metadata.
type TokenBalance struct {
	AccountIndex int
	Account      string
	Owner        string
	Mint         string
	Amount       uint64
	Decimals     uint8
}

// ParsedTransaction is the subset of a confirmed transaction needed to
// verify a payment.
type ParsedTransaction struct {
	Signature string
	Slot      uint64
	BlockTime *time.Time

	// Err is non-nil when the transaction landed but failed.
	Err any

	AccountKeys       []string
	Instructions      []Instruction
	InnerInstructions []Instruction

	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// Blockhash is a recent blockhash and the last block height it is valid for.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// SendOptions controls transaction submission.
type SendOptions struct {
	SkipPreflight bool
	MaxRetries    uint
}

// Confirmation is the result of waiting for a transaction.
type Confirmation struct {
	Slot uint64
	Err  any
}

// TokenAccount is a decoded SPL token account.
type TokenAccount struct {
	Address string
	Mint    string
	Owner   string
	Amount  uint64
}

// Oracle is the chain surface used by the verifier and the agent executor.
type Oracle interface {
	// GetParsedTransaction returns ErrNotFound when the signature is unknown.
	GetParsedTransaction(ctx context.Context, signature string, commitment Commitment) (*ParsedTransaction, error)
	GetBalance(ctx context.Context, address string) (uint64, error)
	GetLatestBlockhash(ctx context.Context, commitment Commitment) (Blockhash, error)
	GetSlot(ctx context.Context) (uint64, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction, opts SendOptions) (string, error)
	// ConfirmTransaction blocks until the signature reaches commitment, the
	// blockhash expires or ctx is done.
	ConfirmTransaction(ctx context.Context, signature string, blockhash Blockhash, commitment Commitment) (Confirmation, error)
	GetTokenAccount(ctx context.Context, address string) (TokenAccount, error)
	GetRecentPrioritizationFees(ctx context.Context, accounts []string) ([]uint64, error)
}
