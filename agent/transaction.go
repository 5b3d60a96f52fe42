package agent

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// MemoProgramID is the SPL Memo v2 program.
var MemoProgramID = solana.MemoProgramID

const (
	DefaultComputeUnitLimit uint32 = 200_000
	// MaxMemoLength keeps the memo well inside the transaction size limit.
	MaxMemoLength = 566
)

// PriorityFee prepends compute budget instructions to a payment.
type PriorityFee struct {
	// ComputeUnitLimit defaults to DefaultComputeUnitLimit.
	ComputeUnitLimit uint32
	// MicroLamports is the price per compute unit.
	MicroLamports uint64
}

func computeBudgetInstructions(fee PriorityFee) ([]solana.Instruction, error) {
	limit := fee.ComputeUnitLimit
	if limit == 0 {
		limit = DefaultComputeUnitLimit
	}

	cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(limit).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build compute limit instruction: %w", err)
	}

	cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(fee.MicroLamports).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build compute price instruction: %w", err)
	}

	return []solana.Instruction{cuLimit, cuPrice}, nil
}

func nativeTransferInstruction(from, to solana.PublicKey, lamports uint64) (solana.Instruction, error) {
	ix, err := system.NewTransferInstruction(lamports, from, to).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer instruction: %w", err)
	}
	return ix, nil
}

// tokenTransferInstruction moves amount of mint between the associated token
// accounts of from and to.
func tokenTransferInstruction(from, to, mint solana.PublicKey, amount uint64, decimals uint8) (solana.Instruction, error) {
	sourceATA, _, err := solana.FindAssociatedTokenAddress(from, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to find source ATA: %w", err)
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(to, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to find destination ATA: %w", err)
	}

	ix, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(amount).
		SetDecimals(decimals).
		SetSourceAccount(sourceATA).
		SetDestinationAccount(destATA).
		SetMintAccount(mint).
		SetOwnerAccount(from).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer instruction: %w", err)
	}
	return ix, nil
}

func memoInstruction(signer solana.PublicKey, memo string) solana.Instruction {
	return solana.NewInstruction(
		MemoProgramID,
		solana.AccountMetaSlice{solana.Meta(signer).SIGNER()},
		[]byte(memo),
	)
}

// buildTransaction assembles and signs a v0 transaction paid for by key.
func buildTransaction(key solana.PrivateKey, instructions []solana.Instruction, blockhash solana.Hash) (*solana.Transaction, error) {
	payer := key.PublicKey()
	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	// No lookup tables, so every account stays in the static key list.
	tx.Message.SetVersion(solana.MessageVersionV0)

	_, err = tx.Sign(func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(payer) {
			return &key
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx, nil
}
