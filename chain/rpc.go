package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
)

// DefaultPollInterval is how often ConfirmTransaction polls signature status.
const DefaultPollInterval = 500 * time.Millisecond

// tokenAccountSize is the length of the base SPL token account layout.
// Token-2022 accounts append extensions after it.
const tokenAccountSize = 165

// RPCOracle implements Oracle on top of a solana-go JSON-RPC client.
type RPCOracle struct {
	client       *rpc.Client
	endpoint     string
	pollInterval time.Duration
	logger       *slog.Logger
}

// RPCOption configures an RPCOracle.
type RPCOption func(*RPCOracle)

// WithPollInterval sets the confirmation polling interval.
func WithPollInterval(d time.Duration) RPCOption {
	return func(o *RPCOracle) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RPCOption {
	return func(o *RPCOracle) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHeaders sends extra HTTP headers (API keys) with every request.
func WithHeaders(headers map[string]string) RPCOption {
	return func(o *RPCOracle) {
		if len(headers) > 0 {
			o.client = rpc.NewWithHeaders(o.endpoint, headers)
		}
	}
}

// NewRPCOracle creates an oracle talking to endpoint.
func NewRPCOracle(endpoint string, opts ...RPCOption) *RPCOracle {
	o := &RPCOracle{
		client:       rpc.New(endpoint),
		endpoint:     endpoint,
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Endpoint returns the RPC URL.
func (o *RPCOracle) Endpoint() string {
	return o.endpoint
}

func (o *RPCOracle) GetParsedTransaction(ctx context.Context, signature string, commitment Commitment) (*ParsedTransaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}

	maxVersion := uint64(0)
	res, err := o.client.GetParsedTransaction(ctx, sig, &rpc.GetParsedTransactionOpts{
		Commitment:                     rpc.CommitmentType(commitment),
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getTransaction: %w", err)
	}
	if res == nil || res.Transaction == nil {
		return nil, ErrNotFound
	}

	return convertParsedTransaction(signature, res), nil
}

func convertParsedTransaction(signature string, res *rpc.GetParsedTransactionResult) *ParsedTransaction {
	tx := &ParsedTransaction{
		Signature: signature,
		Slot:      res.Slot,
	}
	if res.BlockTime != nil {
		t := res.BlockTime.Time()
		tx.BlockTime = &t
	}

	msg := res.Transaction.Message
	tx.AccountKeys = make([]string, len(msg.AccountKeys))
	for i, key := range msg.AccountKeys {
		tx.AccountKeys[i] = key.PublicKey.String()
	}
	for _, ix := range msg.Instructions {
		tx.Instructions = append(tx.Instructions, convertInstruction(ix))
	}

	if meta := res.Meta; meta != nil {
		tx.Err = meta.Err
		for _, inner := range meta.InnerInstructions {
			for _, ix := range inner.Instructions {
				tx.InnerInstructions = append(tx.InnerInstructions, convertInstruction(ix))
			}
		}
		tx.PreTokenBalances = convertTokenBalances(meta.PreTokenBalances, tx.AccountKeys)
		tx.PostTokenBalances = convertTokenBalances(meta.PostTokenBalances, tx.AccountKeys)
	}
	return tx
}

func convertInstruction(ix *rpc.ParsedInstruction) Instruction {
	if ix == nil {
		return Instruction{}
	}
	out := Instruction{
		Program:   ix.Program,
		ProgramID: ix.ProgramId.String(),
	}
	if ix.Parsed == nil {
		return out
	}

	// The envelope holds either a plain string or {type, info}; only the
	// latter is useful and its fields are unexported, so go through JSON.
	raw, err := json.Marshal(ix.Parsed)
	if err != nil {
		return out
	}
	var parsed rpc.InstructionInfo
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return out
	}
	out.Type = parsed.InstructionType
	out.Info = parsed.Info
	return out
}

func convertTokenBalances(in []rpc.TokenBalance, keys []string) []TokenBalance {
	if len(in) == 0 {
		return nil
	}
	out := make([]TokenBalance, 0, len(in))
	for _, b := range in {
		tb := TokenBalance{
			AccountIndex: int(b.AccountIndex),
			Mint:         b.Mint.String(),
		}
		if int(b.AccountIndex) < len(keys) {
			tb.Account = keys[b.AccountIndex]
		}
		if b.Owner != nil {
			tb.Owner = b.Owner.String()
		}
		if b.UiTokenAmount != nil {
			tb.Decimals = b.UiTokenAmount.Decimals
			if amount, err := strconv.ParseUint(b.UiTokenAmount.Amount, 10, 64); err == nil {
				tb.Amount = amount
			}
		}
		out = append(out, tb)
	}
	return out
}

func (o *RPCOracle) GetBalance(ctx context.Context, address string) (uint64, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return 0, fmt.Errorf("invalid address: %w", err)
	}
	res, err := o.client.GetBalance(ctx, pk, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("getBalance: %w", err)
	}
	return res.Value, nil
}

func (o *RPCOracle) GetLatestBlockhash(ctx context.Context, commitment Commitment) (Blockhash, error) {
	res, err := o.client.GetLatestBlockhash(ctx, rpc.CommitmentType(commitment))
	if err != nil {
		return Blockhash{}, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	if res == nil || res.Value == nil {
		return Blockhash{}, fmt.Errorf("getLatestBlockhash: empty response")
	}
	return Blockhash{
		Hash:                 res.Value.Blockhash,
		LastValidBlockHeight: res.Value.LastValidBlockHeight,
	}, nil
}

func (o *RPCOracle) GetSlot(ctx context.Context) (uint64, error) {
	slot, err := o.client.GetSlot(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("getSlot: %w", err)
	}
	return slot, nil
}

func (o *RPCOracle) SendTransaction(ctx context.Context, tx *solana.Transaction, opts SendOptions) (string, error) {
	maxRetries := opts.MaxRetries
	sig, err := o.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       opts.SkipPreflight,
		PreflightCommitment: rpc.CommitmentConfirmed,
		MaxRetries:          &maxRetries,
	})
	if err != nil {
		return "", fmt.Errorf("sendTransaction: %w", err)
	}
	return sig.String(), nil
}

func (o *RPCOracle) ConfirmTransaction(ctx context.Context, signature string, blockhash Blockhash, commitment Commitment) (Confirmation, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return Confirmation{}, fmt.Errorf("invalid signature: %w", err)
	}

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		res, err := o.client.GetSignatureStatuses(ctx, false, sig)
		switch {
		case err == nil && len(res.Value) > 0 && res.Value[0] != nil:
			status := res.Value[0]
			if status.Err != nil {
				return Confirmation{Slot: status.Slot, Err: status.Err}, nil
			}
			if reached(status.ConfirmationStatus, commitment) {
				return Confirmation{Slot: status.Slot}, nil
			}
		case err != nil && !errors.Is(err, rpc.ErrNotFound):
			o.logger.Debug("signature status poll failed", "signature", signature, "error", err)
		}

		if blockhash.LastValidBlockHeight > 0 {
			height, err := o.client.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
			if err == nil && height > blockhash.LastValidBlockHeight {
				return Confirmation{}, ErrBlockhashExpired
			}
		}

		select {
		case <-ctx.Done():
			return Confirmation{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

var commitmentRank = map[string]int{
	string(CommitmentProcessed): 1,
	string(CommitmentConfirmed): 2,
	string(CommitmentFinalized): 3,
}

// reached reports whether a signature status satisfies the wanted commitment.
func reached(status rpc.ConfirmationStatusType, want Commitment) bool {
	got := commitmentRank[string(status)]
	return got > 0 && got >= commitmentRank[string(want)]
}

func (o *RPCOracle) GetTokenAccount(ctx context.Context, address string) (TokenAccount, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return TokenAccount{}, fmt.Errorf("invalid address: %w", err)
	}

	res, err := o.client.GetAccountInfoWithOpts(ctx, pk, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return TokenAccount{}, ErrNotFound
		}
		return TokenAccount{}, fmt.Errorf("getAccountInfo: %w", err)
	}
	if res == nil || res.Value == nil {
		return TokenAccount{}, ErrNotFound
	}

	owner := res.Value.Owner
	if !owner.Equals(solana.TokenProgramID) && !owner.Equals(solana.Token2022ProgramID) {
		return TokenAccount{}, fmt.Errorf("%w: owned by %s", ErrNotTokenAccount, owner)
	}

	data := res.GetBinary()
	if len(data) < tokenAccountSize {
		return TokenAccount{}, fmt.Errorf("%w: data is %d bytes", ErrNotTokenAccount, len(data))
	}

	var acct token.Account
	if err := bin.NewBinDecoder(data[:tokenAccountSize]).Decode(&acct); err != nil {
		return TokenAccount{}, fmt.Errorf("decode token account: %w", err)
	}

	return TokenAccount{
		Address: address,
		Mint:    acct.Mint.String(),
		Owner:   acct.Owner.String(),
		Amount:  acct.Amount,
	}, nil
}

func (o *RPCOracle) GetRecentPrioritizationFees(ctx context.Context, accounts []string) ([]uint64, error) {
	keys := make(solana.PublicKeySlice, 0, len(accounts))
	for _, a := range accounts {
		pk, err := solana.PublicKeyFromBase58(a)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}
		keys = append(keys, pk)
	}

	res, err := o.client.GetRecentPrioritizationFees(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("getRecentPrioritizationFees: %w", err)
	}
	fees := make([]uint64, len(res))
	for i, r := range res {
		fees[i] = r.PrioritizationFee
	}
	return fees, nil
}
