// Package agent originates payments from a server-held key: it builds a
// transfer, signs it, submits it with bounded retries and waits for
// confirmation under a hard timeout.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	paywall "github.com/mark3labs/paywall-go"
	"github.com/mark3labs/paywall-go/chain"
	"github.com/mark3labs/paywall-go/events"
	"github.com/mark3labs/paywall-go/metrics"
	"github.com/mark3labs/paywall-go/retry"
	"github.com/mark3labs/paywall-go/validation"
)

const (
	DefaultConfirmationTimeout = 60 * time.Second

	// BlockhashValiditySlots estimates how long a caller-supplied blockhash
	// stays usable when its last valid height is unknown.
	BlockhashValiditySlots = 150
)

// Failure messages reported in AgentPaymentResult.Error.
const (
	ErrMsgInvalidRecipient = "Invalid recipient address"
	ErrMsgInvalidAmount    = "Amount must be greater than 0"
	ErrMsgFailedOnChain    = "transaction failed on-chain"
	ErrMsgMemoTooLong      = "Memo is too long"
)

// PaymentRequest describes one payment.
type PaymentRequest struct {
	Recipient      string
	AmountLamports uint64
	Memo           string

	// PriorityFee, when set, prepends compute budget instructions.
	PriorityFee *PriorityFee

	// ConfirmationTimeout defaults to DefaultConfirmationTimeout.
	ConfirmationTimeout time.Duration

	// Blockhash, when set, is used instead of fetching one.
	Blockhash *solana.Hash

	// Token, when set, pays AmountLamports base units of an SPL token
	// instead of lamports.
	Token *TokenTransfer
}

// TokenTransfer identifies the token for a token payment.
type TokenTransfer struct {
	Mint     string
	Decimals uint8
}

// AgentPaymentResult is the outcome of a payment attempt. Expected failures
// are reported here rather than as errors.
type AgentPaymentResult struct {
	Success        bool       `json:"success"`
	Signature      string     `json:"signature,omitempty"`
	Error          string     `json:"error,omitempty"`
	ConfirmedAt    *time.Time `json:"confirmedAt,omitempty"`
	Slot           uint64     `json:"slot,omitempty"`
	AmountLamports uint64     `json:"amountLamports"`
	AmountSol      string     `json:"amountSol"`
}

// Config configures an Executor. Oracle and Key are required.
type Config struct {
	Oracle  chain.Oracle
	Key     solana.PrivateKey
	Network string

	// Retry controls transaction submission. Defaults to retry.DefaultConfig.
	Retry *retry.Config

	// Commitment to confirm at. Defaults to confirmed.
	Commitment chain.Commitment

	Logger  *slog.Logger
	Metrics metrics.Recorder
	Events  events.Publisher
	Now     func() time.Time
}

// Executor sends payments from one key. Safe for concurrent use.
type Executor struct {
	oracle     chain.Oracle
	key        solana.PrivateKey
	address    solana.PublicKey
	network    string
	retry      retry.Config
	commitment chain.Commitment
	logger     *slog.Logger
	metrics    metrics.Recorder
	events     events.Publisher
	now        func() time.Time
}

// NewExecutor validates config and returns an Executor.
func NewExecutor(config Config) (*Executor, error) {
	if config.Oracle == nil {
		return nil, errors.New("agent: oracle is required")
	}
	if len(config.Key) != 64 {
		return nil, ErrInvalidKey
	}

	e := &Executor{
		oracle:     config.Oracle,
		key:        config.Key,
		address:    config.Key.PublicKey(),
		network:    config.Network,
		retry:      retry.DefaultConfig,
		commitment: config.Commitment,
		logger:     config.Logger,
		metrics:    config.Metrics,
		events:     config.Events,
		now:        config.Now,
	}
	if config.Retry != nil {
		e.retry = *config.Retry
	}
	if e.commitment == "" {
		e.commitment = chain.CommitmentConfirmed
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.metrics == nil {
		e.metrics = metrics.NoopRecorder{}
	}
	if e.events == nil {
		e.events = events.Noop{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Address returns the agent's public key.
func (e *Executor) Address() string {
	return e.address.String()
}

// LamportsToSol converts lamports to SOL without rounding.
func LamportsToSol(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -paywall.NativeDecimals)
}

// Execute sends a payment and waits for it to confirm.
func (e *Executor) Execute(ctx context.Context, req PaymentRequest) AgentPaymentResult {
	result := AgentPaymentResult{
		AmountLamports: req.AmountLamports,
		AmountSol:      LamportsToSol(req.AmountLamports).String(),
	}
	if req.Token != nil {
		result.AmountSol = ""
	}

	recipient, err := solana.PublicKeyFromBase58(req.Recipient)
	if validation.ValidateAddress(req.Recipient) != nil || err != nil {
		result.Error = ErrMsgInvalidRecipient
		return result
	}
	if req.AmountLamports == 0 {
		result.Error = ErrMsgInvalidAmount
		return result
	}
	if len(req.Memo) > MaxMemoLength {
		result.Error = ErrMsgMemoTooLong
		return result
	}

	start := e.now()
	labels := metrics.Network(e.network)
	defer func() {
		e.metrics.ObserveLatency(metrics.OpExecute, e.now().Sub(start), labels)
		if result.Success {
			e.metrics.IncCounter(metrics.AgentPayment, labels)
		} else {
			e.metrics.IncCounter(metrics.AgentPaymentError, labels)
		}
		e.publish(ctx, req, result)
	}()

	result = e.execute(ctx, req, recipient, result)
	return result
}

func (e *Executor) execute(ctx context.Context, req PaymentRequest, recipient solana.PublicKey, result AgentPaymentResult) AgentPaymentResult {
	instructions, err := e.instructions(req, recipient)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	blockhash, err := e.blockhash(ctx, req.Blockhash)
	if err != nil {
		result.Error = fmt.Sprintf("failed to get blockhash: %v", err)
		return result
	}

	tx, err := buildTransaction(e.key, instructions, blockhash.Hash)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	sig, err := retry.WithRetry(ctx, e.retry, retry.IsTransient, func(ctx context.Context, attempt int) (string, error) {
		if attempt > 0 {
			e.logger.Debug("retrying transaction submission", "attempt", attempt, "recipient", req.Recipient)
		}
		return e.oracle.SendTransaction(ctx, tx, chain.SendOptions{MaxRetries: 3})
	})
	if err != nil {
		e.logger.Warn("agent payment submission failed", "recipient", req.Recipient, "error", err)
		result.Error = fmt.Sprintf("failed to send transaction: %v", err)
		return result
	}
	if sig == "" {
		sig = tx.Signatures[0].String()
	}
	result.Signature = sig

	timeout := req.ConfirmationTimeout
	if timeout <= 0 {
		timeout = DefaultConfirmationTimeout
	}
	conf, err := e.confirm(ctx, sig, blockhash, timeout)
	if err != nil {
		e.logger.Warn("agent payment not confirmed", "signature", sig, "error", err)
		result.Error = err.Error()
		return result
	}
	if conf.Err != nil {
		e.logger.Warn("agent payment failed on-chain", "signature", sig, "error", conf.Err)
		result.Error = ErrMsgFailedOnChain
		return result
	}

	result.Success = true
	confirmedAt, slot := e.now(), conf.Slot
	if tx, err := e.oracle.GetParsedTransaction(ctx, sig, e.commitment); err == nil {
		if tx.BlockTime != nil {
			confirmedAt = *tx.BlockTime
		}
		if tx.Slot != 0 {
			slot = tx.Slot
		}
	} else {
		e.logger.Debug("transaction metadata not yet available", "signature", sig, "error", err)
	}
	result.ConfirmedAt = &confirmedAt
	result.Slot = slot

	e.logger.Info("agent payment confirmed",
		"signature", sig,
		"recipient", req.Recipient,
		"amount", req.AmountLamports,
		"slot", slot)
	return result
}

func (e *Executor) instructions(req PaymentRequest, recipient solana.PublicKey) ([]solana.Instruction, error) {
	var out []solana.Instruction
	if req.PriorityFee != nil {
		budget, err := computeBudgetInstructions(*req.PriorityFee)
		if err != nil {
			return nil, err
		}
		out = append(out, budget...)
	}

	var transfer solana.Instruction
	var err error
	if req.Token != nil {
		mint, perr := solana.PublicKeyFromBase58(req.Token.Mint)
		if perr != nil {
			return nil, fmt.Errorf("invalid mint address: %w", perr)
		}
		transfer, err = tokenTransferInstruction(e.address, recipient, mint, req.AmountLamports, req.Token.Decimals)
	} else {
		transfer, err = nativeTransferInstruction(e.address, recipient, req.AmountLamports)
	}
	if err != nil {
		return nil, err
	}
	out = append(out, transfer)

	if req.Memo != "" {
		out = append(out, memoInstruction(e.address, req.Memo))
	}
	return out, nil
}

func (e *Executor) blockhash(ctx context.Context, supplied *solana.Hash) (chain.Blockhash, error) {
	if supplied == nil {
		return e.oracle.GetLatestBlockhash(ctx, e.commitment)
	}
	slot, err := e.oracle.GetSlot(ctx)
	if err != nil {
		return chain.Blockhash{}, err
	}
	return chain.Blockhash{Hash: *supplied, LastValidBlockHeight: slot + BlockhashValiditySlots}, nil
}

// confirm waits for the signature, giving up after timeout even if the
// oracle call does not return.
func (e *Executor) confirm(ctx context.Context, sig string, blockhash chain.Blockhash, timeout time.Duration) (chain.Confirmation, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		conf chain.Confirmation
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		conf, err := e.oracle.ConfirmTransaction(ctx, sig, blockhash, e.commitment)
		done <- outcome{conf, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		if o.err != nil {
			return chain.Confirmation{}, fmt.Errorf("confirmation failed: %w", o.err)
		}
		return o.conf, nil
	case <-timer.C:
		return chain.Confirmation{}, fmt.Errorf("%w: transaction not confirmed within %v", paywall.ErrTimeout, timeout)
	case <-ctx.Done():
		return chain.Confirmation{}, fmt.Errorf("confirmation cancelled: %w", ctx.Err())
	}
}

func (e *Executor) publish(ctx context.Context, req PaymentRequest, result AgentPaymentResult) {
	err := e.events.PublishAgentPayment(ctx, events.AgentPayment{
		Success:        result.Success,
		Signature:      result.Signature,
		Recipient:      req.Recipient,
		AmountLamports: req.AmountLamports,
		Error:          result.Error,
	})
	if err != nil {
		e.logger.Warn("failed to publish agent payment event", "error", err)
	}
}

// PayRequirement pays a 402 requirement, native or token.
func (e *Executor) PayRequirement(ctx context.Context, req paywall.PaymentRequirement, opts PaymentRequest) AgentPaymentResult {
	opts.Recipient = req.PayTo
	opts.AmountLamports = req.Amount

	asset, err := paywall.ResolveAsset(req.Asset, req.Network)
	if err != nil {
		return AgentPaymentResult{AmountLamports: req.Amount, Error: err.Error()}
	}
	if !asset.Native {
		opts.Token = &TokenTransfer{Mint: asset.Mint, Decimals: asset.Decimals}
	}
	return e.Execute(ctx, opts)
}
