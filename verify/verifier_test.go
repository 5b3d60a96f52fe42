package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	paywall "github.com/mark3labs/paywall-go"
	"github.com/mark3labs/paywall-go/chain"
	"github.com/mark3labs/paywall-go/chain/chaintest"
)

const (
	testSig       = "99eUso3aSbE9tqGSTXzo3TLfKb9RkMTURrHKQ1K7Zh3BbeqPevr5E1iCbpTjqHuTFLtfxTTD5ekfVuZFzQyEQf8"
	testMerchant  = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	testPayer     = "29d2S7vB453rNYFdR5Ycwt7y9haRT5fwVwL9zTmBhfV2"
	testAttacker  = "2DYKaRPBeNM5WdW8rNsYEktjPrnd89Mm4Lzp3qonSzoj"
	testMerchATA  = "2HTciirCEfeJeikeHgCTXdfVe1zpoD3ackfU7DrPCL8S"
	testPayerATA  = "2MNus2KCpxwXnp19iyXNpWSFtBD2UGjQBAL8AbtywfT9"
	testUSDCMint  = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
	testOtherMint = "So11111111111111111111111111111111111111112"
	testMaxAge    = 300
)

var testNow = time.Unix(1_700_000_000, 0)

func nativeTx(sig, to string, lamports uint64, blockTime time.Time) *chain.ParsedTransaction {
	return &chain.ParsedTransaction{
		Signature: sig,
		Slot:      42,
		BlockTime: &blockTime,
		Instructions: []chain.Instruction{
			{Program: "compute-budget", ProgramID: "ComputeBudget111111111111111111111111111111"},
			{
				Program:   "system",
				ProgramID: systemProgramID,
				Type:      "transfer",
				Info: map[string]any{
					"source":      testPayer,
					"destination": to,
					"lamports":    float64(lamports),
				},
			},
		},
	}
}

func tokenTx(sig, destATA, mint string, amount uint64, blockTime time.Time) *chain.ParsedTransaction {
	return &chain.ParsedTransaction{
		Signature: sig,
		Slot:      43,
		BlockTime: &blockTime,
		Instructions: []chain.Instruction{{
			Program:   "spl-token",
			ProgramID: tokenProgramID,
			Type:      "transferChecked",
			Info: map[string]any{
				"source":      testPayerATA,
				"destination": destATA,
				"mint":        mint,
				"authority":   testPayer,
				"tokenAmount": map[string]any{"amount": fmt.Sprint(amount), "decimals": float64(6)},
			},
		}},
	}
}

func newTestVerifier(fake *chaintest.Oracle, opts ...Option) *Verifier {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return New(Single(fake), opts...)
}

func TestVerifyPayment(t *testing.T) {
	tests := []struct {
		name          string
		tx            *chain.ParsedTransaction
		oracleErr     error
		signature     string
		recipient     string
		zeroAmount    bool
		wantValid     bool
		wantConfirmed bool
		wantReason    string
		wantErr       error
	}{
		{
			name:          "valid payment",
			tx:            nativeTx(testSig, testMerchant, 10_000_000, testNow.Add(-10*time.Second)),
			wantValid:     true,
			wantConfirmed: true,
		},
		{
			name:          "overpayment accepted",
			tx:            nativeTx(testSig, testMerchant, 20_000_000, testNow.Add(-10*time.Second)),
			wantValid:     true,
			wantConfirmed: true,
		},
		{
			name:          "wrong recipient",
			tx:            nativeTx(testSig, testAttacker, 10_000_000, testNow.Add(-10*time.Second)),
			wantConfirmed: true,
			wantReason:    ReasonNoTransfer,
		},
		{
			name:          "insufficient amount",
			tx:            nativeTx(testSig, testMerchant, 9_999_999, testNow.Add(-10*time.Second)),
			wantConfirmed: true,
			wantReason:    "insufficient amount: expected 10000000, got 9999999",
		},
		{
			name:       "not found",
			wantReason: ReasonNotFound,
		},
		{
			name: "failed on chain",
			tx: func() *chain.ParsedTransaction {
				tx := nativeTx(testSig, testMerchant, 10_000_000, testNow)
				tx.Err = map[string]any{"InstructionError": []any{0, "Custom"}}
				return tx
			}(),
			wantConfirmed: true,
			wantReason:    ReasonFailedOnChain,
		},
		{
			name: "missing block time",
			tx: func() *chain.ParsedTransaction {
				tx := nativeTx(testSig, testMerchant, 10_000_000, testNow)
				tx.BlockTime = nil
				return tx
			}(),
			wantConfirmed: true,
			wantReason:    ReasonNoBlockTime,
		},
		{
			name:          "just past max age",
			tx:            nativeTx(testSig, testMerchant, 10_000_000, testNow.Add(-(testMaxAge+1)*time.Second)),
			wantConfirmed: true,
			wantReason:    ReasonTooOld,
		},
		{
			name:          "just inside max age",
			tx:            nativeTx(testSig, testMerchant, 10_000_000, testNow.Add(-(testMaxAge-1)*time.Second)),
			wantValid:     true,
			wantConfirmed: true,
		},
		{
			name:          "future dated beyond skew",
			tx:            nativeTx(testSig, testMerchant, 10_000_000, testNow.Add(61*time.Second)),
			wantConfirmed: true,
			wantReason:    ReasonFutureDated,
		},
		{
			name:          "future dated within skew",
			tx:            nativeTx(testSig, testMerchant, 10_000_000, testNow.Add(59*time.Second)),
			wantValid:     true,
			wantConfirmed: true,
		},
		{
			name:       "rpc failure",
			oracleErr:  errors.New("connection refused"),
			wantReason: ReasonUnavailable,
			wantErr:    paywall.ErrNetworkError,
		},
		{
			name:       "malformed signature",
			signature:  "not-a-signature",
			wantReason: ReasonInvalidSignature,
		},
		{
			name:       "signature decodes to wrong length",
			signature:  strings.Repeat("z", 64),
			wantReason: ReasonInvalidSignature,
		},
		{
			name:       "malformed recipient",
			recipient:  "0OIl",
			wantReason: ReasonInvalidRecipient,
		},
		{
			name:       "recipient decodes to wrong length",
			recipient:  strings.Repeat("z", 44),
			wantReason: ReasonInvalidRecipient,
		},
		{
			name:       "zero amount",
			zeroAmount: true,
			wantReason: ReasonInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := chaintest.New()
			if tt.tx != nil {
				fake.AddTransaction(tt.tx)
			}
			fake.Err = tt.oracleErr

			sig := testSig
			if tt.signature != "" {
				sig = tt.signature
			}
			recipient := testMerchant
			if tt.recipient != "" {
				recipient = tt.recipient
			}
			amount := uint64(10_000_000)
			if tt.zeroAmount {
				amount = 0
			}

			v := newTestVerifier(fake)
			got, err := v.VerifyPayment(context.Background(), sig, recipient, amount, testMaxAge, paywall.NetworkDevnet)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v (reason %q)", got.Valid, tt.wantValid, got.Error)
			}
			if got.Confirmed != tt.wantConfirmed {
				t.Errorf("Confirmed = %v, want %v", got.Confirmed, tt.wantConfirmed)
			}
			if got.Error != tt.wantReason {
				t.Errorf("Error = %q, want %q", got.Error, tt.wantReason)
			}
			if tt.wantValid && (got.To != testMerchant || got.From != testPayer) {
				t.Errorf("transfer = %s -> %s", got.From, got.To)
			}
		})
	}
}

func TestVerifyPayment_InvalidInputSkipsChain(t *testing.T) {
	fake := chaintest.New()
	v := newTestVerifier(fake)

	_, _ = v.VerifyPayment(context.Background(), "bad", testMerchant, 1, testMaxAge, paywall.NetworkDevnet)
	_, _ = v.VerifyPayment(context.Background(), strings.Repeat("z", 64), testMerchant, 1, testMaxAge, paywall.NetworkDevnet)
	_, _ = v.VerifyPayment(context.Background(), testSig, "bad", 1, testMaxAge, paywall.NetworkDevnet)
	_, _ = v.VerifyPayment(context.Background(), testSig, testMerchant, 0, testMaxAge, paywall.NetworkDevnet)

	if n := fake.TotalCalls(); n != 0 {
		t.Errorf("oracle calls = %d, want 0", n)
	}
}

func TestVerifyPayment_MaxAgeClamped(t *testing.T) {
	fake := chaintest.New()
	fake.AddTransaction(nativeTx(testSig, testMerchant, 1000, testNow.Add(-90*time.Second)))
	v := newTestVerifier(fake)

	// Below the floor, 5 seconds becomes 60.
	got, err := v.VerifyPayment(context.Background(), testSig, testMerchant, 1000, 5, paywall.NetworkDevnet)
	if err != nil {
		t.Fatal(err)
	}
	if got.Error != ReasonTooOld {
		t.Errorf("Error = %q, want %q", got.Error, ReasonTooOld)
	}

	got, err = v.VerifyPayment(context.Background(), testSig, testMerchant, 1000, 120, paywall.NetworkDevnet)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Valid {
		t.Errorf("expected valid, got %q", got.Error)
	}
}

func TestVerifyPayment_AmountMonotonic(t *testing.T) {
	const observed = 5_000
	fake := chaintest.New()
	fake.AddTransaction(nativeTx(testSig, testMerchant, observed, testNow))
	v := newTestVerifier(fake)

	for expected := uint64(1); expected <= observed+10; expected += 7 {
		got, err := v.VerifyPayment(context.Background(), testSig, testMerchant, expected, testMaxAge, paywall.NetworkDevnet)
		if err != nil {
			t.Fatal(err)
		}
		if want := expected <= observed; got.Valid != want {
			t.Fatalf("expected=%d: Valid = %v, want %v", expected, got.Valid, want)
		}
	}
}

func TestVerifyPayment_InnerInstruction(t *testing.T) {
	tx := nativeTx(testSig, testAttacker, 1, testNow)
	tx.InnerInstructions = []chain.Instruction{{
		Program:   "system",
		ProgramID: systemProgramID,
		Type:      "transfer",
		Info: map[string]any{
			"source":      testPayer,
			"destination": testMerchant,
			"lamports":    "2500",
		},
	}}
	fake := chaintest.New()
	fake.AddTransaction(tx)

	got, err := newTestVerifier(fake).VerifyPayment(context.Background(), testSig, testMerchant, 2500, testMaxAge, paywall.NetworkDevnet)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Valid || got.Amount != 2500 {
		t.Errorf("got %+v", got)
	}
}

func usdcAccount(address, owner string) chain.TokenAccount {
	return chain.TokenAccount{Address: address, Mint: testUSDCMint, Owner: owner, Amount: 1}
}

func TestVerifySPLPayment(t *testing.T) {
	usdc := paywall.WellKnownAsset{Symbol: "USDC"}

	tests := []struct {
		name       string
		tx         *chain.ParsedTransaction
		accounts   []chain.TokenAccount
		tokenErr   error
		asset      paywall.Asset
		wantValid  bool
		wantReason string
		wantErr    error
	}{
		{
			name:      "valid transferChecked",
			tx:        tokenTx(testSig, testMerchATA, testUSDCMint, 1_000_000, testNow),
			accounts:  []chain.TokenAccount{usdcAccount(testMerchATA, testMerchant)},
			asset:     usdc,
			wantValid: true,
		},
		{
			name:      "custom asset passes mint through",
			tx:        tokenTx(testSig, testMerchATA, testUSDCMint, 1_000_000, testNow),
			accounts:  []chain.TokenAccount{usdcAccount(testMerchATA, testMerchant)},
			asset:     paywall.CustomAsset{Mint: testUSDCMint, Decimals: 6},
			wantValid: true,
		},
		{
			name:       "destination owned by someone else",
			tx:         tokenTx(testSig, testMerchATA, testUSDCMint, 1_000_000, testNow),
			accounts:   []chain.TokenAccount{usdcAccount(testMerchATA, testAttacker)},
			asset:      usdc,
			wantReason: ReasonOwnerMismatch,
		},
		{
			name:       "owner lookup missing account",
			tx:         tokenTx(testSig, testMerchATA, testUSDCMint, 1_000_000, testNow),
			asset:      usdc,
			wantReason: ReasonOwnerUnverified,
		},
		{
			name:       "owner lookup rpc failure",
			tx:         tokenTx(testSig, testMerchATA, testUSDCMint, 1_000_000, testNow),
			tokenErr:   errors.New("503 service unavailable"),
			asset:      usdc,
			wantReason: ReasonOwnerUnverified,
			wantErr:    paywall.ErrNetworkError,
		},
		{
			name:       "wrong mint",
			tx:         tokenTx(testSig, testMerchATA, testOtherMint, 1_000_000, testNow),
			accounts:   []chain.TokenAccount{usdcAccount(testMerchATA, testMerchant)},
			asset:      usdc,
			wantReason: ReasonMintMismatch,
		},
		{
			name:       "insufficient tokens",
			tx:         tokenTx(testSig, testMerchATA, testUSDCMint, 999_999, testNow),
			accounts:   []chain.TokenAccount{usdcAccount(testMerchATA, testMerchant)},
			asset:      usdc,
			wantReason: "insufficient amount: expected 1000000, got 999999",
		},
		{
			name:       "unknown symbol",
			tx:         tokenTx(testSig, testMerchATA, testUSDCMint, 1_000_000, testNow),
			asset:      paywall.WellKnownAsset{Symbol: "DOGE"},
			wantReason: ReasonUnsupportedAsset,
		},
		{
			name: "balance delta fallback",
			tx: &chain.ParsedTransaction{
				Signature: testSig,
				BlockTime: &testNow,
				PreTokenBalances: []chain.TokenBalance{
					{AccountIndex: 1, Account: testPayerATA, Owner: testPayer, Mint: testUSDCMint, Amount: 5_000_000},
					{AccountIndex: 2, Account: testMerchATA, Owner: testMerchant, Mint: testUSDCMint, Amount: 0},
				},
				PostTokenBalances: []chain.TokenBalance{
					{AccountIndex: 1, Account: testPayerATA, Owner: testPayer, Mint: testUSDCMint, Amount: 4_000_000},
					{AccountIndex: 2, Account: testMerchATA, Owner: testMerchant, Mint: testUSDCMint, Amount: 1_000_000},
				},
			},
			accounts:  []chain.TokenAccount{usdcAccount(testMerchATA, testMerchant)},
			asset:     usdc,
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := chaintest.New()
			fake.AddTransaction(tt.tx)
			for _, a := range tt.accounts {
				fake.TokenAccounts[a.Address] = a
			}
			if tt.tokenErr != nil {
				fake.TokenFunc = func(context.Context, string) (chain.TokenAccount, error) {
					return chain.TokenAccount{}, tt.tokenErr
				}
			}

			got, err := newTestVerifier(fake).VerifySPLPayment(context.Background(), testSig, testMerchant, 1_000_000, testMaxAge, tt.asset, paywall.NetworkDevnet)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v (reason %q)", got.Valid, tt.wantValid, got.Error)
			}
			if got.Error != tt.wantReason {
				t.Errorf("Error = %q, want %q", got.Error, tt.wantReason)
			}
			if tt.wantValid {
				if got.Mint != testUSDCMint {
					t.Errorf("Mint = %q", got.Mint)
				}
				if got.From != testPayer {
					t.Errorf("From = %q, want %q", got.From, testPayer)
				}
			}
		})
	}
}

func TestVerifySPLPayment_OwnerCache(t *testing.T) {
	fake := chaintest.New()
	fake.AddTransaction(tokenTx(testSig, testMerchATA, testUSDCMint, 1_000_000, testNow))
	fake.TokenAccounts[testMerchATA] = usdcAccount(testMerchATA, testMerchant)

	v := newTestVerifier(fake, WithOwnerCache(time.Minute))
	for i := 0; i < 3; i++ {
		got, err := v.VerifySPLPayment(context.Background(), testSig, testMerchant, 1_000_000, testMaxAge, paywall.WellKnownAsset{Symbol: "USDC"}, paywall.NetworkDevnet)
		if err != nil || !got.Valid {
			t.Fatalf("attempt %d: %+v, %v", i, got, err)
		}
	}
	if n := fake.Calls("GetTokenAccount"); n != 1 {
		t.Errorf("GetTokenAccount calls = %d, want 1", n)
	}
}

func TestVerifySPLPayment_OwnerCacheDoesNotHoldFailures(t *testing.T) {
	fake := chaintest.New()
	fake.AddTransaction(tokenTx(testSig, testMerchATA, testUSDCMint, 1_000_000, testNow))
	v := newTestVerifier(fake, WithOwnerCache(time.Minute))
	asset := paywall.WellKnownAsset{Symbol: "USDC"}

	got, _ := v.VerifySPLPayment(context.Background(), testSig, testMerchant, 1_000_000, testMaxAge, asset, paywall.NetworkDevnet)
	if got.Valid {
		t.Fatal("expected rejection without a token account")
	}

	fake.TokenAccounts[testMerchATA] = usdcAccount(testMerchATA, testMerchant)
	got, err := v.VerifySPLPayment(context.Background(), testSig, testMerchant, 1_000_000, testMaxAge, asset, paywall.NetworkDevnet)
	if err != nil || !got.Valid {
		t.Fatalf("got %+v, %v", got, err)
	}
	if n := fake.Calls("GetTokenAccount"); n != 2 {
		t.Errorf("GetTokenAccount calls = %d, want 2", n)
	}
}

func TestVerify_Dispatch(t *testing.T) {
	fake := chaintest.New()
	fake.AddTransaction(nativeTx(testSig, testMerchant, 1000, testNow))
	v := newTestVerifier(fake)

	req := paywall.PaymentRequirement{
		Scheme:            paywall.SchemeExact,
		Network:           paywall.NetworkDevnet,
		Amount:            1000,
		PayTo:             testMerchant,
		MaxTimeoutSeconds: testMaxAge,
		Asset:             paywall.NativeAsset{},
	}
	got, err := v.Verify(context.Background(), testSig, req)
	if err != nil || !got.Valid {
		t.Fatalf("native: %+v, %v", got, err)
	}

	req.Asset = paywall.WellKnownAsset{Symbol: "USDC"}
	got, err = v.Verify(context.Background(), testSig, req)
	if err != nil {
		t.Fatal(err)
	}
	if got.Valid || !strings.Contains(got.Error, "no valid transfer") {
		t.Errorf("token dispatch on native tx: %+v", got)
	}
}
